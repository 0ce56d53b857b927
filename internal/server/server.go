// Package server exposes the OCR pipeline over HTTP. Uploads are queued on a
// single-slot job queue and polled by id.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	layoutocr "github.com/menta2k/layout-ocr"
	"github.com/menta2k/layout-ocr/pkg/batch"
	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/prompt"
	"github.com/menta2k/layout-ocr/pkg/queue"
	"github.com/menta2k/layout-ocr/pkg/types"
)

// Runner executes OCR runs; *layoutocr.LayoutOCR implements it
type Runner interface {
	ProcessImage(ctx context.Context, img image.Image, req batch.Request) (*layoutocr.Result, error)
	ProcessDocument(ctx context.Context, path string, req batch.Request) (*layoutocr.Result, error)
}

// Option the http server option
type Option struct {
	// UploadDir holds uploaded PDFs until their job finishes
	UploadDir string
	// MaxUpload caps the request body size in bytes
	MaxUpload int64
	// Mode "production" switches gin to release mode
	Mode string
}

// Server routes HTTP requests to the job queue
type Server struct {
	runner    Runner
	queue     *queue.Queue
	processor *processing.Processor
	option    Option
	logger    hclog.Logger
	router    *gin.Engine
}

// New creates a server. The queue must be started by the caller.
func New(runner Runner, q *queue.Queue, option Option, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if option.UploadDir == "" {
		option.UploadDir = filepath.Join(os.TempDir(), "layout-ocr-uploads")
	}
	if option.MaxUpload <= 0 {
		option.MaxUpload = 64 << 20
	}
	if option.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		runner:    runner,
		queue:     q,
		processor: processing.NewProcessor(),
		option:    option,
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the http handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(s.accessLog(), gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.logger.Error("handler panicked", "path", c.Request.URL.Path, "panic", recovered)
		abort(c, http.StatusInternalServerError, fmt.Errorf("%v", recovered))
	}))

	router.GET("/healthz", s.health)

	api := router.Group("/api")
	api.GET("/tasks", s.tasks)
	api.GET("/resolutions", s.resolutions)
	api.POST("/image", s.limitBody, s.submitImage)
	api.POST("/pdf", s.limitBody, s.submitDocument)
	api.GET("/jobs/:id", s.job)
	api.GET("/jobs/:id/text", s.artifact(textArtifact))
	api.GET("/jobs/:id/image", s.artifact(imageArtifact))
	api.GET("/jobs/:id/document", s.artifact(documentArtifact))
	return router
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()
	s.logger.Info("server listening", "addr", listener.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server closed")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.option.MaxUpload)
	c.Next()
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"code": code, "message": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": layoutocr.Version,
		"waiting": s.queue.Len(),
	})
}

func (s *Server) tasks(c *gin.Context) {
	c.JSON(http.StatusOK, prompt.Tasks())
}

func (s *Server) resolutions(c *gin.Context) {
	c.JSON(http.StatusOK, types.Resolutions())
}

// submitStatus maps queue submission errors to a status code
func submitStatus(err error) int {
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
