package server

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	layoutocr "github.com/menta2k/layout-ocr"
	"github.com/menta2k/layout-ocr/internal/utils"
	"github.com/menta2k/layout-ocr/pkg/batch"
	"github.com/menta2k/layout-ocr/pkg/prompt"
	"github.com/menta2k/layout-ocr/pkg/queue"
	"github.com/menta2k/layout-ocr/pkg/types"
)

// JobResponse is returned by GET /api/jobs/:id
type JobResponse struct {
	queue.Info
	Result *ResultView `json:"result,omitempty"`
}

// ResultView is the client-facing part of a finished run
type ResultView struct {
	Text    string   `json:"text"`
	Status  string   `json:"status"`
	Pages   int      `json:"pages"`
	Regions int      `json:"regions"`
	Crops   int      `json:"crops"`
	Elapsed float64  `json:"elapsed_seconds"`
	Links   []string `json:"links"`
}

// readRequest parses the form fields shared by both upload routes. An empty
// grounding instruction is rejected before anything is queued.
func readRequest(c *gin.Context) (batch.Request, error) {
	req := batch.Request{
		Task:         prompt.ParseTask(c.PostForm("task")),
		CustomPrompt: c.PostForm("prompt"),
		Resolution:   types.ResolutionByName(c.PostForm("resolution")),
	}
	if _, err := prompt.Resolve(req.Task, req.CustomPrompt); err != nil {
		return req, err
	}
	return req, nil
}

// progress adapts batch progress to the queue reporter
func progress(report queue.Reporter) batch.ProgressFunc {
	return func(p batch.Progress) {
		msg := p.Message
		if msg == "" {
			msg = p.State.String()
			if p.Total > 0 {
				msg = fmt.Sprintf("page %d/%d: %s", p.Page, p.Total, msg)
			}
		}
		report(p.Fraction, msg)
	}
}

func (s *Server) submitImage(c *gin.Context) {
	req, err := readRequest(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("missing file: %w", batch.ErrNoInput))
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	img, err := s.processor.ReadImage(f)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, fmt.Errorf("failed to decode image: %w", err))
		return
	}

	id, err := s.queue.Submit("image:"+fh.Filename, func(ctx context.Context, report queue.Reporter) (interface{}, error) {
		req.Progress = progress(report)
		return s.runner.ProcessImage(ctx, img, req)
	})
	if err != nil {
		abort(c, submitStatus(err), err)
		return
	}
	s.logger.Info("image job queued", "id", id, "file", fh.Filename, "task", req.Task)
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) submitDocument(c *gin.Context) {
	req, err := readRequest(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("missing file: %w", batch.ErrNoInput))
		return
	}
	if err := sniffPDF(fh); err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}

	if err := utils.EnsureDir(s.option.UploadDir); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	tmp, err := os.CreateTemp(s.option.UploadDir, "upload-*.pdf")
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	path := tmp.Name()
	tmp.Close()
	if err := c.SaveUploadedFile(fh, path); err != nil {
		os.Remove(path)
		abort(c, http.StatusInternalServerError, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	id, err := s.queue.Submit("pdf:"+fh.Filename, func(ctx context.Context, report queue.Reporter) (interface{}, error) {
		defer os.Remove(path)
		req.Progress = progress(report)
		return s.runner.ProcessDocument(ctx, path, req)
	})
	if err != nil {
		os.Remove(path)
		abort(c, submitStatus(err), err)
		return
	}
	s.logger.Info("document job queued", "id", id, "file", fh.Filename, "size", utils.FormatFileSize(fh.Size))
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// sniffPDF checks the upload content, not its name
func sniffPDF(fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("failed to inspect %q: %w", fh.Filename, err)
	}
	if !m.Is("application/pdf") {
		return fmt.Errorf("%q is not a PDF (%s)", fh.Filename, m.String())
	}
	return nil
}

func (s *Server) lookup(c *gin.Context) (queue.Info, bool) {
	info, err := s.queue.Get(c.Param("id"))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, queue.ErrNotFound) {
			code = http.StatusNotFound
		}
		abort(c, code, err)
		return info, false
	}
	return info, true
}

func (s *Server) job(c *gin.Context) {
	info, ok := s.lookup(c)
	if !ok {
		return
	}
	resp := JobResponse{Info: info}
	if res, ok := info.Result.(*layoutocr.Result); ok && res != nil {
		resp.Result = view(info.ID, res)
	}
	c.JSON(http.StatusOK, resp)
}

func view(id string, res *layoutocr.Result) *ResultView {
	v := &ResultView{
		Text:    res.Text,
		Status:  res.Status,
		Pages:   res.Pages,
		Regions: res.Regions,
		Crops:   len(res.Crops),
		Elapsed: res.Elapsed.Seconds(),
	}
	base := "/api/jobs/" + id + "/"
	for _, a := range []artifactKind{textArtifact, imageArtifact, documentArtifact} {
		if a.path(res) != "" {
			v.Links = append(v.Links, base+a.name)
		}
	}
	return v
}

type artifactKind struct {
	name string
	path func(*layoutocr.Result) string
}

var (
	textArtifact     = artifactKind{"text", func(r *layoutocr.Result) string { return r.TextPath }}
	imageArtifact    = artifactKind{"image", func(r *layoutocr.Result) string { return r.ImagePath }}
	documentArtifact = artifactKind{"document", func(r *layoutocr.Result) string { return r.DocumentPath }}
)

func (s *Server) artifact(kind artifactKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, ok := s.lookup(c)
		if !ok {
			return
		}
		if info.Status != queue.Success {
			abort(c, http.StatusConflict, fmt.Errorf("job %s is %s", info.ID, info.Status))
			return
		}
		res, _ := info.Result.(*layoutocr.Result)
		if res == nil || kind.path(res) == "" {
			abort(c, http.StatusNotFound, fmt.Errorf("job %s has no %s output", info.ID, kind.name))
			return
		}
		path := kind.path(res)
		if !utils.FileExists(path) {
			abort(c, http.StatusGone, fmt.Errorf("%s output of job %s was removed", kind.name, info.ID))
			return
		}
		if strings.HasSuffix(path, ".md") {
			c.Header("Content-Type", "text/markdown; charset=utf-8")
		}
		c.FileAttachment(path, filepath.Base(path))
	}
}
