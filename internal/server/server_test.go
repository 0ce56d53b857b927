package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	layoutocr "github.com/menta2k/layout-ocr"
	"github.com/menta2k/layout-ocr/internal/config"
	"github.com/menta2k/layout-ocr/pkg/batch"
	"github.com/menta2k/layout-ocr/pkg/client"
	"github.com/menta2k/layout-ocr/pkg/queue"
	"github.com/menta2k/layout-ocr/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	text string
	err  error
}

func (e *fakeEngine) Infer(context.Context, string, string, types.Resolution) (string, error) {
	return e.text, e.err
}

type fixture struct {
	server *Server
	queue  *queue.Queue
}

func newFixture(t *testing.T, eng *fakeEngine) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Batch.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	cfg.Batch.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	ocr := layoutocr.NewWithFactory(cfg, func(context.Context) (client.Engine, error) { return eng, nil }, nil)

	q := queue.New(queue.Option{Name: "test"}, nil)
	q.Start()
	t.Cleanup(q.Stop)

	return &fixture{
		server: New(ocr, q, Option{UploadDir: t.TempDir()}, nil),
		queue:  q,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, h http.Handler, route, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, route, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, route string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, route, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), v))
}

func (f *fixture) submitted(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct{ ID string }
	decode(t, w, &resp)
	require.NotEmpty(t, resp.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.queue.Wait(ctx, resp.ID)
	require.NoError(t, err)
	return resp.ID
}

func TestImageJob(t *testing.T) {
	text := "<|ref|>title<|/ref|><|det|>[[0,0,999,200]]<|/det|>\n# Invoice"
	f := newFixture(t, &fakeEngine{text: text})
	h := f.server.Handler()

	id := f.submitted(t, upload(t, h, "/api/image", "scan.png", pngBytes(t, 100, 100),
		map[string]string{"task": "markdown", "resolution": "small"}))

	w := get(h, "/api/jobs/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	var job struct {
		ID       string
		Status   string
		Fraction float64
		Result   *ResultView
	}
	decode(t, w, &job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "success", job.Status)
	assert.Equal(t, 1.0, job.Fraction)
	require.NotNil(t, job.Result)
	assert.Equal(t, text, job.Result.Text)
	assert.Equal(t, 1, job.Result.Regions)
	assert.Equal(t, []string{"/api/jobs/" + id + "/text", "/api/jobs/" + id + "/image"}, job.Result.Links)

	w = get(h, "/api/jobs/"+id+"/text")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, text, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")

	w = get(h, "/api/jobs/"+id+"/image")
	require.Equal(t, http.StatusOK, w.Code)
	_, format, err := image.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	w = get(h, "/api/jobs/"+id+"/document")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailedJob(t *testing.T) {
	f := newFixture(t, &fakeEngine{err: errors.New("model server unreachable")})
	h := f.server.Handler()

	id := f.submitted(t, upload(t, h, "/api/image", "scan.png", pngBytes(t, 20, 20), nil))

	var job struct {
		Status string
		Error  string
		Result *ResultView
	}
	decode(t, get(h, "/api/jobs/"+id), &job)
	assert.Equal(t, "failure", job.Status)
	assert.Contains(t, job.Error, "model server unreachable")
	assert.Nil(t, job.Result)

	assert.Equal(t, http.StatusConflict, get(h, "/api/jobs/"+id+"/text").Code)
}

func TestRejectedUploads(t *testing.T) {
	f := newFixture(t, &fakeEngine{text: "x"})
	h := f.server.Handler()

	w := upload(t, h, "/api/image", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no input supplied")

	w = upload(t, h, "/api/image", "scan.png", pngBytes(t, 10, 10), map[string]string{"task": "grounding", "prompt": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, h, "/api/image", "scan.png", []byte("not an image"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = upload(t, h, "/api/pdf", "scan.png", pngBytes(t, 10, 10), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Zero(t, f.queue.Len())
}

func TestDocumentJobFailsWithoutPages(t *testing.T) {
	f := newFixture(t, &fakeEngine{text: "x"})
	h := f.server.Handler()

	id := f.submitted(t, upload(t, h, "/api/pdf", "report.pdf", []byte("%PDF-1.4 truncated"), nil))

	var job struct {
		Status string
		Error  string
	}
	decode(t, get(h, "/api/jobs/"+id), &job)
	assert.Equal(t, "failure", job.Status)
	assert.Contains(t, job.Error, batch.ErrNoPages.Error())

	entries, err := filepath.Glob(filepath.Join(f.server.option.UploadDir, "*.pdf"))
	require.NoError(t, err)
	assert.Empty(t, entries, "upload is removed once the job finishes")
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	w := get(f.server.Handler(), "/api/jobs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "job does not exist")
}

func TestListings(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	h := f.server.Handler()

	var tasks []struct{ Task string }
	decode(t, get(h, "/api/tasks"), &tasks)
	require.NotEmpty(t, tasks)
	assert.Equal(t, "markdown", tasks[0].Task)

	var resolutions []types.Resolution
	decode(t, get(h, "/api/resolutions"), &resolutions)
	assert.Equal(t, types.Resolutions(), resolutions)

	w := get(h, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), layoutocr.Version)
}

func TestProgressAdapter(t *testing.T) {
	var fraction float64
	var message string
	report := progress(func(f float64, m string) { fraction, message = f, m })

	report(batch.Progress{State: batch.Inferring, Fraction: 0.5, Page: 2, Total: 4})
	assert.Equal(t, 0.5, fraction)
	assert.Equal(t, "page 2/4: inferring", message)

	report(batch.Progress{State: batch.Done, Fraction: 1, Message: "Document processed"})
	assert.Equal(t, "Document processed", message)
}
