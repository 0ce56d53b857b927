package ollama

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/types"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("::bad", "m")
	assert.Error(t, err)
	_, err = NewClient("http://localhost:11434", "")
	assert.Error(t, err)
	c, err := NewClient("http://localhost:11434/api/chat", "m")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestInfer(t *testing.T) {
	p := processing.NewProcessor()
	path, err := p.WriteTemp(image.NewRGBA(image.Rect(0, 0, 1280, 640)), t.TempDir(), "page-*", types.ImageFormat{Extension: "png"})
	require.NoError(t, err)

	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, jsoniter.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"ocr","message":{"role":"assistant","content":"# Title"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "ocr")
	require.NoError(t, err)

	text, err := c.Infer(context.Background(), path, "<image>\nFree OCR.", types.Small)
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)

	assert.Equal(t, "ocr", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "<image>\nFree OCR.", got.Messages[0].Content)
	require.Len(t, got.Messages[0].Images, 1)

	img, _, err := image.Decode(bytes.NewReader(got.Messages[0].Images[0]))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx(), "long side scaled to the base size")
	assert.Equal(t, 320, img.Bounds().Dy())
}

func TestInferServerError(t *testing.T) {
	p := processing.NewProcessor()
	path, err := p.WriteTemp(image.NewRGBA(image.Rect(0, 0, 10, 10)), t.TempDir(), "page-*", types.ImageFormat{Extension: "png"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "missing")
	require.NoError(t, err)
	_, err = c.Infer(context.Background(), path, "p", types.Base)
	assert.Error(t, err)
}
