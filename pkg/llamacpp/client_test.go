package llamacpp

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/layout-ocr/pkg/processing"
	"github.com/menta2k/layout-ocr/pkg/types"
)

func writePage(t *testing.T) string {
	t.Helper()
	path, err := processing.NewProcessor().WriteTemp(image.NewRGBA(image.Rect(0, 0, 64, 32)), t.TempDir(), "page-*", types.ImageFormat{Extension: "png"})
	require.NoError(t, err)
	return path
}

func TestInfer(t *testing.T) {
	path := writePage(t)

	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &raw))
		w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "vlm")
	require.NoError(t, err)
	text, err := c.Infer(context.Background(), path, "<image>\nFree OCR.", types.Base)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, "vlm", raw["model"])
	messages := raw["messages"].([]interface{})
	parts := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	assert.Equal(t, "<image>\nFree OCR.", parts[0].(map[string]interface{})["text"])
	url := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestInferContentParts(t *testing.T) {
	path := writePage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "")
	text, err := c.Infer(context.Background(), path, "p", types.Base)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestInferErrors(t *testing.T) {
	path := writePage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "")
	_, err := c.Infer(context.Background(), path, "p", types.Base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestInferNoChoices(t *testing.T) {
	path := writePage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "")
	_, err := c.Infer(context.Background(), path, "p", types.Base)
	assert.Error(t, err)
}
