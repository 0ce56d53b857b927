package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKinds(t *testing.T) {
	assert.True(t, IsImageFile("scan.PNG"))
	assert.True(t, IsImageFile("a/b/photo.webp"))
	assert.False(t, IsImageFile("paper.pdf"))
	assert.True(t, IsPDFFile("paper.PDF"))
	assert.False(t, IsPDFFile("paper"))
	assert.Equal(t, "jpeg", GetFileExtension("x.JPEG"))
	assert.Equal(t, "", GetFileExtension("noext"))
}

func TestGenerateOutputPaths(t *testing.T) {
	p := GenerateOutputPaths("/in/report v1.pdf", "/out")
	assert.Equal(t, "/out/report v1.md", p.Text)
	assert.Equal(t, "/out/report v1_layouts.jpg", p.Image)
	assert.Equal(t, "/out/report v1_layouts.pdf", p.Document)

	p = GenerateOutputPaths("/in/page.png", "")
	assert.Equal(t, "/in/page.md", p.Text)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "result.md")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(dir))
}

func TestSanitizeAndSize(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
}
