package tesseract

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/layout-ocr/pkg/layout"
)

func TestFormatBlocksRoundTrip(t *testing.T) {
	blocks := []Block{
		{Text: "Heading\n", Rect: image.Rect(0, 0, 1000, 100)},
		{Text: "   ", Rect: image.Rect(0, 100, 10, 110)},
		{Text: "Body text", Rect: image.Rect(100, 200, 900, 1900)},
	}
	out := FormatBlocks(blocks, 1000, 2000)

	all, images, others := layout.Parse(out)
	require.Len(t, all, 2, "blank blocks are dropped")
	assert.Empty(t, images)
	assert.Len(t, others, 2)

	label, boxes, err := layout.Decode(all[0])
	require.NoError(t, err)
	assert.Equal(t, "text", label)
	assert.Equal(t, []layout.Box{{0, 0, 999, 49}}, boxes)

	_, boxes, err = layout.Decode(all[1])
	require.NoError(t, err)
	assert.Equal(t, []layout.Box{{99, 99, 899, 949}}, boxes)

	assert.Contains(t, out, "Body text")
}

func TestFormatBlocksClamps(t *testing.T) {
	out := FormatBlocks([]Block{{Text: "x", Rect: image.Rect(-5, -5, 50, 50)}}, 40, 40)
	assert.Contains(t, out, "[[0, 0, 999, 999]]")
	assert.Empty(t, FormatBlocks([]Block{{Text: "x"}}, 0, 10))
}
