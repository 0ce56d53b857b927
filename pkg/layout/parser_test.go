package layout

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tag(label, coords string) string {
	return fmt.Sprintf("<|ref|>%s<|/ref|><|det|>%s<|/det|>", label, coords)
}

func TestParseEmpty(t *testing.T) {
	all, images, others := Parse("")
	assert.Empty(t, all)
	assert.Empty(t, images)
	assert.Empty(t, others)

	all, images, others = Parse("# Heading\n\nplain markdown without any tags")
	assert.Empty(t, all)
	assert.Empty(t, images)
	assert.Empty(t, others)
}

func TestParsePartitionsPreserveOrder(t *testing.T) {
	raw := strings.Join([]string{
		tag("title", "[[0, 0, 500, 100]]"),
		"# Annual report",
		tag("image", "[[10, 120, 400, 500]]"),
		tag("text", "[[10, 510, 990, 700]]"),
		tag("image", "[[500, 120, 990, 500]]"),
		tag("table", "[[10, 710, 990, 990]]"),
	}, "\n")

	all, images, others := Parse(raw)
	require.Len(t, all, 5)
	require.Len(t, images, 2)
	require.Len(t, others, 3)

	labels := func(rs []Region) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.Label
		}
		return out
	}
	assert.Equal(t, []string{"title", "image", "text", "image", "table"}, labels(all))
	assert.Equal(t, []string{"title", "text", "table"}, labels(others))
	assert.Equal(t, "[[10, 120, 400, 500]]", images[0].Coords)
	assert.Equal(t, "[[500, 120, 990, 500]]", images[1].Coords)
	assert.Equal(t, tag("title", "[[0, 0, 500, 100]]"), all[0].Match)
}

func TestParseCounts(t *testing.T) {
	for _, tc := range []struct{ n, m int }{{0, 0}, {1, 0}, {0, 1}, {3, 2}, {7, 5}} {
		var b strings.Builder
		for i := 0; i < tc.n; i++ {
			b.WriteString(tag("text", fmt.Sprintf("[[%d, 0, 10, 10]]", i)))
			b.WriteString(" filler ")
		}
		for i := 0; i < tc.m; i++ {
			b.WriteString(tag("image", fmt.Sprintf("[[%d, 0, 10, 10]]", i)))
		}
		all, images, others := Parse(b.String())
		assert.Len(t, all, tc.n+tc.m)
		assert.Len(t, images, tc.m)
		assert.Len(t, others, tc.n)
	}
}

func TestParseMultilineGroups(t *testing.T) {
	raw := "<|ref|>text\nblock<|/ref|><|det|>[[1, 2, 3, 4],\n [5, 6, 7, 8]]<|/det|>"
	all, _, others := Parse(raw)
	require.Len(t, all, 1)
	assert.Equal(t, "text\nblock", all[0].Label)
	assert.Len(t, others, 1)

	_, boxes, err := Decode(all[0])
	require.NoError(t, err)
	assert.Equal(t, []Box{{1, 2, 3, 4}, {5, 6, 7, 8}}, boxes)
}

func TestParseNonGreedy(t *testing.T) {
	raw := tag("a", "[[1,1,2,2]]") + tag("b", "[[3,3,4,4]]")
	all, _, _ := Parse(raw)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Label)
	assert.Equal(t, "b", all[1].Label)
}

func TestImageLabelMustMatchExactly(t *testing.T) {
	raw := tag("image_caption", "[[1,1,2,2]]") + tag("Image", "[[1,1,2,2]]")
	_, images, others := Parse(raw)
	assert.Empty(t, images)
	assert.Len(t, others, 2)
}
