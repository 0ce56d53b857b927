package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFixedTasks(t *testing.T) {
	tests := []struct {
		task Task
		want string
	}{
		{Markdown, "<image>\n<|grounding|>Convert the document to markdown."},
		{FreeOCR, "<image>\nFree OCR."},
		{Figure, "<image>\nParse the figure."},
		{Describe, "<image>\nDescribe this image in detail."},
		{Task("unknown"), "<image>\n<|grounding|>Convert the document to markdown."},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			got, err := Resolve(tt.task, "ignored")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveGrounding(t *testing.T) {
	_, err := Resolve(Grounding, "  \n\t")
	assert.ErrorIs(t, err, ErrEmptyInstruction)

	got, err := Resolve(Grounding, "Locate the signature.")
	require.NoError(t, err)
	assert.Equal(t, "<image>\nLocate the signature.", got)

	got, err = Resolve(Grounding, "<image>\nFind tables.")
	require.NoError(t, err)
	assert.Equal(t, "<image>\nFind tables.", got)
}

func TestParseTask(t *testing.T) {
	assert.Equal(t, FreeOCR, ParseTask(" FREE_OCR "))
	assert.Equal(t, Grounding, ParseTask("grounding"))
	assert.Equal(t, DefaultTask, ParseTask(""))
	assert.Equal(t, DefaultTask, ParseTask("translate"))
}

func TestTasksAlwaysContainImageToken(t *testing.T) {
	tasks := Tasks()
	require.Len(t, tasks, 5)
	for _, info := range tasks {
		if info.Task == Grounding {
			continue
		}
		assert.True(t, strings.Contains(info.Prompt, ImageToken), info.Task)
	}
}

func TestGroundingPrompt(t *testing.T) {
	assert.Equal(t, "<image>\nLocate <|ref|>the red car<|/ref|> in the image.", GroundingPrompt(" the red car "))
}
