// Package prompt maps OCR tasks to model instructions.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ImageToken marks where the model receives the image
const ImageToken = "<image>"

// ErrEmptyInstruction is returned for a grounding task without an instruction
var ErrEmptyInstruction = errors.New("grounding task requires a non-empty instruction")

// Task selects what the model is asked to produce
type Task string

const (
	Markdown  Task = "markdown"
	FreeOCR   Task = "free_ocr"
	Figure    Task = "figure"
	Describe  Task = "describe"
	Grounding Task = "grounding"
)

// DefaultTask is used for empty or unknown task names
const DefaultTask = Markdown

var prompts = map[Task]string{
	Markdown: "<image>\n<|grounding|>Convert the document to markdown.",
	FreeOCR:  "<image>\nFree OCR.",
	Figure:   "<image>\nParse the figure.",
	Describe: "<image>\nDescribe this image in detail.",
}

// TaskInfo describes a task for listings
type TaskInfo struct {
	Task        Task   `json:"task"`
	Description string `json:"description"`
	Prompt      string `json:"prompt,omitempty"`
}

// Tasks lists the supported tasks in display order
func Tasks() []TaskInfo {
	return []TaskInfo{
		{Markdown, "Document to markdown with layout regions", prompts[Markdown]},
		{FreeOCR, "Plain text recognition without layout", prompts[FreeOCR]},
		{Figure, "Chart, table or formula parsing", prompts[Figure]},
		{Describe, "Detailed image description", prompts[Describe]},
		{Grounding, "Custom instruction, e.g. locating an object", ""},
	}
}

// ParseTask returns the task named s, falling back to DefaultTask
func ParseTask(s string) Task {
	t := Task(strings.ToLower(strings.TrimSpace(s)))
	if t == Grounding {
		return t
	}
	if _, ok := prompts[t]; ok {
		return t
	}
	return DefaultTask
}

// Resolve returns the instruction for task. The grounding task uses custom
// and fails with ErrEmptyInstruction when it is blank. The result always
// contains the image token.
func Resolve(task Task, custom string) (string, error) {
	var p string
	if task == Grounding {
		if strings.TrimSpace(custom) == "" {
			return "", ErrEmptyInstruction
		}
		p = custom
	} else {
		var ok bool
		if p, ok = prompts[task]; !ok {
			p = prompts[DefaultTask]
		}
	}

	if !strings.Contains(p, ImageToken) {
		p = ImageToken + "\n" + p
	}
	return p, nil
}

// GroundingPrompt asks the model to locate target in the image
func GroundingPrompt(target string) string {
	return fmt.Sprintf("%s\nLocate <|ref|>%s<|/ref|> in the image.", ImageToken, strings.TrimSpace(target))
}
