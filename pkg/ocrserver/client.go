// Package ocrserver talks to a model server that hosts a grounding OCR model
// behind a small JSON API and honors the full resolution settings.
package ocrserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/menta2k/layout-ocr/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InferPath is the endpoint receiving inference requests
const InferPath = "/v1/ocr"

// Request is the body of an inference call
type Request struct {
	Model       string `json:"model,omitempty"`
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"image_base64"`
	BaseSize    int    `json:"base_size"`
	ImageSize   int    `json:"image_size"`
	CropMode    bool   `json:"crop_mode"`
}

// Response is the body returned by the server
type Response struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Client sends images to the server unchanged; the server applies the
// resolution settings itself
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client for the server at serverURL
func NewClient(serverURL, model string) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// Infer runs prompt over the image file at imagePath
func (c *Client) Infer(ctx context.Context, imagePath, prompt string, res types.Resolution) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(Request{
		Model:       c.model,
		Prompt:      prompt,
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		BaseSize:    res.BaseSize,
		ImageSize:   res.ImageSize,
		CropMode:    res.CropMode,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+InferPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("server error: %s", out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return out.Text, nil
}
