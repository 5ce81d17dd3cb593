package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"posterly/internal/logger"
)

// Client calls the external poster-generation service. The service is an
// opaque collaborator: one image in, one styled poster out.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *logger.Logger
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Logger:  log,
	}
}

type transformRequest struct {
	ImageURL    string `json:"image_url"`
	StylePrompt string `json:"style_prompt"`
}

type transformResponse struct {
	PosterURL string `json:"poster_url"`
	Error     string `json:"error,omitempty"`
}

// Transform submits an image for styling and returns the generated poster URL.
func (c *Client) Transform(ctx context.Context, imageURL, stylePrompt string) (string, error) {
	body, err := json.Marshal(transformRequest{ImageURL: imageURL, StylePrompt: stylePrompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode transform request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transform", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build transform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.Error("GENERATION", fmt.Sprintf("Transform call failed: %v", err))
		return "", fmt.Errorf("generation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.Logger.Error("GENERATION", fmt.Sprintf("Transform returned %d: %s", resp.StatusCode, raw))
		return "", fmt.Errorf("generation service returned %d", resp.StatusCode)
	}

	var out transformResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transform response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generation service error: %s", out.Error)
	}
	if out.PosterURL == "" {
		return "", fmt.Errorf("generation service returned no poster URL")
	}
	return out.PosterURL, nil
}
