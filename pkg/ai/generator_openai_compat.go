package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatImageGenerator calls any OpenAI-compatible /v1/images/generations
// endpoint. Works with the hosted API as well as self-hosted proxies.
type OpenAICompatImageGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

// NewOpenAICompatImageGenerator builds an OpenAI-compatible ImageGenerator.
// baseURL should include the /v1 prefix, e.g. "https://api.openai.com/v1".
// apiKey can be empty for local endpoints that do not require authentication.
func NewOpenAICompatImageGenerator(baseURL, apiKey, model, size string) *OpenAICompatImageGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.TrimSpace(size) == "" {
		size = "1024x1024"
	}
	return &OpenAICompatImageGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		size:    size,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateImage implements ImageGenerator using the images API. The
// response may carry base64 data or a retrievable URL; both are handled.
func (g *OpenAICompatImageGenerator) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if g.model == "" {
		return nil, fmt.Errorf("image generation model required")
	}
	reqBody := imageRequest{
		Model:          g.model,
		Prompt:         prompt,
		Size:           g.size,
		ResponseFormat: "b64_json",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := g.baseURL + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp imageErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("image api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("image api error: %s", resp.Status)
	}

	var imgResp imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imgResp); err != nil {
		return nil, fmt.Errorf("image api decode: %w", err)
	}
	if len(imgResp.Data) == 0 {
		return nil, fmt.Errorf("empty response from image api")
	}
	item := imgResp.Data[0]
	if item.B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("image api base64 decode: %w", err)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("empty image from image api")
		}
		return raw, nil
	}
	if item.URL != "" {
		return g.fetchImage(ctx, item.URL)
	}
	return nil, fmt.Errorf("image api returned neither data nor url")
}

func (g *OpenAICompatImageGenerator) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch generated image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch generated image: %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read generated image: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image from image api")
	}
	return raw, nil
}

// Image API request/response types.

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

type imageErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
