package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"wolkeposter/pkg/domain"
)

// DefaultPollInterval and DefaultPollAttempts bound a WaitForBackground
// call to two minutes of polling.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60
)

// ErrGenerationFailed reports that the server finished a background in
// the failed state. ErrGenerationTimeout reports that polling gave up
// while the background was still pending; the server may yet finish it.
var (
	ErrGenerationFailed  = errors.New("background generation failed")
	ErrGenerationTimeout = errors.New("timed out waiting for background generation")
)

// Client calls the poster API over HTTP. Tokens are passed explicitly,
// so one client can serve several sessions.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
}

// APIError represents an API error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling overrides the background polling cadence.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if attempts > 0 {
			c.pollAttempts = attempts
		}
	}
}

// New constructs a poster API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a session token.
func (c *Client) Login(username, password string) (domain.User, string, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := c.doJSON(http.MethodPost, "/api/auth/login", "", payload, &resp); err != nil {
		return domain.User{}, "", err
	}
	return resp.User, resp.AccessToken, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(token string) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(http.MethodGet, "/api/auth/me", token, nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Logout invalidates the session token.
func (c *Client) Logout(token string) error {
	return c.doJSON(http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// ListProducts returns the caller's products.
func (c *Client) ListProducts(token string) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.doJSON(http.MethodGet, "/api/products", token, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ImportResult mirrors the server's import summary.
type ImportResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ImportProducts uploads a product CSV.
func (c *Client) ImportProducts(token, filename string, r io.Reader) (ImportResult, error) {
	var result ImportResult
	err := c.doMultipart("/api/products/import", token, nil, "file", filename, r, &result)
	return result, err
}

// GenerateBackground requests an AI backdrop for the theme.
func (c *Client) GenerateBackground(token, themeText string) (domain.Background, error) {
	payload := map[string]string{"theme_text": themeText}
	var bg domain.Background
	if err := c.doJSON(http.MethodPost, "/api/backgrounds/generate", token, payload, &bg); err != nil {
		return domain.Background{}, err
	}
	return bg, nil
}

// GeneratePosterBackground requests an AI backdrop on behalf of a
// poster. The poster moves to generating and is completed or failed by
// the server together with the background.
func (c *Client) GeneratePosterBackground(token, posterID, themeText string) (domain.Background, error) {
	payload := map[string]string{"theme_text": themeText}
	var bg domain.Background
	if err := c.doJSON(http.MethodPost, "/api/posters/"+posterID+"/generate", token, payload, &bg); err != nil {
		return domain.Background{}, err
	}
	return bg, nil
}

// UploadBackground uploads a backdrop image directly.
func (c *Client) UploadBackground(token, filename string, r io.Reader) (domain.Background, error) {
	var bg domain.Background
	err := c.doMultipart("/api/backgrounds/upload", token, nil, "file", filename, r, &bg)
	return bg, err
}

// GetBackground fetches one background.
func (c *Client) GetBackground(token, id string) (domain.Background, error) {
	var bg domain.Background
	if err := c.doJSON(http.MethodGet, "/api/backgrounds/"+id, token, nil, &bg); err != nil {
		return domain.Background{}, err
	}
	return bg, nil
}

// ListBackgrounds returns the caller's backgrounds.
func (c *Client) ListBackgrounds(token string) ([]domain.Background, error) {
	var bgs []domain.Background
	if err := c.doJSON(http.MethodGet, "/api/backgrounds", token, nil, &bgs); err != nil {
		return nil, err
	}
	return bgs, nil
}

// WaitForBackground polls a pending background until it reaches a
// terminal state. It returns ErrGenerationFailed when the server marks
// the background failed and ErrGenerationTimeout when the attempt
// budget runs out first.
func (c *Client) WaitForBackground(ctx context.Context, token, id string) (domain.Background, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		bg, err := c.GetBackground(token, id)
		if err != nil {
			return domain.Background{}, err
		}
		switch bg.Status {
		case domain.BackgroundReady:
			return bg, nil
		case domain.BackgroundFailed:
			if bg.ErrorMessage != "" {
				return bg, fmt.Errorf("%w: %s", ErrGenerationFailed, bg.ErrorMessage)
			}
			return bg, ErrGenerationFailed
		}
		select {
		case <-ctx.Done():
			return domain.Background{}, ctx.Err()
		case <-ticker.C:
		}
	}
	return domain.Background{}, ErrGenerationTimeout
}

// PosterProduct is one product slot of a poster to create.
type PosterProduct struct {
	ArticleNr string
	Price     string
	Filename  string
	Image     io.Reader
}

// CreatePosterInput carries the multipart poster form. BackgroundID may
// be empty to create a draft poster that gets its backdrop later via
// GeneratePosterBackground. Logo is optional.
type CreatePosterInput struct {
	BackgroundID string
	TemplateKey  string
	SaleTitle    string
	ThemeText    string
	LogoFilename string
	Logo         io.Reader
	Products     []PosterProduct
}

// CreatePoster assembles a poster from the template's product slots.
func (c *Client) CreatePoster(token string, in CreatePosterInput) (domain.Poster, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"background_id": in.BackgroundID,
		"template_key":  in.TemplateKey,
		"sale_title":    in.SaleTitle,
	}
	if in.ThemeText != "" {
		fields["theme_text"] = in.ThemeText
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return domain.Poster{}, err
		}
	}
	if in.Logo != nil {
		part, err := writer.CreateFormFile("store_logo", in.LogoFilename)
		if err != nil {
			return domain.Poster{}, err
		}
		if _, err := io.Copy(part, in.Logo); err != nil {
			return domain.Poster{}, err
		}
	}
	for i, p := range in.Products {
		if err := writer.WriteField(fmt.Sprintf("artikel_nr_%d", i), p.ArticleNr); err != nil {
			return domain.Poster{}, err
		}
		if err := writer.WriteField(fmt.Sprintf("sale_price_%d", i), p.Price); err != nil {
			return domain.Poster{}, err
		}
		if p.Image == nil {
			continue
		}
		part, err := writer.CreateFormFile(fmt.Sprintf("product_image_%d", i), p.Filename)
		if err != nil {
			return domain.Poster{}, err
		}
		if _, err := io.Copy(part, p.Image); err != nil {
			return domain.Poster{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return domain.Poster{}, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/posters", &buf)
	if err != nil {
		return domain.Poster{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	var poster domain.Poster
	if err := c.do(req, &poster); err != nil {
		return domain.Poster{}, err
	}
	return poster, nil
}

// GetPoster fetches one poster.
func (c *Client) GetPoster(token, id string) (domain.Poster, error) {
	var poster domain.Poster
	if err := c.doJSON(http.MethodGet, "/api/posters/"+id, token, nil, &poster); err != nil {
		return domain.Poster{}, err
	}
	return poster, nil
}

// ListPosters returns the caller's posters.
func (c *Client) ListPosters(token string) ([]domain.Poster, error) {
	var posters []domain.Poster
	if err := c.doJSON(http.MethodGet, "/api/posters", token, nil, &posters); err != nil {
		return nil, err
	}
	return posters, nil
}

// UpdatePoster patches poster text fields; nil leaves a field as is.
func (c *Client) UpdatePoster(token, id string, patch map[string]string) (domain.Poster, error) {
	var poster domain.Poster
	if err := c.doJSON(http.MethodPatch, "/api/posters/"+id, token, patch, &poster); err != nil {
		return domain.Poster{}, err
	}
	return poster, nil
}

// ExportPoster requests an export asset for the poster. Format may be
// "png", "pdf", or empty for the server default.
func (c *Client) ExportPoster(token, id, format string) (domain.Asset, error) {
	var payload any
	if format != "" {
		payload = map[string]string{"format": format}
	}
	var asset domain.Asset
	if err := c.doJSON(http.MethodPost, "/api/posters/"+id+"/export", token, payload, &asset); err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

// AssetURL resolves an asset reference to a fetchable URL.
func (c *Client) AssetURL(token, assetID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(http.MethodGet, "/api/assets/"+assetID+"/url", token, nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) doJSON(method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) doMultipart(path, token string, fields map[string]string, fileField, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        domain.User `json:"user"`
}
