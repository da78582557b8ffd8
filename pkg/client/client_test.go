package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wolkeposter/pkg/domain"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["username"] != "alice" {
			t.Errorf("username = %q, want alice", req["username"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "session-token",
			"token_type":   "Bearer",
			"user":         domain.User{ID: "u-1", Username: "alice"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	user, token, err := c.Login("alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "session-token" {
		t.Errorf("token = %q, want session-token", token)
	}
	if user.ID != "u-1" {
		t.Errorf("user id = %q, want u-1", user.ID)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Authentication failed"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, _, err := c.Login("alice", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
	if apiErr.Message != "Authentication failed" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func backgroundServer(t *testing.T, states []domain.Background) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		state := states[len(states)-1]
		if int(n) <= len(states) {
			state = states[n-1]
		}
		_ = json.NewEncoder(w).Encode(state)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestWaitForBackgroundReady(t *testing.T) {
	srv, calls := backgroundServer(t, []domain.Background{
		{ID: "b-1", Status: domain.BackgroundGenerating},
		{ID: "b-1", Status: domain.BackgroundGenerating},
		{ID: "b-1", Status: domain.BackgroundReady, URL: "/api/assets/a-1/url"},
	})

	c := New(srv.URL, WithPolling(time.Millisecond, 10))
	bg, err := c.WaitForBackground(context.Background(), "tok", "b-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if bg.Status != domain.BackgroundReady {
		t.Errorf("status = %q, want ready", bg.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("polls = %d, want 3", calls.Load())
	}
}

func TestWaitForBackgroundFailed(t *testing.T) {
	srv, _ := backgroundServer(t, []domain.Background{
		{ID: "b-1", Status: domain.BackgroundGenerating},
		{ID: "b-1", Status: domain.BackgroundFailed, ErrorMessage: "model unavailable"},
	})

	c := New(srv.URL, WithPolling(time.Millisecond, 10))
	_, err := c.WaitForBackground(context.Background(), "tok", "b-1")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if errors.Is(err, ErrGenerationTimeout) {
		t.Error("failure must not read as a timeout")
	}
}

func TestWaitForBackgroundTimeout(t *testing.T) {
	srv, calls := backgroundServer(t, []domain.Background{
		{ID: "b-1", Status: domain.BackgroundGenerating},
	})

	c := New(srv.URL, WithPolling(time.Millisecond, 4))
	_, err := c.WaitForBackground(context.Background(), "tok", "b-1")
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
	if errors.Is(err, ErrGenerationFailed) {
		t.Error("timeout must not read as a failure")
	}
	if calls.Load() != 4 {
		t.Errorf("polls = %d, want 4", calls.Load())
	}
}

func TestWaitForBackgroundContextCanceled(t *testing.T) {
	srv, _ := backgroundServer(t, []domain.Background{
		{ID: "b-1", Status: domain.BackgroundGenerating},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(srv.URL, WithPolling(time.Hour, 10))
	_, err := c.WaitForBackground(ctx, "tok", "b-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCreatePosterForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("template_key"); got != "2_products" {
			t.Errorf("template_key = %q", got)
		}
		if got := r.FormValue("artikel_nr_1"); got != "A-1001" {
			t.Errorf("artikel_nr_1 = %q", got)
		}
		if _, _, err := r.FormFile("product_image_0"); err != nil {
			t.Errorf("product_image_0 missing: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Poster{ID: "p-1", Status: domain.PosterCompleted})
	}))
	defer srv.Close()

	c := New(srv.URL)
	poster, err := c.CreatePoster("tok", CreatePosterInput{
		BackgroundID: "b-1",
		TemplateKey:  "2_products",
		SaleTitle:    "Summer Sale",
		Products: []PosterProduct{
			{ArticleNr: "A-1000", Price: "2.49", Filename: "p0.png", Image: bytes.NewReader([]byte("img"))},
			{ArticleNr: "A-1001", Price: "3.19", Filename: "p1.png", Image: bytes.NewReader([]byte("img"))},
		},
	})
	if err != nil {
		t.Fatalf("create poster: %v", err)
	}
	if poster.ID != "p-1" {
		t.Errorf("poster id = %q, want p-1", poster.ID)
	}
}

func TestGeneratePosterBackground(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posters/p-1/generate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["theme_text"] != "summer sale" {
			t.Errorf("theme_text = %q, want summer sale", req["theme_text"])
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(domain.Background{ID: "b-1", Status: domain.BackgroundQueued})
	}))
	defer srv.Close()

	c := New(srv.URL)
	bg, err := c.GeneratePosterBackground("tok", "p-1", "summer sale")
	if err != nil {
		t.Fatalf("generate poster background: %v", err)
	}
	if bg.Status != domain.BackgroundQueued {
		t.Errorf("status = %q, want queued", bg.Status)
	}
}
