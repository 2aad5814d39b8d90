package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clawinfra/clawrouter/internal/catalog"
	"github.com/clawinfra/clawrouter/internal/router"
	"github.com/clawinfra/clawrouter/internal/upstream"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	content string
	err     error
	lastReq upstream.ChatRequest
}

func (f *fakeBackend) Chat(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.ChatResponse{
		ID:           "resp-1",
		Model:        req.Model,
		Content:      f.content,
		FinishReason: "stop",
		Usage:        upstream.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeBackend) ChatStream(ctx context.Context, req upstream.ChatRequest, fn func(upstream.StreamChunk) error) error {
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	for _, part := range []string{"str", "eam"} {
		if err := fn(upstream.StreamChunk{Content: part}); err != nil {
			return err
		}
	}
	return fn(upstream.StreamChunk{
		FinishReason: "stop",
		Usage:        &upstream.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
	})
}

func newTestServer(t *testing.T, backend ChatBackend, jwtSecret string) *Server {
	t.Helper()
	engine, err := router.NewEngine(router.DefaultConfig(), router.DefaultPricer(), newTestLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewServer(Options{
		Port:      0,
		Engine:    engine,
		Upstream:  backend,
		Catalog:   catalog.Default(),
		JWTSecret: jwtSecret,
		Logger:    newTestLogger(),
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, "secret-key")

	for _, path := range []string{"/api/stats", "/api/health", "/api/models", "/api/sessions"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAdminWithValidToken(t *testing.T) {
	secret := "secret-key"
	s := newTestServer(t, &fakeBackend{}, secret)

	token, err := GenerateToken("admin", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if _, ok := stats["engine"]; !ok {
		t.Error("stats missing engine section")
	}
	if _, ok := stats["savings"]; !ok {
		t.Error("stats missing savings section")
	}
}

func TestAdminRejectsExpiredToken(t *testing.T) {
	secret := "secret-key"
	s := newTestServer(t, &fakeBackend{}, secret)

	token, err := GenerateToken("admin", []byte(secret), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", rec.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	secret := "secret-key"
	s := newTestServer(t, &fakeBackend{}, secret)
	token, _ := GenerateToken("admin", []byte(secret), time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var models []catalog.Model
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(models) == 0 {
		t.Error("expected catalog models")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
