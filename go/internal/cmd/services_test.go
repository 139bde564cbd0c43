package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/olympia/go/internal/config"
)

func TestServerServesSeededMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.SeedFile = "../assets/demo_match.json"
	cfg.Timer.Interval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer services.Close()
	if services.Relay != nil || services.Listener != nil {
		t.Fatalf("expected no relay or listener without NATS and postgres")
	}
	go services.Gateway.Start(ctx)

	server := httptest.NewServer(setupServer(cfg, services).Handler)
	defer server.Close()

	for path, want := range map[string]int{
		"/health": http.StatusOK,
		"/api/matches/7c1e4a52-2f0b-4c54-9a43-0c7f1f6b9e01/state": http.StatusOK,
		"/api/matches/00000000-0000-4000-8000-000000000000/state": http.StatusNotFound,
	} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestSetupServicesRejectsBadSeed(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.SeedFile = "does-not-exist.json"

	if _, err := setupServices(context.Background(), cfg); err == nil {
		t.Fatalf("expected an error for a missing seed file")
	}
}
