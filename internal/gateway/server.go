package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/queue"
	"github.com/secrethound/secrethound/internal/repository"
)

// Gateway is the HTTP surface of the job server: scan ingress, health, and
// the on-disk configuration endpoints. It performs no scan work itself;
// every accepted request becomes a queue item.
type Gateway struct {
	cfg     *config.Config
	hub     repository.Hub
	manager *queue.Manager
	creds   *repository.CredentialStore
	janitor *Janitor
}

// New creates a Gateway. Call Start to begin serving.
func New(cfg *config.Config, hub repository.Hub, manager *queue.Manager,
	creds *repository.CredentialStore) *Gateway {
	return &Gateway{
		cfg:     cfg,
		hub:     hub,
		manager: manager,
		creds:   creds,
		janitor: NewJanitor(cfg),
	}
}

// buildHandler wires all routes onto a new ServeMux. Uses Go 1.22+
// method-prefixed patterns; every route sits behind the API-key check.
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Scan ingress
	mux.HandleFunc("POST /scan", gw.handleScan)
	mux.HandleFunc("POST /multi_scan", gw.handleMultiScan)
	mux.HandleFunc("POST /local_scan", gw.handleLocalScan)

	// Health
	mux.HandleFunc("GET /health", gw.handleHealth)

	// On-disk configuration I/O
	gw.registerConfigRoutes(mux)

	return gw.requireAPIKey(mux)
}

// Start runs the janitor and the HTTP server until ctx is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	if err := gw.janitor.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", gw.cfg.Host, gw.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		gw.janitor.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Gateway listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
