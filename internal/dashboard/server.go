package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mmbot/internal/config"
	"mmbot/internal/domain"
)

// broadcastInterval is how often the server pushes a fresh snapshot to every
// connected WebSocket client, independent of the tick loop's own cadence.
const broadcastInterval = 2 * time.Second

// Server runs the read-only status dashboard's HTTP and WebSocket endpoints.
// Rather than consuming a pushed event channel, it periodically pulls a
// fresh Snapshot from Provider and broadcasts it, since this
// domain's executor has no event bus of its own to tap.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *hub
	handlers *handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer constructs the dashboard server. It does not start listening
// until Run is called.
func NewServer(cfg config.DashboardConfig, provider Provider, logger *slog.Logger) *Server {
	h := newHub(logger)
	hs := newHandlers(provider, cfg, h, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/api/snapshot", hs.handleSnapshot)
	mux.HandleFunc("/ws", hs.handleWebSocket)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg: cfg, provider: provider, hub: h, handlers: hs, server: srv,
		logger: logger.With("component", "dashboard_server"),
	}
}

// Run starts the hub, the periodic broadcaster, and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.run()
	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("dashboard server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("dashboard shutdown failed", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// broadcastLoop pulls a fresh Snapshot every broadcastInterval and fans it
// out as a routine, coalescable snapshot event. It additionally tracks the
// strategy mode across ticks and, on a change, fans out a second,
// non-coalescable alert event first — so a PAUSE entry (or exit) reaches
// every subscribed operator even if their client is currently behind on
// routine snapshots.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	var lastMode domain.Mode
	haveLastMode := false

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := BuildSnapshot(s.provider, now.UnixMilli())
			if haveLastMode && snap.Mode != lastMode {
				s.hub.broadcastModeAlert(snap)
			}
			lastMode, haveLastMode = snap.Mode, true
			s.hub.broadcastSnapshot(snap)
		}
	}
}
