package dashboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mmbot/internal/config"
)

type handlers struct {
	provider Provider
	cfg      config.DashboardConfig
	hub      *hub
	admit    admission
	logger   *slog.Logger
}

func newHandlers(provider Provider, cfg config.DashboardConfig, h *hub, logger *slog.Logger) *handlers {
	return &handlers{
		provider: provider,
		cfg:      cfg,
		hub:      h,
		admit:    admission{cfg: cfg, exchange: provider.Exchange(), symbol: provider.Symbol()},
		logger:   logger.With("component", "dashboard_handlers"),
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := BuildSnapshot(h.provider, time.Now().UnixMilli())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var rejectReason string
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			ok, reason := h.admit.allow(req)
			if !ok {
				rejectReason = reason
			}
			return ok
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if rejectReason != "" {
			h.logger.Warn("websocket connection rejected", "reason", rejectReason, "origin", r.Header.Get("Origin"))
		} else {
			h.logger.Error("websocket upgrade failed", "error", err)
		}
		return
	}

	subscribe, err := parseEventFilter(r.URL.Query().Get("events"))
	if err != nil {
		h.logger.Warn("rejecting websocket connection: bad events filter", "error", err)
		conn.Close()
		return
	}

	c := newClient(h.hub, conn, subscribe)

	snap := BuildSnapshot(h.provider, time.Now().UnixMilli())
	evt := Event{Type: eventSnapshot, Timestamp: snap.Timestamp, Data: snap}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}
	select {
	case c.snapshot <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

// parseEventFilter turns a comma-separated ?events= query value into a
// subscription set. An empty value subscribes to everything; an unknown
// event name is rejected outright rather than silently subscribing the
// client to nothing, since that would look like a working connection that
// never receives any traffic.
func parseEventFilter(raw string) (map[string]bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	filter := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !knownEventTypes[name] {
			return nil, fmt.Errorf("unknown event type %q", name)
		}
		filter[name] = true
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("events filter resolved to no event types")
	}
	return filter, nil
}

// admission gates a WebSocket upgrade on both origin (who may connect) and,
// unlike the teacher's dashboard which served an arbitrary number of
// markets behind one MarketSnapshotProvider, on the single (exchange,
// symbol) pair this server instance is bound to: a client that names a
// different market in its query string is rejected rather than silently
// handed this server's data under a mismatched label.
type admission struct {
	cfg      config.DashboardConfig
	exchange string
	symbol   string
}

func (a admission) allow(r *http.Request) (bool, string) {
	if !a.originAllowed(r.Header.Get("Origin"), r.Host) {
		return false, "origin not allowed"
	}
	if ex := r.URL.Query().Get("exchange"); ex != "" && !strings.EqualFold(ex, a.exchange) {
		return false, fmt.Sprintf("exchange %q does not match bound exchange %q", ex, a.exchange)
	}
	if sym := r.URL.Query().Get("symbol"); sym != "" && !strings.EqualFold(sym, a.symbol) {
		return false, fmt.Sprintf("symbol %q does not match bound symbol %q", sym, a.symbol)
	}
	return true, ""
}

// originAllowed: an empty Origin (non-browser clients) passes, an explicit
// allow-list takes precedence over everything else, and otherwise
// local-loopback or same-host requests pass by default.
func (a admission) originAllowed(origin, reqHost string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	authority := canonicalAuthority(originURL.Scheme, originURL.Host)
	if authority == "" {
		return false
	}

	if len(a.cfg.AllowedOrigins) > 0 {
		for _, allowed := range a.cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err == nil && authority == canonicalAuthority(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return host != "" && host == canonicalHost(reqHost)
}

// isOriginAllowed is the free-function form kept for callers (and tests)
// that don't carry a full admission value.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	return admission{cfg: cfg}.originAllowed(origin, reqHost)
}

func canonicalAuthority(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func canonicalHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
