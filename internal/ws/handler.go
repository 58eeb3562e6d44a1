package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/metrics"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
)

// Options tunes the WebSocket transport
type Options struct {
	AllowedOrigins    []string
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	ConnectsPerMinute float64
	ConnectBurst      int
}

func DefaultOptions() Options {
	return Options{
		AllowedOrigins:    []string{"*"},
		MaxMessageSize:    1024 * 1024,
		SendBuffer:        512,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		ConnectsPerMinute: 60,
		ConnectBurst:      20,
	}
}

// Handler upgrades HTTP requests and serves one Client per connection
type Handler struct {
	dispatcher Dispatcher
	opts       Options
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	connects   *ratelimit.KeyedLimiters

	mu             sync.RWMutex
	allowAll       bool
	allowedOrigins map[string]struct{}
}

func NewHandler(d Dispatcher, opts Options, logger zerolog.Logger) *Handler {
	h := &Handler{
		dispatcher: d,
		opts:       opts,
		logger:     logger.With().Str("component", "ws").Logger(),
		connects:   ratelimit.NewKeyedLimiters(opts.ConnectsPerMinute/60, opts.ConnectBurst, 10*time.Minute),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.SetAllowedOrigins(opts.AllowedOrigins)
	return h
}

// SetAllowedOrigins replaces the origin allow list. "*" allows any origin.
func (h *Handler) SetAllowedOrigins(origins []string) {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			allowed[normalized] = struct{}{}
		} else if trimmed != "" {
			h.logger.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
		}
	}

	h.mu.Lock()
	h.allowAll = allowAll
	h.allowedOrigins = allowed
	h.mu.Unlock()
}

// Stop releases the per-address limiter.
func (h *Handler) Stop() {
	h.connects.Stop()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := remoteHost(r)
	if !h.connects.Allow(addr) {
		metrics.RateLimitHits.WithLabelValues("connect").Inc()
		h.logger.Warn().Str("remote_addr", addr).Msg("connection rate limit exceeded")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		h.logger.Debug().Err(err).Str("remote_addr", addr).Msg("upgrade failed")
		return
	}

	client := newClient(h.dispatcher, conn, h.opts, h.logger)
	client.logger.Info().Str("remote_addr", addr).Msg("client connected")
	metrics.Connections.Inc()

	go client.writePump()
	go func() {
		defer metrics.Connections.Dec()
		client.readPump(h.opts.MaxMessageSize)
		client.logger.Info().Msg("client disconnected")
	}()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.allowAll {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := h.allowedOrigins[normalized]
	return allowed
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
