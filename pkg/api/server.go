package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

// Handler time budgets
const (
	readTimeout     = 5 * time.Second
	historyTimeout  = 15 * time.Second
	settingsTimeout = 5 * time.Second
	testTimeout     = 45 * time.Second
)

// StatusSource exposes the last evaluated snapshot
type StatusSource interface {
	Last() (*types.HealthSnapshot, bool)
}

// Notifier is the notification surface the API drives
type Notifier interface {
	SendTest(ctx context.Context, caller, channel string, overrides notify.Patch) error
	Snooze(minutes int) (notify.SnoozeStatus, error)
	CancelSnooze() error
	SnoozeStatus(now time.Time) notify.SnoozeStatus
}

// Config holds API server settings
type Config struct {
	Addr        string
	APIKey      string
	StaticDir   string
	CORSOrigins []string

	Primary   types.NodeIdentity
	Secondary types.NodeIdentity
	VIP       string
}

// Server is the HTTP API and dashboard server
type Server struct {
	cfg      Config
	status   StatusSource
	store    storage.Store
	settings *notify.SettingsStore
	notifier Notifier
	broker   *events.Broker
	logger   zerolog.Logger

	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	// closing ends open event streams, which Shutdown would otherwise wait on
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates the API server and builds its routes
func NewServer(cfg Config, status StatusSource, store storage.Store, settings *notify.SettingsStore, notifier Notifier, broker *events.Broker) *Server {
	s := &Server{
		cfg:      cfg,
		status:   status,
		store:    store,
		settings: settings,
		notifier: notifier,
		broker:   broker,
		logger:   log.WithComponent("api"),
		closing:  make(chan struct{}),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/status", timeout(readTimeout, s.handleStatus))
	mux.Handle("GET /api/history", timeout(historyTimeout, s.handleHistory))
	mux.Handle("GET /api/events", timeout(readTimeout, s.handleEvents))
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)

	mux.Handle("GET /api/notifications/settings", timeout(settingsTimeout, s.handleGetSettings))
	mux.Handle("POST /api/notifications/settings", timeout(settingsTimeout, s.handleUpdateSettings))
	mux.Handle("POST /api/notifications/test", timeout(testTimeout, s.handleTestNotification))
	mux.Handle("POST /api/notifications/templates/reset", timeout(settingsTimeout, s.handleResetTemplates))
	mux.Handle("GET /api/notifications/snooze", timeout(settingsTimeout, s.handleGetSnooze))
	mux.Handle("POST /api/notifications/snooze", timeout(settingsTimeout, s.handleSetSnooze))
	mux.Handle("DELETE /api/notifications/snooze", timeout(settingsTimeout, s.handleCancelSnooze))

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	// Outermost first
	return chain(mux,
		requestID,
		recovery(s.logger),
		accessLog(s.logger),
		instrument,
		cors(s.cfg.CORSOrigins),
		requireAPIKey(s.cfg.APIKey),
	)
}

// Handler returns the HTTP handler for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API server listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+lis.Addr().String())

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
			metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones. Open event
// streams are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	s.logger.Info().Msg("Shutting down API server")
	return srv.Shutdown(ctx)
}

// timeout bounds a handler's worst-case latency. The request context carries
// the same deadline so downstream calls stop early. A handler still running
// when it passes is answered with a JSON 500 and its late output discarded.
func timeout(d time.Duration, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		r = r.WithContext(ctx)

		tw := &timeoutWriter{header: make(http.Header)}
		done := make(chan struct{})
		panicked := make(chan interface{}, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			h(tw, r)
			close(done)
		}()

		select {
		case p := <-panicked:
			// Re-raised here so the recovery middleware sees it
			panic(p)
		case <-done:
			tw.flushTo(w)
		case <-ctx.Done():
			tw.mu.Lock()
			tw.timedOut = true
			tw.mu.Unlock()
			writeError(w, http.StatusInternalServerError, "Request timed out")
		}
	})
}

// timeoutWriter buffers a handler's response until it is known to have
// finished in time
type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	buf      bytes.Buffer
	code     int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.code != 0 {
		return
	}
	tw.code = code
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	return tw.buf.Write(p)
}

func (tw *timeoutWriter) flushTo(w http.ResponseWriter) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	dst := w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	w.WriteHeader(tw.code)
	_, _ = w.Write(tw.buf.Bytes())
}
