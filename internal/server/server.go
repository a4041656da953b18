// Package server exposes EmotiBot over HTTP: the embedded web UI, a JSON API
// and a websocket for live chat.
package server

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/config"
	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/history"
	"github.com/vanshikaxcx/emotibot/internal/memory"
	"github.com/vanshikaxcx/emotibot/internal/metrics"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/speech"
)

type Chat interface {
	Reply(ctx context.Context, sessionID, message string) (chat.Reply, error)
	Voice(ctx context.Context, sessionID string, audio []byte, filename string) (chat.Reply, error)
	History(ctx context.Context, sessionID string, limit int) ([]history.Record, error)
	Reset(ctx context.Context, sessionID string) error
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) emotion.Analysis
}

type Memory interface {
	AddDocumentBytes(ctx context.Context, data []byte, filename string, meta map[string]any) (int, error)
	Search(ctx context.Context, query string, n int, where map[string]any) ([]memory.Match, error)
	Stats(ctx context.Context) (rag.Stats, error)
	List(ctx context.Context, limit int) ([]memory.Item, error)
	Clear(ctx context.Context) error
}

type Speech interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Synthesize(ctx context.Context, text string) (speech.Audio, error)
	Check(ctx context.Context) map[string]bool
}

// Check is a readiness probe; a nil error means healthy.
type Check func(ctx context.Context) error

type Deps struct {
	Chat    Chat
	Emotion Analyzer
	Memory  Memory
	Speech  Speech
	Metrics *metrics.Metrics
	Ready   map[string]Check
	// Keys reports which credentials are configured, by variable name.
	Keys map[string]bool
}

type Server struct {
	cfg      config.ServerConfig
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	http     *http.Server
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return originAllowed(s.cfg.AllowedOrigins, r)
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(Recovery, RequestID, Logging, CORS(s.cfg.AllowedOrigins), Metrics(s.deps.Metrics))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(NewRateLimiter(s.cfg.RateLimit, s.cfg.Burst).Limit)

	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/voice", s.handleVoice).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/emotion", s.handleEmotion).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/documents", s.handleFormats).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/memory/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/memory/search", s.handleSearch).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/memory", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/memory", s.handleClear).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/speech/status", s.handleSpeechStatus).Methods(http.MethodGet)
	api.HandleFunc("/speech/transcribe", s.handleTranscribe).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/speech/synthesize", s.handleSynthesize).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleReset).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(uiHandler()).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	log.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
