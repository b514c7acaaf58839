// Package gateway implements the client-facing HTTP API. It fronts the
// three voice backends (generation, synthesis, recognition), owns the
// conversation memory used to build generation prompts, and exposes an
// operational event stream plus a supervisor trigger.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/voxhaus/voxd/internal/backend"
	"github.com/voxhaus/voxd/internal/buildinfo"
	"github.com/voxhaus/voxd/internal/config"
	"github.com/voxhaus/voxd/internal/events"
	"github.com/voxhaus/voxd/internal/memory"
	"github.com/voxhaus/voxd/internal/supervisor"
)

// Generator produces a text reply for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Synthesizer turns text into an audio stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error)
}

// Recognizer transcribes an uploaded audio file.
type Recognizer interface {
	Recognize(ctx context.Context, audio io.Reader, filename string) ([]byte, error)
}

// Server is the gateway HTTP server.
type Server struct {
	cfg     *config.Config
	store   *memory.Store
	archive *memory.Archive // optional, nil when disabled
	persona string

	generator   Generator
	synthesizer Synthesizer
	recognizer  Recognizer

	super *supervisor.Supervisor // optional supervisor trigger
	bus   *events.Bus
	log   *slog.Logger

	limiter *rateLimiter
	server  *http.Server
}

// New creates a gateway server. archive, super, and bus may be nil.
func New(cfg *config.Config, store *memory.Store, archive *memory.Archive, persona string,
	gen Generator, synth Synthesizer, rec Recognizer,
	super *supervisor.Supervisor, bus *events.Bus, logger *slog.Logger) *Server {

	return &Server{
		cfg:         cfg,
		store:       store,
		archive:     archive,
		persona:     persona,
		generator:   gen,
		synthesizer: synth,
		recognizer:  rec,
		super:       super,
		bus:         bus,
		log:         logger,
		limiter: newRateLimiter(
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
			cfg.RateLimit.MaxRequests,
		),
	}
}

// Handler builds the full route table with middleware applied. Exposed
// for tests; Start wires it into a listening http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/tts", s.handleTTS)
	mux.HandleFunc("POST /api/whisper", s.handleWhisper)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	if s.super != nil {
		mux.HandleFunc("POST /api/services/start", s.handleServicesStart)
		mux.HandleFunc("GET /api/services", s.handleServicesStatus)
	}

	if s.archive != nil {
		mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	}

	return s.recoverPanics(s.withLogging(s.cors(s.rateLimit(mux))))
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: synthesis responses stream audio of
		// unbounded length and the event stream is long-lived.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Listen.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.log.Info("starting gateway", "address", addr, "port", s.cfg.Listen.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("failed to write JSON response", "error", err)
	}
}

// Error type labels surfaced in error responses.
const (
	errTypeValidation = "invalid_request_error"
	errTypeBackend    = "backend_error"
	errTypeInternal   = "internal_error"
)

func (s *Server) errorResponse(w http.ResponseWriter, code int, errType, message string, extra map[string]any) {
	body := map[string]any{
		"message": message,
		"type":    errType,
		"code":    code,
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": body}); err != nil {
		s.log.Debug("failed to write error response", "error", err)
	}
}

// backendError maps a failed backend call onto the HTTP response: 502
// with the backend's own diagnostics when the failure was downstream,
// 500 otherwise.
func (s *Server) backendError(w http.ResponseWriter, err error) {
	var be *backend.Error
	if errors.As(err, &be) {
		extra := map[string]any{"backend": be.Backend}
		if be.Body != "" {
			extra["detail"] = be.Body
		}
		s.errorResponse(w, http.StatusBadGateway, errTypeBackend, be.Error(), extra)
		return
	}
	s.log.Error("unexpected handler error", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, errTypeInternal, "internal error", nil)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":  "ok",
		"msg":     "voxd gateway is up",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleServicesStart(w http.ResponseWriter, r *http.Request) {
	// Children must outlive the triggering request, so the spawn uses
	// the process context rather than the request context.
	s.super.StartAll(context.WithoutCancel(r.Context()))
	s.writeJSON(w, map[string]any{"services": s.super.States()})
}

func (s *Server) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"services": s.super.States()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	const limit = 100

	var (
		turns []memory.ArchivedTurn
		err   error
	)
	if term := r.URL.Query().Get("q"); term != "" {
		turns, err = s.archive.Search(term, limit)
	} else {
		turns, err = s.archive.Recent(limit)
	}
	if err != nil {
		s.log.Error("transcript query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, errTypeInternal, "transcript unavailable", nil)
		return
	}
	if turns == nil {
		turns = []memory.ArchivedTurn{}
	}
	s.writeJSON(w, map[string]any{"turns": turns})
}
