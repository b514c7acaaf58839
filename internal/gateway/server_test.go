package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxhaus/voxd/internal/backend"
	"github.com/voxhaus/voxd/internal/config"
	"github.com/voxhaus/voxd/internal/events"
	"github.com/voxhaus/voxd/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubGenerator records calls and returns a canned reply or error.
type stubGenerator struct {
	reply string
	err   error

	calls     int
	gotPrompt string
	gotTokens int
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.calls++
	g.gotPrompt = prompt
	g.gotTokens = maxTokens
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type stubSynthesizer struct {
	audio       string
	contentType string
	err         error
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return io.NopCloser(strings.NewReader(s.audio)), s.contentType, nil
}

type stubRecognizer struct {
	result []byte
	err    error
	calls  int
}

func (r *stubRecognizer) Recognize(ctx context.Context, audio io.Reader, filename string) ([]byte, error) {
	r.calls++
	io.Copy(io.Discard, audio)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

// testEnv bundles a gateway wired to stubs over a fresh memory file.
type testEnv struct {
	srv     *Server
	gen     *stubGenerator
	synth   *stubSynthesizer
	rec     *stubRecognizer
	memPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.MaxRequests = 10000

	memPath := filepath.Join(t.TempDir(), "memory.json")
	store := memory.Open(memPath, cfg.History.MaxEntries, testLogger())

	gen := &stubGenerator{reply: "hi there"}
	synth := &stubSynthesizer{audio: "RIFFDATA", contentType: "audio/wav"}
	rec := &stubRecognizer{result: []byte(`{"text":"hello world"}`)}

	srv := New(cfg, store, nil, "Test persona.", gen, synth, rec, nil, events.New(), testLogger())
	return &testEnv{srv: srv, gen: gen, synth: synth, rec: rec, memPath: memPath}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
}

func TestChat_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.gen.reply = "  hi there \n"

	w := postJSON(t, env.srv.Handler(), "/api/chat", `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reply != "hi there" {
		t.Errorf("reply = %q, want trimmed %q", resp.Reply, "hi there")
	}

	// A fresh Open simulates a restart: both turns must be durable.
	reloaded := memory.Open(env.memPath, 200, testLogger())
	got := reloaded.RecentContext(10)
	if len(got) != 2 {
		t.Fatalf("persisted %d entries, want 2", len(got))
	}
	if got[0].Role != memory.RoleUser || got[0].Content != "hello" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Role != memory.RoleAssistant || got[1].Content != "hi there" {
		t.Errorf("entry 1 = %+v", got[1])
	}
}

func TestChat_ValidationShortCircuit(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{}`},
		{"empty message", `{"message":""}`},
		{"whitespace message", `{"message":"   "}`},
		{"wrong type", `{"message":42}`},
		{"malformed json", `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := postJSON(t, env.srv.Handler(), "/api/chat", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if env.gen.calls != 0 {
				t.Errorf("backend called %d times, want 0", env.gen.calls)
			}
			if env.srv.store.Len() != 0 {
				t.Errorf("memory mutated: %d entries", env.srv.store.Len())
			}
		})
	}
}

func TestChat_BackendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = &backend.Error{
		Backend: backend.RoleGeneration,
		Status:  http.StatusInternalServerError,
		Body:    `{"error":"model exploded"}`,
	}

	w := postJSON(t, env.srv.Handler(), "/api/chat", `{"message":"hello"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "model exploded") {
		t.Errorf("backend diagnostics not relayed: %s", w.Body.String())
	}

	// The user turn is persisted even though the backend failed; no
	// assistant turn follows it.
	got := env.srv.store.RecentContext(10)
	if len(got) != 1 || got[0].Role != memory.RoleUser {
		t.Errorf("history = %+v, want only the user entry", got)
	}
}

func TestChat_DefaultMaxTokens(t *testing.T) {
	env := newTestEnv(t)

	postJSON(t, env.srv.Handler(), "/api/chat", `{"message":"hello"}`)
	if env.gen.gotTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", env.gen.gotTokens, DefaultMaxTokens)
	}

	postJSON(t, env.srv.Handler(), "/api/chat", `{"message":"hello","max_tokens":64}`)
	if env.gen.gotTokens != 64 {
		t.Errorf("max_tokens = %d, want 64", env.gen.gotTokens)
	}
}

func TestChat_PromptIncludesPersonaAndHistory(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.Handler()

	postJSON(t, h, "/api/chat", `{"message":"first"}`)
	postJSON(t, h, "/api/chat", `{"message":"second"}`)

	p := env.gen.gotPrompt
	if !strings.HasPrefix(p, "Test persona.") {
		t.Errorf("prompt missing persona: %q", p)
	}
	if !strings.Contains(p, "user: first\n") || !strings.Contains(p, "assistant: hi there\n") {
		t.Errorf("prompt missing prior turn: %q", p)
	}
	if !strings.HasSuffix(p, "user: second\nassistant:") {
		t.Errorf("prompt missing turn marker: %q", p)
	}
}

func TestTTS_PassThrough(t *testing.T) {
	env := newTestEnv(t)
	env.synth.audio = "OGGBYTES"
	env.synth.contentType = "audio/ogg"

	w := postJSON(t, env.srv.Handler(), "/api/tts", `{"text":"say this"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/ogg" {
		t.Errorf("content type = %q", ct)
	}
	if w.Body.String() != "OGGBYTES" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestTTS_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{}`, `{"text":""}`, `bad`} {
		w := postJSON(t, env.srv.Handler(), "/api/tts", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestTTS_BackendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.synth.err = &backend.Error{Backend: backend.RoleSynthesis, Status: 500, Body: "no voice"}

	w := postJSON(t, env.srv.Handler(), "/api/tts", `{"text":"x"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(50*time.Millisecond, 2)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request in window should be rejected")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("another client should have its own window")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Error("request after window reset should pass")
	}
}

func TestRateLimit_Returns429(t *testing.T) {
	env := newTestEnv(t)
	env.srv.limiter = newRateLimiter(time.Minute, 1)
	h := env.srv.Handler()

	if w := postJSON(t, h, "/api/chat", `{"message":"one"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	if w := postJSON(t, h, "/api/chat", `{"message":"two"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", w.Code)
	}

	// Non-API routes are exempt.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("root route limited: status = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORSOrigin = "http://localhost:5173"
	h := env.srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRecoverPanics(t *testing.T) {
	env := newTestEnv(t)
	// A nil synthesizer stub forced to panic via a generator that panics.
	env.gen.err = nil
	env.srv.generator = panicGenerator{}

	w := postJSON(t, env.srv.Handler(), "/api/chat", `{"message":"boom"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "kaboom") {
		t.Errorf("panic detail leaked to client: %s", w.Body.String())
	}
}

type panicGenerator struct{}

func (panicGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	panic("kaboom")
}
