package gateway

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"testing"

	"github.com/voxhaus/voxd/internal/backend"
)

// multipartUpload builds a multipart body with a single "file" field.
func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, handler http.Handler, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, field, "clip.wav", data)
	req := httptest.NewRequest(http.MethodPost, "/api/whisper", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// stagingDir redirects temp file creation to an inspectable directory.
func stagingDir(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("TMPDIR redirection is unix-only")
	}
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	return dir
}

func assertEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("staged temp files survived the handler: %v", names)
	}
}

func TestWhisper_Success(t *testing.T) {
	dir := stagingDir(t)
	env := newTestEnv(t)

	w := postUpload(t, env.srv.Handler(), "file", []byte("AUDIOBYTES"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"text":"hello world"}` {
		t.Errorf("body = %q, want verbatim backend JSON", w.Body.String())
	}

	assertEmpty(t, dir)
}

func TestWhisper_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	w := postUpload(t, env.srv.Handler(), "wrong_field", []byte("x"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.rec.calls != 0 {
		t.Errorf("backend called %d times, want 0", env.rec.calls)
	}
}

func TestWhisper_CleanupOnBackendFailure(t *testing.T) {
	dir := stagingDir(t)
	env := newTestEnv(t)
	env.rec.err = &backend.Error{Backend: backend.RoleRecognition, Status: 500, Body: "decode failed"}

	w := postUpload(t, env.srv.Handler(), "file", []byte("AUDIOBYTES"))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}

	// The failure path must clean up the staged file, same as success.
	assertEmpty(t, dir)
}

func TestWhisper_OversizeRejected(t *testing.T) {
	env := newTestEnv(t)

	big := make([]byte, MaxUploadBytes+1024)
	w := postUpload(t, env.srv.Handler(), "file", big)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.rec.calls != 0 {
		t.Errorf("oversize upload reached the backend (%d calls)", env.rec.calls)
	}
}
