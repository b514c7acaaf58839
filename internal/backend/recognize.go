package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/voxhaus/voxd/internal/httpkit"
)

// Recognizer calls the speech-recognition backend.
type Recognizer struct {
	baseURL string
	client  *http.Client
}

// NewRecognizer creates a recognition client. A nil client falls back
// to the shared httpkit client.
func NewRecognizer(baseURL string, client *http.Client) *Recognizer {
	if client == nil {
		client = httpkit.NewClient()
	}
	return &Recognizer{baseURL: baseURL, client: client}
}

// Recognize forwards audio as a multipart "file" field and returns the
// backend's transcription JSON verbatim.
func (r *Recognizer) Recognize(ctx context.Context, audio io.Reader, filename string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/whisper", &buf)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, transportError(RoleRecognition, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(RoleRecognition, resp)
	}

	defer resp.Body.Close()
	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(RoleRecognition, err)
	}
	return result, nil
}
