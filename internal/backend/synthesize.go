package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxhaus/voxd/internal/httpkit"
)

// Synthesizer calls the speech-synthesis backend.
type Synthesizer struct {
	baseURL string
	client  *http.Client
}

// NewSynthesizer creates a synthesis client. A nil client falls back
// to a shared httpkit client with no overall timeout, since audio
// bodies are streamed and may outlive any fixed deadline.
func NewSynthesizer(baseURL string, client *http.Client) *Synthesizer {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	return &Synthesizer{baseURL: baseURL, client: client}
}

// Synthesize sends text and returns the backend's audio stream and
// content type. The caller owns the ReadCloser and must close it; the
// body is not buffered here so large clips pass straight through.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, "", fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", transportError(RoleSynthesis, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", statusError(RoleSynthesis, resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	return resp.Body, contentType, nil
}
