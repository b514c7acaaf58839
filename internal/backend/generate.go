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

// Generator calls the text-generation backend.
type Generator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewGenerator creates a generation client for the given base URL and
// model name. A nil client falls back to the shared httpkit client.
func NewGenerator(baseURL, model string, client *http.Client) *Generator {
	if client == nil {
		client = httpkit.NewClient()
	}
	return &Generator{baseURL: baseURL, model: model, client: client}
}

// generateRequest is the wire format of the generation backend.
type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// Generate sends the prompt and returns the backend's raw text reply.
// Any failure is reported as *Error.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:     g.model,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", transportError(RoleGeneration, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(RoleGeneration, resp)
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(RoleGeneration, err)
	}
	return string(body), nil
}
