// Package prompt renders generation prompts from a persona and the
// trailing conversation context.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/voxhaus/voxd/internal/memory"
)

// DefaultPersona is used when no persona file is configured or the
// configured file cannot be read.
const DefaultPersona = "You are a helpful local voice assistant. Answer briefly and speak plainly; your replies are read aloud."

// LoadPersona reads a plain-text persona description from path. An
// empty path or unreadable file falls back to DefaultPersona with a
// warning — the gateway must come up even if the persona is missing.
func LoadPersona(path string, logger *slog.Logger) string {
	if path == "" {
		return DefaultPersona
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("persona file unreadable, using default", "path", path, "error", err)
		return DefaultPersona
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		logger.Warn("persona file empty, using default", "path", path)
		return DefaultPersona
	}
	return persona
}

// Build renders the full generation prompt: persona, a blank line, one
// "{role}: {content}" line per context entry in chronological order, a
// blank line, the new user turn, and an assistant cue for the model to
// complete. Pure — identical inputs always yield identical output.
func Build(persona string, context []memory.Entry, message string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	for _, e := range context {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "user: %s\n", message)
	b.WriteString("assistant:")
	return b.String()
}
