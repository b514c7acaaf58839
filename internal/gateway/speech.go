package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/voxhaus/voxd/internal/events"
)

// MaxUploadBytes bounds recognition uploads. Anything larger is
// rejected before the backend is contacted.
const MaxUploadBytes = 20 << 20 // 20 MiB

// TTSRequest is the /api/tts request body.
type TTSRequest struct {
	Text string `json:"text"`
}

// handleTTS forwards text to the synthesis backend and streams the
// audio straight back to the client. The body is never buffered in
// full; this is a pass-through, not a transformation.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errTypeValidation, "invalid request body", nil)
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.errorResponse(w, http.StatusBadRequest, errTypeValidation, "text is required", nil)
		return
	}

	audio, contentType, err := s.synthesizer.Synthesize(r.Context(), text)
	if err != nil {
		s.backendError(w, err)
		return
	}
	defer audio.Close()

	s.bus.Publish(events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindSynthesis,
		Data:   map[string]any{"text_len": len(text)},
	})

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, audio); err != nil {
		// Headers are gone; all we can do is note the broken stream.
		s.log.Debug("audio stream interrupted", "error", err)
	}
}

// handleWhisper accepts one uploaded audio file, stages it to a
// request-scoped temp file, and forwards it to the recognition
// backend. The temp file is removed on every exit path.
func (s *Server) handleWhisper(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		// Covers both a missing field and an oversize body, either of
		// which is the client's fault and detected before any backend
		// traffic.
		s.errorResponse(w, http.StatusBadRequest, errTypeValidation, "file upload is required (max 20 MiB)", nil)
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "voxd-upload-*")
	if err != nil {
		s.log.Error("failed to stage upload", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, errTypeInternal, "internal error", nil)
		return
	}
	// The staged file must not survive this handler on any exit path.
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, file)
	if err != nil {
		s.log.Error("failed to stage upload", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, errTypeInternal, "internal error", nil)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		s.log.Error("failed to rewind staged upload", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, errTypeInternal, "internal error", nil)
		return
	}

	result, err := s.recognizer.Recognize(r.Context(), tmp, header.Filename)
	if err != nil {
		s.backendError(w, err)
		return
	}

	s.bus.Publish(events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindRecognition,
		Data:   map[string]any{"upload_bytes": size},
	})

	// Relay the backend's transcription verbatim.
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(result); err != nil {
		s.log.Debug("failed to write transcription", "error", err)
	}
}
