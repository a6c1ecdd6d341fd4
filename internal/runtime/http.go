package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/loqalabs/loqa-speak/internal/eventstore"
	"github.com/loqalabs/loqa-speak/internal/tts"
)

// StatusClientClosedRequest is returned when a synthesis was aborted.
const StatusClientClosedRequest = 499

const maxSpeechBody = 64 << 10

type speechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Rate   string `json:"rate"`
	Pitch  string `json:"pitch"`
	Volume string `json:"volume"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}
	mux.HandleFunc("GET /v1/voices", r.handleVoices)
	mux.HandleFunc("POST /v1/speech", r.handleSpeech)
	return mux
}

func (r *Runtime) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": tts.Catalog()})
}

func (r *Runtime) handleSpeech(w http.ResponseWriter, req *http.Request) {
	if r.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "tts disabled")
		return
	}
	var body speechRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSpeechBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.Voice != "" && !tts.KnownVoice(body.Voice) {
		writeError(w, http.StatusBadRequest, "unknown voice "+body.Voice)
		return
	}

	id := uuid.NewString()
	var listener tts.Listener
	if r.store.Enabled() {
		listener = r.store.Journal(eventstore.Synthesis{
			ID:         id,
			Voice:      body.Voice,
			Engine:     r.cfg.TTS.Mode,
			TextLength: len(body.Text),
		})
	}

	started := time.Now()
	artifact, err := r.engine.Speak(req.Context(), body.Text, tts.SpeakOptions{
		Voice:    body.Voice,
		Rate:     body.Rate,
		Pitch:    body.Pitch,
		Volume:   body.Volume,
		Listener: listener,
	})
	if err != nil {
		status := statusFor(err)
		r.logger.Warn("speech request failed",
			slog.String("synthesis_id", id),
			slog.String("error_kind", tts.ErrorKind(err)),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		if status >= http.StatusInternalServerError {
			captureError(req, err, id)
		}
		writeError(w, status, err.Error())
		return
	}

	r.logger.Info("speech request served",
		slog.String("synthesis_id", id),
		slog.Int("bytes", artifact.Size()),
		slog.Duration("elapsed", time.Since(started)))
	w.Header().Set("Content-Type", artifact.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(artifact.Size()))
	w.Header().Set("X-Synthesis-Id", id)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Bytes)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tts.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, tts.ErrTransport), errors.Is(err, tts.ErrNoAudioReceived):
		return http.StatusBadGateway
	case errors.Is(err, tts.ErrAborted):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func captureError(req *http.Request, err error, synthesisID string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("error_kind", tts.ErrorKind(err))
		scope.SetExtra("synthesis_id", synthesisID)
		sentry.CaptureException(err)
	})
}
