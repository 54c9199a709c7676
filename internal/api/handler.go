// Package api maps the synthesis adapter's HTTP surface onto the
// synthesizer, the voice catalog and the artifact store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/ledger"
	"github.com/loqalabs/loqa-tts/internal/sanitize"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

type Handler struct {
	log    *slog.Logger
	synth  synth.Synthesizer
	voices *voice.Catalog
	store  *artifact.Store
	ledger *ledger.Ledger

	// One synthesis in flight at a time; the generate+persist sequence
	// runs under this lock.
	mu sync.Mutex

	requests      metric.Int64Counter
	synthDuration metric.Float64Histogram
	pending       metric.Int64UpDownCounter
}

type createRequest struct {
	Voice string  `json:"voice"`
	Text  *string `json:"text"`
}

type createResponse struct {
	UUID string `json:"uuid"`
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

func NewHandler(log *slog.Logger, synthesizer synth.Synthesizer, voices *voice.Catalog, store *artifact.Store, history *ledger.Ledger) *Handler {
	h := &Handler{
		log:    log.With(slog.String("component", "api")),
		synth:  synthesizer,
		voices: voices,
		store:  store,
		ledger: history,
	}
	if err := h.initMetrics(); err != nil {
		h.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return h
}

func (h *Handler) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-tts/api")
	var err error
	h.requests, err = meter.Int64Counter("loqa.tts.requests",
		metric.WithDescription("HTTP requests by endpoint and outcome"))
	if err != nil {
		return err
	}
	h.synthDuration, err = meter.Float64Histogram("loqa.tts.synthesis.duration",
		metric.WithDescription("Synthesis duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	h.pending, err = meter.Int64UpDownCounter("loqa.tts.artifacts.pending",
		metric.WithDescription("Artifacts awaiting retrieval"))
	return err
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /{$}", h.handleCreate)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /voices", h.handleVoices)
	mux.HandleFunc("GET /{id}", h.handleRetrieve)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")

	if r.Header.Get("Content-Length") == "" {
		h.count(r.Context(), "create", "client_error")
		writeError(w, http.StatusLengthRequired, "Content-Length header required")
		return
	}

	var payload createRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.count(r.Context(), "create", "client_error")
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Voice == "" || payload.Text == nil {
		h.count(r.Context(), "create", "client_error")
		writeError(w, http.StatusBadRequest, "payload must include voice and text")
		return
	}

	voiceID, err := sanitize.VoiceID(payload.Voice)
	if err != nil {
		h.count(r.Context(), "create", "client_error")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := sanitize.Text(*payload.Text)
	if err != nil {
		h.count(r.Context(), "create", "client_error")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	promptPath, err := h.voices.PromptPath(voiceID)
	if err != nil {
		if errors.Is(err, voice.ErrPromptNotFound) {
			h.count(r.Context(), "create", "client_error")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("voice prompt lookup failed", slog.String("voice", voiceID), slogError(err))
		h.count(r.Context(), "create", "error")
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return
	}

	artifactID := uuid.NewString()

	h.mu.Lock()
	start := time.Now()
	result, err := h.synth.Synthesize(r.Context(), synth.Request{Text: text, PromptPath: promptPath})
	duration := time.Since(start)
	if err == nil {
		err = h.store.Save(artifactID, result.PCM, result.SampleRate, result.Channels)
	}
	h.mu.Unlock()

	if h.synthDuration != nil {
		h.synthDuration.Record(r.Context(), duration.Seconds(),
			metric.WithAttributes(attribute.String("voice", voiceID)))
	}

	if err != nil {
		// Detail stays server-side; the client gets a generic message.
		h.log.Error("synthesis failed", slog.String("voice", voiceID), slogError(err))
		if lerr := h.ledger.RecordFailure(r.Context(), voiceID, len(text), err.Error()); lerr != nil {
			h.log.Warn("failed to record synthesis failure", slogError(lerr))
		}
		h.count(r.Context(), "create", "error")
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return
	}

	if err := h.ledger.RecordCreated(r.Context(), artifactID, voiceID, len(text), duration); err != nil {
		h.log.Warn("failed to record synthesis request", slogError(err))
	}
	if h.pending != nil {
		h.pending.Add(r.Context(), 1)
	}
	h.count(r.Context(), "create", "ok")

	h.log.Info("artifact created",
		slog.String("artifact_id", artifactID),
		slog.String("voice", voiceID),
		slog.Duration("duration", duration),
		slog.Int("pcm_bytes", len(result.PCM)))

	writeJSON(w, http.StatusOK, createResponse{UUID: artifactID})
}

func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")

	artifactID, err := sanitize.ArtifactID(r.PathValue("id"))
	if err != nil {
		h.count(r.Context(), "retrieve", "client_error")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := h.store.Read(artifactID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			h.count(r.Context(), "retrieve", "not_found")
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		h.log.Error("failed to read artifact", slog.String("artifact_id", artifactID), slogError(err))
		h.count(r.Context(), "retrieve", "error")
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("failed to stream artifact", slog.String("artifact_id", artifactID), slogError(err))
	}

	// The artifact is single-use: remove after the one successful
	// delivery. A failed delete only orphans the file.
	if err := h.store.Remove(artifactID); err != nil {
		h.log.Warn("failed to delete artifact", slog.String("artifact_id", artifactID), slogError(err))
	} else if h.pending != nil {
		h.pending.Add(r.Context(), -1)
	}
	if err := h.ledger.MarkDelivered(r.Context(), artifactID); err != nil {
		h.log.Warn("failed to mark artifact delivered", slogError(err))
	}
	h.count(r.Context(), "retrieve", "ok")
}

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")

	voices, err := h.voices.List()
	if err != nil {
		h.log.Error("failed to list voices", slogError(err))
		h.count(r.Context(), "voices", "error")
		writeError(w, http.StatusInternalServerError, "failed to list voices")
		return
	}
	if voices == nil {
		voices = []string{}
	}
	h.count(r.Context(), "voices", "ok")
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) count(ctx context.Context, endpoint, status string) {
	if h.requests == nil {
		return
	}
	h.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status)))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reason + "\n"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
