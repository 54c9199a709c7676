package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/ledger"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	voicesDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(voicesDir, "Anna.wav"), []byte("riff"), 0o644); err != nil {
		t.Fatalf("write voice prompt: %v", err)
	}

	store, err := artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"), logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	history, err := ledger.Open(context.Background(), config.LedgerConfig{Mode: "ephemeral"}, logger)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	synthesizer := synth.NewMockSynth(config.SynthConfig{SampleRate: 22050, Channels: 1})
	handler := NewHandler(logger, synthesizer, voice.NewCatalog(voicesDir), store, history)

	mux := http.NewServeMux()
	handler.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestCreateRetrieveRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/", `{"voice":"Anna","text":"Hej"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var created struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !uuidPattern.MatchString(created.UUID) {
		t.Fatalf("expected canonical uuid, got %q", created.UUID)
	}

	get, err := http.Get(ts.URL + "/" + created.UUID + ".wav")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.StatusCode)
	}
	if ct := get.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", ct)
	}
	audio, err := io.ReadAll(get.Body)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if !bytes.HasPrefix(audio, []byte("RIFF")) {
		t.Fatalf("expected wav payload, got %d bytes", len(audio))
	}
	if cl := get.Header.Get("Content-Length"); cl == "" {
		t.Fatal("expected exact Content-Length")
	}

	// Artifacts are single-use; the file is gone after delivery.
	again, err := http.Get(ts.URL + "/" + created.UUID + ".wav")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second retrieval, got %d", again.StatusCode)
	}
}

func TestRetrieveUnknownArtifact(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/00000000-0000-0000-0000-000000000000.wav")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRetrieveMalformedID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/not-a-uuid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRejectsUnknownVoice(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/", `{"voice":"Nonexistent999","text":"Hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRejectsInvalidVoice(t *testing.T) {
	ts := newTestServer(t)

	for _, voiceID := range []string{"../etc", "a b"} {
		payload, _ := json.Marshal(map[string]string{"voice": voiceID, "text": "Hi"})
		resp := postJSON(t, ts.URL+"/", string(payload))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("voice %q: expected 400, got %d", voiceID, resp.StatusCode)
		}
	}
}

func TestCreateRejectsEmptyText(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/", `{"voice":"Anna","text":"   "}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/", `{"voice":`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/", `{"voice":"Anna"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRequiresContentLength(t *testing.T) {
	ts := newTestServer(t)

	// Wrapping the reader hides its length, forcing a chunked request
	// with no Content-Length header.
	body := struct{ io.Reader }{strings.NewReader(`{"voice":"Anna","text":"Hej"}`)}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusLengthRequired {
		t.Fatalf("expected 411, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestVoicesListing(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/voices")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listing struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Voices) != 1 || listing.Voices[0] != "Anna" {
		t.Fatalf("unexpected voices: %v", listing.Voices)
	}
}
