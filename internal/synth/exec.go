package synth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-tts/internal/config"
)

// execSynth drives a long-lived external model worker over stdio. The
// worker loads its model once when spawned and then answers one JSON
// request line with one JSON response line.
type execSynth struct {
	cfg     config.SynthConfig
	log     *slog.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	mu      sync.Mutex
	healthy atomic.Bool
}

type workerRequest struct {
	Text         string  `json:"text"`
	PromptPath   string  `json:"prompt_path"`
	Language     string  `json:"language"`
	Temperature  float64 `json:"temperature"`
	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
}

type workerResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Error      string `json:"error,omitempty"`
}

// NewExecSynth spawns the configured worker command and keeps it running
// for the lifetime of the synthesizer. Worker stderr (model load noise,
// progress bars) is drained into the logger at debug level.
func NewExecSynth(cfg config.SynthConfig, log *slog.Logger) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("synth worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("synth worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("synth worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start synth worker: %w", err)
	}

	logger := log.With(slog.String("component", "synth-worker"))
	go drainStderr(stderr, logger)

	scanner := bufio.NewScanner(stdout)
	// Response lines carry base64 PCM for whole utterances.
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	s := &execSynth{
		cfg:     cfg,
		log:     logger,
		cmd:     cmd,
		stdin:   stdin,
		scanner: scanner,
	}
	s.healthy.Store(true)
	return s, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !e.healthy.Load() {
		return Result{}, fmt.Errorf("synth worker is not running")
	}

	payload := workerRequest{
		Text:         req.Text,
		PromptPath:   req.PromptPath,
		Language:     e.cfg.Language,
		Temperature:  e.cfg.Temperature,
		Exaggeration: e.cfg.Exaggeration,
		CFGWeight:    e.cfg.CFGWeight,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	data = append(data, '\n')

	if _, err := e.stdin.Write(data); err != nil {
		e.healthy.Store(false)
		return Result{}, fmt.Errorf("write to synth worker: %w", err)
	}

	// Models are noisy on stdout; skip blank lines until the response
	// arrives. Only pipe and scan failures mark the worker dead.
	var line []byte
	for {
		if !e.scanner.Scan() {
			e.healthy.Store(false)
			if err := e.scanner.Err(); err != nil {
				return Result{}, fmt.Errorf("read from synth worker: %w", err)
			}
			return Result{}, fmt.Errorf("synth worker closed its output")
		}
		line = bytes.TrimSpace(e.scanner.Bytes())
		if len(line) > 0 {
			break
		}
	}

	var resp workerResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		// One garbled line fails this request; the stream may still
		// be usable for the next one.
		return Result{}, fmt.Errorf("decode synth response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("synth worker: %s", resp.Error)
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode synth pcm: %w", err)
	}

	result := Result{
		PCM:        pcm,
		SampleRate: resp.SampleRate,
		Channels:   resp.Channels,
	}
	if result.SampleRate == 0 {
		result.SampleRate = e.cfg.SampleRate
	}
	if result.Channels == 0 {
		result.Channels = e.cfg.Channels
	}
	return result, nil
}

// Healthy reports liveness via the atomic alone; ProcessState is owned
// by Close's Wait and must not be read concurrently.
func (e *execSynth) Healthy() bool {
	return e.healthy.Load()
}

// Close asks the worker to exit by closing its stdin and waits for it.
func (e *execSynth) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.healthy.Store(false)
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		e.log.Warn("synth worker exited with error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func drainStderr(r io.Reader, log *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		log.Debug("worker stderr", slog.String("line", line))
	}
}
