package synth

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/config"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that emits silence sized to the input
// text, for development and tests.
func NewMockSynth(cfg config.SynthConfig) Synthesizer {
	return &mockSynth{sampleRate: cfg.SampleRate, channels: cfg.Channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// 60ms of audio per rune, 200ms floor. 16-bit samples.
	runes := len([]rune(req.Text))
	durationMS := 60 * runes
	if durationMS < 200 {
		durationMS = 200
	}
	samples := m.sampleRate * m.channels * durationMS / 1000
	return Result{
		PCM:        make([]byte, samples*2),
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}, nil
}

func (m *mockSynth) Healthy() bool { return true }

func (m *mockSynth) Close() error { return nil }
