package synth

import "context"

// Request contains parameters for one synthesis call.
type Request struct {
	Text       string
	PromptPath string
}

// Result is the generated audio buffer.
type Result struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Synthesizer is the contract for producing audio from text. Calls are
// synchronous; implementations serialize so only one synthesis is in
// flight at a time.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
	Healthy() bool
	Close() error
}
