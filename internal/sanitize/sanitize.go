// Package sanitize validates untrusted path-influencing request input
// before it reaches the filesystem.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidInput marks a malformed voice or artifact identifier.
var ErrInvalidInput = errors.New("invalid input")

// ErrEmptyInput marks text that normalizes to nothing speakable.
var ErrEmptyInput = errors.New("empty input")

var (
	voiceIDPattern    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	artifactIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// VoiceID strips a trailing ".wav" suffix (case-insensitive) and requires
// the remainder to be strictly alphanumeric, so a voice id can never escape
// the voice-prompt directory.
func VoiceID(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("voice parameter is required: %w", ErrInvalidInput)
	}
	id := raw
	if len(id) >= 4 && strings.EqualFold(id[len(id)-4:], ".wav") {
		id = id[:len(id)-4]
	}
	if !voiceIDPattern.MatchString(id) {
		return "", fmt.Errorf("voice must contain only letters and digits: %w", ErrInvalidInput)
	}
	return id, nil
}

// ArtifactID strips a trailing ".wav" suffix, lower-cases the remainder and
// requires the canonical 8-4-4-4-12 UUID form.
func ArtifactID(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("artifact id is required: %w", ErrInvalidInput)
	}
	id := raw
	if len(id) >= 4 && strings.EqualFold(id[len(id)-4:], ".wav") {
		id = id[:len(id)-4]
	}
	id = strings.ToLower(id)
	if !artifactIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid artifact id format: %w", ErrInvalidInput)
	}
	return id, nil
}

// Text applies Unicode compatibility decomposition and rejects input that
// trims to nothing afterwards. The normalized form is what gets synthesized.
func Text(raw string) (string, error) {
	normalized := norm.NFKD.String(raw)
	if strings.TrimSpace(normalized) == "" {
		return "", fmt.Errorf("text is empty after normalization: %w", ErrEmptyInput)
	}
	return normalized, nil
}
