// Package artifact owns generated audio files awaiting one-time retrieval.
package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotFound means no artifact exists for the requested id.
var ErrNotFound = errors.New("artifact not found")

// Store writes uuid-named WAV files under a fixed directory and removes
// them once delivered. Files that are never retrieved stay behind unless
// the optional sweep runs.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, log: log.With(slog.String("component", "artifact-store"))}, nil
}

func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".wav")
}

// Save encodes 16-bit little-endian PCM as a WAV file named <id>.wav.
func (s *Store) Save(id string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}

	file, err := os.Create(s.Path(id))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Read returns the raw bytes of an artifact. A missing file maps to
// ErrNotFound; any other failure is an IO error.
func (s *Store) Read(id string) ([]byte, error) {
	path := s.Path(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *Store) Remove(id string) error {
	if err := os.Remove(s.Path(id)); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Sweep deletes artifacts older than maxAge and reports how many were
// removed. Only runs when explicitly scheduled; orphaned files are
// otherwise left in place.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn("failed to sweep artifact",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}
