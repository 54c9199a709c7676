// Package voice resolves voice-prompt reference audio under a fixed
// directory. Prompts are provisioned out of band and never written here.
package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPromptNotFound means no prompt file exists for the requested voice.
var ErrPromptNotFound = errors.New("voice prompt not found")

type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// PromptPath returns the path of the reference audio for a sanitized voice
// id, or ErrPromptNotFound if the file is absent.
func (c *Catalog) PromptPath(voiceID string) (string, error) {
	path := filepath.Join(c.dir, voiceID+".wav")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrPromptNotFound, voiceID)
		}
		return "", fmt.Errorf("stat voice prompt: %w", err)
	}
	return path, nil
}

// List returns the available voice ids, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read voices dir: %w", err)
	}
	var voices []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		voices = append(voices, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(voices)
	return voices, nil
}
