package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "127.0.0.1" || cfg.HTTP.Port != 8080 {
		t.Fatalf("unexpected default http config: %+v", cfg.HTTP)
	}
	if cfg.Synth.Mode != "mock" {
		t.Fatalf("expected default synth mode mock, got %q", cfg.Synth.Mode)
	}
	if cfg.Synth.Temperature != 0.1 || cfg.Synth.Exaggeration != 0.1 || cfg.Synth.CFGWeight != 0.1 {
		t.Fatalf("unexpected default generation parameters: %+v", cfg.Synth)
	}
	if cfg.Ledger.Mode != "ephemeral" {
		t.Fatalf("expected default ledger mode ephemeral, got %q", cfg.Ledger.Mode)
	}
	if !cfg.Offline {
		t.Fatal("expected offline default true")
	}
}

func TestLoadFile(t *testing.T) {
	content := `
http:
  bind: 0.0.0.0
  port: 9000
voices:
  dir: /srv/voices
synth:
  mode: exec
  command: "python3 worker.py"
  language: en
ledger:
  mode: persistent
  path: /var/lib/loqa-tts/ledger.db
`
	path := filepath.Join(t.TempDir(), "loqa-tts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "0.0.0.0" || cfg.HTTP.Port != 9000 {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.Voices.Dir != "/srv/voices" {
		t.Fatalf("unexpected voices dir: %q", cfg.Voices.Dir)
	}
	if cfg.Synth.Mode != "exec" || cfg.Synth.Command != "python3 worker.py" {
		t.Fatalf("unexpected synth config: %+v", cfg.Synth)
	}
	if cfg.Synth.Language != "en" {
		t.Fatalf("expected language override, got %q", cfg.Synth.Language)
	}
	if cfg.Ledger.Mode != "persistent" {
		t.Fatalf("expected persistent ledger, got %q", cfg.Ledger.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TTS_HTTP_BIND", "0.0.0.0")
	t.Setenv("LOQA_TTS_HTTP_PORT", "8181")
	t.Setenv("LOQA_TTS_VOICES_DIR", "./prompts")
	t.Setenv("LOQA_TTS_SYNTH_MODE", "exec")
	t.Setenv("LOQA_TTS_SYNTH_COMMAND", "tts-worker --stdin")
	t.Setenv("LOQA_TTS_SYNTH_TEMPERATURE", "0.2")
	t.Setenv("LOQA_TTS_ARTIFACTS_SWEEP_ENABLED", "true")
	t.Setenv("LOQA_TTS_LEDGER_MODE", "persistent")
	t.Setenv("LOQA_TTS_LEDGER_PATH", "./tmp.db")
	t.Setenv("LOQA_TTS_LEDGER_RETENTION_DAYS", "7")
	t.Setenv("LOQA_TTS_OFFLINE", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "0.0.0.0" || cfg.HTTP.Port != 8181 {
		t.Fatalf("expected http overrides, got %+v", cfg.HTTP)
	}
	if cfg.Voices.Dir != "./prompts" {
		t.Fatalf("expected voices dir override, got %q", cfg.Voices.Dir)
	}
	if cfg.Synth.Mode != "exec" || cfg.Synth.Command != "tts-worker --stdin" {
		t.Fatalf("expected synth overrides, got %+v", cfg.Synth)
	}
	if cfg.Synth.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.Synth.Temperature)
	}
	if !cfg.Artifacts.SweepEnabled {
		t.Fatal("expected sweep enabled override")
	}
	if cfg.Ledger.Mode != "persistent" || cfg.Ledger.Path != "./tmp.db" {
		t.Fatalf("expected ledger overrides, got %+v", cfg.Ledger)
	}
	if cfg.Ledger.RetentionDays != 7 {
		t.Fatalf("expected retention days override, got %d", cfg.Ledger.RetentionDays)
	}
	if cfg.Offline {
		t.Fatal("expected offline override false")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"LOQA_TTS_HTTP_PORT": "70000"}},
		{"bad synth mode", map[string]string{"LOQA_TTS_SYNTH_MODE": "cloud"}},
		{"exec without command", map[string]string{"LOQA_TTS_SYNTH_MODE": "exec"}},
		{"bad ledger mode", map[string]string{"LOQA_TTS_LEDGER_MODE": "remote"}},
		{"bad sample rate", map[string]string{"LOQA_TTS_SYNTH_SAMPLE_RATE": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
