package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	Offline     bool            `yaml:"offline"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Voices      VoicesConfig    `yaml:"voices"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
	Synth       SynthConfig     `yaml:"synth"`
	Ledger      LedgerConfig    `yaml:"ledger"`
}

type VoicesConfig struct {
	Dir string `yaml:"dir"`
}

type ArtifactsConfig struct {
	Dir             string `yaml:"dir"`
	SweepEnabled    bool   `yaml:"sweep_enabled"`
	SweepIntervalMS int    `yaml:"sweep_interval_ms"`
	MaxAgeMS        int    `yaml:"max_age_ms"`
}

type SynthConfig struct {
	Mode         string  `yaml:"mode"` // mock, exec
	Command      string  `yaml:"command"`
	Language     string  `yaml:"language"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
	Temperature  float64 `yaml:"temperature"`
	Exaggeration float64 `yaml:"exaggeration"`
	CFGWeight    float64 `yaml:"cfg_weight"`
}

type LedgerConfig struct {
	Mode          string `yaml:"mode"` // ephemeral, persistent
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		Offline:     true,
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Voices: VoicesConfig{
			Dir: "./voices",
		},
		Artifacts: ArtifactsConfig{
			Dir:             filepath.Join(os.TempDir(), "loqa-tts"),
			SweepEnabled:    false,
			SweepIntervalMS: 60000,
			MaxAgeMS:        600000,
		},
		Synth: SynthConfig{
			Mode:         "mock",
			Language:     "sv",
			SampleRate:   22050,
			Channels:     1,
			Temperature:  0.1,
			Exaggeration: 0.1,
			CFGWeight:    0.1,
		},
		Ledger: LedgerConfig{
			Mode:          "ephemeral",
			Path:          "./data/loqa-tts.db",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_TTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_TTS_ENVIRONMENT")
	overrideBool(&cfg.Offline, "LOQA_TTS_OFFLINE")
	overrideString(&cfg.HTTP.Bind, "LOQA_TTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_TTS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TTS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TTS_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Voices.Dir, "LOQA_TTS_VOICES_DIR")
	overrideString(&cfg.Artifacts.Dir, "LOQA_TTS_ARTIFACTS_DIR")
	overrideBool(&cfg.Artifacts.SweepEnabled, "LOQA_TTS_ARTIFACTS_SWEEP_ENABLED")
	overrideInt(&cfg.Artifacts.SweepIntervalMS, "LOQA_TTS_ARTIFACTS_SWEEP_INTERVAL_MS")
	overrideInt(&cfg.Artifacts.MaxAgeMS, "LOQA_TTS_ARTIFACTS_MAX_AGE_MS")
	overrideString(&cfg.Synth.Mode, "LOQA_TTS_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "LOQA_TTS_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Language, "LOQA_TTS_SYNTH_LANGUAGE")
	overrideInt(&cfg.Synth.SampleRate, "LOQA_TTS_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "LOQA_TTS_SYNTH_CHANNELS")
	overrideFloat(&cfg.Synth.Temperature, "LOQA_TTS_SYNTH_TEMPERATURE")
	overrideFloat(&cfg.Synth.Exaggeration, "LOQA_TTS_SYNTH_EXAGGERATION")
	overrideFloat(&cfg.Synth.CFGWeight, "LOQA_TTS_SYNTH_CFG_WEIGHT")
	overrideString(&cfg.Ledger.Mode, "LOQA_TTS_LEDGER_MODE")
	overrideString(&cfg.Ledger.Path, "LOQA_TTS_LEDGER_PATH")
	overrideInt(&cfg.Ledger.RetentionDays, "LOQA_TTS_LEDGER_RETENTION_DAYS")
	overrideInt(&cfg.Ledger.MaxRequests, "LOQA_TTS_LEDGER_MAX_REQUESTS")
	overrideBool(&cfg.Ledger.VacuumOnStart, "LOQA_TTS_LEDGER_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Voices.Dir == "" {
		return errors.New("voices.dir must not be empty")
	}
	if cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir must not be empty")
	}
	if cfg.Artifacts.SweepEnabled {
		if cfg.Artifacts.SweepIntervalMS <= 0 {
			return errors.New("artifacts.sweep_interval_ms must be positive when sweep is enabled")
		}
		if cfg.Artifacts.MaxAgeMS <= 0 {
			return errors.New("artifacts.max_age_ms must be positive when sweep is enabled")
		}
	}
	switch cfg.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("synth.mode must be one of mock|exec")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.Language == "" {
		return errors.New("synth.language must not be empty")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	if cfg.Synth.Temperature < 0 || cfg.Synth.Exaggeration < 0 || cfg.Synth.CFGWeight < 0 {
		return errors.New("synth generation parameters must not be negative")
	}
	switch cfg.Ledger.Mode {
	case "ephemeral", "persistent":
	default:
		return errors.New("ledger.mode must be one of ephemeral|persistent")
	}
	if cfg.Ledger.Mode == "persistent" && cfg.Ledger.Path == "" {
		return errors.New("ledger.path must not be empty when mode=persistent")
	}
	if cfg.Ledger.RetentionDays < 0 {
		return errors.New("ledger.retention_days must be >= 0")
	}
	if cfg.Ledger.MaxRequests < 0 {
		return errors.New("ledger.max_requests must be >= 0")
	}
	return nil
}
