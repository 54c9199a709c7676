package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/api"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/ledger"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	synthesizer synth.Synthesizer
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.cfg.Offline {
		scrubProxyEnv(r.logger)
	}

	tel, err := initTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	// Flush the providers on every exit path, including startup errors.
	defer func() {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFlush()
		if err := r.tracerClose(flushCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	history, err := ledger.Open(ctx, r.cfg.Ledger, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer history.Close()

	store, err := artifact.NewStore(r.cfg.Artifacts.Dir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to prepare artifact dir: %w", err)
	}

	// The synthesis capability is loaded once here and handed to the
	// handler; it lives for the whole process.
	r.synthesizer, err = buildSynthesizer(r.cfg.Synth, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start synthesizer: %w", err)
	}
	defer func() {
		if cerr := r.synthesizer.Close(); cerr != nil {
			r.logger.Warn("synthesizer shutdown error", slog.String("error", cerr.Error()))
		}
	}()

	catalog := voice.NewCatalog(r.cfg.Voices.Dir)
	if _, statErr := os.Stat(r.cfg.Voices.Dir); statErr != nil {
		r.logger.Warn("voices directory is not readable",
			slog.String("dir", r.cfg.Voices.Dir),
			slog.String("error", statErr.Error()))
	}

	handler := api.NewHandler(r.logger, r.synthesizer, catalog, store, history)
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("GET /readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if r.cfg.Artifacts.SweepEnabled {
		r.wg.Add(1)
		go r.runSweep(ctx, store)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synth_mode", r.cfg.Synth.Mode),
		slog.String("voices_dir", r.cfg.Voices.Dir),
		slog.String("artifacts_dir", r.cfg.Artifacts.Dir))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	return nil
}

func buildSynthesizer(cfg config.SynthConfig, logger *slog.Logger) (synth.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return synth.NewExecSynth(cfg, logger)
	default:
		return synth.NewMockSynth(cfg), nil
	}
}

func (r *Runtime) runSweep(ctx context.Context, store *artifact.Store) {
	defer r.wg.Done()

	interval := time.Duration(r.cfg.Artifacts.SweepIntervalMS) * time.Millisecond
	maxAge := time.Duration(r.cfg.Artifacts.MaxAgeMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(maxAge)
			if err != nil {
				r.logger.Warn("artifact sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				r.logger.Info("swept orphaned artifacts", slog.Int("removed", removed))
			}
		}
	}
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Connection", "close")
	if r.ready.Load() && r.synthesizer != nil && r.synthesizer.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// scrubProxyEnv keeps the daemon loopback-only even when proxy variables
// leak in from the environment.
func scrubProxyEnv(logger *slog.Logger) {
	for _, key := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy"} {
		if _, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			logger.Debug("cleared proxy variable", slog.String("key", key))
		}
	}
	for _, key := range []string{"NO_PROXY", "no_proxy"} {
		if _, ok := os.LookupEnv(key); !ok {
			os.Setenv(key, "127.0.0.1,localhost")
		}
	}
}
