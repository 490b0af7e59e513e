package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/loqalabs/voiceloop/internal/bus"
	"github.com/loqalabs/voiceloop/internal/completion"
	"github.com/loqalabs/voiceloop/internal/config"
	"github.com/loqalabs/voiceloop/internal/eventstore"
	"github.com/loqalabs/voiceloop/internal/httpretry"
	"github.com/loqalabs/voiceloop/internal/natsserver"
	"github.com/loqalabs/voiceloop/internal/stt"
	"github.com/loqalabs/voiceloop/internal/tts"
	"github.com/loqalabs/voiceloop/internal/voice"
	"github.com/spf13/afero"
)

const pruneInterval = time.Hour

// SourceOpener opens the capture device.
type SourceOpener func(cfg config.AudioConfig, logger *slog.Logger) (audio.Source, error)

func openPortAudio(cfg config.AudioConfig, logger *slog.Logger) (audio.Source, error) {
	return audio.OpenPortAudio(cfg, logger)
}

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	openSource SourceOpener
	fs         afero.Fs
	httpServer *http.Server
	embedded   *natsserver.EmbeddedServer
	bus        atomic.Pointer[bus.Client]
	store      *eventstore.Store
	loop       atomic.Pointer[voice.Loop]
	wg         sync.WaitGroup
}

type Option func(*Runtime)

func WithSourceOpener(open SourceOpener) Option {
	return func(r *Runtime) { r.openSource = open }
}

func WithFs(fs afero.Fs) Option {
	return func(r *Runtime) { r.fs = fs }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:        cfg,
		logger:     logger,
		openSource: openPortAudio,
		fs:         afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start wires the loop and its supporting services, then blocks until the
// loop terminates. A nil return means the termination phrase was heard or
// ctx ended.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.HTTP.Enabled {
		r.startHTTP(tel.metrics)
		defer r.wg.Wait()
		defer r.stopHTTP()
	}

	r.connectBus(ctx)
	defer r.closeBus()

	r.openStore(ctx)
	defer r.store.Close()

	loop, err := r.buildLoop(ctx)
	if err != nil {
		return err
	}
	r.loop.Store(loop)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.logger.Info("runtime started", slog.String("run_id", loop.RunID()))
	runErr := loop.Run(ctx)
	cancel()
	r.stopHTTP()
	r.wg.Wait()
	r.logger.Info("runtime stopping")
	return runErr
}

func (r *Runtime) buildLoop(ctx context.Context) (*voice.Loop, error) {
	runID := uuid.NewString()
	if err := r.store.AppendRun(ctx, runID, r.cfg.Completion.Model); err != nil {
		r.logger.Warn("journal run failed", slog.String("error", err.Error()))
	}

	speaker, err := tts.New(r.cfg.TTS, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init tts: %w", err)
	}
	orchestrator, err := completion.New(
		completion.SettingsFromConfig(r.cfg.Completion, r.cfg.Personas),
		httpretry.New(r.logger),
		speaker,
		r.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init completion: %w", err)
	}

	recognizer, err := stt.New(ctx, r.cfg.STT, r.cfg.Audio, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init stt: %w", err)
	}
	source, err := r.openSource(r.cfg.Audio, r.logger)
	if err != nil {
		_ = recognizer.Close()
		return nil, fmt.Errorf("open capture: %w", err)
	}

	opts := []voice.Option{voice.WithRunID(runID), voice.WithJournal(r.store)}
	if client := r.bus.Load(); client != nil {
		opts = append(opts, voice.WithPublisher(client))
	}
	if dir := r.cfg.Audio.DumpDir; dir != "" {
		window := time.Duration(r.cfg.STT.MaxUtteranceMS) * time.Millisecond
		rec, err := audio.NewRecorder(r.fs, dir, r.cfg.Audio.SampleRate, window, r.logger)
		if err != nil {
			r.logger.Warn("utterance dumps disabled", slog.String("error", err.Error()))
		} else {
			opts = append(opts, voice.WithRecorder(rec))
		}
	}

	loop, err := voice.New(source, recognizer, orchestrator, r.logger, opts...)
	if err != nil {
		_ = recognizer.Close()
		_ = source.Close()
		return nil, err
	}
	return loop, nil
}

func (r *Runtime) connectBus(ctx context.Context) {
	if !r.cfg.Bus.Enabled {
		return
	}
	cfg := r.cfg.Bus
	embedded, err := natsserver.Start(cfg, r.logger)
	if err != nil {
		r.logger.Warn("embedded bus unavailable", slog.String("error", err.Error()))
	} else if embedded != nil {
		r.embedded = embedded
		cfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, cfg, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable, events will not be published", slog.String("error", err.Error()))
		return
	}
	r.bus.Store(client)
}

func (r *Runtime) closeBus() {
	if client := r.bus.Load(); client != nil {
		client.Close()
	}
	r.embedded.Shutdown()
}

func (r *Runtime) openStore(ctx context.Context) {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err == nil {
		r.store = store
		return
	}
	r.logger.Warn("event store unavailable, turns will not be journaled", slog.String("error", err.Error()))
	fallback := r.cfg.EventStore
	fallback.RetentionMode = "ephemeral"
	r.store, _ = eventstore.Open(ctx, fallback, r.logger)
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) startHTTP(metrics http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux.Handle(r.cfg.Telemetry.PrometheusBind, metrics)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.httpServer = srv
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server listening", slog.String("addr", addr))
}

func (r *Runtime) stopHTTP() {
	if r.httpServer == nil {
		return
	}
	defer func() { r.httpServer = nil }()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
}

// handleHealth reports liveness. The bus is optional, so its state is shown
// but never fails the check.
func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok\nbus: %s\n", r.busStatus())
}

func (r *Runtime) busStatus() string {
	switch {
	case !r.cfg.Bus.Enabled:
		return "disabled"
	case r.bus.Load().Healthy():
		return "connected"
	default:
		return "disconnected"
	}
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if loop := r.loop.Load(); loop != nil && loop.State().Active() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(loop.State().String()))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
