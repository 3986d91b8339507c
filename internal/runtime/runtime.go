package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-practice/internal/audio"
	"github.com/loqalabs/loqa-practice/internal/bus"
	"github.com/loqalabs/loqa-practice/internal/capability"
	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/dispatch"
	"github.com/loqalabs/loqa-practice/internal/llm"
	"github.com/loqalabs/loqa-practice/internal/natsserver"
	"github.com/loqalabs/loqa-practice/internal/pipeline"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
	"github.com/loqalabs/loqa-practice/internal/retry"
	"github.com/loqalabs/loqa-practice/internal/transcript"
	"github.com/loqalabs/loqa-practice/internal/tts"
)

const capabilityInterval = 15 * time.Second

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger
	ready   atomic.Bool
	wg      sync.WaitGroup

	telemetry  *telemetry
	httpServer *http.Server
	metricsSrv *http.Server
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *practicestore.Store
	caps       *capability.Registry
	pipeline   *pipeline.Pipeline
	dispatch   *dispatch.Service
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start builds every component, serves until ctx is cancelled and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.build(ctx); err != nil {
		r.shutdown()
		return err
	}

	metrics := r.telemetry.metrics
	if r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		r.metricsSrv = &http.Server{Addr: r.cfg.Telemetry.PrometheusBind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsSrv, "metrics")
		metrics = nil
	}

	handler := (&api{
		practices: r.pipeline,
		caps:      r.caps,
		staticDir: r.cfg.Assembler.OutputDir,
		origins:   r.cfg.HTTP.AllowedOrigins,
		ready:     r.ready.Load,
		logger:    r.logger.With(slog.String("component", "http")),
	}).routes(metrics)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port))
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.caps.Run(ctx, capabilityInterval)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg
	policy := retry.FromConfig(cfg.Retry)

	store, err := practicestore.Open(ctx, cfg.Store, r.logger)
	if err != nil {
		return err
	}
	r.store = store

	backend, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm backend: %w", err)
	}
	generator := llm.NewContentGenerator(backend, llm.ContentOptions{
		Prompts:     llm.Prompts{TargetLanguage: cfg.Pipeline.TargetLanguage, ExamLevel: cfg.Pipeline.ExamLevel},
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Retry:       policy,
	}, r.logger)

	synthBackend, err := tts.NewFromConfig(ctx, cfg.TTS)
	if err != nil {
		return fmt.Errorf("tts backend: %w", err)
	}
	speech := tts.NewSpeechSynthesizer(synthBackend, tts.VoicesFromConfig(cfg.TTS.Voices), policy, r.logger)

	assembler, err := audio.NewFFmpegAssembler(cfg.Assembler, r.logger)
	if err != nil {
		return fmt.Errorf("audio assembler: %w", err)
	}

	fetcher, err := transcript.NewFromConfig(cfg.Transcript)
	if err != nil {
		return fmt.Errorf("transcript fetcher: %w", err)
	}

	if err := r.connectBus(ctx); err != nil {
		return err
	}

	r.caps = capability.NewRegistry(r.logger)
	r.caps.Register("generate", cfg.LLM.Mode, nil)
	r.caps.Register("synthesize", cfg.TTS.Mode, nil)
	r.caps.Register("concat", "ffmpeg", func(context.Context) error { return assembler.Ready() })
	r.caps.Register("persistence", cfg.Store.Backend, store.Ping)
	r.caps.Register("transcript", cfg.Transcript.Mode, nil)
	if r.bus != nil {
		r.caps.Register("bus", "nats", func(context.Context) error {
			if !r.bus.Healthy() {
				return errors.New("nats connection is not established")
			}
			return nil
		})
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Generator:   generator,
		Synthesizer: speech,
		Assembler:   assembler,
		Store:       store,
		Transcripts: fetcher,
		Observer:    r.observe,
	}, pipeline.OptionsFromConfig(cfg), r.logger)
	if err != nil {
		return err
	}
	r.pipeline = pipe

	if r.bus != nil {
		timeout := time.Duration(cfg.Pipeline.TimeoutMS) * time.Millisecond
		svc := dispatch.NewService(ctx, cfg.Bus, r.bus, pipe, timeout, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start dispatch: %w", err)
		}
		r.dispatch = svc
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil && len(busCfg.Servers) == 0 {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// observe fans pipeline transitions out to the bus.
func (r *Runtime) observe(ev pipeline.Event) {
	if r.dispatch != nil {
		r.dispatch.Observe(ev)
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.dispatch != nil {
		r.dispatch.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
