package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-practice/internal/audio"
	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
	"github.com/loqalabs/loqa-practice/internal/transcript"
	"github.com/loqalabs/loqa-practice/internal/tts"
)

const instrumentationName = "github.com/loqalabs/loqa-practice/pipeline"

// State is a stage of one generation request.
type State string

const (
	StateRequested    State = "requested"
	StateGenerating   State = "generating"
	StateValidating   State = "validating"
	StateSynthesizing State = "synthesizing"
	StateAssembling   State = "assembling"
	StatePersisting   State = "persisting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Event describes one state transition.
type Event struct {
	RequestID  string
	Kind       content.Kind
	State      State
	PracticeID string
	Err        error
	At         time.Time

	// Practice is set on the completed transition only.
	Practice *practicestore.Practice
}

// Observer receives every transition of every request. It runs on the
// request goroutine and must not block.
type Observer func(Event)

// ContentGenerator produces raw model output for a practice kind.
type ContentGenerator interface {
	Generate(ctx context.Context, requestID string, kind content.Kind, transcript string) (string, error)
}

// SpeechSynthesizer renders conversation turns into clip files under dir.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, requestID, dir string, turns []content.Turn) (tts.Result, error)
}

// Store persists finished practices.
type Store interface {
	Allocate(kind content.Kind) practicestore.Allocation
	Save(ctx context.Context, p practicestore.Practice) error
	List(ctx context.Context) ([]practicestore.Summary, error)
	Get(ctx context.Context, id string) (practicestore.Practice, bool, error)
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Generator   ContentGenerator
	Synthesizer SpeechSynthesizer
	Assembler   audio.Assembler
	Store       Store
	Transcripts transcript.Fetcher
	Observer    Observer
}

// Options tune one Pipeline.
type Options struct {
	TempRoot         string
	OutputDir        string
	AudioURLPrefix   string
	TranscriptSource string
	Timeout          time.Duration
	MaxConcurrent    int
}

// OptionsFromConfig maps the runtime configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TempRoot:         cfg.Assembler.TempRoot,
		OutputDir:        cfg.Assembler.OutputDir,
		AudioURLPrefix:   "/static_audio",
		TranscriptSource: cfg.Transcript.Source,
		Timeout:          time.Duration(cfg.Pipeline.TimeoutMS) * time.Millisecond,
		MaxConcurrent:    cfg.Pipeline.MaxConcurrent,
	}
}

// Pipeline runs generation requests end to end.
type Pipeline struct {
	deps   Deps
	opts   Options
	sem    chan struct{}
	logger *slog.Logger
	clock  func() time.Time

	tracer   trace.Tracer
	requests metric.Int64Counter
	stageDur metric.Float64Histogram
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if deps.Generator == nil || deps.Store == nil {
		return nil, errors.New("pipeline requires a generator and a store")
	}
	if deps.Synthesizer == nil || deps.Assembler == nil {
		return nil, errors.New("pipeline requires a synthesizer and an assembler")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.AudioURLPrefix == "" {
		opts.AudioURLPrefix = "/static_audio"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "static_audio"
	}

	p := &Pipeline{
		deps:   deps,
		opts:   opts,
		sem:    make(chan struct{}, opts.MaxConcurrent),
		logger: logger.With(slog.String("component", "pipeline")),
		clock:  time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	if err := p.initMetrics(); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return p, nil
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("practice.requests",
		metric.WithDescription("Generation requests by type and outcome"))
	if err != nil {
		return err
	}
	stageDur, err := meter.Float64Histogram("practice.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	p.requests = requests
	p.stageDur = stageDur
	return nil
}

// run carries the per-request bookkeeping.
type run struct {
	id    string
	kind  content.Kind
	state State
}

// GeneratePractice generates, validates, voices (listening only) and stores
// one practice. Any failure aborts the request and removes its temp files
// before the error is returned.
func (p *Pipeline) GeneratePractice(ctx context.Context, kind content.Kind) (practicestore.Practice, error) {
	if _, err := content.ParseKind(string(kind)); err != nil {
		return practicestore.Practice{}, &Error{Kind: KindInvalidRequest, Err: err}
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return practicestore.Practice{}, &Error{Kind: KindCanceled, Err: ctx.Err()}
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	r := &run{id: uuid.NewString(), kind: kind}
	ctx, span := p.tracer.Start(ctx, "practice.generate", trace.WithAttributes(
		attribute.String("practice.type", string(kind)),
		attribute.String("practice.request_id", r.id),
	))
	defer span.End()

	p.transition(r, StateRequested, nil, nil)
	practice, err := p.execute(ctx, r)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.transition(r, StateFailed, nil, err)
		p.logger.Warn("practice generation failed",
			slog.String("request_id", r.id),
			slog.String("type", string(kind)),
			slog.String("error_kind", string(KindOf(err))),
			slogError(err))
	} else {
		span.SetAttributes(attribute.String("practice.id", practice.ID))
		p.transition(r, StateCompleted, &practice, nil)
		p.logger.Info("practice generated",
			slog.String("request_id", r.id),
			slog.String("id", practice.ID),
			slog.String("type", string(kind)))
	}
	if p.requests != nil {
		p.requests.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("type", string(kind)),
			attribute.String("outcome", outcome)))
	}
	return practice, err
}

func (p *Pipeline) execute(ctx context.Context, r *run) (practicestore.Practice, error) {
	var source string
	if r.kind == content.KindListening {
		err := p.stage(ctx, r, StateGenerating, "practice.transcript", func(ctx context.Context) error {
			text, err := p.fetchTranscript(ctx)
			source = text
			return err
		})
		if err != nil {
			return practicestore.Practice{}, &Error{Kind: KindTranscript, State: StateGenerating, Err: err}
		}
	}

	var raw string
	err := p.stage(ctx, r, StateGenerating, "practice.generate_content", func(ctx context.Context) error {
		var err error
		raw, err = p.deps.Generator.Generate(ctx, r.id, r.kind, source)
		return err
	})
	if err != nil {
		return practicestore.Practice{}, &Error{Kind: KindGeneration, State: StateGenerating, Err: err}
	}

	var generated content.Generated
	err = p.stage(ctx, r, StateValidating, "practice.validate", func(context.Context) error {
		var err error
		generated, err = content.Validate(raw, r.kind)
		return err
	})
	if err != nil {
		return practicestore.Practice{}, &Error{Kind: KindValidation, State: StateValidating, Err: err}
	}

	alloc := p.deps.Store.Allocate(r.kind)
	practice := practicestore.Practice{
		ID:        alloc.ID,
		Type:      r.kind,
		Title:     content.Title(generated),
		Timestamp: alloc.Timestamp.UTC().Format(practicestore.TimestampLayout),
		Content:   generated,
	}

	if r.kind == content.KindListening {
		audioPath, err := p.voice(ctx, r, alloc.ID, generated.Turns())
		if err != nil {
			return practicestore.Practice{}, err
		}
		practice.AudioPath = audioPath
	}

	err = p.stage(ctx, r, StatePersisting, "practice.persist", func(ctx context.Context) error {
		return p.deps.Store.Save(ctx, practice)
	})
	if err != nil {
		// assembled audio stays on disk; it is addressable by id and harmless
		return practicestore.Practice{}, &Error{Kind: KindStore, State: StatePersisting, Err: err}
	}
	return practice, nil
}

// voice synthesizes and assembles the conversation audio and returns its
// public path. The request workspace is always removed on return.
func (p *Pipeline) voice(ctx context.Context, r *run, practiceID string, turns []content.Turn) (string, error) {
	ws, err := audio.NewWorkspace(p.opts.TempRoot, r.id)
	if err != nil {
		return "", &Error{Kind: KindSynthesis, State: StateSynthesizing, Err: err}
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			p.logger.Warn("failed to remove request workspace", slog.String("request_id", r.id), slogError(err))
		}
	}()

	var result tts.Result
	err = p.stage(ctx, r, StateSynthesizing, "practice.synthesize", func(ctx context.Context) error {
		var err error
		result, err = p.deps.Synthesizer.Synthesize(ctx, r.id, ws.Dir, turns)
		if err != nil {
			return err
		}
		if len(result.Segments) == 0 {
			return fmt.Errorf("no turn had a voice; %d skipped", result.Skipped)
		}
		return nil
	})
	if err != nil {
		return "", &Error{Kind: KindSynthesis, State: StateSynthesizing, Err: err}
	}

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		_ = audio.RemoveSegments(result.Segments)
		return "", &Error{Kind: KindAssembly, State: StateAssembling, Err: fmt.Errorf("create output dir: %w", err)}
	}
	name := practiceID + "." + result.Format
	outPath := filepath.Join(p.opts.OutputDir, name)
	err = p.stage(ctx, r, StateAssembling, "practice.assemble", func(ctx context.Context) error {
		return p.deps.Assembler.Assemble(ctx, result.Segments, outPath)
	})
	if err != nil {
		_ = audio.RemoveSegments(result.Segments)
		return "", &Error{Kind: KindAssembly, State: StateAssembling, Err: err}
	}
	return path.Join(p.opts.AudioURLPrefix, name), nil
}

func (p *Pipeline) fetchTranscript(ctx context.Context) (string, error) {
	if p.deps.Transcripts == nil {
		return "", nil
	}
	return p.deps.Transcripts.Fetch(ctx, p.opts.TranscriptSource)
}

// stage moves r into state, runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, r *run, state State, spanName string, fn func(context.Context) error) error {
	if r.state != state {
		p.transition(r, state, nil, nil)
	}
	ctx, span := p.tracer.Start(ctx, spanName)
	defer span.End()

	start := p.clock()
	err := fn(ctx)
	if p.stageDur != nil {
		p.stageDur.Record(context.Background(), p.clock().Sub(start).Seconds(), metric.WithAttributes(
			attribute.String("type", string(r.kind)),
			attribute.String("stage", string(state))))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) transition(r *run, state State, practice *practicestore.Practice, err error) {
	r.state = state
	var practiceID string
	if practice != nil {
		practiceID = practice.ID
	}
	p.logger.Debug("practice state",
		slog.String("request_id", r.id),
		slog.String("type", string(r.kind)),
		slog.String("state", string(state)))
	if p.deps.Observer != nil {
		p.deps.Observer(Event{
			RequestID:  r.id,
			Kind:       r.kind,
			State:      state,
			PracticeID: practiceID,
			Practice:   practice,
			Err:        err,
			At:         p.clock().UTC(),
		})
	}
}

// ListPractices returns stored practice summaries, newest first.
func (p *Pipeline) ListPractices(ctx context.Context) ([]practicestore.Summary, error) {
	list, err := p.deps.Store.List(ctx)
	if err != nil {
		return nil, &Error{Kind: KindStore, Err: err}
	}
	return list, nil
}

// GetPractice returns the practice with id or a not_found error.
func (p *Pipeline) GetPractice(ctx context.Context, id string) (practicestore.Practice, error) {
	practice, ok, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		return practicestore.Practice{}, &Error{Kind: KindStore, Err: err}
	}
	if !ok {
		return practicestore.Practice{}, &Error{Kind: KindNotFound, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
	}
	return practice, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
