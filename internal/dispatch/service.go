package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-practice/internal/bus"
	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/pipeline"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
	"github.com/loqalabs/loqa-practice/internal/protocol"
)

// Practices is the pipeline surface exposed on the bus.
type Practices interface {
	GeneratePractice(ctx context.Context, kind content.Kind) (practicestore.Practice, error)
	ListPractices(ctx context.Context) ([]practicestore.Summary, error)
	GetPractice(ctx context.Context, id string) (practicestore.Practice, error)
}

// Service answers practice requests arriving over NATS and broadcasts
// pipeline events.
type Service struct {
	cfg       config.BusConfig
	bus       *bus.Client
	practices Practices
	timeout   time.Duration
	subs      []*nats.Subscription
	durable   bool
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex // guards closed and wg.Add against Close
	closed    bool
	wg        sync.WaitGroup
	ready     atomic.Bool
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.BusConfig, busClient *bus.Client, practices Practices, timeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		practices: practices,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "practice-dispatch")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectGenerate, s.handleGenerate},
		{protocol.SubjectList, s.handleList},
		{protocol.SubjectGet, s.handleGet},
	}
	for _, h := range handlers {
		sub, err := conn.QueueSubscribe(h.subject, s.cfg.QueueGroup, h.handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.bus.EnsureStream(protocol.StreamPracticeEvents, protocol.SubjectCreated); err != nil {
		s.logger.Warn("practice events are not durable", slogError(err))
	} else {
		s.durable = true
	}
	s.ready.Store(true)
	return nil
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
	s.ready.Store(false)
}

// track registers a background generation. It reports false once Close has
// begun.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.ready.Load() && s.bus.Healthy())
}

func (s *Service) handleGenerate(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(msg, string(pipeline.KindInvalidRequest), fmt.Errorf("decode request: %w", err))
		return
	}
	kind, err := content.ParseKind(req.Type)
	if err != nil {
		s.respondError(msg, string(pipeline.KindInvalidRequest), err)
		return
	}

	if !s.track() {
		s.respondError(msg, string(pipeline.KindCanceled), errors.New("service shutting down"))
		return
	}
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		practice, err := s.practices.GeneratePractice(ctx, kind)
		if err != nil {
			s.respondPipelineError(msg, err)
			return
		}
		s.respond(msg, practice)
		s.logger.Info("bus generation complete",
			slog.String("id", practice.ID),
			slog.Duration("latency", time.Since(start)))
	}()
}

func (s *Service) handleList(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	list, err := s.practices.ListPractices(ctx)
	if err != nil {
		s.respondPipelineError(msg, err)
		return
	}
	if list == nil {
		list = []practicestore.Summary{}
	}
	s.respond(msg, list)
}

func (s *Service) handleGet(msg *nats.Msg) {
	var req protocol.GetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ID == "" {
		if err == nil {
			err = errors.New("id required")
		}
		s.respondError(msg, string(pipeline.KindInvalidRequest), err)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	practice, err := s.practices.GetPractice(ctx, req.ID)
	if err != nil {
		s.respondPipelineError(msg, err)
		return
	}
	s.respond(msg, practice)
}

func (s *Service) respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.respondError(msg, "internal", err)
		return
	}
	s.reply(msg, protocol.Reply{Result: data})
}

func (s *Service) respondPipelineError(msg *nats.Msg, err error) {
	kind := string(pipeline.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	s.respondError(msg, kind, err)
}

func (s *Service) respondError(msg *nats.Msg, kind string, err error) {
	s.reply(msg, protocol.Reply{Error: &protocol.ErrorBody{Kind: kind, Message: err.Error()}})
}

func (s *Service) reply(msg *nats.Msg, reply protocol.Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

// Observe publishes a pipeline transition. Completed transitions are also
// announced on the created subject, through JetStream when the stream exists.
func (s *Service) Observe(ev pipeline.Event) {
	if !s.ready.Load() {
		return
	}
	state := protocol.StateEvent{
		RequestID:  ev.RequestID,
		Type:       string(ev.Kind),
		State:      string(ev.State),
		PracticeID: ev.PracticeID,
		Timestamp:  ev.At,
	}
	if ev.Err != nil {
		state.Error = ev.Err.Error()
	}
	if err := s.bus.PublishJSON(protocol.StateSubject(string(ev.State)), state); err != nil {
		s.logger.Warn("failed to publish state event", slogError(err))
	}

	if ev.State != pipeline.StateCompleted || ev.Practice == nil {
		return
	}
	created := protocol.PracticeCreated{
		ID:        ev.Practice.ID,
		Type:      string(ev.Practice.Type),
		Title:     ev.Practice.Title,
		AudioPath: ev.Practice.AudioPath,
		Timestamp: ev.At,
	}
	publish := s.bus.PublishJSON
	if s.durable {
		publish = s.bus.PersistJSON
	}
	if err := publish(protocol.SubjectCreated, created); err != nil {
		s.logger.Warn("failed to publish practice created", slog.String("id", created.ID), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
