package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-practice/internal/bus"
	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/natsserver"
	"github.com/loqalabs/loqa-practice/internal/pipeline"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
	"github.com/loqalabs/loqa-practice/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePractices struct {
	mu     sync.Mutex
	stored map[string]practicestore.Practice
	calls  int
}

func (f *fakePractices) generated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePractices) GeneratePractice(_ context.Context, kind content.Kind) (practicestore.Practice, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if kind == content.KindListening {
		return practicestore.Practice{}, &pipeline.Error{Kind: pipeline.KindSynthesis, State: pipeline.StateSynthesizing, Err: errors.New("voice unavailable")}
	}
	g, err := content.Validate(`{"text":"Texto","questions":[{"text":"a","options":["1","2","3"],"correctAnswer":0},{"text":"b","options":["1","2","3"],"correctAnswer":1},{"text":"c","options":["1","2","3"],"correctAnswer":2}]}`, kind)
	if err != nil {
		return practicestore.Practice{}, err
	}
	p := practicestore.Practice{ID: "reading_20250101_120000", Type: kind, Title: "Texto", Timestamp: "2025-01-01T12:00:00.000000Z", Content: g}
	f.mu.Lock()
	f.stored[p.ID] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakePractices) ListPractices(context.Context) ([]practicestore.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]practicestore.Summary, 0, len(f.stored))
	for _, p := range f.stored {
		out = append(out, practicestore.Summary{ID: p.ID, Type: p.Type, Title: p.Title, Timestamp: p.Timestamp})
	}
	return out, nil
}

func (f *fakePractices) GetPractice(_ context.Context, id string) (practicestore.Practice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.stored[id]
	if !ok {
		return practicestore.Practice{}, &pipeline.Error{Kind: pipeline.KindNotFound, Err: fmt.Errorf("%w: %s", pipeline.ErrNotFound, id)}
	}
	return p, nil
}

func startService(t *testing.T) (*Service, *nats.Conn) {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()

	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}

	client, err := bus.Connect(context.Background(), cfg, "practice-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	svc := NewService(context.Background(), cfg, client, &fakePractices{stored: map[string]practicestore.Practice{}}, 5*time.Second, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	peer, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("peer connect: %v", err)
	}
	t.Cleanup(peer.Close)
	return svc, peer
}

func request(t *testing.T, conn *nats.Conn, subject string, body any) protocol.Reply {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := conn.Request(subject, data, 3*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var reply protocol.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestGenerateOverBus(t *testing.T) {
	svc, peer := startService(t)
	if !svc.Healthy() {
		t.Fatal("service should be healthy after start")
	}

	reply := request(t, peer, protocol.SubjectGenerate, protocol.GenerateRequest{Type: "reading"})
	if reply.Error != nil {
		t.Fatalf("unexpected error reply: %+v", reply.Error)
	}
	var practice practicestore.Practice
	if err := json.Unmarshal(reply.Result, &practice); err != nil {
		t.Fatalf("decode practice: %v", err)
	}
	if practice.ID != "reading_20250101_120000" || practice.Content.Reading == nil {
		t.Fatalf("unexpected practice %+v", practice)
	}

	reply = request(t, peer, protocol.SubjectGet, protocol.GetRequest{ID: practice.ID})
	if reply.Error != nil {
		t.Fatalf("get failed: %+v", reply.Error)
	}

	reply = request(t, peer, protocol.SubjectList, struct{}{})
	var list []practicestore.Summary
	if err := json.Unmarshal(reply.Result, &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %s, %v", reply.Result, err)
	}
}

func TestErrorRepliesCarryKind(t *testing.T) {
	_, peer := startService(t)

	cases := []struct {
		subject string
		body    any
		kind    string
	}{
		{protocol.SubjectGenerate, protocol.GenerateRequest{Type: "writing"}, "invalid_request"},
		{protocol.SubjectGenerate, protocol.GenerateRequest{Type: "listening"}, "synthesis"},
		{protocol.SubjectGet, protocol.GetRequest{ID: "missing"}, "not_found"},
		{protocol.SubjectGet, protocol.GetRequest{}, "invalid_request"},
	}
	for _, tc := range cases {
		reply := request(t, peer, tc.subject, tc.body)
		if reply.Error == nil || reply.Error.Kind != tc.kind {
			t.Fatalf("%s %+v: expected %s error, got %+v", tc.subject, tc.body, tc.kind, reply.Error)
		}
	}
}

func TestObservePublishesEvents(t *testing.T) {
	svc, peer := startService(t)

	states, err := peer.SubscribeSync(protocol.SubjectStatePrefix + ".>")
	if err != nil {
		t.Fatalf("subscribe states: %v", err)
	}
	created, err := peer.SubscribeSync(protocol.SubjectCreated)
	if err != nil {
		t.Fatalf("subscribe created: %v", err)
	}
	if err := peer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	practice := &practicestore.Practice{ID: "listening_20250101_120000", Type: content.KindListening, Title: "¿Qué?", AudioPath: "/static_audio/listening_20250101_120000.mp3"}
	svc.Observe(pipeline.Event{RequestID: "r1", Kind: content.KindListening, State: pipeline.StateSynthesizing, At: at})
	svc.Observe(pipeline.Event{RequestID: "r1", Kind: content.KindListening, State: pipeline.StateCompleted, PracticeID: practice.ID, Practice: practice, At: at})

	for _, want := range []string{"synthesizing", "completed"} {
		msg, err := states.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("await state %s: %v", want, err)
		}
		if msg.Subject != protocol.StateSubject(want) {
			t.Fatalf("subject %s, want %s", msg.Subject, protocol.StateSubject(want))
		}
	}

	msg, err := created.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("await created: %v", err)
	}
	var ev protocol.PracticeCreated
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if ev.ID != practice.ID || ev.AudioPath != practice.AudioPath {
		t.Fatalf("unexpected created event %+v", ev)
	}
}

func TestDisabledServiceIsInert(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Enabled = false
	svc := NewService(context.Background(), cfg, nil, &fakePractices{}, 0, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service reports healthy")
	}
	svc.Observe(pipeline.Event{State: pipeline.StateCompleted})
	svc.Close()
}

func TestGenerateRacingCloseIsRejected(t *testing.T) {
	fake := &fakePractices{stored: map[string]practicestore.Practice{}}
	svc := NewService(context.Background(), config.Default().Bus, nil, fake, time.Second, newLogger())
	data, err := json.Marshal(protocol.GenerateRequest{Type: "reading"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.handleGenerate(&nats.Msg{Data: data})
		}()
	}
	svc.Close()
	wg.Wait()

	settled := fake.generated()
	svc.handleGenerate(&nats.Msg{Data: data})
	time.Sleep(50 * time.Millisecond)
	if got := fake.generated(); got != settled {
		t.Fatalf("generation started after close: %d calls, want %d", got, settled)
	}
}
