package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/retry"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleTurns() []content.Turn {
	return []content.Turn{
		{Speaker: content.Narrator, Text: "Uno", Ordinal: 0},
		{Speaker: content.Interlocutor1, Text: "Dos", Ordinal: 1},
		{Speaker: content.Interlocutor2, Text: "Tres", Ordinal: 2},
	}
}

type fakeSynth struct {
	mu     sync.Mutex
	failAt int // 1-based call number that fails; 0 never fails
	calls  int
	voices []string
}

func (f *fakeSynth) Format() string { return FormatMP3 }

func (f *fakeSynth) Synthesize(_ context.Context, req SynthRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.voices = append(f.voices, req.Voice)
	if f.failAt == f.calls {
		return nil, errors.New("voice service unavailable")
	}
	return []byte("clip:" + req.Text), nil
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSpeechSynthesizerWritesScopedSegments(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeSynth{}
	voices := VoicesFromConfig(config.Default().TTS.Voices)
	synth := NewSpeechSynthesizer(backend, voices, retry.Policy{MaxAttempts: 1}, newLogger())

	res, err := synth.Synthesize(context.Background(), "req-a", dir, sampleTurns())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Segments) != 3 || res.Skipped != 0 || res.Format != FormatMP3 {
		t.Fatalf("unexpected result %+v", res)
	}
	for i, seg := range res.Segments {
		want := filepath.Join(dir, "req-a_"+string(rune('0'+i))+".mp3")
		if seg.Path != want || seg.Ordinal != i {
			t.Fatalf("segment %d: got %+v want %s", i, seg, want)
		}
	}
	data, _ := os.ReadFile(res.Segments[1].Path)
	if string(data) != "clip:Dos" {
		t.Fatalf("unexpected segment contents %q", data)
	}
	cfgVoices := config.Default().TTS.Voices
	if backend.voices[0] != cfgVoices.Narrator || backend.voices[2] != cfgVoices.Interlocutor2 {
		t.Fatalf("voices not mapped per speaker: %v", backend.voices)
	}
}

func TestSpeechSynthesizerFailsFastAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeSynth{failAt: 2}
	synth := NewSpeechSynthesizer(backend, VoicesFromConfig(config.Default().TTS.Voices), retry.Policy{MaxAttempts: 1}, newLogger())

	_, err := synth.Synthesize(context.Background(), "req-b", dir, sampleTurns())
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if synthErr.Ordinal != 1 || synthErr.Speaker != content.Interlocutor1 {
		t.Fatalf("unexpected failing turn %+v", synthErr)
	}
	if backend.calls != 2 {
		t.Fatalf("expected synthesis to stop after failure, got %d calls", backend.calls)
	}
	if left := dirEntries(t, dir); len(left) != 0 {
		t.Fatalf("expected no segments left, found %v", left)
	}
}

func TestSpeechSynthesizerSkipsUnmappedSpeakers(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeSynth{}
	voices := Voices{content.Narrator: "Lupe", content.Interlocutor1: "Pedro"}
	synth := NewSpeechSynthesizer(backend, voices, retry.Policy{MaxAttempts: 1}, newLogger())

	res, err := synth.Synthesize(context.Background(), "req-c", dir, sampleTurns())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.Skipped != 1 || len(res.Segments) != 2 {
		t.Fatalf("expected one skipped turn, got %+v", res)
	}
}

func TestSpeechSynthesizerRetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeSynth{failAt: 1}
	policy := retry.Policy{MaxAttempts: 2, InitialInterval: 1, MaxInterval: 1, Multiplier: 1}
	synth := NewSpeechSynthesizer(backend, VoicesFromConfig(config.Default().TTS.Voices), policy, newLogger())

	res, err := synth.Synthesize(context.Background(), "req-d", dir, sampleTurns())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Segments) != 3 || backend.calls != 4 {
		t.Fatalf("expected retry of first turn, got %d segments after %d calls", len(res.Segments), backend.calls)
	}
}

func TestMockSynthProducesWAV(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	data, err := synth.Synthesize(context.Background(), SynthRequest{Text: "Hola"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Contains(data[:16], []byte("WAVE")) {
		t.Fatalf("expected RIFF/WAVE header")
	}
	// 250ms minimum clip at 16kHz mono 16-bit plus header
	if len(data) < 16000/4*2 {
		t.Fatalf("clip too short: %d bytes", len(data))
	}
}

func TestEncodeWAVRejectsOddPCM(t *testing.T) {
	if _, err := encodeWAV([]byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestHTTPSynthPostsSpeechRequest(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	t.Cleanup(server.Close)

	synth := NewHTTPSynth(server.URL+"/", "secret", "kokoro", server.Client())
	data, err := synth.Synthesize(context.Background(), SynthRequest{Text: "Hola", Voice: "ef_dora"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data) != "ID3mp3" {
		t.Fatalf("unexpected audio %q", data)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if !strings.Contains(gotBody, `"voice":"ef_dora"`) || !strings.Contains(gotBody, `"model":"kokoro"`) {
		t.Fatalf("unexpected body %s", gotBody)
	}
}

func TestHTTPSynthStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown voice", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	synth := NewHTTPSynth(server.URL, "", "", server.Client())
	if _, err := synth.Synthesize(context.Background(), SynthRequest{Text: "x", Voice: "y"}); err == nil {
		t.Fatal("expected error for 400")
	}
}

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("mp3-bytes"))}, nil
}

func TestPollySynthBuildsRequest(t *testing.T) {
	client := &fakePolly{}
	synth := newPollySynth(client, "es-US", "neural")
	data, err := synth.Synthesize(context.Background(), SynthRequest{Text: "Hola", Voice: "Lucia"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected audio %q", data)
	}
	if client.input.VoiceId != types.VoiceId("Lucia") || client.input.OutputFormat != types.OutputFormatMp3 {
		t.Fatalf("unexpected input %+v", client.input)
	}
	if client.input.LanguageCode != types.LanguageCode("es-US") || client.input.Engine != types.Engine("neural") {
		t.Fatalf("unexpected locale settings %+v", client.input)
	}
	if synth.Format() != FormatMP3 {
		t.Fatalf("expected mp3 format")
	}
}

func TestCollectPCMStopsAtFinalFrame(t *testing.T) {
	out := strings.Join([]string{
		`{"pcm_base64":"AAECAw=="}`,
		`{"pcm_base64":"BAU=","final":true}`,
		`{"pcm_base64":"BgcICQ=="}`,
	}, "\n")
	pcm, err := collectPCM(strings.NewReader(out))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(pcm, []byte{0, 1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected pcm %v", pcm)
	}

	if _, err := collectPCM(strings.NewReader(`{"error":"voice missing"}`)); err == nil || !strings.Contains(err.Error(), "voice missing") {
		t.Fatalf("expected frame error, got %v", err)
	}
	if _, err := collectPCM(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestExecSynthReportsStderr(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'echo no voice >&2; exit 1'`, 16000, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = synth.Synthesize(context.Background(), SynthRequest{Text: "hola", Voice: "es"})
	if err == nil || !strings.Contains(err.Error(), "no voice") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if _, err := NewExecSynth("", 16000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestHTTPSynthClientErrorsAreNotRetried(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   int
	}{{http.StatusBadRequest, 1}, {http.StatusTooManyRequests, 2}} {
		var mu sync.Mutex
		hits := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			mu.Unlock()
			http.Error(w, "rejected", tc.status)
		}))
		policy := retry.Policy{MaxAttempts: 2, InitialInterval: 1, MaxInterval: 1, Multiplier: 1}
		synth := NewSpeechSynthesizer(NewHTTPSynth(server.URL, "", "", server.Client()), VoicesFromConfig(config.Default().TTS.Voices), policy, newLogger())
		_, err := synth.Synthesize(context.Background(), "req-http", t.TempDir(), sampleTurns())
		server.Close()
		var serr *SynthesisError
		if !errors.As(err, &serr) || serr.Ordinal != 0 {
			t.Fatalf("status %d: expected SynthesisError on first turn, got %v", tc.status, err)
		}
		mu.Lock()
		got := hits
		mu.Unlock()
		if got != tc.want {
			t.Fatalf("status %d: %d attempts, want %d", tc.status, got, tc.want)
		}
	}
}
