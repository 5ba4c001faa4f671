package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/grannylabs/granny-voice/internal/audio"
	"github.com/grannylabs/granny-voice/internal/stt"
	"github.com/grannylabs/granny-voice/internal/tts"
)

// scriptedStream yields one frame per pushed text, then EOF
type scriptedStream struct {
	mu    sync.Mutex
	texts []string
	idx   int
	ended bool
}

func (s *scriptedStream) PushText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *scriptedStream) MarkSegmentEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *scriptedStream) Next(ctx context.Context) (*tts.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < len(s.texts) {
		frame := &tts.AudioFrame{Data: []byte(s.texts[s.idx]), SampleRate: 24000, Channels: 1}
		s.idx++
		return frame, nil
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type scriptedSynth struct {
	mu      sync.Mutex
	streams []*scriptedStream
}

func (p *scriptedSynth) Name() string { return "scripted" }

func (p *scriptedSynth) Stream(ctx context.Context) (tts.SynthesizeStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &scriptedStream{}
	p.streams = append(p.streams, st)
	return st, nil
}

func (p *scriptedSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}

// fakeSTT feeds scripted transcripts; Close closes the channel the way
// the Deepgram client does
type fakeSTT struct {
	transcripts chan *stt.Transcript
	started     bool
	closed      bool
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{transcripts: make(chan *stt.Transcript, 4)}
}

func (f *fakeSTT) Start() error                        { f.started = true; return nil }
func (f *fakeSTT) SendAudio(data []byte) error         { return nil }
func (f *fakeSTT) Transcripts() <-chan *stt.Transcript { return f.transcripts }
func (f *fakeSTT) Stop() error                         { return nil }
func (f *fakeSTT) Close() error {
	if !f.closed {
		f.closed = true
		close(f.transcripts)
	}
	return nil
}

type cannedLLM struct {
	reply string
	err   error
}

func (l *cannedLLM) GenerateReply(ctx context.Context, instructions, userText string) (string, error) {
	return l.reply, l.err
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSession_OnRejectsUnknownEvent(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{}, Options{})

	err := s.On(EventType("agent_became_sentient"), func(Event) {})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("On() = %v, want ErrUnknownEvent", err)
	}

	for _, ev := range []EventType{
		EventAgentSpeechStarted,
		EventAgentSpeechCommitted,
		EventUserSpeechStarted,
		EventUserSpeechCommitted,
		EventAgentStateChanged,
	} {
		if err := s.On(ev, func(Event) {}); err != nil {
			t.Errorf("On(%q) = %v, want nil", ev, err)
		}
	}
}

func TestSession_SayDeliversAudioAndEvents(t *testing.T) {
	sink := audio.NewDiscardSink()
	s := New(&scriptedSynth{}, &cannedLLM{}, Options{Sink: sink})

	started := make(chan Event, 1)
	committed := make(chan Event, 1)
	s.On(EventAgentSpeechStarted, func(ev Event) { started <- ev })
	s.On(EventAgentSpeechCommitted, func(ev Event) { committed <- ev })

	if err := s.Say(context.Background(), "Hello there"); err != nil {
		t.Fatalf("Say() failed: %v", err)
	}

	if ev := waitEvent(t, started); ev.Text != "Hello there" {
		t.Errorf("speech_started text = %q, want the utterance", ev.Text)
	}
	if ev := waitEvent(t, committed); ev.Text != "Hello there" {
		t.Errorf("speech_committed text = %q, want the utterance", ev.Text)
	}

	frames, bytes := sink.Stats()
	if frames == 0 || bytes == 0 {
		t.Errorf("sink saw %d frames / %d bytes, want audio delivered", frames, bytes)
	}
}

func TestSession_SayEmptyTextIsNoop(t *testing.T) {
	synth := &scriptedSynth{}
	s := New(synth, &cannedLLM{}, Options{})

	if err := s.Say(context.Background(), ""); err != nil {
		t.Fatalf("Say(\"\") = %v, want nil", err)
	}
	if len(synth.streams) != 0 {
		t.Error("expected no stream opened for empty text")
	}
}

func TestSession_StartSpeaksGreeting(t *testing.T) {
	sink := audio.NewDiscardSink()
	s := New(&scriptedSynth{}, &cannedLLM{reply: "Hi! I'm listening."}, Options{Sink: sink})

	committed := make(chan Event, 1)
	s.On(EventAgentSpeechCommitted, func(ev Event) { committed <- ev })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if ev := waitEvent(t, committed); ev.Text != "Hi! I'm listening." {
		t.Errorf("greeting = %q, want the generated reply", ev.Text)
	}
	if s.State() != "listening" {
		t.Errorf("state = %q, want listening", s.State())
	}
}

func TestSession_StartFallsBackToDefaultGreeting(t *testing.T) {
	sink := audio.NewDiscardSink()
	s := New(&scriptedSynth{}, &cannedLLM{err: errors.New("llm down")}, Options{Sink: sink})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	frames, _ := sink.Stats()
	if frames == 0 {
		t.Error("expected the default greeting to be synthesized")
	}
}

func TestSession_SendAudioEmitsUserSpeechStarted(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{}, Options{
		VAD: &audio.VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3, FrameSize: 320},
	})

	started := make(chan Event, 4)
	s.On(EventUserSpeechStarted, func(ev Event) { started <- ev })

	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 4000
	}
	if err := s.SendAudio(audio.SamplesToBytes(loud)); err != nil {
		t.Fatalf("SendAudio() failed: %v", err)
	}

	waitEvent(t, started)

	// Continuing speech must not re-fire the event
	s.SendAudio(audio.SamplesToBytes(loud))
	select {
	case <-started:
		t.Error("user_speech_started fired twice within one utterance")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_SendAudioRejectsOddLength(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{}, Options{})
	if err := s.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for malformed pcm")
	}
}

func TestSession_FinalTranscriptDrivesReply(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{reply: "Doing well, thanks!"}, Options{})
	fake := newFakeSTT()
	s.AttachSTT(fake)

	userCommitted := make(chan Event, 4)
	s.On(EventUserSpeechCommitted, func(ev Event) { userCommitted <- ev })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fake.started {
		t.Fatal("expected the STT client to be started")
	}

	fake.transcripts <- &stt.Transcript{Text: "how are you", IsFinal: true, Confidence: 0.95}

	if ev := waitEvent(t, userCommitted); ev.Text != "how are you" {
		t.Errorf("user_speech_committed text = %q, want the transcript", ev.Text)
	}

	s.Close()
}

func TestSession_CloseWaitsForTranscriptLoop(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{reply: "Hello."}, Options{})
	fake := newFakeSTT()
	s.AttachSTT(fake)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if !fake.closed {
		t.Error("expected the STT client to be closed")
	}
	// The loop must have fully exited by the time Close returns
	select {
	case <-s.loopDone:
	default:
		t.Error("transcript loop still running after Close")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{}, Options{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	if err := s.Say(context.Background(), "too late"); err == nil {
		t.Error("expected Say() to fail on a closed session")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected Start() to fail on a closed session")
	}
}

func TestSession_StateTransitionsAnnounced(t *testing.T) {
	s := New(&scriptedSynth{}, &cannedLLM{reply: "Hello."}, Options{})

	states := make(chan Event, 16)
	s.On(EventAgentStateChanged, func(ev Event) { states <- ev })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-states:
			seen[ev.Text] = true
		case <-deadline:
			t.Fatalf("timed out, states seen: %v", seen)
		}
	}

	for _, want := range []string{"initializing", "speaking", "listening"} {
		if !seen[want] {
			t.Errorf("state %q never announced, saw %v", want, seen)
		}
	}
}
