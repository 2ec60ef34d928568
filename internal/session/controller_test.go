package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/shop-assist/internal/conversation"
	"github.com/chadiek/shop-assist/internal/dispatch"
	"github.com/chadiek/shop-assist/internal/recorder"
)

type stubTranscriber struct {
	supported bool
	startErr  error
	updates   chan string
}

func newStubTranscriber() *stubTranscriber {
	return &stubTranscriber{supported: true, updates: make(chan string, 10)}
}

func (s *stubTranscriber) Supported() bool { return s.supported }
func (s *stubTranscriber) Start(bool, string) error {
	return s.startErr
}
func (s *stubTranscriber) Stop() error            { return nil }
func (s *stubTranscriber) Updates() <-chan string { return s.updates }

type stubSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	onEnd   func()
	cancels int
}

func (s *stubSpeaker) Supported() bool { return true }
func (s *stubSpeaker) Speak(text string, _, _, _ float64, onEnd func(), _ func(error)) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.onEnd = onEnd
	s.mu.Unlock()
}
func (s *stubSpeaker) CancelAll() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
}
func (s *stubSpeaker) finish() {
	s.mu.Lock()
	cb := s.onEnd
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
func (s *stubSpeaker) spokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spoken)
}

type stubDispatcher struct {
	mu    sync.Mutex
	reply *dispatch.Reply
	err   error
	gate  chan struct{}
	calls int
}

func (s *stubDispatcher) Send(ctx context.Context, query string) (*dispatch.Reply, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubDispatcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// eventLog collects controller events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) record(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) notices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		if ev.Type == EventNotice {
			out = append(out, ev.Notice)
		}
	}
	return out
}

func (e *eventLog) lastTranscript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	last := ""
	for _, ev := range e.events {
		if ev.Type == EventTranscript {
			last = ev.Transcript
		}
	}
	return last
}

func (e *eventLog) phases() []Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Phase
	for _, ev := range e.events {
		if ev.Type == EventPhase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func sampleReply() *dispatch.Reply {
	return &dispatch.Reply{
		Text:        "Here are some options",
		ContextType: "recommendation",
		Results: []conversation.ResultItem{
			{Name: "Trail Runner", Category: "shoes", Price: 89.5, Relevance: 0.92},
		},
	}
}

func TestController_HappyPathWithSpeech(t *testing.T) {
	sp := &stubSpeaker{}
	d := &stubDispatcher{reply: sampleReply()}
	ev := &eventLog{}
	c := New(Config{AudioEnabledByDefault: true, ShowResultCards: true}, Deps{
		Speaker: sp, Dispatcher: d, OnEvent: ev.record,
	})

	if err := c.SubmitText("Show me running shoes under $100"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseSpeaking })

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected greeting+user+assistant, got %d messages", len(msgs))
	}
	if msgs[1].Role != conversation.RoleUser || msgs[1].Text != "Show me running shoes under $100" {
		t.Fatalf("unexpected user message %+v", msgs[1])
	}
	if msgs[2].Role != conversation.RoleAssistant || len(msgs[2].Results) == 0 {
		t.Fatalf("assistant message must carry results: %+v", msgs[2])
	}
	if sp.spokenCount() != 1 {
		t.Fatalf("expected one utterance, got %d", sp.spokenCount())
	}

	sp.finish()
	waitFor(t, func() bool {
		p := ev.phases()
		return len(p) > 0 && p[len(p)-1] == PhaseIdle
	})

	want := []Phase{PhaseThinking, PhaseSpeaking, PhaseIdle}
	got := ev.phases()
	if len(got) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, got)
		}
	}
}

func TestController_AudioDisabledSkipsSpeaking(t *testing.T) {
	sp := &stubSpeaker{}
	d := &stubDispatcher{reply: sampleReply()}
	c := New(Config{}, Deps{Speaker: sp, Dispatcher: d})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseIdle && len(c.Messages()) == 3 })
	if sp.spokenCount() != 0 {
		t.Fatalf("speaker must not run with audio disabled")
	}
}

func TestController_SubmitRejectedWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	d := &stubDispatcher{reply: sampleReply(), gate: gate}
	c := New(Config{}, Deps{Dispatcher: d})

	if err := c.SubmitText("first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.SubmitText("second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := len(c.Messages()); got != 2 {
		t.Fatalf("rejected submit must not touch the log, got %d messages", got)
	}
	if d.callCount() != 1 {
		t.Fatalf("rejected submit must not dispatch, got %d calls", d.callCount())
	}
	close(gate)
	waitFor(t, func() bool { return c.Phase() == PhaseIdle })
}

func TestController_SubmitEmptyIsNoop(t *testing.T) {
	d := &stubDispatcher{reply: sampleReply()}
	c := New(Config{}, Deps{Dispatcher: d})
	if err := c.SubmitText("   \n\t "); err != nil {
		t.Fatalf("empty submit should be silent, got %v", err)
	}
	if c.Phase() != PhaseIdle || len(c.Messages()) != 1 || d.callCount() != 0 {
		t.Fatalf("empty submit must change nothing")
	}
}

func TestController_DispatchFailureAppendsErrorReply(t *testing.T) {
	sp := &stubSpeaker{}
	d := &stubDispatcher{err: errors.New("backend down")}
	ev := &eventLog{}
	c := New(Config{AudioEnabledByDefault: true}, Deps{Speaker: sp, Dispatcher: d, OnEvent: ev.record})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseIdle && len(c.Messages()) == 3 })

	msgs := c.Messages()
	if msgs[2].Role != conversation.RoleAssistant || msgs[2].Kind != conversation.KindError {
		t.Fatalf("expected synthetic error assistant message, got %+v", msgs[2])
	}
	if sp.spokenCount() != 0 {
		t.Fatalf("no Speaking phase may follow a failed dispatch")
	}
	for _, p := range ev.phases() {
		if p == PhaseSpeaking {
			t.Fatalf("observed Speaking phase after dispatch failure")
		}
	}
}

func TestController_StopSpeakingInterrupts(t *testing.T) {
	sp := &stubSpeaker{}
	d := &stubDispatcher{reply: sampleReply()}
	c := New(Config{AudioEnabledByDefault: true}, Deps{Speaker: sp, Dispatcher: d})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseSpeaking })
	before := len(c.Messages())

	c.StopSpeaking()
	waitFor(t, func() bool { return c.Phase() == PhaseIdle })
	if got := len(c.Messages()); got != before {
		t.Fatalf("interruption must not touch the log: %d -> %d", before, got)
	}
	// a second stop with nothing playing is a harmless no-op
	c.StopSpeaking()
}

func TestController_RecordCommitFlow(t *testing.T) {
	tr := newStubTranscriber()
	d := &stubDispatcher{reply: sampleReply()}
	ev := &eventLog{}
	c := New(Config{}, Deps{Transcriber: tr, Dispatcher: d, OnEvent: ev.record})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if c.Phase() != PhaseRecording {
		t.Fatalf("expected Recording, got %v", c.Phase())
	}
	tr.updates <- "do you have any blenders"
	waitFor(t, func() bool { return ev.lastTranscript() == "do you have any blenders" })

	c.CommitRecording()
	waitFor(t, func() bool { return c.Phase() == PhaseIdle && len(c.Messages()) == 3 })
	msgs := c.Messages()
	if msgs[1].Text != "do you have any blenders" {
		t.Fatalf("committed transcript not submitted: %+v", msgs[1])
	}
}

func TestController_EmptyCommitReturnsToIdleSilently(t *testing.T) {
	tr := newStubTranscriber()
	d := &stubDispatcher{reply: sampleReply()}
	c := New(Config{}, Deps{Transcriber: tr, Dispatcher: d})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	c.CommitRecording()
	if c.Phase() != PhaseIdle {
		t.Fatalf("expected Idle after empty commit, got %v", c.Phase())
	}
	if len(c.Messages()) != 1 || d.callCount() != 0 {
		t.Fatalf("empty commit must not mutate the log or dispatch")
	}
}

func TestController_CancelRecordingDiscards(t *testing.T) {
	tr := newStubTranscriber()
	d := &stubDispatcher{reply: sampleReply()}
	c := New(Config{}, Deps{Transcriber: tr, Dispatcher: d})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	tr.updates <- "discard me"
	c.CancelRecording()
	if c.Phase() != PhaseIdle || len(c.Messages()) != 1 {
		t.Fatalf("cancel must discard the transcript entirely")
	}
	// idempotent outside Recording
	c.CancelRecording()
}

func TestController_RecordingUnavailableNotice(t *testing.T) {
	ev := &eventLog{}
	c := New(Config{}, Deps{Dispatcher: &stubDispatcher{}, OnEvent: ev.record})

	if err := c.StartRecording(); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("phase must stay Idle")
	}
	if len(ev.notices()) != 1 {
		t.Fatalf("expected one transient notice, got %v", ev.notices())
	}
}

func TestController_PermissionDeniedNotice(t *testing.T) {
	tr := newStubTranscriber()
	tr.startErr = recorder.ErrPermissionDenied
	ev := &eventLog{}
	c := New(Config{}, Deps{Transcriber: tr, Dispatcher: &stubDispatcher{}, OnEvent: ev.record})

	if err := c.StartRecording(); !errors.Is(err, recorder.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if c.Phase() != PhaseIdle || len(ev.notices()) != 1 {
		t.Fatalf("denied start must notice and stay Idle")
	}
}

func TestController_ClearDuringThinkingDiscardsReply(t *testing.T) {
	gate := make(chan struct{})
	d := &stubDispatcher{reply: sampleReply(), gate: gate}
	c := New(Config{}, Deps{Dispatcher: d})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseThinking })

	c.ClearConversation()
	if len(c.Messages()) != 1 || c.Messages()[0].Kind != conversation.KindGreeting {
		t.Fatalf("clear must reset to the greeting immediately")
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("clear must force Idle")
	}

	close(gate)
	// give the stale reply a chance to (wrongly) land
	time.Sleep(50 * time.Millisecond)
	if got := len(c.Messages()); got != 1 {
		t.Fatalf("reply from before the clear must be discarded, got %d messages", got)
	}
}

func TestController_CloseDuringThinkingStillAppendsReply(t *testing.T) {
	gate := make(chan struct{})
	sp := &stubSpeaker{}
	d := &stubDispatcher{reply: sampleReply(), gate: gate}
	c := New(Config{AudioEnabledByDefault: true}, Deps{Speaker: sp, Dispatcher: d})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseThinking })

	c.Close()
	close(gate)
	waitFor(t, func() bool { return len(c.Messages()) == 3 })
	// nobody is listening anymore: no synthesis, and the session ends Idle
	if sp.spokenCount() != 0 {
		t.Fatalf("speaker must not run after Close, got %d utterances", sp.spokenCount())
	}
	if got := c.Phase(); got != PhaseIdle {
		t.Fatalf("expected Idle after close+reply, got %v", got)
	}
	if err := c.SubmitText("after close"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestController_ClearCancelsRecording(t *testing.T) {
	tr := newStubTranscriber()
	c := New(Config{}, Deps{Transcriber: tr, Dispatcher: &stubDispatcher{}})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	c.ClearConversation()
	if c.Phase() != PhaseIdle || len(c.Messages()) != 1 {
		t.Fatalf("clear must cancel recording and reset")
	}
	// the recorder must be free for a fresh session
	if err := c.StartRecording(); err != nil {
		t.Fatalf("start after clear: %v", err)
	}
}

func TestController_SpokenTextIsTruncatedLogIsNot(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "again and "
	}
	sp := &stubSpeaker{}
	d := &stubDispatcher{reply: &dispatch.Reply{Text: long}}
	c := New(Config{AudioEnabledByDefault: true, TruncateLength: 40}, Deps{Speaker: sp, Dispatcher: d})

	if err := c.SubmitText("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return c.Phase() == PhaseSpeaking })

	sp.mu.Lock()
	spoken := sp.spoken[0]
	sp.mu.Unlock()
	if len([]rune(spoken)) > 41 {
		t.Fatalf("spoken rendition not truncated: %d runes", len([]rune(spoken)))
	}
	if got := c.Messages()[2].Text; got != long {
		t.Fatalf("log must keep the full reply text")
	}
	sp.finish()
}
