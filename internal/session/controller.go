package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/shop-assist/internal/conversation"
	"github.com/chadiek/shop-assist/internal/dispatch"
	"github.com/chadiek/shop-assist/internal/recorder"
	"github.com/chadiek/shop-assist/internal/speech"
)

// Spoken when the reasoning backend cannot be reached, so the conversation
// stays a complete readable record of the turn.
const dispatchErrorReply = "Sorry, I'm having trouble reaching the store assistant right now. Please try again in a moment."

const dispatchTimeout = 30 * time.Second

// Deps are the collaborators injected into a Controller. Transcriber and
// Speaker may be nil on platforms without speech support; the corresponding
// controls degrade to capability-unavailable notices.
type Deps struct {
	Transcriber recorder.Transcriber
	Speaker     speech.Speaker
	Dispatcher  Dispatcher
	Speech      speech.Options
	Logger      *zap.Logger
	// OnEvent receives every observable change. Called without internal
	// locks held, possibly from multiple goroutines.
	OnEvent func(Event)
}

// Controller is the root state machine coordinating capture, dispatch, and
// speech output for one widget connection. It is the sole writer of the
// conversation log, the phase, and the audio preference.
type Controller struct {
	cfg        Config
	log        *conversation.Log
	rec        *recorder.Manager
	out        *speech.Output
	speaker    speech.Speaker
	dispatcher Dispatcher
	logger     *zap.Logger
	onEvent    func(Event)

	mu           sync.Mutex
	phase        Phase
	audioEnabled bool
	// epoch stamps each turn; ClearConversation bumps it so replies landing
	// under an older epoch are discarded.
	epoch  uint64
	closed bool
}

// New constructs an idle Controller with the greeting already in the log.
func New(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:          cfg,
		log:          conversation.NewLog(cfg.Greeting),
		rec:          recorder.NewManager(deps.Transcriber, cfg.Locale, logger),
		out:          speech.NewOutput(deps.Speaker, deps.Speech, logger),
		speaker:      deps.Speaker,
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		onEvent:      deps.OnEvent,
		phase:        PhaseIdle,
		audioEnabled: cfg.AudioEnabledByDefault,
	}
	return c
}

// Phase returns the current state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// AudioEnabled reports the spoken-output preference.
func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

// SetAudioEnabled flips the spoken-output preference. Turning audio off does
// not interrupt an utterance already playing.
func (c *Controller) SetAudioEnabled(on bool) {
	c.mu.Lock()
	c.audioEnabled = on
	c.mu.Unlock()
	c.emit(Event{Type: EventAudio, AudioEnabled: on})
}

// Messages returns a snapshot of the conversation log.
func (c *Controller) Messages() []conversation.Message {
	return c.log.Messages()
}

// Config returns the widget configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// StartRecording begins a voice capture session. Rejected unless Idle; a
// missing Transcriber capability or a permission denial surfaces a transient
// notice and leaves the phase at Idle.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	err := c.rec.Start(
		func(text string) { c.emit(Event{Type: EventTranscript, Transcript: text}) },
		func(sec int) { c.emit(Event{Type: EventElapsed, Elapsed: sec}) },
	)
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrUnsupported):
		c.emit(Event{Type: EventNotice, Notice: "Voice input isn't supported on this device."})
		return ErrCapabilityUnavailable
	case errors.Is(err, recorder.ErrPermissionDenied):
		c.emit(Event{Type: EventNotice, Notice: "Microphone access was denied. You can re-enable it in your browser settings."})
		return err
	default:
		c.logger.Warn("start recording", zap.Error(err))
		c.emit(Event{Type: EventNotice, Notice: "Couldn't start voice capture. Please try again."})
		return err
	}

	c.setPhase(PhaseRecording)
	return nil
}

// CommitRecording finalizes the capture session. An empty transcript returns
// to Idle silently; otherwise the trimmed text is submitted as a turn.
func (c *Controller) CommitRecording() {
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	text := c.rec.Commit()
	if text == "" {
		c.setPhase(PhaseIdle)
		return
	}
	c.beginTurn(text)
}

// CancelRecording discards the capture session without submitting anything.
// Idempotent outside the Recording phase.
func (c *Controller) CancelRecording() {
	c.rec.Cancel()
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setPhase(PhaseIdle)
}

// SubmitText submits a typed query. Rejected with ErrBusy unless the
// controller is Idle; empty text after trimming is a silent no-op.
func (c *Controller) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()
	c.beginTurn(text)
	return nil
}

// beginTurn appends the user message synchronously, enters Thinking, and
// starts the single dispatch for this turn. The message is in the log before
// any phase event is observable.
func (c *Controller) beginTurn(text string) {
	msg := c.log.AppendUser(text)
	c.mu.Lock()
	c.phase = PhaseThinking
	epoch := c.epoch
	c.mu.Unlock()

	c.emit(Event{Type: EventMessage, Message: &msg})
	c.emit(Event{Type: EventPhase, Phase: PhaseThinking})
	c.logger.Info("turn started", zap.Int("chars", len(text)))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		reply, err := c.dispatcher.Send(ctx, text)
		c.completeDispatch(epoch, reply, err)
	}()
}

// completeDispatch resolves the Thinking phase. Replies stamped with an old
// epoch (the conversation was cleared meanwhile) are discarded; closing the
// widget does not bump the epoch, so those replies still land in the log.
// The assistant message is appended before the phase transition is emitted.
func (c *Controller) completeDispatch(epoch uint64, reply *dispatch.Reply, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding reply from cleared conversation")
		return
	}
	if err != nil {
		msg := c.log.AppendAssistant(dispatchErrorReply, conversation.KindError, nil)
		c.phase = PhaseIdle
		c.mu.Unlock()
		c.logger.Warn("dispatch failed", zap.Error(err))
		c.emit(Event{Type: EventMessage, Message: &msg})
		c.emit(Event{Type: EventPhase, Phase: PhaseIdle})
		return
	}

	var results []conversation.ResultItem
	if c.cfg.ShowResultCards {
		results = reply.Results
	}
	// A reply landing after Close still belongs in the log, but there is no
	// widget left to hear it: skip synthesis and settle at Idle.
	speak := !c.closed && c.audioEnabled && c.speaker != nil && c.speaker.Supported() && reply.Text != ""
	msg := c.log.AppendAssistant(reply.Text, conversation.KindAnswer, results)
	if speak {
		c.phase = PhaseSpeaking
	} else {
		c.phase = PhaseIdle
	}
	next := c.phase
	c.mu.Unlock()

	c.emit(Event{Type: EventMessage, Message: &msg})
	c.emit(Event{Type: EventPhase, Phase: next})
	if speak {
		c.out.Speak(truncateForSpeech(reply.Text, c.cfg.TruncateLength), c.speechDone)
	}
}

// speechDone handles the single terminal event of an utterance. Synthesis
// failure is non-fatal: the text is already in the log, only the audio
// rendition is skipped.
func (c *Controller) speechDone(res speech.Result) {
	if res.Err != nil {
		c.emit(Event{Type: EventNotice, Notice: "Audio playback isn't available right now."})
	}
	c.mu.Lock()
	if c.phase != PhaseSpeaking {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setPhase(PhaseIdle)
}

// StopSpeaking interrupts the current utterance. The log is unchanged; the
// phase transition arrives through the utterance's terminal event.
func (c *Controller) StopSpeaking() {
	c.out.Stop()
}

// ClearConversation resets the log to its initial greeting and forces the
// phase to Idle, cancelling any in-flight recording or speech. A dispatch
// still in flight is discarded when it resolves.
func (c *Controller) ClearConversation() {
	c.mu.Lock()
	c.epoch++
	c.phase = PhaseIdle
	c.mu.Unlock()

	c.rec.Cancel()
	c.out.Stop()

	greeting := c.log.Reset()
	c.emit(Event{Type: EventReset, Message: &greeting})
	c.emit(Event{Type: EventPhase, Phase: PhaseIdle})
	c.logger.Info("conversation cleared")
}

// Close releases the controller when the widget goes away: an active
// recording is cancelled and speech is stopped, but an outstanding dispatch
// is allowed to complete and append its reply so history stays consistent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	phase := c.phase
	if phase == PhaseRecording {
		c.phase = PhaseIdle
	}
	c.mu.Unlock()

	switch phase {
	case PhaseRecording:
		c.rec.Cancel()
	case PhaseSpeaking:
		c.out.Stop()
	}
	c.logger.Debug("controller closed", zap.String("phase", string(phase)))
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	if c.phase == p {
		c.mu.Unlock()
		return
	}
	c.phase = p
	c.mu.Unlock()
	c.emit(Event{Type: EventPhase, Phase: p})
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// truncateForSpeech shortens long replies for the spoken rendition only.
func truncateForSpeech(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
