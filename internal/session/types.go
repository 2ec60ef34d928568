package session

import (
	"context"
	"errors"

	"github.com/chadiek/shop-assist/internal/conversation"
	"github.com/chadiek/shop-assist/internal/dispatch"
)

// Phase is the controller's current state. Idle is both the initial state
// and the terminal-per-turn state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhaseThinking  Phase = "thinking"
	PhaseSpeaking  Phase = "speaking"
)

var (
	// ErrBusy rejects input while a previous turn is still in progress.
	ErrBusy = errors.New("session: a turn is already in progress")
	// ErrCapabilityUnavailable rejects voice input when the Transcriber
	// capability is missing on the current platform.
	ErrCapabilityUnavailable = errors.New("session: speech capture not supported")
	// ErrClosed rejects input after the widget connection has gone away.
	ErrClosed = errors.New("session: closed")
)

// Dispatcher sends one finalized user utterance to the reasoning backend.
type Dispatcher interface {
	Send(ctx context.Context, query string) (*dispatch.Reply, error)
}

// Config collapses the widget variants into one parameterized component.
type Config struct {
	// AudioEnabledByDefault sets the initial audio-output preference.
	AudioEnabledByDefault bool
	// ShowResultCards controls whether result items are surfaced to the UI.
	ShowResultCards bool
	// TruncateLength caps the spoken rendition of a reply, in runes.
	// The log always keeps the full text. Zero disables truncation.
	TruncateLength int
	// Greeting is the initial assistant message.
	Greeting string
	// Locale is passed to the Transcriber capability.
	Locale string
}

func (c Config) withDefaults() Config {
	if c.Greeting == "" {
		c.Greeting = "Hi! I'm your shopping assistant. Ask me anything about our products."
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	return c
}

// EventType enumerates the observable changes pushed to the UI layer.
type EventType string

const (
	EventPhase      EventType = "phase"
	EventMessage    EventType = "message"
	EventNotice     EventType = "notice"
	EventTranscript EventType = "transcript"
	EventElapsed    EventType = "elapsed"
	EventReset      EventType = "reset"
	EventAudio      EventType = "audio"
)

// Event is one observable change. Only the fields relevant to Type are set;
// EventReset carries the fresh greeting in Message.
type Event struct {
	Type         EventType
	Phase        Phase
	Message      *conversation.Message
	Notice       string
	Transcript   string
	Elapsed      int
	AudioEnabled bool
}
