package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRecording is returned when Start is called while a capture
	// session is still active. The state machine should prevent this; the
	// manager enforces it independently.
	ErrAlreadyRecording = errors.New("recorder: a capture session is already active")
	// ErrPermissionDenied is returned (or wrapped) when microphone access
	// is refused by the platform.
	ErrPermissionDenied = errors.New("recorder: microphone permission denied")
	// ErrUnsupported is returned when the Transcriber capability is not
	// available on the current platform.
	ErrUnsupported = errors.New("recorder: speech capture not supported")
)

// Transcriber is the platform speech-capture capability. It publishes the
// latest full transcript on Updates as recognition progresses.
type Transcriber interface {
	Supported() bool
	Start(continuous bool, locale string) error
	Stop() error
	Updates() <-chan string
}

// Manager owns the lifecycle of one capture attempt: start, accumulate
// transcript, then commit or cancel. At most one session is active at a time.
type Manager struct {
	transcriber Transcriber
	locale      string
	logger      *zap.Logger

	mu     sync.Mutex
	active *capture
}

// capture is the ephemeral value object for one recording session. It never
// outlives one commit or cancel.
type capture struct {
	startedAt  time.Time
	transcript string
	stopCh     chan struct{}
}

// NewManager constructs a Manager over the given capture capability.
func NewManager(t Transcriber, locale string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{transcriber: t, locale: locale, logger: logger}
}

// Start begins a capture session. onTranscript receives the live transcript
// as it grows; onElapsed ticks once per second with the elapsed whole seconds
// (display only). Both callbacks may be nil.
func (m *Manager) Start(onTranscript func(string), onElapsed func(int)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return ErrAlreadyRecording
	}
	if m.transcriber == nil || !m.transcriber.Supported() {
		return ErrUnsupported
	}
	if err := m.transcriber.Start(true, m.locale); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("recorder: start capture: %w", err)
	}
	c := &capture{startedAt: time.Now(), stopCh: make(chan struct{})}
	m.active = c
	m.logger.Debug("recording started", zap.String("locale", m.locale))

	go m.consume(c, onTranscript)
	go m.tick(c, onElapsed)
	return nil
}

// consume folds transcript updates into the active capture until it is
// stopped or the capability closes its stream.
func (m *Manager) consume(c *capture, onTranscript func(string)) {
	updates := m.transcriber.Updates()
	for {
		select {
		case <-c.stopCh:
			return
		case text, ok := <-updates:
			if !ok {
				return
			}
			m.mu.Lock()
			stale := m.active != c
			if !stale {
				c.transcript = text
			}
			m.mu.Unlock()
			if !stale && onTranscript != nil {
				onTranscript(text)
			}
		}
	}
}

func (m *Manager) tick(c *capture, onElapsed func(int)) {
	if onElapsed == nil {
		return
	}
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			onElapsed(int(time.Since(c.startedAt) / time.Second))
		}
	}
}

// Commit stops capture and returns the accumulated transcript, trimmed.
// With no active session it is a no-op returning "".
func (m *Manager) Commit() string {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()
	if c == nil {
		return ""
	}
	close(c.stopCh)
	if err := m.transcriber.Stop(); err != nil {
		m.logger.Warn("stop capture", zap.Error(err))
	}
	text := strings.TrimSpace(c.transcript)
	m.logger.Debug("recording committed",
		zap.Duration("duration", time.Since(c.startedAt)),
		zap.Int("chars", len(text)))
	return text
}

// Cancel stops capture and discards the transcript. Idempotent.
func (m *Manager) Cancel() {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	close(c.stopCh)
	if err := m.transcriber.Stop(); err != nil {
		m.logger.Warn("stop capture", zap.Error(err))
	}
	m.logger.Debug("recording cancelled")
}

// Active reports whether a capture session is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}
