package speech

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrUnsupported is reported as the terminal result when the Speaker
// capability is unavailable on the current platform.
var ErrUnsupported = errors.New("speech: synthesis not supported")

// Speaker is the platform text-to-speech capability. Implementations must
// invoke onEnd or onErr when the utterance terminates; duplicate invocations
// are tolerated by the Output manager.
type Speaker interface {
	Supported() bool
	Speak(text string, rate, pitch, volume float64, onEnd func(), onErr func(error))
	CancelAll()
}

// Options are the voice parameters passed through to the Speaker.
type Options struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// Result is the single terminal event of one Speak call. Interruption is a
// normal completion, not an error, so the controller transitions uniformly.
type Result struct {
	Interrupted bool
	Err         error
}

// Output drives the Speaker capability with at most one live utterance.
// Every Speak call produces exactly one terminal Result: a new Speak cancels
// the prior utterance (terminating it as interrupted) before starting.
type Output struct {
	speaker Speaker
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	current *utterance
}

type utterance struct {
	text string
	done func(Result)
	once sync.Once
}

// NewOutput constructs an Output over the given Speaker.
func NewOutput(s Speaker, opts Options, logger *zap.Logger) *Output {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Rate == 0 {
		opts.Rate = 1.0
	}
	if opts.Pitch == 0 {
		opts.Pitch = 1.0
	}
	if opts.Volume == 0 {
		opts.Volume = 1.0
	}
	return &Output{speaker: s, opts: opts, logger: logger}
}

// Speak cancels any live utterance, then synthesizes text. done receives the
// terminal Result exactly once, possibly before Speak returns (unsupported
// platform, synchronous speaker failure).
func (o *Output) Speak(text string, done func(Result)) {
	if done == nil {
		done = func(Result) {}
	}
	u := &utterance{text: text, done: done}

	o.mu.Lock()
	prior := o.current
	o.current = u
	o.mu.Unlock()

	if prior != nil {
		o.speaker.CancelAll()
		o.finish(prior, Result{Interrupted: true})
	}
	if o.speaker == nil || !o.speaker.Supported() {
		o.finish(u, Result{Err: ErrUnsupported})
		return
	}

	o.logger.Debug("speaking", zap.Int("chars", len(text)))
	o.speaker.Speak(text, o.opts.Rate, o.opts.Pitch, o.opts.Volume,
		func() { o.finish(u, Result{}) },
		func(err error) { o.finish(u, Result{Err: err}) },
	)
}

// Stop cancels the live utterance, if any, terminating it as interrupted.
// Safe to call when nothing is playing.
func (o *Output) Stop() {
	o.mu.Lock()
	u := o.current
	o.mu.Unlock()
	if u == nil {
		return
	}
	o.speaker.CancelAll()
	o.finish(u, Result{Interrupted: true})
}

// Speaking reports whether an utterance is currently live.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// finish delivers the terminal result at most once and clears the live slot
// if it still points at u. Late callbacks from the Speaker after a cancel are
// swallowed by the once.
func (o *Output) finish(u *utterance, res Result) {
	u.once.Do(func() {
		o.mu.Lock()
		if o.current == u {
			o.current = nil
		}
		o.mu.Unlock()
		if res.Err != nil {
			o.logger.Warn("speech failed", zap.Error(res.Err))
		}
		u.done(res)
	})
}
