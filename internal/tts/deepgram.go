package tts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"go.uber.org/zap"
)

// AudioSink receives synthesized PCM for delivery to the widget.
// Implementations should buffer internally and pace delivery.
type AudioSink interface {
	WritePCM(pcm []byte)
	// Reset drops any queued frames immediately (used when speech is
	// interrupted).
	Reset()
}

// DeepgramSpeaker is the production Speaker capability on Deepgram's
// streaming speak API. Synthesized audio is 48 kHz linear16 PCM pushed to the
// sink; Speak's rate/pitch/volume parameters are baked into the voice model
// and therefore ignored here.
type DeepgramSpeaker struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	sink       AudioSink
	logger     *zap.Logger

	mu   sync.Mutex
	live *liveSynthesis
}

type liveSynthesis struct {
	cancel context.CancelFunc
}

// NewDeepgramSpeaker constructs the speaker. An empty API key makes the
// capability report unsupported.
func NewDeepgramSpeaker(apiKey, model string, sink AudioSink, logger *zap.Logger) *DeepgramSpeaker {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramSpeaker{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		sink:       sink,
		logger:     logger,
	}
}

// Supported reports whether synthesis is usable on this deployment.
func (d *DeepgramSpeaker) Supported() bool { return d.apiKey != "" }

// Speak synthesizes text asynchronously. Exactly one of onEnd/onErr is
// invoked when the utterance terminates; a cancelled utterance terminates
// through onEnd (the Output manager layers the interruption flag on top).
func (d *DeepgramSpeaker) Speak(text string, _, _, _ float64, onEnd func(), onErr func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &liveSynthesis{cancel: cancel}
	d.mu.Lock()
	if prior := d.live; prior != nil {
		prior.cancel()
	}
	d.live = l
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			if d.live == l {
				d.live = nil
			}
			d.mu.Unlock()
			cancel()
		}()
		if err := d.stream(ctx, text); err != nil && ctx.Err() == nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		if onEnd != nil {
			onEnd()
		}
	}()
}

// CancelAll stops the live synthesis, if any, and drops queued audio so the
// interruption feels instant. Safe to call when nothing is playing.
func (d *DeepgramSpeaker) CancelAll() {
	d.mu.Lock()
	l := d.live
	d.live = nil
	d.mu.Unlock()
	if l != nil {
		l.cancel()
	}
	d.sink.Reset()
}

// stream drives one synthesis over the speak websocket, writing PCM to the
// sink until the audio goes idle or the deadline passes.
func (d *DeepgramSpeaker) stream(ctx context.Context, text string) error {
	if d.apiKey == "" {
		return fmt.Errorf("tts: API key missing")
	}
	if text == "" {
		return nil
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		if ctx.Err() != nil {
			return nil
		}
		b := make([]byte, len(data))
		copy(b, data)
		d.sink.WritePCM(b)
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("tts: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("tts: connect failed")
	}

	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("tts: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.logger.Warn("tts flush", zap.Error(err))
	}

	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if !last.IsZero() && time.Since(last) > idleWindow {
					return nil
				}
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) Reset()            {}
