package tts

import (
	"sync/atomic"
	"testing"
	"time"
)

// Smoke test without an API key; the terminal callback should fire quickly.
func TestDeepgramSpeaker_NoKey(t *testing.T) {
	d := NewDeepgramSpeaker("", "", nil, nil)
	if d.Supported() {
		t.Fatalf("speaker without a key must report unsupported")
	}

	var ends, errs int32
	d.Speak("hello", 1, 1, 1,
		func() { atomic.AddInt32(&ends, 1) },
		func(error) { atomic.AddInt32(&errs, 1) },
	)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&ends)+atomic.LoadInt32(&errs) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&errs) != 1 || atomic.LoadInt32(&ends) != 0 {
		t.Fatalf("expected exactly one error callback, got ends=%d errs=%d", ends, errs)
	}
}

func TestDeepgramSpeaker_CancelAllIdle(t *testing.T) {
	sink := &countingSink{}
	d := NewDeepgramSpeaker("", "", sink, nil)
	d.CancelAll()
	d.CancelAll()
	if atomic.LoadInt32(&sink.resets) != 2 {
		t.Fatalf("cancel must always flush the sink, got %d resets", sink.resets)
	}
}

type countingSink struct {
	writes int32
	resets int32
}

func (s *countingSink) WritePCM([]byte) { atomic.AddInt32(&s.writes, 1) }
func (s *countingSink) Reset()          { atomic.AddInt32(&s.resets, 1) }
