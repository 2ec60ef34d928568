package transcript

import "testing"

func TestService_UnsupportedWithoutKey(t *testing.T) {
	s := NewService("", "", nil)
	if s.Supported() {
		t.Fatalf("service without a key must report unsupported")
	}
	if err := s.Start(true, "en-US"); err == nil {
		t.Fatalf("start without a key must fail")
	}
}

func TestService_StopIdleIsNoop(t *testing.T) {
	s := NewService("key", "", nil)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop with no stream must be a no-op, got %v", err)
	}
}

func TestService_SendBeforeStartFails(t *testing.T) {
	s := NewService("key", "", nil)
	if err := s.SendPCM16KLE([]byte{0, 0}); err == nil {
		t.Fatalf("sending audio before start must fail")
	}
}
