package mcp

import (
	"testing"

	"go.uber.org/zap"
)

func TestOpenSupersedesPreviousSession(t *testing.T) {
	m := NewSessionManager(true, zap.NewNop())

	first := m.Open()
	second := m.Open()

	if first.ID() == second.ID() {
		t.Fatalf("session ids collided: %s", first.ID())
	}
	select {
	case <-first.Done():
	default:
		t.Fatal("first session should be closed after supersession")
	}
	if got := m.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	latest, ok := m.Latest()
	if !ok || latest.ID() != second.ID() {
		t.Fatalf("Latest() = %v, want session %s", latest, second.ID())
	}
	if err := first.Send("message", "late"); err != ErrTransportClosed {
		t.Fatalf("Send on superseded session = %v, want ErrTransportClosed", err)
	}
}

func TestMultiSessionModeKeepsPriorSessions(t *testing.T) {
	m := NewSessionManager(false, zap.NewNop())

	first := m.Open()
	m.Open()

	select {
	case <-first.Done():
		t.Fatal("first session closed in multi mode")
	default:
	}
	if got := m.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
}

func TestSendAfterClose(t *testing.T) {
	m := NewSessionManager(true, zap.NewNop())
	s := m.Open()
	m.Close(s.ID())

	if err := s.Send("message", "x"); err != ErrTransportClosed {
		t.Fatalf("Send = %v, want ErrTransportClosed", err)
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Fatal("closed session still registered")
	}
	if _, ok := m.Latest(); ok {
		t.Fatal("Latest() should report no session after close")
	}
}

func TestSendFullBuffer(t *testing.T) {
	m := NewSessionManager(true, zap.NewNop())
	s := m.Open()

	var err error
	for i := 0; i <= sessionBuffer; i++ {
		err = s.Send("message", "fill")
	}
	if err != ErrTransportClosed {
		t.Fatalf("Send past buffer = %v, want ErrTransportClosed", err)
	}
}

func TestSessionStateOnlyAdvances(t *testing.T) {
	m := NewSessionManager(true, zap.NewNop())
	s := m.Open()

	if got := s.State(); got != StateConnected {
		t.Fatalf("initial state = %v, want StateConnected", got)
	}
	s.setState(StateReady)
	s.setState(StateInitialized)
	if got := s.State(); got != StateReady {
		t.Fatalf("state regressed to %v", got)
	}
}
