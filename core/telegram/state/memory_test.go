package state

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestMemoryManagerTransitions(t *testing.T) {
	const step = State("awaiting_reason")
	m := NewMemoryManager()

	if m.HasState(1) || m.InProgress(1) {
		t.Fatal("fresh manager must report idle")
	}
	if got := m.GetState(1); got != StateIdle {
		t.Fatalf("state = %q", got)
	}

	if err := m.SetState(1, step); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !m.InProgress(1) {
		t.Fatal("expected in-progress after set")
	}
	if got := m.GetState(1); got != step {
		t.Fatalf("state = %q", got)
	}
	if m.InProgress(2) {
		t.Fatal("state must be per user")
	}

	if err := m.ClearState(1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if m.HasState(1) {
		t.Fatal("expected idle after clear")
	}
}

func TestHandlerRegistration(t *testing.T) {
	const step = State("test_step")

	RegisterHandler(step, nil)
	if _, ok := Handler(step); ok {
		t.Fatal("nil handlers must not register")
	}

	RegisterHandler(step, func(c tele.Context) error { return nil })
	if _, ok := Handler(step); !ok {
		t.Fatal("handler lookup failed")
	}
}
