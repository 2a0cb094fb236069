package agent

import (
	"testing"
	"time"
)

func TestBusSequenceMonotonic(t *testing.T) {
	bus := NewBus()
	var seqs []uint64
	bus.OnAll(func(ev Event) { seqs = append(seqs, ev.Seq) })

	for i := 0; i < 5; i++ {
		bus.Emit(Event{Kind: EventStepStart})
	}

	if len(seqs) != 5 {
		t.Fatalf("delivered = %d, want 5", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("seq %d = %d, not greater than %d", i, seqs[i], seqs[i-1])
		}
	}
}

func TestBusKindSubscription(t *testing.T) {
	bus := NewBus()
	var kinds []EventKind
	bus.On(EventToolResult, func(ev Event) { kinds = append(kinds, ev.Kind) })

	bus.Emit(Event{Kind: EventStepStart})
	bus.Emit(Event{Kind: EventToolResult})
	bus.Emit(Event{Kind: EventRunEnd})

	if len(kinds) != 1 || kinds[0] != EventToolResult {
		t.Errorf("kind handler saw %v, want [tool_result]", kinds)
	}
}

func TestBusPanickingHandlerIsolated(t *testing.T) {
	bus := NewBus()
	bus.OnAll(func(Event) { panic("bad subscriber") })
	delivered := false
	bus.OnAll(func(Event) { delivered = true })

	bus.Emit(Event{Kind: EventRunStart})

	if !delivered {
		t.Errorf("second handler not reached after first panicked")
	}
}

func TestBusTimestamps(t *testing.T) {
	bus := NewBus()
	fixed := time.UnixMilli(1_700_000_000_000)
	bus.now = func() time.Time { return fixed }

	ev := bus.Emit(Event{Kind: EventRunStart})

	if ev.TimestampMS != fixed.UnixMilli() {
		t.Errorf("TimestampMS = %d, want %d", ev.TimestampMS, fixed.UnixMilli())
	}
}
