package timing

import (
	"testing"
	"time"
)

// fakeClock advances by step on every reading.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestTimerMark(t *testing.T) {
	timer := newTimer(fakeClock(10 * time.Millisecond))

	timer.Mark("open_store")
	timer.Mark("reconcile")

	phases := timer.Phases()
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}
	for i, want := range []string{"open_store", "reconcile"} {
		if phases[i].Name != want {
			t.Errorf("phase %d: expected %s, got %s", i, want, phases[i].Name)
		}
		if phases[i].Duration != 10*time.Millisecond {
			t.Errorf("phase %d: expected 10ms, got %v", i, phases[i].Duration)
		}
	}
}

func TestTimerTotal(t *testing.T) {
	timer := newTimer(fakeClock(5 * time.Millisecond))
	timer.Mark("a")

	// start, mark, then this reading: two steps.
	if total := timer.Total(); total != 10*time.Millisecond {
		t.Errorf("expected 10ms total, got %v", total)
	}
}

func TestTimerFields(t *testing.T) {
	timer := newTimer(fakeClock(time.Millisecond))
	timer.Mark("a")
	timer.Mark("b")

	fields := timer.Fields()
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Key != "a" || fields[1].Key != "b" || fields[2].Key != "total" {
		t.Errorf("unexpected keys: %s %s %s", fields[0].Key, fields[1].Key, fields[2].Key)
	}
}

func TestRealClock(t *testing.T) {
	timer := New()
	time.Sleep(5 * time.Millisecond)
	timer.Mark("sleep")

	if d := timer.Phases()[0].Duration; d < 5*time.Millisecond {
		t.Errorf("phase duration too short: %v", d)
	}
}
