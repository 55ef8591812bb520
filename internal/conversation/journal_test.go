package conversation

import (
	"fmt"
	"testing"
)

func TestJournalBounded(t *testing.T) {
	j := NewJournal(3, 10)
	for i := 0; i < 5; i++ {
		j.Add(Turn{Utterance: fmt.Sprintf("u%d", i), Reply: "r"})
	}

	all := j.Recent(0)
	if len(all) != 3 {
		t.Fatalf("Recent(0) length = %d, want 3", len(all))
	}
	if all[0].Utterance != "u2" || all[2].Utterance != "u4" {
		t.Errorf("Recent(0) = %v, want u2..u4", all)
	}
	last := j.Recent(1)
	if len(last) != 1 || last[0].Utterance != "u4" {
		t.Errorf("Recent(1) = %v, want [u4]", last)
	}
}

func TestJournalEventsNonBlocking(t *testing.T) {
	j := NewJournal(10, 1)
	j.Add(Turn{Utterance: "first"})
	j.Add(Turn{Utterance: "second"})

	got := <-j.Events()
	if got.Utterance != "first" {
		t.Errorf("event = %q, want first", got.Utterance)
	}
	select {
	case ev := <-j.Events():
		t.Errorf("unexpected event %q, full buffer should drop", ev.Utterance)
	default:
	}
	if len(j.Recent(0)) != 2 {
		t.Error("dropped events must still be recorded")
	}
}
