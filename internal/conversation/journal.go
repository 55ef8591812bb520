package conversation

import (
	"sync"
	"time"
)

// Turn is one completed exchange: what was heard and what the agent said.
type Turn struct {
	At        time.Time
	SessionID string
	Mode      BotMode
	Utterance string
	Reply     string
}

// Journal keeps the most recent turns in memory for display only. Nothing
// is persisted and turns are never fed back to the agent.
type Journal struct {
	mu      sync.RWMutex
	turns   []Turn
	maxSize int
	eventCh chan Turn
}

// NewJournal creates a journal holding up to maxTurns turns. Turn events are
// buffered up to eventBuffer and dropped when no one is reading.
func NewJournal(maxTurns, eventBuffer int) *Journal {
	return &Journal{
		turns:   make([]Turn, 0, maxTurns),
		maxSize: maxTurns,
		eventCh: make(chan Turn, eventBuffer),
	}
}

// Add records a turn and emits it (non-blocking).
func (j *Journal) Add(t Turn) {
	j.mu.Lock()
	j.turns = append(j.turns, t)
	if len(j.turns) > j.maxSize {
		j.turns = j.turns[len(j.turns)-j.maxSize:]
	}
	j.mu.Unlock()

	select {
	case j.eventCh <- t:
	default:
	}
}

// Recent returns up to n of the newest turns, oldest first.
func (j *Journal) Recent(n int) []Turn {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n <= 0 || n > len(j.turns) {
		n = len(j.turns)
	}
	out := make([]Turn, n)
	copy(out, j.turns[len(j.turns)-n:])
	return out
}

// Events returns the channel of newly added turns.
func (j *Journal) Events() <-chan Turn {
	return j.eventCh
}
