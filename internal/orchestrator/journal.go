package orchestrator

import (
	"sync"
	"time"
)

// Event is one journal entry from the trading loop.
type Event struct {
	Time    time.Time
	Level   string // "info", "warn", "error"
	Pair    string
	Message string
}

const journalCapacity = 256

// Journal is a fixed-size ring of recent loop events, surfaced to the
// operator through the facade.
type Journal struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
	now    func() time.Time
}

func NewJournal() *Journal {
	return &Journal{
		events: make([]Event, journalCapacity),
		now:    time.Now,
	}
}

func (j *Journal) append(level, pair, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[j.next] = Event{
		Time:    j.now(),
		Level:   level,
		Pair:    pair,
		Message: message,
	}
	j.next++
	if j.next == len(j.events) {
		j.next = 0
		j.filled = true
	}
}

func (j *Journal) Info(pair, message string)  { j.append("info", pair, message) }
func (j *Journal) Warn(pair, message string)  { j.append("warn", pair, message) }
func (j *Journal) Error(pair, message string) { j.append("error", pair, message) }

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	size := j.next
	if j.filled {
		size = len(j.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (j.next - 1 - i + len(j.events)) % len(j.events)
		out = append(out, j.events[idx])
	}
	return out
}
