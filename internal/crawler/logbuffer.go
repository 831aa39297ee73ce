package crawler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogEntry is one timestamped line of per-session crawl output.
type LogEntry struct {
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"msg"`
}

// LogBuffer keeps a bounded ring of log entries per session for live
// progress streaming. Oldest entries are dropped silently once the cap is
// reached.
type LogBuffer struct {
	mu    sync.Mutex
	cap   int
	logs  map[uuid.UUID][]LogEntry
	heads map[uuid.UUID]int // entries dropped so far, for stable offsets
	clock Clock
}

const defaultLogCap = 2000

// NewLogBuffer constructs a LogBuffer holding at most capPerSession entries
// per session.
func NewLogBuffer(capPerSession int, clock Clock) *LogBuffer {
	if capPerSession <= 0 {
		capPerSession = defaultLogCap
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &LogBuffer{
		cap:   capPerSession,
		logs:  make(map[uuid.UUID][]LogEntry),
		heads: make(map[uuid.UUID]int),
		clock: clock,
	}
}

// Append records a log line for the session.
func (b *LogBuffer) Append(id uuid.UUID, level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := append(b.logs[id], LogEntry{
		TS:      b.clock.Now(),
		Level:   level,
		Message: message,
	})
	if over := len(entries) - b.cap; over > 0 {
		entries = entries[over:]
		b.heads[id] += over
	}
	b.logs[id] = entries
}

// Since returns entries whose absolute sequence offset is >= since, plus the
// next offset to poll from. Offsets stay stable across ring trimming.
func (b *LogBuffer) Since(id uuid.UUID, since int) ([]LogEntry, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	head := b.heads[id]
	entries := b.logs[id]
	next := head + len(entries)
	if since < head {
		since = head
	}
	if since >= next {
		return nil, next
	}
	out := make([]LogEntry, next-since)
	copy(out, entries[since-head:])
	return out, next
}

// Clear drops all entries for a finished session.
func (b *LogBuffer) Clear(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.logs, id)
	delete(b.heads, id)
}
