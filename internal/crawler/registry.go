package crawler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry tracks active crawl sessions and enforces the global concurrency
// ceiling. No method blocks; callers reject or retry externally.
type Registry struct {
	mu      sync.Mutex
	active  map[uuid.UUID]time.Time
	ceiling int
	clock   Clock
	logger  *zap.Logger
}

// NewRegistry constructs a Registry with the given concurrency ceiling.
func NewRegistry(ceiling int, clock Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		active:  make(map[uuid.UUID]time.Time),
		ceiling: ceiling,
		clock:   clock,
		logger:  logger,
	}
}

// CanStart reports whether a new session may start. When the ceiling is
// reached the reason names the oldest active session.
func (r *Registry) CanStart() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) < r.ceiling {
		return true, ""
	}
	var oldestID uuid.UUID
	var oldest time.Time
	for id, started := range r.active {
		if oldest.IsZero() || started.Before(oldest) {
			oldest = started
			oldestID = id
		}
	}
	return false, fmt.Sprintf(
		"maximum concurrent crawls (%d) reached; oldest active crawl: %s",
		r.ceiling, oldestID,
	)
}

// Register records a session as active. Registering an already-active
// session refreshes nothing and is harmless.
func (r *Registry) Register(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		r.active[id] = r.clock.Now()
	}
	r.logger.Info("registered active crawl",
		zap.String("session_id", id.String()),
		zap.Int("active", len(r.active)),
		zap.Int("ceiling", r.ceiling),
	)
}

// Unregister removes a session. It is idempotent and must run on every
// session exit path.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return
	}
	delete(r.active, id)
	r.logger.Info("unregistered active crawl",
		zap.String("session_id", id.String()),
		zap.Int("active", len(r.active)),
		zap.Int("ceiling", r.ceiling),
	)
}

// ActiveCount returns the number of sessions currently registered.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
