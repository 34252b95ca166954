// Package relay correlates messages forwarded into the manager chat with
// the users they originated from.
//
// An entry exists iff exactly one manager reply is awaited for that
// forwarded message. Consume is an atomic test-and-delete, so a duplicated
// reply event can deliver to the user at most once.
package relay

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	userID    int64
	createdAt time.Time
}

// Table is the reply correlation table. Keys are the platform-assigned IDs
// of messages sent into the manager chat.
type Table struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[int64]entry
}

// NewTable creates a Table whose entries expire after ttl (non-positive ttl
// disables expiry).
func NewTable(log *slog.Logger, ttl time.Duration) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		logger:  log.With(slog.String("component", "relay")),
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[int64]entry),
	}
}

// Record registers that messageID awaits exactly one manager reply on
// behalf of userID. Message IDs are unique by construction of the
// transport; a collision would be an internal consistency fault and is
// logged before the old entry is overwritten.
func (t *Table) Record(messageID, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.pending[messageID]; ok {
		t.logger.Error("relay id collision",
			slog.Int64("message_id", messageID),
			slog.Int64("old_user_id", old.userID),
			slog.Int64("new_user_id", userID),
		)
	}
	t.pending[messageID] = entry{userID: userID, createdAt: t.now()}
}

// Consume atomically looks up and removes the entry for messageID. The
// second return is false when no live entry exists: the reply targets an
// untracked message, an already-consumed relay, or one recorded before a
// restart.
func (t *Table) Consume(messageID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[messageID]
	if !ok {
		return 0, false
	}
	delete(t.pending, messageID)
	return e.userID, true
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Sweep drops entries older than the table's TTL and returns how many were
// removed. A relay that old will never get a reply the user still expects;
// without the sweep the table grows for the process lifetime.
func (t *Table) Sweep() int {
	if t.ttl <= 0 {
		return 0
	}
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.pending {
		if e.createdAt.Before(cutoff) {
			delete(t.pending, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Info("expired relays swept",
			slog.Int("removed", removed),
			slog.Int("remaining", len(t.pending)),
		)
	}
	return removed
}
