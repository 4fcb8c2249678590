package engine

import (
	"sync"

	"github.com/openexhibit/curator/internal/models"
)

// SnapshotStore holds the one known-good copy of the item for rollback.
// Taken at begin-edit, refreshed after every confirmed commit so a later
// restore does not undo already-durable work, discarded at close.
type SnapshotStore struct {
	mu       sync.Mutex
	snapshot *models.Item
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Take stores a deep copy of the item. The copy is field-wise, so it
// cannot partially fail the way a serialize-and-parse clone could.
func (s *SnapshotStore) Take(item *models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = item.Clone()
}

// Refresh replaces the stored snapshot after a confirmed commit.
func (s *SnapshotStore) Refresh(item *models.Item) {
	s.Take(item)
}

// Restore returns a copy of the last snapshot, or nil when none was
// taken. The stored snapshot itself is never handed out, so caller
// mutations cannot dirty it.
func (s *SnapshotStore) Restore() *models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// Discard drops the snapshot at session close.
func (s *SnapshotStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
}
