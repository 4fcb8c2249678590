package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/utils"
)

// Session is one open edit of one item: the engine's surface to its host.
// It owns exactly one snapshot, one pending-state tracker and one
// cancellation registry; all three are created at begin-edit and
// discarded at close.
type Session struct {
	ID     string
	itemID string

	engine    *Engine
	tracker   *Tracker
	snapshots *SnapshotStore
	canceller *Canceller
	notifier  Notifier

	mu               sync.Mutex
	item             *models.Item // optimistic local copy the host renders
	primaryImagePath string
	nextSelection    int
	saving           bool
	closed           bool

	// confirmedOrder is the last asset order the store confirmed. Only
	// fully successful position syncs and server responses update it; a
	// partially failed reorder leaves it untouched so a retry re-issues
	// the writes instead of skipping them.
	confirmedOrder []string
}

func newSession(e *Engine, item *models.Item) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		itemID:         item.ID,
		engine:         e,
		snapshots:      NewSnapshotStore(),
		canceller:      NewCanceller(),
		notifier:       e.notifier,
		item:           item.Clone(),
		confirmedOrder: item.AssetIDs(),
	}
	s.snapshots.Take(item)
	s.tracker = NewTracker(s.item, e.notifier)
	return s
}

// Item returns a copy of the session's current optimistic item.
func (s *Session) Item() *models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item.Clone()
}

// VisibleAssets returns the assets the host should render: working order
// with the deletion set filtered out.
func (s *Session) VisibleAssets() []models.Asset {
	return s.tracker.VisibleAssets()
}

// PendingCounts summarizes uncommitted intent for the host.
type PendingCounts struct {
	Selected          int
	MarkedForDeletion int
	NewFiles          int
	PrimaryPending    bool
}

// Pending reports the current pending counts.
func (s *Session) Pending() PendingCounts {
	s.mu.Lock()
	primary := s.primaryImagePath != ""
	s.mu.Unlock()
	return PendingCounts{
		Selected:          len(s.tracker.SelectedIDs()),
		MarkedForDeletion: len(s.tracker.DeletionSet()),
		NewFiles:          len(s.tracker.Previews()),
		PrimaryPending:    primary,
	}
}

// MarkSelected toggles one asset in the selection.
func (s *Session) MarkSelected(assetID string, selected bool) {
	s.tracker.MarkSelected(assetID, selected)
}

// MarkAllSelected toggles the whole visible selection.
func (s *Session) MarkAllSelected(selected bool) {
	s.tracker.MarkAllSelected(selected)
}

// MarkForDeletion marks the given asset ids for deletion on the next
// save and reports how many were accepted.
func (s *Session) MarkForDeletion(assetIDs []string) (accepted, dropped int) {
	return s.tracker.MarkForDeletion(assetIDs)
}

// SetWorkingOrder replaces the working asset order.
func (s *Session) SetWorkingOrder(assetIDs []string) error {
	return s.tracker.SetWorkingOrder(assetIDs)
}

// AddPreviewAssets registers locally selected files as upload candidates.
// Files are not read here; resolution failures surface per entry when the
// save pipeline runs. Returns how many were added.
func (s *Session) AddPreviewAssets(paths []string) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	start := s.nextSelection
	s.nextSelection += len(paths)
	s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, p := range s.tracker.Previews() {
		seen[p.Key] = struct{}{}
	}

	previews := make([]models.PreviewAsset, 0, len(paths))
	for i, path := range paths {
		preview := models.PreviewAsset{
			Path:           path,
			FileName:       filepath.Base(path),
			SelectionIndex: start + i,
		}
		if info, err := os.Stat(path); err == nil {
			preview.Size = info.Size()
			preview.ModTime = info.ModTime()
		}
		preview.Key = utils.FileIdentityKey(preview.FileName, preview.Size, preview.ModTime)
		// Same name+size+mtime can legitimately appear twice in one
		// selection; disambiguate with the selection index.
		if _, dup := seen[preview.Key]; dup {
			preview.Key = fmt.Sprintf("%s-%d", preview.Key, preview.SelectionIndex)
		}
		seen[preview.Key] = struct{}{}
		previews = append(previews, preview)
	}

	s.tracker.AddPreviews(previews)
	return len(previews), nil
}

// SetPrimaryImage stages a replacement primary image file, uploaded on
// the next save. Pass "" to drop the pending replacement.
func (s *Session) SetPrimaryImage(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primaryImagePath = path
}

// Saving reports whether a save is currently outstanding.
func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// Close abandons the edit: every outstanding token is cancelled
// immediately and the snapshot and pending state are discarded.
// Idempotent; also invoked internally when a save commits.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.canceller.CancelAll()
	s.snapshots.Discard()
	s.engine.release(s)
}

// replaceItem swaps in a fresh authoritative item and resets all pending
// state against it. Used by commit refresh and conflict resync.
func (s *Session) replaceItem(item *models.Item) {
	s.mu.Lock()
	s.item = item.Clone()
	s.confirmedOrder = item.AssetIDs()
	s.mu.Unlock()
	s.snapshots.Refresh(item)
	s.tracker.Reset(s.item)
}

// confirmedIDs returns a copy of the last store-confirmed asset order.
func (s *Session) confirmedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.confirmedOrder...)
}

func (s *Session) setConfirmedOrder(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmedOrder = append([]string(nil), ids...)
}
