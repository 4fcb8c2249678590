package engine

import (
	"fmt"
	"sync"

	"github.com/openexhibit/curator/internal/models"
)

// Tracker records not-yet-committed user intent for one edit session:
// the selection, the deletion set, the working asset order and the
// locally selected preview assets. Marking an asset for deletion removes
// it from the selection and from the visible list without touching the
// committed item.
type Tracker struct {
	mu       sync.Mutex
	item     *models.Item
	selected map[string]struct{}
	toDelete map[string]struct{}
	// Full asset-id order including soon-to-be-deleted assets, so the
	// reorder math stays position-stable while deletions are pending.
	workingOrder []string
	previews     []models.PreviewAsset
	notifier     Notifier
}

// NewTracker creates a tracker for the given item.
func NewTracker(item *models.Item, notifier Notifier) *Tracker {
	t := &Tracker{notifier: notifier}
	t.Reset(item)
	return t
}

// Reset reinitializes all pending state against a fresh item, used after
// a successful commit or a forced resync.
func (t *Tracker) Reset(item *models.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.item = item
	t.selected = make(map[string]struct{})
	t.toDelete = make(map[string]struct{})
	t.workingOrder = item.AssetIDs()
	t.previews = nil
}

// MarkSelected adds or removes one asset from the selection. Selecting an
// id that is marked for deletion, or unknown to the item, is a no-op that
// surfaces a notice rather than an error.
func (t *Tracker) MarkSelected(id string, selected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !selected {
		delete(t.selected, id)
		return
	}
	if _, marked := t.toDelete[id]; marked {
		t.notifier.Info(fmt.Sprintf("Asset %s is marked for deletion and cannot be selected", id))
		return
	}
	if !t.item.HasAsset(id) {
		t.notifier.Info(fmt.Sprintf("Asset %s is no longer part of this item", id))
		return
	}
	t.selected[id] = struct{}{}
}

// MarkAllSelected selects or deselects every visible asset. Assets marked
// for deletion stay out of the selection.
func (t *Tracker) MarkAllSelected(selected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !selected {
		t.selected = make(map[string]struct{})
		return
	}
	for _, a := range t.item.Assets {
		if _, marked := t.toDelete[a.ID]; marked {
			continue
		}
		t.selected[a.ID] = struct{}{}
	}
}

// MarkForDeletion moves the given ids into the deletion set. Ids not
// present on the item are dropped, and the caller is told how many.
// Marked ids leave the selection immediately.
func (t *Tracker) MarkForDeletion(ids []string) (accepted, dropped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		if !t.item.HasAsset(id) {
			dropped++
			continue
		}
		if _, already := t.toDelete[id]; already {
			continue
		}
		t.toDelete[id] = struct{}{}
		delete(t.selected, id)
		accepted++
	}

	if dropped > 0 {
		t.notifier.Warn(fmt.Sprintf("%d asset(s) could not be marked for deletion (no longer present)", dropped))
	}
	return accepted, dropped
}

// SetWorkingOrder replaces the working asset order. Refused while the
// deletion set is non-empty, and when the given list is not a permutation
// of the item's current assets.
func (t *Tracker) SetWorkingOrder(ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.toDelete) > 0 {
		t.notifier.Warn("Apply or discard pending deletions before reordering")
		return ErrPendingDeletions
	}
	if len(ids) != len(t.item.Assets) {
		return validationErrorf("order lists %d assets, item has %d", len(ids), len(t.item.Assets))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !t.item.HasAsset(id) {
			return validationErrorf("order references unknown asset %s", id)
		}
		if _, dup := seen[id]; dup {
			return validationErrorf("order lists asset %s twice", id)
		}
		seen[id] = struct{}{}
	}

	t.workingOrder = append([]string(nil), ids...)
	return nil
}

// AddPreviews appends locally selected files to the pending selection.
func (t *Tracker) AddPreviews(previews []models.PreviewAsset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previews = append(t.previews, previews...)
}

// Previews returns a copy of the pending preview assets in selection order.
func (t *Tracker) Previews() []models.PreviewAsset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.PreviewAsset(nil), t.previews...)
}

// RetainPreviews keeps only the previews whose keys are listed, used to
// hold failed uploads for a retry while dropping committed ones.
func (t *Tracker) RetainPreviews(keys map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.previews[:0]
	for _, p := range t.previews {
		if _, ok := keys[p.Key]; ok {
			kept = append(kept, p)
		}
	}
	t.previews = append([]models.PreviewAsset(nil), kept...)
}

// DeletionSet returns the ids currently marked for deletion.
func (t *Tracker) DeletionSet() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.toDelete))
	for id := range t.toDelete {
		ids = append(ids, id)
	}
	return ids
}

// ClearDeletions empties the deletion set after a successful delete.
func (t *Tracker) ClearDeletions() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toDelete = make(map[string]struct{})
}

// SelectedIDs returns the current selection.
func (t *Tracker) SelectedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.selected))
	for id := range t.selected {
		ids = append(ids, id)
	}
	return ids
}

// ClearSelection empties the selection.
func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selected = make(map[string]struct{})
}

// WorkingOrder returns a copy of the full working order, including assets
// marked for deletion.
func (t *Tracker) WorkingOrder() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.workingOrder...)
}

// VisibleAssets returns the item's assets in working order with the
// deletion set filtered out; this is what the host renders.
func (t *Tracker) VisibleAssets() []models.Asset {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID := make(map[string]models.Asset, len(t.item.Assets))
	for _, a := range t.item.Assets {
		byID[a.ID] = a
	}

	visible := make([]models.Asset, 0, len(t.workingOrder))
	for _, id := range t.workingOrder {
		if _, marked := t.toDelete[id]; marked {
			continue
		}
		if a, ok := byID[id]; ok {
			visible = append(visible, a)
		}
	}
	return visible
}

// syncOrderWithItem drops ids that no longer exist on the item from the
// working order and appends newly attached assets at the end.
func (t *Tracker) syncOrderWithItem(item *models.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.item = item
	present := make(map[string]struct{}, len(item.Assets))
	for _, a := range item.Assets {
		present[a.ID] = struct{}{}
	}

	order := make([]string, 0, len(item.Assets))
	inOrder := make(map[string]struct{}, len(item.Assets))
	for _, id := range t.workingOrder {
		if _, ok := present[id]; ok {
			order = append(order, id)
			inOrder[id] = struct{}{}
		}
	}
	for _, a := range item.Assets {
		if _, ok := inOrder[a.ID]; !ok {
			order = append(order, a.ID)
		}
	}
	t.workingOrder = order
}
