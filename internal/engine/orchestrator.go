package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/store"
)

const (
	maxTitleLen       = 500
	maxDescriptionLen = 10000
)

// Form is the submitted attribute snapshot a save diffs against the live
// item. Empty strings clear the corresponding field; nil dates clear the
// date.
type Form struct {
	Title       string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	PublishedAt *time.Time
}

// SaveReport tells the host what one save did and, when the session
// stays open, exactly which sub-steps need retrying.
type SaveReport struct {
	SessionID string
	ItemID    string

	NothingToSave bool
	Closed        bool
	Conflict      bool

	Deletion   *DeleteOutcome
	Uploads    *PipelineResult
	Reorder    *ReorderResult
	Attributes StepStatus

	// RetrySteps names the sub-steps that failed; empty when Closed.
	RetrySteps []string
	Duration   time.Duration
}

// StepStatus is the outcome of one orchestrator step.
type StepStatus string

const (
	StepSkipped StepStatus = "skipped"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
)

// Save runs the commit sequence: diff, delete, upload, reorder, patch,
// reconcile. Partial failures keep the session open with the snapshot
// intact; a conflict forces a resync; an unexpected failure restores the
// snapshot. Cancellation unwinds silently with a context error.
//
// A second Save while one is outstanding is refused with
// ErrSaveInProgress and issues no new tokens.
func (s *Session) Save(ctx context.Context, form Form) (report *SaveReport, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.saving {
		s.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	s.saving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	if err := validateForm(form); err != nil {
		return nil, err
	}

	// Every step below reads from this captured state, never from the
	// session's mutable fields, so a value cannot change underneath a
	// step mid-flight.
	s.mu.Lock()
	captured := s.item.Clone()
	primaryPath := s.primaryImagePath
	s.mu.Unlock()
	deletionSet := s.tracker.DeletionSet()
	previews := s.tracker.Previews()

	report = &SaveReport{
		SessionID:  s.ID,
		ItemID:     s.itemID,
		Attributes: StepSkipped,
	}
	started := time.Now()
	defer func() {
		// An unexpected panic anywhere in the sequence becomes the
		// fatal rollback path rather than tearing down the host.
		if r := recover(); r != nil {
			report, err = nil, s.fail(fmt.Errorf("unexpected failure: %v", r))
		}
		if report != nil {
			report.Duration = time.Since(started)
		}
	}()

	delta := computeDelta(captured, form)
	orderChanged := orderDiffers(s.tracker.WorkingOrder(), s.confirmedIDs(), deletionSet)

	if delta.IsEmpty() && len(deletionSet) == 0 && !orderChanged && len(previews) == 0 && primaryPath == "" {
		s.notifier.Info("Nothing to save")
		report.NothingToSave = true
		report.Closed = true
		s.Close()
		return report, nil
	}

	tokenCtx, done := s.canceller.Begin(ctx)
	defer done()

	dirty := false

	// Deleting. Runs to completion before any reorder math: deleted ids
	// must not occupy position slots. Failure here downgrades the close
	// decision instead of halting the sequence.
	if len(deletionSet) > 0 {
		outcome, derr := s.engine.deleter.Run(tokenCtx, captured, deletionSet)
		if derr != nil {
			return nil, derr
		}
		report.Deletion = outcome
		if len(outcome.RemovedIDs) > 0 {
			s.applyRemovals(outcome.RemovedIDs)
			dirty = true
		}
	}

	// Uploading and attaching new photos.
	if len(previews) > 0 {
		result, perr := s.engine.pipeline.Run(tokenCtx, s.itemID, previews)
		if perr != nil {
			return nil, perr
		}
		report.Uploads = result
		if len(result.Attached) > 0 {
			s.applyAttached(result.Attached)
			dirty = true
		}
		s.tracker.RetainPreviews(result.FailedKeys())
	}

	// Replacement primary image rides along with the attribute patch.
	primaryFailed := false
	if primaryPath != "" {
		assetID, uerr := s.uploadPrimary(tokenCtx, primaryPath)
		if uerr != nil {
			if isCancellation(uerr) {
				return nil, uerr
			}
			primaryFailed = true
			s.notifier.Warn(fmt.Sprintf("New primary image could not be uploaded: %v", uerr))
		} else {
			delta.PrimaryImageID = &assetID
		}
	}

	// Reordering, re-checked against current state: deletion alone can
	// remove the need to reorder. The skip comparison runs against the
	// last confirmed order, so a previously failed sync is re-issued.
	order := s.tracker.WorkingOrder()
	confirmed := restrictOrder(s.confirmedIDs(), order)
	reorder, rerr := s.engine.reorderer.Sync(tokenCtx, s.itemID, order, confirmed)
	if rerr != nil {
		return nil, rerr
	}
	report.Reorder = reorder
	if !reorder.Skipped {
		s.applyOrder(order)
		if reorder.OK() {
			s.setConfirmedOrder(order)
			dirty = true
		} else {
			s.notifier.Warn(fmt.Sprintf("%d photo position(s) are not synced; the shown order is best-effort", reorder.Failed))
		}
	}

	// Patching attributes.
	if !delta.IsEmpty() {
		delta.Version = captured.Version
		updated, perr := s.engine.store.PatchItem(tokenCtx, s.itemID, delta)
		if cerr := tokenCtx.Err(); cerr != nil {
			return nil, cerr
		}
		switch {
		case perr == nil:
			report.Attributes = StepOK
			s.applyPatched(updated)
			if delta.PrimaryImageID != nil {
				s.SetPrimaryImage("")
			}
			dirty = true
		case IsConflict(perr):
			return s.resync(tokenCtx, report)
		default:
			report.Attributes = StepFailed
			s.notifier.Error(fmt.Sprintf("Changes to the record could not be saved: %v", perr))
		}
	}

	// Reconciling: close only when every step succeeded or was
	// unnecessary; otherwise stay open with the snapshot kept so the
	// user can retry exactly what failed.
	report.RetrySteps = failedSteps(report, primaryFailed)
	if len(report.RetrySteps) == 0 {
		report.Closed = true
		s.notifier.Info("All changes saved")
		slog.Info("Save committed", "session_id", s.ID, "item_id", s.itemID, "duration", time.Since(started))
		s.Close()
		return report, nil
	}

	if dirty {
		// Part of the work is durable; refresh the snapshot so a later
		// restore does not undo it.
		s.snapshots.Refresh(s.Item())
	}
	s.notifier.Warn("Some changes could not be saved: retry " + strings.Join(report.RetrySteps, ", "))
	slog.Warn("Save incomplete", "session_id", s.ID, "item_id", s.itemID, "retry", report.RetrySteps)
	return report, nil
}

// resync handles the conflict path: fetch the authoritative item, replace
// the local item and snapshot with it, clear pending state and tell the
// user their edits were superseded. The patch is never retried here.
func (s *Session) resync(ctx context.Context, report *SaveReport) (*SaveReport, error) {
	fresh, err := s.engine.store.GetItem(ctx, s.itemID)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, s.fail(fmt.Errorf("conflict resync failed: %w", err))
	}

	s.replaceItem(fresh)
	s.mu.Lock()
	s.primaryImagePath = ""
	s.mu.Unlock()

	report.Conflict = true
	report.Attributes = StepFailed
	s.notifier.Warn("This record was changed by someone else; your pending edits were superseded and the record has been reloaded")
	slog.Warn("Concurrent edit detected", "session_id", s.ID, "item_id", s.itemID)
	return report, nil
}

// fail is the fatal path: restore the snapshot, clear pending state and
// surface a blocking error.
func (s *Session) fail(cause error) error {
	restored := s.snapshots.Restore()
	if restored != nil {
		s.mu.Lock()
		s.item = restored
		s.confirmedOrder = restored.AssetIDs()
		s.primaryImagePath = ""
		s.mu.Unlock()
		s.tracker.Reset(s.item)
	}
	s.notifier.Error("Saving failed; your view was restored to the last saved state")
	slog.Error("Save failed, snapshot restored", "session_id", s.ID, "item_id", s.itemID, "error", cause)
	return &FatalError{Err: cause}
}

func (s *Session) uploadPrimary(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("file could not be read: %w", err)
	}
	processed, err := s.engine.pipeline.processor.Process(data)
	if err != nil {
		return "", fmt.Errorf("image could not be processed: %w", err)
	}
	asset, err := s.engine.store.UploadAsset(ctx, store.UploadFile{
		FileName:    filepath.Base(path),
		ContentType: "image/jpeg",
		Data:        processed.Data,
	})
	if err != nil {
		return "", err
	}
	return asset.ID, nil
}

// applyRemovals drops confirmed-deleted assets from the local item and
// clears the deletion set and selection.
func (s *Session) applyRemovals(removed []string) {
	gone := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}

	s.mu.Lock()
	kept := s.item.Assets[:0]
	for _, a := range s.item.Assets {
		if _, ok := gone[a.ID]; !ok {
			kept = append(kept, a)
		}
	}
	s.item.Assets = append([]models.Asset(nil), kept...)
	s.confirmedOrder = filterIDs(s.confirmedOrder, gone)
	item := s.item
	s.mu.Unlock()

	s.tracker.ClearDeletions()
	s.tracker.ClearSelection()
	s.tracker.syncOrderWithItem(item)
}

// applyAttached appends newly committed assets to the local item in
// selection order.
func (s *Session) applyAttached(attached []models.Asset) {
	s.mu.Lock()
	s.item.Assets = append(s.item.Assets, attached...)
	for _, a := range attached {
		s.confirmedOrder = append(s.confirmedOrder, a.ID)
	}
	item := s.item
	s.mu.Unlock()
	s.tracker.syncOrderWithItem(item)
}

// applyOrder rewrites local positions to match the submitted order.
func (s *Session) applyOrder(order []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]models.Asset, len(s.item.Assets))
	for _, a := range s.item.Assets {
		byID[a.ID] = a
	}
	assets := make([]models.Asset, 0, len(order))
	for i, id := range order {
		if a, ok := byID[id]; ok {
			a.Position = i
			assets = append(assets, a)
		}
	}
	s.item.Assets = assets
}

// applyPatched merges the server's post-patch item into local state,
// keeping the tracker's order view consistent.
func (s *Session) applyPatched(updated *models.Item) {
	if updated == nil {
		return
	}
	s.mu.Lock()
	s.item = updated.Clone()
	s.confirmedOrder = updated.AssetIDs()
	item := s.item
	s.mu.Unlock()
	s.tracker.syncOrderWithItem(item)
}

func validateForm(form Form) error {
	if len(form.Title) > maxTitleLen {
		return validationErrorf("title exceeds %d characters", maxTitleLen)
	}
	if len(form.Description) > maxDescriptionLen {
		return validationErrorf("description exceeds %d characters", maxDescriptionLen)
	}
	if form.StartDate != nil && form.EndDate != nil && form.EndDate.Before(*form.StartDate) {
		return validationErrorf("end date precedes start date")
	}
	return nil
}

// computeDelta builds the minimal attribute patch between the live item
// and the submitted form.
func computeDelta(item *models.Item, form Form) store.ItemPatch {
	var patch store.ItemPatch
	if form.Title != item.Title {
		patch.Title = strPtr(form.Title)
	}
	if form.Description != item.Description {
		patch.Description = strPtr(form.Description)
	}
	if !timePtrEqual(form.StartDate, item.StartDate) {
		patch.StartDate = form.StartDate
	}
	if !timePtrEqual(form.EndDate, item.EndDate) {
		patch.EndDate = form.EndDate
	}
	if !timePtrEqual(form.PublishedAt, item.PublishedAt) {
		patch.PublishedAt = form.PublishedAt
	}
	return patch
}

// orderDiffers compares the working order against the snapshot order,
// ignoring ids marked for deletion on both sides: comparing positions of
// assets about to disappear would be meaningless.
func orderDiffers(working, confirmed []string, deletionSet []string) bool {
	marked := make(map[string]struct{}, len(deletionSet))
	for _, id := range deletionSet {
		marked[id] = struct{}{}
	}
	return !sameOrder(filterIDs(working, marked), filterIDs(confirmed, marked))
}

// restrictOrder is the confirmed order restricted to ids that still
// exist in the submitted order.
func restrictOrder(confirmed, current []string) []string {
	present := make(map[string]struct{}, len(current))
	for _, id := range current {
		present[id] = struct{}{}
	}
	var out []string
	for _, id := range confirmed {
		if _, ok := present[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func failedSteps(report *SaveReport, primaryFailed bool) []string {
	var steps []string
	// A deletion is retryable only when the set was retained. After a
	// partial deletion the attempted ids are already removed locally, so
	// a "retry" would be an empty batch; the shortfall warning is the
	// whole remedy there.
	if report.Deletion != nil && !report.Deletion.OK() && len(report.Deletion.RemovedIDs) == 0 {
		steps = append(steps, "delete")
	}
	if report.Uploads != nil && len(report.Uploads.Failed) > 0 {
		steps = append(steps, "upload")
	}
	if report.Reorder != nil && !report.Reorder.Skipped && !report.Reorder.OK() {
		steps = append(steps, "reorder")
	}
	if report.Attributes == StepFailed || primaryFailed {
		steps = append(steps, "attributes")
	}
	return steps
}

func filterIDs(ids []string, drop map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
