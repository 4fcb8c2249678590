package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/store"
)

func TestSaveNothingToSave(t *testing.T) {
	eng, fake, notifier := newTestEngine(t, makeItem(2))
	session := beginSession(t, eng)

	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.NothingToSave || !report.Closed {
		t.Errorf("report = %+v, want nothing-to-save close", report)
	}

	// The short-circuit issues no network traffic at all.
	if len(fake.patched) != 0 || fake.deleteCalls != 0 || len(fake.uploadBatches) != 0 || len(fake.positionCalls) != 0 {
		t.Error("nothing-to-save save touched the store")
	}
	if len(notifier.infos) != 1 || notifier.infos[0] != "Nothing to save" {
		t.Errorf("infos = %v", notifier.infos)
	}

	// The session is gone; a second save is refused.
	if _, err := session.Save(context.Background(), formFor(session.Item())); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Save() after close = %v, want ErrSessionClosed", err)
	}
}

func TestSaveAttributesOnly(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(1))
	session := beginSession(t, eng)

	form := formFor(session.Item())
	form.Title = "Winter Exhibit"

	report, err := session.Save(context.Background(), form)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.Closed || report.Attributes != StepOK {
		t.Fatalf("report = %+v, want closed OK", report)
	}

	if len(fake.patched) != 1 {
		t.Fatalf("patched %d times, want 1", len(fake.patched))
	}
	patch := fake.patched[0]
	if patch.Title == nil || *patch.Title != "Winter Exhibit" {
		t.Errorf("patch title = %v", patch.Title)
	}
	if patch.Description != nil {
		t.Error("unchanged description was included in the patch")
	}
	// The captured version rides along so the server can detect races.
	if patch.Version != "v1" {
		t.Errorf("patch version = %q, want v1", patch.Version)
	}
}

func TestSaveDeletionFullSuccess(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(3))
	session := beginSession(t, eng)

	session.MarkForDeletion([]string{"a1"})
	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.Closed {
		t.Fatalf("report = %+v, want closed", report)
	}
	if fake.deleteCalls != 1 || len(fake.item.Assets) != 2 {
		t.Errorf("store has %d assets after delete, want 2", len(fake.item.Assets))
	}
}

func TestSavePartialDeletionRemovesAllAttempted(t *testing.T) {
	eng, fake, notifier := newTestEngine(t, makeItem(5))
	fake.deleteResult = &store.DeleteResult{Attempted: 5, Deleted: 3}
	session := beginSession(t, eng)

	session.MarkForDeletion([]string{"a0", "a1", "a2", "a3", "a4"})
	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// All five attempted ids disappear locally even though the server
	// only confirmed three; the shortfall surfaces as a warning. The save
	// still closes: the deletion set is spent, so a "delete" retry would
	// send an empty batch and can never recover the shortfall.
	if got := len(session.Item().Assets); got != 0 {
		t.Errorf("local item has %d assets, want 0", got)
	}
	if !report.Closed {
		t.Errorf("report = %+v, want closed", report)
	}
	if len(report.RetrySteps) != 0 {
		t.Errorf("RetrySteps = %v, want none", report.RetrySteps)
	}
	found := false
	for _, w := range notifier.warns {
		if strings.Contains(w, "Deleted 3 of 5") {
			found = true
		}
	}
	if !found {
		t.Errorf("no shortfall warning in %v", notifier.warns)
	}
}

func TestSaveDeletionTotalFailureRetainsSet(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(3))
	fake.deleteResult = &store.DeleteResult{Attempted: 2, Deleted: 0}
	session := beginSession(t, eng)

	session.MarkForDeletion([]string{"a0", "a2"})
	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if got := len(session.Item().Assets); got != 3 {
		t.Errorf("local item has %d assets, want all 3 untouched", got)
	}
	// The deletion set survives so a later save retries the same batch.
	if session.Pending().MarkedForDeletion != 2 {
		t.Errorf("pending deletions = %d, want 2", session.Pending().MarkedForDeletion)
	}
	if report.Closed || len(report.RetrySteps) != 1 || report.RetrySteps[0] != "delete" {
		t.Errorf("report = %+v, want open with [delete]", report)
	}
}

func TestSaveConflictResyncs(t *testing.T) {
	eng, fake, notifier := newTestEngine(t, makeItem(2))
	fake.patchErr = &store.APIError{StatusCode: 409, Code: "stale_version"}
	session := beginSession(t, eng)

	session.MarkSelected("a0", true)
	form := formFor(session.Item())
	form.Title = "Contested"

	report, err := session.Save(context.Background(), form)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if !report.Conflict || report.Attributes != StepFailed || report.Closed {
		t.Fatalf("report = %+v, want open conflict", report)
	}
	// The authoritative record was refetched and replaced the local one.
	if fake.getCalls != 2 {
		t.Errorf("getCalls = %d, want 2 (begin + resync)", fake.getCalls)
	}
	if title := session.Item().Title; title != "Autumn Exhibit" {
		t.Errorf("local title = %q, want server's %q", title, "Autumn Exhibit")
	}
	// Pending state was cleared by the resync, never retried.
	if session.Pending().Selected != 0 {
		t.Errorf("selection survived resync: %+v", session.Pending())
	}
	if len(fake.patched) != 0 {
		t.Error("patch was retried after the conflict")
	}
	found := false
	for _, w := range notifier.warns {
		if strings.Contains(w, "changed by someone else") {
			found = true
		}
	}
	if !found {
		t.Errorf("no supersession warning in %v", notifier.warns)
	}
}

// countdownGetStore fails GetItem after a number of successful calls.
type countdownGetStore struct {
	*fakeStore
	remaining int
	err       error
}

func (s *countdownGetStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	if s.remaining <= 0 {
		return nil, s.err
	}
	s.remaining--
	return s.fakeStore.GetItem(ctx, itemID)
}

func TestSaveConflictResyncFetchFailureIsFatal(t *testing.T) {
	fake := newFakeStore(makeItem(1))
	fake.patchErr = &store.APIError{StatusCode: 409}
	notifier := &recordingNotifier{}
	eng, err := New(Config{
		Store:    &countdownGetStore{fakeStore: fake, remaining: 1, err: errors.New("gateway timeout")},
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	session := beginSession(t, eng)

	form := formFor(session.Item())
	form.Title = "Contested"

	_, serr := session.Save(context.Background(), form)
	var fatal *FatalError
	if !errors.As(serr, &fatal) {
		t.Fatalf("Save() error = %v, want FatalError", serr)
	}
	// The snapshot was restored into the live item.
	if title := session.Item().Title; title != "Autumn Exhibit" {
		t.Errorf("local title = %q, want restored original", title)
	}
	if len(notifier.errors) != 1 {
		t.Errorf("errors = %v, want one restore notice", notifier.errors)
	}
}

func TestSaveWhileSaveOutstanding(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(2))
	fake.deleteStarted = make(chan struct{})
	fake.deleteBlock = make(chan struct{})
	session := beginSession(t, eng)

	session.MarkForDeletion([]string{"a0"})
	form := formFor(session.Item())

	firstDone := make(chan error, 1)
	go func() {
		_, err := session.Save(context.Background(), form)
		firstDone <- err
	}()

	<-fake.deleteStarted
	if _, err := session.Save(context.Background(), form); !errors.Is(err, ErrSaveInProgress) {
		t.Errorf("second Save() = %v, want ErrSaveInProgress", err)
	}

	close(fake.deleteBlock)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
}

func TestSaveCancelledByCloseIsSilent(t *testing.T) {
	eng, fake, notifier := newTestEngine(t, makeItem(2))
	fake.deleteStarted = make(chan struct{})
	fake.deleteBlock = make(chan struct{})
	session := beginSession(t, eng)

	session.MarkForDeletion([]string{"a0"})
	form := formFor(session.Item())

	done := make(chan error, 1)
	go func() {
		_, err := session.Save(context.Background(), form)
		done <- err
	}()

	<-fake.deleteStarted
	session.Close()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Save() error = %v, want context.Canceled", err)
	}
	// Cancellation is a user decision, not a failure; no notices.
	if notifier.count() != 0 {
		t.Errorf("cancellation produced notices: %+v", notifier)
	}
}

func TestSaveValidation(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)

	tests := []struct {
		name string
		form Form
	}{
		{"title too long", Form{Title: strings.Repeat("x", maxTitleLen+1)}},
		{"description too long", Form{Description: strings.Repeat("x", maxDescriptionLen+1)}},
		{"end before start", Form{StartDate: &start, EndDate: &end}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, fake, _ := newTestEngine(t, makeItem(1))
			session := beginSession(t, eng)

			_, err := session.Save(context.Background(), tt.form)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Save() error = %v, want ValidationError", err)
			}
			// Validation rejects before anything goes on the wire.
			if len(fake.patched) != 0 || fake.deleteCalls != 0 {
				t.Error("invalid form reached the store")
			}
			// The session survives a rejected form.
			if _, err := session.Save(context.Background(), formFor(session.Item())); err != nil {
				t.Errorf("follow-up Save() error: %v", err)
			}
		})
	}
}

func TestSaveReorderCommitsPositions(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(3))
	session := beginSession(t, eng)

	if err := session.SetWorkingOrder([]string{"a2", "a0", "a1"}); err != nil {
		t.Fatalf("SetWorkingOrder() error: %v", err)
	}

	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.Closed || report.Reorder == nil || report.Reorder.Updated != 3 {
		t.Fatalf("report = %+v, want closed with 3 updates", report)
	}
	for id, want := range map[string]int{"a2": 0, "a0": 1, "a1": 2} {
		for _, a := range fake.item.Assets {
			if a.ID == id && a.Position != want {
				t.Errorf("asset %s position = %d, want %d", id, a.Position, want)
			}
		}
	}
}

func TestSaveUploadsAndAttaches(t *testing.T) {
	dir := t.TempDir()
	eng, fake, _ := newTestEngine(t, makeItem(1))
	session := beginSession(t, eng)

	path := writeTestJPEG(t, dir, "new.jpg")
	if _, err := session.AddPreviewAssets([]string{path}); err != nil {
		t.Fatalf("AddPreviewAssets() error: %v", err)
	}

	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.Closed || report.Uploads == nil || len(report.Uploads.Attached) != 1 {
		t.Fatalf("report = %+v, want one attached asset", report)
	}
	if len(fake.item.Assets) != 2 {
		t.Errorf("store has %d assets, want 2", len(fake.item.Assets))
	}
}

func TestSaveFailedUploadKeepsPreviewForRetry(t *testing.T) {
	eng, _, _ := newTestEngine(t, makeItem(1))
	session := beginSession(t, eng)

	if _, err := session.AddPreviewAssets([]string{"/nonexistent/photo.jpg"}); err != nil {
		t.Fatalf("AddPreviewAssets() error: %v", err)
	}

	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if report.Closed {
		t.Error("save with a failed upload closed the session")
	}
	if len(report.RetrySteps) != 1 || report.RetrySteps[0] != "upload" {
		t.Errorf("RetrySteps = %v, want [upload]", report.RetrySteps)
	}
	// The failed preview stays staged so the next save retries it.
	if session.Pending().NewFiles != 1 {
		t.Errorf("pending files = %d, want 1", session.Pending().NewFiles)
	}
}

func TestSaveRetriesPartiallyFailedReorder(t *testing.T) {
	eng, fake, _ := newTestEngine(t, makeItem(3))
	fake.positionErrs["a0"] = errors.New("gateway timeout")
	session := beginSession(t, eng)

	// A sibling step succeeds in the same save, so the snapshot is
	// refreshed; the unconfirmed order must not ride along with it.
	form := formFor(session.Item())
	form.Title = "Renamed"
	if err := session.SetWorkingOrder([]string{"a2", "a0", "a1"}); err != nil {
		t.Fatalf("SetWorkingOrder() error: %v", err)
	}

	first, err := session.Save(context.Background(), form)
	if err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	if first.Closed {
		t.Fatal("save with a failed position write closed the session")
	}
	if len(first.RetrySteps) != 1 || first.RetrySteps[0] != "reorder" {
		t.Fatalf("RetrySteps = %v, want [reorder]", first.RetrySteps)
	}

	// The transient fault clears; re-invoking save must re-issue the
	// position writes instead of short-circuiting to nothing-to-save.
	fake.mu.Lock()
	delete(fake.positionErrs, "a0")
	fake.mu.Unlock()

	second, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("second Save() error: %v", err)
	}
	if second.NothingToSave {
		t.Fatal("retry skipped the unconfirmed order as nothing-to-save")
	}
	if !second.Closed {
		t.Fatalf("second report = %+v, want closed", second)
	}
	if got := fake.positionCalls["a0"]; got != 2 {
		t.Errorf("a0 position calls = %d, want 2 (initial + retry)", got)
	}

	// The remote order is fully synced afterwards, no shared positions.
	for id, want := range map[string]int{"a2": 0, "a0": 1, "a1": 2} {
		for _, a := range fake.item.Assets {
			if a.ID == id && a.Position != want {
				t.Errorf("asset %s position = %d, want %d", id, a.Position, want)
			}
		}
	}
}

func TestSavePrimaryImage(t *testing.T) {
	dir := t.TempDir()
	eng, fake, _ := newTestEngine(t, makeItem(1))
	session := beginSession(t, eng)

	session.SetPrimaryImage(writeTestJPEG(t, dir, "cover.jpg"))

	report, err := session.Save(context.Background(), formFor(session.Item()))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !report.Closed {
		t.Fatalf("report = %+v, want closed", report)
	}
	if fake.item.PrimaryImageID != "new-1" {
		t.Errorf("primary image id = %q, want new-1", fake.item.PrimaryImageID)
	}
}
