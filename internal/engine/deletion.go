package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openexhibit/curator/internal/models"
)

// Deleter submits the deletion set as one batch request and interprets
// the server's deleted-vs-attempted counts. Attempted is the honest
// baseline: ids marked in the session may have been removed by another
// path before the request went out.
type Deleter struct {
	store    Store
	notifier Notifier
}

func newDeleter(st Store, notifier Notifier) *Deleter {
	return &Deleter{store: st, notifier: notifier}
}

// DeleteOutcome reports one batch deletion.
type DeleteOutcome struct {
	Skipped   bool
	Requested int // ids marked in the session
	Attempted int // ids the server tried to delete
	Deleted   int // ids the server confirms removed

	// RemovedIDs are the ids to drop from local state. On partial
	// success this is every attempted id: aggregate counts cannot name
	// the survivors, and the server will not re-surface attempted ids,
	// so local state follows the server optimistically and the
	// shortfall is reported as a warning instead.
	RemovedIDs []string
}

// OK reports whether the deletion fully succeeded (or was unnecessary).
func (o *DeleteOutcome) OK() bool {
	return o.Skipped || (o.Deleted == o.Attempted && o.Attempted > 0)
}

// Run re-validates the marked ids against the live item and issues one
// batch delete. The only error return is a cancellation; total failure
// comes back as an outcome with zero removed ids so the deletion set can
// be retained for a retry.
func (d *Deleter) Run(ctx context.Context, item *models.Item, markedIDs []string) (*DeleteOutcome, error) {
	outcome := &DeleteOutcome{Requested: len(markedIDs)}

	// The set may have gone stale since marking; ids the item no longer
	// carries are dropped here rather than sent.
	valid := make([]string, 0, len(markedIDs))
	for _, id := range markedIDs {
		if item.HasAsset(id) {
			valid = append(valid, id)
		}
	}
	if stale := len(markedIDs) - len(valid); stale > 0 {
		slog.Debug("Dropped stale deletion ids", "item_id", item.ID, "stale", stale)
	}
	if len(valid) == 0 {
		outcome.Skipped = true
		return outcome, nil
	}

	result, err := d.store.DeleteAssets(ctx, item.ID, valid)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		slog.Error("Batch delete request failed", "item_id", item.ID, "requested", len(valid), "error", err)
		d.notifier.Error(fmt.Sprintf("Could not delete %d photo(s); they remain unchanged", len(valid)))
		return outcome, nil
	}

	outcome.Attempted = result.Attempted
	outcome.Deleted = result.Deleted

	switch {
	case result.Deleted == 0:
		// Total failure: local state untouched, set retained for retry.
		d.notifier.Error(fmt.Sprintf("None of the %d photo(s) could be deleted", result.Attempted))
	case result.Deleted == result.Attempted:
		outcome.RemovedIDs = valid
		d.notifier.Info(fmt.Sprintf("Deleted %d photo(s)", result.Deleted))
	default:
		outcome.RemovedIDs = valid
		shortfall := result.Attempted - result.Deleted
		d.notifier.Warn(fmt.Sprintf("Deleted %d of %d photo(s); %d may still exist on the server - refresh if the list looks wrong", result.Deleted, result.Attempted, shortfall))
	}

	return outcome, nil
}
