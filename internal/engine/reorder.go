package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Reorderer pushes a sequence-position assignment to the store: every
// asset's position becomes its index in the submitted order. Position
// writes are commutative and independent, so they are issued concurrently
// and collected; one failed sibling never aborts the others.
type Reorderer struct {
	store Store
}

func newReorderer(st Store) *Reorderer {
	return &Reorderer{store: st}
}

// ReorderResult reports one synchronization pass.
type ReorderResult struct {
	Skipped   bool
	Updated   int
	Failed    int
	FailedIDs []string
}

// OK reports whether the pass left the remote order fully synced.
func (r *ReorderResult) OK() bool {
	return r.Failed == 0
}

// Sync applies the given order. The whole step is skipped as a success
// when the order matches lastConfirmed or the list is empty. The only
// error return is a cancellation.
func (r *Reorderer) Sync(ctx context.Context, itemID string, order, lastConfirmed []string) (*ReorderResult, error) {
	if len(order) == 0 || sameOrder(order, lastConfirmed) {
		return &ReorderResult{Skipped: true}, nil
	}

	errs := make([]error, len(order))
	var wg sync.WaitGroup
	for i, assetID := range order {
		wg.Add(1)
		go func(position int, assetID string) {
			defer wg.Done()
			errs[position] = r.store.PatchAssetPosition(ctx, itemID, assetID, position)
		}(i, assetID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ReorderResult{}
	for i, err := range errs {
		if err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, order[i])
			slog.Warn("Position update failed", "item_id", itemID, "asset_id", order[i], "position", i, "error", err)
			continue
		}
		result.Updated++
	}

	slog.Info("Reorder synchronized", "item_id", itemID, "updated", result.Updated, "failed", result.Failed)
	return result, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
