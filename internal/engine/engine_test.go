package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/openexhibit/curator/internal/images"
	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/store"
)

// fakeStore is an in-memory Store with configurable failures and call
// accounting, standing in for the collection API.
type fakeStore struct {
	mu sync.Mutex

	item *models.Item

	getCalls int

	patched  []store.ItemPatch
	patchErr error

	positionCalls map[string]int
	positionErrs  map[string]error

	deleteCalls   int
	deleteLastIDs []string
	deleteResult  *store.DeleteResult // nil derives full success
	deleteStarted chan struct{}       // closed-once signal, optional
	deleteBlock   chan struct{}       // received before returning, optional

	uploadBatches [][]store.UploadFile
	uploadErr     error
	nextAssetID   int

	attachErrs map[string]error
	attachedID []string
}

func newFakeStore(item *models.Item) *fakeStore {
	return &fakeStore{
		item:          item,
		positionCalls: make(map[string]int),
		positionErrs:  make(map[string]error),
		attachErrs:    make(map[string]error),
	}
}

func (f *fakeStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return f.item.Clone(), nil
}

func (f *fakeStore) PatchItem(ctx context.Context, itemID string, patch store.ItemPatch) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	f.patched = append(f.patched, patch)
	if patch.Title != nil {
		f.item.Title = *patch.Title
	}
	if patch.Description != nil {
		f.item.Description = *patch.Description
	}
	if patch.PrimaryImageID != nil {
		f.item.PrimaryImageID = *patch.PrimaryImageID
	}
	return f.item.Clone(), nil
}

func (f *fakeStore) UploadAsset(ctx context.Context, file store.UploadFile) (*store.UploadedAsset, error) {
	assets, err := f.UploadAssetBatch(ctx, []store.UploadFile{file})
	if err != nil {
		return nil, err
	}
	return &assets[0], nil
}

func (f *fakeStore) UploadAssetBatch(ctx context.Context, files []store.UploadFile) ([]store.UploadedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploadBatches = append(f.uploadBatches, files)
	assets := make([]store.UploadedAsset, len(files))
	for i := range files {
		f.nextAssetID++
		assets[i] = store.UploadedAsset{ID: fmt.Sprintf("new-%d", f.nextAssetID)}
	}
	return assets, nil
}

func (f *fakeStore) AttachAsset(ctx context.Context, itemID, assetID, title string) (*models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attachErrs[assetID]; err != nil {
		return nil, err
	}
	asset := models.Asset{ID: assetID, Position: len(f.item.Assets), Title: title}
	f.item.Assets = append(f.item.Assets, asset)
	f.attachedID = append(f.attachedID, assetID)
	return &asset, nil
}

func (f *fakeStore) PatchAssetPosition(ctx context.Context, itemID, assetID string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionCalls[assetID]++
	if err := f.positionErrs[assetID]; err != nil {
		return err
	}
	for i := range f.item.Assets {
		if f.item.Assets[i].ID == assetID {
			f.item.Assets[i].Position = position
		}
	}
	return nil
}

func (f *fakeStore) DeleteAssets(ctx context.Context, itemID string, assetIDs []string) (store.DeleteResult, error) {
	f.mu.Lock()
	started := f.deleteStarted
	block := f.deleteBlock
	f.mu.Unlock()

	if started != nil {
		close(started)
		f.mu.Lock()
		f.deleteStarted = nil
		f.mu.Unlock()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return store.DeleteResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.deleteLastIDs = append([]string(nil), assetIDs...)

	if f.deleteResult != nil {
		return *f.deleteResult, nil
	}

	kept := f.item.Assets[:0]
	deleted := 0
	for _, a := range f.item.Assets {
		remove := false
		for _, id := range assetIDs {
			if a.ID == id {
				remove = true
				break
			}
		}
		if remove {
			deleted++
		} else {
			kept = append(kept, a)
		}
	}
	f.item.Assets = append([]models.Asset(nil), kept...)
	return store.DeleteResult{Deleted: deleted, Attempted: len(assetIDs)}, nil
}

// recordingNotifier captures notices for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.infos) + len(n.warns) + len(n.errors)
}

func makeItem(assetCount int) *models.Item {
	item := &models.Item{
		ID:      "item-1",
		Title:   "Autumn Exhibit",
		Version: "v1",
	}
	for i := 0; i < assetCount; i++ {
		item.Assets = append(item.Assets, models.Asset{
			ID:       fmt.Sprintf("a%d", i),
			Position: i,
		})
	}
	return item
}

func newTestEngine(t *testing.T, item *models.Item) (*Engine, *fakeStore, *recordingNotifier) {
	t.Helper()
	fake := newFakeStore(item)
	notifier := &recordingNotifier{}
	eng, err := New(Config{
		Store:     fake,
		Processor: images.NewProcessor(64, 64, 80),
		Notifier:  notifier,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return eng, fake, notifier
}

func beginSession(t *testing.T, eng *Engine) *Session {
	t.Helper()
	session, err := eng.BeginEdit(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("BeginEdit() error: %v", err)
	}
	return session
}

// formFor mirrors the item's current attributes so a save changes
// nothing unless a test overrides a field.
func formFor(item *models.Item) Form {
	return Form{
		Title:       item.Title,
		Description: item.Description,
		StartDate:   item.StartDate,
		EndDate:     item.EndDate,
		PublishedAt: item.PublishedAt,
	}
}
