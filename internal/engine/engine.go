package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openexhibit/curator/internal/images"
	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/store"
)

// Store is the slice of the collection API the engine depends on.
// Satisfied by *store.Client; tests use an in-memory fake.
type Store interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
	PatchItem(ctx context.Context, itemID string, patch store.ItemPatch) (*models.Item, error)
	UploadAsset(ctx context.Context, file store.UploadFile) (*store.UploadedAsset, error)
	UploadAssetBatch(ctx context.Context, files []store.UploadFile) ([]store.UploadedAsset, error)
	AttachAsset(ctx context.Context, itemID, assetID, title string) (*models.Asset, error)
	PatchAssetPosition(ctx context.Context, itemID, assetID string, position int) error
	DeleteAssets(ctx context.Context, itemID string, assetIDs []string) (store.DeleteResult, error)
}

// Captioner suggests a short display title for a processed image.
// Optional; suggestion failures never block the upload pipeline.
type Captioner interface {
	SuggestTitle(ctx context.Context, imageData []byte) (string, error)
}

// Config holds the options for New. Uses a struct because the engine
// wires together several independently replaceable collaborators.
type Config struct {
	Store           Store
	Processor       *images.Processor
	Captioner       Captioner // optional
	Notifier        Notifier  // optional; defaults to slog-backed notices
	UploadBatchSize int       // files per upload request; <= 0 uses 5
}

// Engine owns the edit sessions. One session may be open per item at a
// time; a second BeginEdit for the same item is refused while the first
// one is saving.
type Engine struct {
	store     Store
	pipeline  *Pipeline
	reorderer *Reorderer
	deleter   *Deleter
	notifier  Notifier

	mu       sync.Mutex
	sessions map[string]*Session // keyed by item id
}

// New creates an Engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Processor == nil {
		cfg.Processor = images.NewProcessor(0, 0, 0)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier()
	}
	batchSize := cfg.UploadBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	return &Engine{
		store:     cfg.Store,
		pipeline:  newPipeline(cfg.Store, cfg.Processor, cfg.Captioner, cfg.Notifier, batchSize),
		reorderer: newReorderer(cfg.Store),
		deleter:   newDeleter(cfg.Store, cfg.Notifier),
		notifier:  cfg.Notifier,
		sessions:  make(map[string]*Session),
	}, nil
}

// BeginEdit fetches the authoritative item, takes the rollback snapshot
// and opens an edit session. An idle session already open for the same
// item is closed and replaced; a saving one refuses the new edit.
func (e *Engine) BeginEdit(ctx context.Context, itemID string) (*Session, error) {
	e.mu.Lock()
	if existing, ok := e.sessions[itemID]; ok {
		if existing.Saving() {
			e.mu.Unlock()
			return nil, ErrSaveInProgress
		}
		delete(e.sessions, itemID)
		e.mu.Unlock()
		existing.Close()
		e.mu.Lock()
	}
	e.mu.Unlock()

	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to begin edit of item %s: %w", itemID, err)
	}

	session := newSession(e, item)

	e.mu.Lock()
	e.sessions[itemID] = session
	e.mu.Unlock()

	slog.Info("Edit session opened", "session_id", session.ID, "item_id", itemID, "assets", len(item.Assets))
	return session, nil
}

func (e *Engine) release(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.sessions[s.itemID]; ok && current == s {
		delete(e.sessions, s.itemID)
	}
}
