package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/openexhibit/curator/internal/images"
	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/store"
)

// Pipeline turns locally selected preview assets into committed, attached
// remote assets: resolve, process, batch-upload, attach. Every step is
// independently fallible; a failure marks only the affected entries and
// the rest of the batch keeps going.
type Pipeline struct {
	store     Store
	processor *images.Processor
	captioner Captioner
	notifier  Notifier
	batchSize int
}

func newPipeline(st Store, processor *images.Processor, captioner Captioner, notifier Notifier, batchSize int) *Pipeline {
	return &Pipeline{
		store:     st,
		processor: processor,
		captioner: captioner,
		notifier:  notifier,
		batchSize: batchSize,
	}
}

// AssetFailure attributes one pipeline failure to the preview asset that
// produced it, so the host can mark the exact user-visible entry.
type AssetFailure struct {
	Key      string
	FileName string
	Reason   string
}

// PipelineResult holds the three disjoint outcome sets of one run:
// attached end-to-end, failed with per-entry reasons, and (implicitly)
// the attach order the reorder step needs.
type PipelineResult struct {
	// Attached lists committed assets in the user's selection order.
	Attached []models.Asset
	Failed   []AssetFailure
}

// FailedKeys returns the identity keys of the failed entries.
func (r *PipelineResult) FailedKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(r.Failed))
	for _, f := range r.Failed {
		keys[f.Key] = struct{}{}
	}
	return keys
}

type processedUpload struct {
	preview models.PreviewAsset
	file    store.UploadFile
	title   string
	assetID string
}

// Run executes the pipeline for the given previews. Partial failure is
// reported in the result, never as an error; the only error return is a
// cancellation, which unwinds without emitting any notice.
func (p *Pipeline) Run(ctx context.Context, itemID string, previews []models.PreviewAsset) (*PipelineResult, error) {
	result := &PipelineResult{}
	if len(previews) == 0 {
		return result, nil
	}

	// Selection order is authoritative regardless of how the file
	// system returned the files.
	ordered := append([]models.PreviewAsset(nil), previews...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SelectionIndex < ordered[j].SelectionIndex
	})

	pending := p.resolveAndProcess(ctx, ordered, result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uploaded := p.upload(ctx, pending, result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.attach(ctx, itemID, uploaded, result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("Upload pipeline finished",
		"item_id", itemID,
		"selected", len(ordered),
		"attached", len(result.Attached),
		"failed", len(result.Failed))
	if len(result.Failed) > 0 {
		p.notifier.Warn(fmt.Sprintf("%d of %d new photo(s) could not be added", len(result.Failed), len(ordered)))
	} else {
		p.notifier.Info(fmt.Sprintf("Added %d new photo(s)", len(result.Attached)))
	}
	return result, nil
}

// resolveAndProcess reads and normalizes each selection. Entries lacking
// a resolvable file, or failing normalization, are recorded as failed
// without aborting the batch.
func (p *Pipeline) resolveAndProcess(ctx context.Context, previews []models.PreviewAsset, result *PipelineResult) []processedUpload {
	var pending []processedUpload
	for _, preview := range previews {
		data, err := os.ReadFile(preview.Path)
		if err != nil {
			result.Failed = append(result.Failed, AssetFailure{
				Key:      preview.Key,
				FileName: preview.FileName,
				Reason:   fmt.Sprintf("file could not be read: %v", err),
			})
			continue
		}

		processed, err := p.processor.Process(data)
		if err != nil {
			result.Failed = append(result.Failed, AssetFailure{
				Key:      preview.Key,
				FileName: preview.FileName,
				Reason:   fmt.Sprintf("image could not be processed: %v", err),
			})
			continue
		}

		title := p.suggestTitle(ctx, preview, processed.Data)

		pending = append(pending, processedUpload{
			preview: preview,
			title:   title,
			file: store.UploadFile{
				FileName:    preview.FileName,
				ContentType: "image/jpeg",
				Data:        processed.Data,
			},
		})
	}
	return pending
}

// suggestTitle asks the captioner for a display title. Suggestions are
// best-effort; failure drops the suggestion with a warning.
func (p *Pipeline) suggestTitle(ctx context.Context, preview models.PreviewAsset, data []byte) string {
	if p.captioner == nil {
		return ""
	}
	title, err := p.captioner.SuggestTitle(ctx, data)
	if err != nil {
		if !isCancellation(err) {
			slog.Warn("Caption suggestion failed", "file", preview.FileName, "error", err)
		}
		return ""
	}
	return title
}

// upload sends the processed files to the store. A single file goes
// through the single-item call; two or more are split into size-bounded
// batches uploaded sequentially, so peak load stays bounded and progress
// stays monotonic. Batch results map back to previews by index offset.
func (p *Pipeline) upload(ctx context.Context, pending []processedUpload, result *PipelineResult) []processedUpload {
	if len(pending) == 0 {
		return nil
	}

	if len(pending) == 1 {
		asset, err := p.store.UploadAsset(ctx, pending[0].file)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			result.Failed = append(result.Failed, AssetFailure{
				Key:      pending[0].preview.Key,
				FileName: pending[0].preview.FileName,
				Reason:   fmt.Sprintf("upload failed: %v", err),
			})
			return nil
		}
		pending[0].assetID = asset.ID
		return pending[:1]
	}

	var uploaded []processedUpload
	for offset := 0; offset < len(pending); offset += p.batchSize {
		end := offset + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[offset:end]

		files := make([]store.UploadFile, len(batch))
		for i, entry := range batch {
			files[i] = entry.file
		}

		assets, err := p.store.UploadAssetBatch(ctx, files)
		if ctx.Err() != nil {
			return uploaded
		}
		if err != nil || len(assets) != len(batch) {
			reason := "upload failed"
			if err != nil {
				reason = fmt.Sprintf("upload failed: %v", err)
			} else {
				reason = fmt.Sprintf("upload returned %d assets for %d files", len(assets), len(batch))
			}
			for _, entry := range batch {
				result.Failed = append(result.Failed, AssetFailure{
					Key:      entry.preview.Key,
					FileName: entry.preview.FileName,
					Reason:   reason,
				})
			}
			continue
		}

		for i := range batch {
			batch[i].assetID = assets[i].ID
			uploaded = append(uploaded, batch[i])
		}
		slog.Debug("Uploaded batch", "offset", offset, "count", len(batch), "total", len(pending))
	}
	return uploaded
}

// attach links each uploaded asset to the item one at a time. An attach
// failure is recorded per asset and does not block the remainder.
func (p *Pipeline) attach(ctx context.Context, itemID string, uploaded []processedUpload, result *PipelineResult) {
	for _, entry := range uploaded {
		asset, err := p.store.AttachAsset(ctx, itemID, entry.assetID, entry.title)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			result.Failed = append(result.Failed, AssetFailure{
				Key:      entry.preview.Key,
				FileName: entry.preview.FileName,
				Reason:   fmt.Sprintf("attach failed: %v", err),
			})
			continue
		}
		result.Attached = append(result.Attached, *asset)
	}
}
