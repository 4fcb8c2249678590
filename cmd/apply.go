package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openexhibit/curator/internal/caption"
	"github.com/openexhibit/curator/internal/config"
	"github.com/openexhibit/curator/internal/engine"
	"github.com/openexhibit/curator/internal/images"
	"github.com/openexhibit/curator/internal/models"
	"github.com/openexhibit/curator/internal/report"
	"github.com/openexhibit/curator/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newApplyCmd() *cobra.Command {
	var itemID string
	var scriptPath string
	var dir string
	var reportPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a declarative edit script to an item",
		Long: `Opens an edit session for the item, stages the changes from the YAML
script (attribute edits, photos to add, assets to delete, a new display
order) and saves them in one reconciled commit.

If some sub-steps fail the session's outcome names exactly which ones, and
re-running apply retries them. Ctrl+C cancels every in-flight request
without leaving partial UI state behind.`,
		Example: `  # Apply edits from a script, adding photos from ./photos
  curator apply --item 1842 --script edit.yaml --dir photos

  # Keep an audit trail of save outcomes
  curator apply --item 1842 --script edit.yaml --report reports/edits.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}

			script, err := loadScript(scriptPath)
			if err != nil {
				return err
			}

			cfg := config.Load()
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}

			session, err := eng.BeginEdit(cmd.Context(), itemID)
			if err != nil {
				return fmt.Errorf("failed to open edit session: %w", err)
			}
			defer session.Close()

			if err := stageScript(session, script, dir); err != nil {
				return err
			}

			form, err := buildForm(session.Item(), script)
			if err != nil {
				return err
			}

			outcome, err := session.Save(cmd.Context(), form)
			if err != nil {
				// Cancellation is not an error: unwind quietly.
				if errors.Is(err, context.Canceled) {
					slog.Info("Save cancelled")
					return nil
				}
				return err
			}

			if reportPath != "" {
				if rerr := report.Append(reportPath, report.FromSave(outcome)); rerr != nil {
					slog.Warn("Could not append audit report", "path", reportPath, "error", rerr)
				}
			}

			if !outcome.Closed {
				return fmt.Errorf("save incomplete; retry needed for: %v", outcome.RetrySteps)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Item id to edit (required)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "YAML edit script (required)")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory photo paths in the script are relative to")
	cmd.Flags().StringVar(&reportPath, "report", "", "YAML audit log to append the save outcome to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func newEngine(cfg *config.Config) (*engine.Engine, error) {
	engineCfg := engine.Config{
		Store:           store.NewClient(cfg.APIBaseURL, cfg.APIToken),
		Processor:       images.NewProcessor(cfg.MaxWidth, cfg.MaxHeight, cfg.JPEGQuality),
		UploadBatchSize: cfg.UploadBatchSize,
	}
	if cfg.GeminiAPIKey != "" {
		engineCfg.Captioner = caption.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	return engine.New(engineCfg)
}

func loadScript(path string) (*models.EditScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edit script: %w", err)
	}
	var script models.EditScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse edit script: %w", err)
	}
	return &script, nil
}

// stageScript records the script's intent on the session: deletions,
// new files, primary image, order. Order is refused while deletions are
// pending; the script's order is applied anyway on the committed list by
// the save's reorder step when it survives validation.
func stageScript(session *engine.Session, script *models.EditScript, dir string) error {
	if len(script.DeleteAssets) > 0 {
		accepted, dropped := session.MarkForDeletion(script.DeleteAssets)
		slog.Info("Marked assets for deletion", "accepted", accepted, "dropped", dropped)
	}

	if len(script.AddFiles) > 0 {
		paths := make([]string, 0, len(script.AddFiles))
		for _, f := range script.AddFiles {
			paths = append(paths, filepath.Join(dir, f))
		}
		added, err := session.AddPreviewAssets(paths)
		if err != nil {
			return err
		}
		slog.Info("Selected new photos", "count", added)
	}

	if len(script.AddURLs) > 0 {
		paths, err := downloadURLs(script.AddURLs)
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			added, err := session.AddPreviewAssets(paths)
			if err != nil {
				return err
			}
			slog.Info("Selected downloaded photos", "count", added)
		}
	}

	if script.PrimaryImage != "" {
		session.SetPrimaryImage(filepath.Join(dir, script.PrimaryImage))
	}

	if len(script.Order) > 0 {
		if err := session.SetWorkingOrder(script.Order); err != nil {
			if errors.Is(err, engine.ErrPendingDeletions) {
				slog.Warn("Order ignored: deletions are pending; re-run apply with the order once deletions are saved")
			} else {
				return err
			}
		}
	}
	return nil
}

// downloadURLs fetches remote images into a temp directory so they can
// join the local selection. A failed download is skipped with a warning;
// the rest of the list still applies.
func downloadURLs(urls []string) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "curator-download-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	fetcher := images.NewFetcher()
	paths := make([]string, 0, len(urls))
	for i, u := range urls {
		data, err := fetcher.Fetch(u)
		if err != nil {
			slog.Warn("Could not download image", "url", u, "error", err)
			continue
		}
		path := filepath.Join(tmpDir, fmt.Sprintf("download_%d.jpg", i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			slog.Warn("Could not save downloaded image", "url", u, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// buildForm merges the script's attribute edits over the item's current
// values. Malformed dates are a local validation failure; nothing is
// sent to the server.
func buildForm(item *models.Item, script *models.EditScript) (engine.Form, error) {
	form := engine.Form{
		Title:       item.Title,
		Description: item.Description,
		StartDate:   item.StartDate,
		EndDate:     item.EndDate,
		PublishedAt: item.PublishedAt,
	}
	if script.Title != nil {
		form.Title = *script.Title
	}
	if script.Description != nil {
		form.Description = *script.Description
	}

	var err error
	if form.StartDate, err = overrideDate(form.StartDate, script.StartDate, "start_date"); err != nil {
		return form, err
	}
	if form.EndDate, err = overrideDate(form.EndDate, script.EndDate, "end_date"); err != nil {
		return form, err
	}
	if form.PublishedAt, err = overrideDate(form.PublishedAt, script.PublishedAt, "published_at"); err != nil {
		return form, err
	}
	return form, nil
}

func overrideDate(current *time.Time, raw *string, field string) (*time.Time, error) {
	if raw == nil {
		return current, nil
	}
	if *raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("malformed %s %q: want YYYY-MM-DD or RFC3339", field, *raw)
}
