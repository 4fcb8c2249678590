package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openexhibit/curator/internal/engine"
	"gopkg.in/yaml.v3"
)

// Row is one save attempt in the audit trail. Flat on purpose so the
// same shape serves the YAML log and the Parquet export.
type Row struct {
	SessionID     string `yaml:"sessionid" parquet:"session_id"`
	ItemID        string `yaml:"itemid" parquet:"item_id"`
	Timestamp     string `yaml:"timestamp" parquet:"timestamp"`
	Closed        bool   `yaml:"closed" parquet:"closed"`
	Conflict      bool   `yaml:"conflict" parquet:"conflict"`
	NothingToSave bool   `yaml:"nothingtosave" parquet:"nothing_to_save"`

	AssetsAttached   int `yaml:"assetsattached" parquet:"assets_attached"`
	AssetsFailed     int `yaml:"assetsfailed" parquet:"assets_failed"`
	DeleteAttempted  int `yaml:"deleteattempted" parquet:"delete_attempted"`
	AssetsDeleted    int `yaml:"assetsdeleted" parquet:"assets_deleted"`
	PositionsUpdated int `yaml:"positionsupdated" parquet:"positions_updated"`
	PositionsFailed  int `yaml:"positionsfailed" parquet:"positions_failed"`

	Attributes string `yaml:"attributes" parquet:"attributes"`
	RetrySteps string `yaml:"retrysteps,omitempty" parquet:"retry_steps"`
	DurationMS int64  `yaml:"durationms" parquet:"duration_ms"`
}

// FromSave flattens a save report into an audit row.
func FromSave(r *engine.SaveReport) Row {
	row := Row{
		SessionID:     r.SessionID,
		ItemID:        r.ItemID,
		Timestamp:     time.Now().Format(time.RFC3339),
		Closed:        r.Closed,
		Conflict:      r.Conflict,
		NothingToSave: r.NothingToSave,
		Attributes:    string(r.Attributes),
		RetrySteps:    strings.Join(r.RetrySteps, ","),
		DurationMS:    r.Duration.Milliseconds(),
	}
	if r.Uploads != nil {
		row.AssetsAttached = len(r.Uploads.Attached)
		row.AssetsFailed = len(r.Uploads.Failed)
	}
	if r.Deletion != nil {
		row.DeleteAttempted = r.Deletion.Attempted
		row.AssetsDeleted = r.Deletion.Deleted
	}
	if r.Reorder != nil {
		row.PositionsUpdated = r.Reorder.Updated
		row.PositionsFailed = r.Reorder.Failed
	}
	return row
}

// Append adds one row to the YAML audit log, creating the file and its
// directory on first use.
func Append(path string, row Row) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	rows, err := Load(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	rows = append(rows, row)

	data, err := yaml.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Load reads the YAML audit log.
func Load(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var rows []Row
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return rows, nil
}
