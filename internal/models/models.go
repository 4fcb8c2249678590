package models

import "time"

// Item represents an exhibit record with its ordered photo assets
type Item struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	PrimaryImageID string     `json:"primary_image_id,omitempty"`
	Version        string     `json:"version,omitempty"`
	Assets         []Asset    `json:"assets"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Asset represents a committed photo attached to an item.
// Position is 0-based and must equal the asset's index in the
// item's display order once committed.
type Asset struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"image_url"`
	Position  int       `json:"position"`
	Title     string    `json:"title,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PreviewAsset is a locally selected file that has not been uploaded yet.
// Key is a stable identity derived from the file's name, size and mtime so
// failures can be attributed back to the user's selection even after the
// file list is re-read from disk.
type PreviewAsset struct {
	Key            string    `json:"key"`
	FileName       string    `json:"file_name"`
	Path           string    `json:"path"`
	Size           int64     `json:"size"`
	ModTime        time.Time `json:"mod_time"`
	SelectionIndex int       `json:"selection_index"`
}

// Clone returns a deep copy of the item, including its asset list.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	out.StartDate = cloneTime(i.StartDate)
	out.EndDate = cloneTime(i.EndDate)
	out.PublishedAt = cloneTime(i.PublishedAt)
	out.Assets = make([]Asset, len(i.Assets))
	copy(out.Assets, i.Assets)
	return &out
}

// AssetIDs returns the ids of the item's assets in display order.
func (i *Item) AssetIDs() []string {
	ids := make([]string, 0, len(i.Assets))
	for _, a := range i.Assets {
		ids = append(ids, a.ID)
	}
	return ids
}

// HasAsset reports whether the item currently carries the given asset id.
func (i *Item) HasAsset(id string) bool {
	for _, a := range i.Assets {
		if a.ID == id {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
