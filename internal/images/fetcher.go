package images

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads remote images so URL entries in an edit script can
// join the local selection as preview assets.
type Fetcher struct {
	HTTPClient *http.Client
}

// NewFetcher creates a new image fetcher
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads one image and returns its bytes.
func (f *Fetcher) Fetch(imageURL string) ([]byte, error) {
	resp, err := f.HTTPClient.Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image URL returned status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	// Tiny responses are placeholders or error pages, not photos.
	if len(imageData) < 1000 {
		return nil, fmt.Errorf("image too small (likely placeholder), size: %d bytes", len(imageData))
	}

	return imageData, nil
}
