package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/openexhibit/curator/internal/models"
)

// Client talks to the collection-management API. The engine treats it as a
// black box: curator never fabricates ids, it only requests creation and
// deletion and reconciles local state against what the server confirms.
type Client struct {
	BaseURL    string
	APIToken   string
	httpClient *http.Client
}

// NewClient creates a new collection API client
func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the collection API, carrying the
// parsed error code from the body when one was present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collection API returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("collection API returned status %d: %s", e.StatusCode, e.Message)
}

// ItemPatch is a minimal attribute delta for an item. Nil fields are left
// unchanged by the server. Version carries the session's last known item
// version so the server can reject stale writes.
type ItemPatch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	PrimaryImageID *string    `json:"primary_image_id,omitempty"`
	Version        string     `json:"version,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.StartDate == nil &&
		p.EndDate == nil && p.PublishedAt == nil && p.PrimaryImageID == nil
}

// UploadFile is one processed image ready for upload.
type UploadFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// UploadedAsset is the server's record of one created asset, returned in
// the same order as the files in the upload request.
type UploadedAsset struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// DeleteResult reports how many of the requested deletions the server
// attempted and how many it actually removed.
type DeleteResult struct {
	Deleted   int `json:"deleted"`
	Attempted int `json:"attempted"`
}

// GetItem fetches the authoritative item, including its asset list.
func (c *Client) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	if err := c.doJSON(ctx, http.MethodGet, c.itemURL(itemID), nil, &item); err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemID, err)
	}
	return &item, nil
}

// PatchItem applies an attribute delta and returns the updated item. A
// conflicting concurrent edit surfaces as an *APIError with status 409 or
// a conflict code in the body; callers recognize it via engine.IsConflict.
func (c *Client) PatchItem(ctx context.Context, itemID string, patch ItemPatch) (*models.Item, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item patch: %w", err)
	}

	var item models.Item
	if err := c.doJSON(ctx, http.MethodPatch, c.itemURL(itemID), body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UploadAsset uploads a single image and returns the created asset id.
func (c *Client) UploadAsset(ctx context.Context, file UploadFile) (*UploadedAsset, error) {
	assets, err := c.UploadAssetBatch(ctx, []UploadFile{file})
	if err != nil {
		return nil, err
	}
	if len(assets) != 1 {
		return nil, fmt.Errorf("upload returned %d assets for a single file", len(assets))
	}
	return &assets[0], nil
}

// UploadAssetBatch uploads several images in one multipart request. The
// response lists created assets in request order, so the caller can map
// results back to the files it sent by index.
func (c *Client) UploadAssetBatch(ctx context.Context, files []UploadFile) ([]UploadedAsset, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.FileName)
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart request: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file %s to request: %w", f.FileName, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload assets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.errorFromResponse(resp)
	}

	var result struct {
		Assets []UploadedAsset `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return result.Assets, nil
}

// AttachAsset attaches an uploaded asset to an item and returns the
// committed asset record. An optional display title may be set at attach
// time; pass "" to leave it unset.
func (c *Client) AttachAsset(ctx context.Context, itemID, assetID, title string) (*models.Asset, error) {
	attach := map[string]string{"asset_id": assetID}
	if title != "" {
		attach["title"] = title
	}
	body, err := json.Marshal(attach)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attach request: %w", err)
	}

	var asset models.Asset
	if err := c.doJSON(ctx, http.MethodPost, c.itemURL(itemID)+"/assets", body, &asset); err != nil {
		return nil, fmt.Errorf("failed to attach asset %s: %w", assetID, err)
	}
	return &asset, nil
}

// PatchAssetPosition sets one asset's sequence position. Positions are
// idempotent "set position N" writes, so siblings may be patched
// concurrently in any order.
func (c *Client) PatchAssetPosition(ctx context.Context, itemID, assetID string, position int) error {
	body, err := json.Marshal(map[string]int{"position": position})
	if err != nil {
		return fmt.Errorf("failed to encode position patch: %w", err)
	}

	url := c.itemURL(itemID) + "/assets/" + url.PathEscape(assetID)
	if err := c.doJSON(ctx, http.MethodPatch, url, body, nil); err != nil {
		return fmt.Errorf("failed to set position of asset %s: %w", assetID, err)
	}
	return nil
}

// DeleteAssets deletes the given asset ids in one batch call. The server
// reports deleted-vs-attempted counts; ids already removed by another
// editor count as attempted but not deleted.
func (c *Client) DeleteAssets(ctx context.Context, itemID string, assetIDs []string) (DeleteResult, error) {
	body, err := json.Marshal(map[string][]string{"asset_ids": assetIDs})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to encode delete request: %w", err)
	}

	var result DeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, c.itemURL(itemID)+"/assets", body, &result); err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

func (c *Client) itemURL(itemID string) string {
	return c.BaseURL + "/api/v1/items/" + url.PathEscape(itemID)
}

func (c *Client) setAuth(req *http.Request) {
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}

// doJSON issues one JSON request and decodes the response into out when
// out is non-nil. Non-2xx responses come back as *APIError.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}

	var parsed struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		apiErr.Code = parsed.Code
		if parsed.Message != "" {
			apiErr.Message = parsed.Message
		} else if parsed.Error != "" {
			apiErr.Message = parsed.Error
		}
	}
	return apiErr
}
