package engine

import (
	"errors"
	"net/http"

	"github.com/openexhibit/curator/internal/store"
)

// Conflict codes the collection API uses in response bodies when another
// editor committed changes to the same item since the session began.
var conflictCodes = map[string]bool{
	"conflict":      true,
	"stale_version": true,
	"edit_conflict": true,
}

// IsConflict recognizes a "modified concurrently" signal: an HTTP 409 or
// an explicit conflict code in the parsed response body. A conflict
// triggers forced resynchronization instead of a blind overwrite.
func IsConflict(err error) bool {
	var apiErr *store.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusConflict || conflictCodes[apiErr.Code]
}
