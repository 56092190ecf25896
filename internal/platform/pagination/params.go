package pagination

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize so a single request cannot demand an
	// unbounded Firestore scan.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageToken is returned for tokens that cannot be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// Cursor is the Firestore continuation payload carried inside page tokens.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params bundles the page size and continuation token for one listing call.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options tune parsing per handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest reads pageSize and pageToken from the request query string.
// Out-of-range page sizes are clamped rather than rejected; a malformed page
// token is an error because silently restarting a listing corrupts paging.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}

	query := r.URL.Query()
	params := Params{
		PageSize: ClampPageSize(query.Get("pageSize"), opts.DefaultPageSize, opts.MaxPageSize),
	}

	token := strings.TrimSpace(query.Get("pageToken"))
	if token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	return params, nil
}

// ClampPageSize parses a raw pageSize value, falling back to def when the
// value is missing or non-positive and capping it at max.
func ClampPageSize(raw string, def, max int) int {
	if def <= 0 {
		def = DefaultPageSize
	}
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if def > max {
		def = max
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return def
	}
	if size > max {
		return max
	}
	return size
}
