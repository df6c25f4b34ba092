package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups whose key is absent.
var ErrNotFound = errors.New("not found")

// Store persists notices, their children and conversion outcomes. All
// methods must be safe under concurrent callers; each key's write is
// independent so key-level isolation suffices.
type Store interface {
	// UpsertNotice inserts the notice unless its control number already
	// exists. It reports whether an insert occurred.
	UpsertNotice(ctx context.Context, n Notice) (bool, error)
	// UpsertItem and UpsertAttachment follow the same insert-if-absent
	// contract, keyed by (control number, child number).
	UpsertItem(ctx context.Context, it Item) (bool, error)
	UpsertAttachment(ctx context.Context, a Attachment) (bool, error)
	// UpsertConversion unconditionally replaces the row for its key.
	UpsertConversion(ctx context.Context, c Conversion) error

	// ControlNumbers returns the full set of stored notice keys.
	ControlNumbers(ctx context.Context) (map[string]struct{}, error)
	CountItems(ctx context.Context, controlNumber string) (int, error)
	CountAttachments(ctx context.Context, controlNumber string) (int, error)
	// ListNoticeRefs pages over notices ordered by control number.
	ListNoticeRefs(ctx context.Context, offset, limit int) ([]NoticeRef, error)

	GetNotice(ctx context.Context, controlNumber string) (Notice, error)
	SearchNotices(ctx context.Context, f NoticeFilter) ([]Notice, error)
	ListItems(ctx context.Context, controlNumber string) ([]Item, error)
	ListAttachments(ctx context.Context, controlNumber string) ([]Attachment, error)
	GetConversion(ctx context.Context, controlNumber string, sequence int) (Conversion, error)
	// ListSuccessfulConversions returns conversions with sequence != 0 and
	// OK = true, ordered by sequence. Used by the exporter.
	ListSuccessfulConversions(ctx context.Context, controlNumber string) ([]Conversion, error)
}

// Client fetches pages and sub-resources from the remote catalog.
type Client interface {
	Search(ctx context.Context, q SearchQuery) ([]Notice, error)
	FetchItems(ctx context.Context, orgID string, year, seq int) ([]Item, error)
	FetchFiles(ctx context.Context, orgID string, year, seq int) ([]Attachment, error)
}

// SearchQuery addresses one page of the remote search endpoint.
type SearchQuery struct {
	Sort         string
	DocumentType string
	Page         int
	PageSize     int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
