// Package index persists synced messages and serves search queries
// over them.
package index

import (
	"context"
	"errors"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound is returned when a lookup references a message that is
// not in the index.
var ErrNotFound = errors.New("index: message not found")

// Sink receives messages produced by the sync engine. Implementations
// must tolerate the same message arriving more than once; a reconnect
// replays part of the backfill window.
type Sink interface {
	// Index stores a batch of messages. An empty batch is a no-op.
	Index(ctx context.Context, msgs []model.Message) error
	// Update applies a partial update to one stored message by its ID.
	Update(ctx context.Context, id string, fields UpdateFields) error
	// Delete removes a message by its ID. Deleting an unknown ID is
	// not an error.
	Delete(ctx context.Context, id string) error
	// Ping reports whether the sink is reachable.
	Ping(ctx context.Context) error
}

// UpdateFields selects which message fields an update touches. Nil
// fields are left unchanged.
type UpdateFields struct {
	IsRead    *bool
	IsStarred *bool
	Folder    *string
	Flags     []string
}

// Stats summarizes the index contents.
type Stats struct {
	Total     int            `json:"total"`
	ByAccount map[string]int `json:"byAccount"`
}

// SearchFilter narrows a search. Zero-valued fields are ignored.
type SearchFilter struct {
	// Query matches against subject, text body, and sender.
	Query string
	// AccountID restricts results to one account.
	AccountID string
	// Folder restricts results to one mailbox folder.
	Folder string
	// Limit caps the result count; 0 means the default page size.
	Limit int
	// Offset skips that many results for pagination.
	Offset int
}
