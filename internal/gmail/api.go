// Package gmail provides a Gmail REST API client with rate limiting and
// retry logic, scoped to the operations the cleaner engine needs: listing
// message ids, batch-fetching metadata headers, batch mutations, and label
// management.
package gmail

import (
	"context"
	"time"
)

// MetadataHeaders is the fixed set of headers requested with every
// metadata fetch. List-Unsubscribe (RFC 2369) and List-Unsubscribe-Post
// (RFC 8058) drive unsubscribe classification.
var MetadataHeaders = []string{
	"From",
	"Subject",
	"Date",
	"List-Unsubscribe",
	"List-Unsubscribe-Post",
}

// AccountReader provides read access to account-level data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)
}

// MessageLister lists message ids matching a query.
type MessageLister interface {
	// ListMessages returns one page of message ids matching the query.
	// maxResults caps the page size (provider limit 500). A non-empty
	// NextPageToken on the response means more pages exist.
	ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error)
}

// MetadataFetcher retrieves per-message metadata.
type MetadataFetcher interface {
	// GetMessageMetadata fetches one message in metadata format,
	// restricted to MetadataHeaders.
	GetMessageMetadata(ctx context.Context, id string) (*MessageMeta, error)

	// GetMetadataBatch fetches metadata for multiple messages in
	// parallel. Results are positionally aligned with the input ids;
	// an id whose fetch failed yields a nil entry rather than failing
	// the batch.
	GetMetadataBatch(ctx context.Context, ids []string) ([]*MessageMeta, error)
}

// MessageModifier applies label mutations to sets of messages.
type MessageModifier interface {
	// BatchModify adds and/or removes labels on up to 1000 messages in
	// one call. Trash, archive, mark-read and mark-important are all
	// expressed as label mutations.
	BatchModify(ctx context.Context, ids []string, mods ModifyRequest) error
}

// LabelManager manages the account's labels.
type LabelManager interface {
	ListLabels(ctx context.Context) ([]*Label, error)
	CreateLabel(ctx context.Context, name string) (*Label, error)
	DeleteLabel(ctx context.Context, id string) error
}

// API is the full provider surface the engine consumes. The interface
// exists so tests can substitute MockAPI without network access.
type API interface {
	AccountReader
	MessageLister
	MetadataFetcher
	MessageModifier
	LabelManager

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents the authenticated user's mailbox profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// Label represents a Gmail label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "system" or "user"
}

// Well-known system label ids used by mutations.
const (
	LabelTrash     = "TRASH"
	LabelInbox     = "INBOX"
	LabelUnread    = "UNREAD"
	LabelImportant = "IMPORTANT"
)

// MessageListPage is one page of a message listing.
type MessageListPage struct {
	IDs                []string
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageMeta is the metadata-format view of one message. Immutable once
// fetched; identity is the provider message id.
type MessageMeta struct {
	ID                  string
	ThreadID            string
	From                string // raw From header value
	Subject             string
	SizeEstimate        int64
	InternalDate        time.Time
	LabelIDs            []string
	ListUnsubscribe     string // raw List-Unsubscribe header value
	ListUnsubscribePost string // raw List-Unsubscribe-Post header value
}

// ModifyRequest describes a batch label mutation.
type ModifyRequest struct {
	AddLabelIDs    []string
	RemoveLabelIDs []string
}
