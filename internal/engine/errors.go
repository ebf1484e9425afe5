package engine

import "github.com/rotisserie/eris"

// Errors surfaced synchronously at operation start or result retrieval.
// The API layer maps them to status codes with errors.Is.
var (
	// ErrNotAuthenticated means no usable Gmail client is attached.
	ErrNotAuthenticated = eris.New("not authenticated with Gmail")

	// ErrNoResults means results were requested before the producing
	// job finished, or the job produced nothing.
	ErrNoResults = eris.New("no results available")

	// ErrNoTargets means a sender-targeted operation was started with
	// an empty target list.
	ErrNoTargets = eris.New("no senders specified")
)
