package errors

import "errors"

// Synchronization errors. Each one is scoped to the operation that
// produced it; none of them stop the rest of the session.
var (
	ErrFetchFailed           = errors.New("snapshot fetch failed")
	ErrMutationRejected      = errors.New("mutation rejected")
	ErrReorderRejected       = errors.New("reorder rejected")
	ErrArchiveAssemblyFailed = errors.New("archive assembly failed")
	ErrStreamReadFailed      = errors.New("stream read failed")
	ErrDeletionForbidden     = errors.New("folder is linked to an order and cannot be deleted")
)

// Lookup errors. Returned before any network call is made.
var (
	ErrFolderNotFound = errors.New("folder not found")
	ErrFileNotFound   = errors.New("file not found")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
