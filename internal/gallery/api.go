package gallery

import (
	"context"
	"io"

	"github.com/alexjbarnes/delivery-sync/internal/models"
)

//go:generate mockgen -destination=mock_api_test.go -package=gallery . API

// API is the portal boundary this package consumes. *Client implements
// it over HTTP.
type API interface {
	FetchTree(ctx context.Context, rootID string) ([]models.Folder, error)
	CreateFolder(ctx context.Context, rootID, name, parentPath string) error
	RenameFolder(ctx context.Context, rootID, path, newName string) error
	DeleteFolder(ctx context.Context, rootID, path, token string) error
	DeleteFile(ctx context.Context, rootID, fileID string) error
	SetFolderVisibility(ctx context.Context, rootID, key string, visible bool) error
	ReorderFolders(ctx context.Context, rootID string, orders []OrderAssignment) error

	// ArchiveProgress opens the server-push progress channel for an
	// archive of the given scope.
	ArchiveProgress(ctx context.Context, rootID string, scope ArchiveScope) (FrameStream, error)

	// Archive fetches the assembled archive of a folder.
	Archive(ctx context.Context, rootID, folderPath string) (*Artifact, error)

	// DownloadFiles fetches an explicit file selection. For a single id
	// the server returns the file itself.
	DownloadFiles(ctx context.Context, rootID string, fileIDs []string) (*Artifact, error)
}

// OrderAssignment is one entry of a persisted sibling order.
type OrderAssignment struct {
	Key   string `json:"key"`
	Order int    `json:"order"`
}

// ArchiveScope selects what an archive contains: a folder, or an
// explicit file set when FileIDs is non-empty.
type ArchiveScope struct {
	FolderPath string
	FileIDs    []string
}

// Frame stages of the archive progress channel.
const (
	FrameCreating = "creating"
	FrameComplete = "complete"
	FrameError    = "error"
)

// ArchiveFrame is one message of the archive progress channel.
type ArchiveFrame struct {
	Stage          string `json:"stage"`
	Progress       int    `json:"progress,omitempty"`
	FilesProcessed int    `json:"filesProcessed,omitempty"`
	TotalFiles     int    `json:"totalFiles,omitempty"`
	TotalBytes     int64  `json:"totalBytes,omitempty"`
	Message        string `json:"message,omitempty"`
}

// FrameStream yields archive progress frames in order. Next returns
// io.EOF once the server closes the channel. Close must always be
// called; it is safe to call more than once.
type FrameStream interface {
	Next(ctx context.Context) (ArchiveFrame, error)
	Close() error
}

// Artifact is a binary download in flight.
type Artifact struct {
	Body io.ReadCloser

	// ContentLength is the declared size, or -1 when the server did
	// not declare one.
	ContentLength int64

	// Filename is the Content-Disposition hint, possibly empty.
	Filename    string
	ContentType string
}
