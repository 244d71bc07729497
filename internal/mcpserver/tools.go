// Package mcpserver registers MCP tools that expose delivery gallery
// operations. It adapts a gallery.Session to the MCP SDK's tool handler
// interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/gallery"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultDownloadsLimit caps gallery_downloads when no limit is given.
const defaultDownloadsLimit = 20

// RegisterTools adds all gallery tools to the given MCP server.
func RegisterTools(server *mcp.Server, s *gallery.Session, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_list",
		Description: "List one folder of the delivery: breadcrumbs, child folders in display order, and visible files. Files pending deletion are hidden. Omit path for the top level.",
	}, listHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_status",
		Description: "Show sync status: folder count, pending deletes, feed connection, last successful refresh, and whether the folder order is out of sync with the portal.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_refresh",
		Description: "Fetch the authoritative folder tree from the portal now and return the resulting status.",
	}, refreshHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_create_folder",
		Description: "Create a folder, optionally under a parent path. Names are 1-120 characters and cannot contain slashes.",
	}, createFolderHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_rename_folder",
		Description: "Set the display name of a folder. The change shows immediately and is reverted if the portal refuses it.",
	}, renameFolderHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_delete_folder",
		Description: "Delete a folder. Folders linked to an order cannot be deleted.",
	}, deleteFolderHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_delete_file",
		Description: "Delete one delivered file. The file stays hidden until the live feed confirms the deletion.",
	}, deleteFileHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_set_visibility",
		Description: "Show or hide a folder on the client delivery page.",
	}, setVisibilityHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_reorder",
		Description: "Move a top-level folder to the position currently held by another top-level folder and persist the new order.",
	}, reorderHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_download",
		Description: "Download a folder as an archive, or an explicit file selection, into the download directory. A single selected file is saved as-is.",
	}, downloadHandler(s, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_downloads",
		Description: "List recent downloads, newest first.",
	}, downloadsHandler(s))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListInput holds parameters for gallery_list.
type ListInput struct {
	Path string `json:"path,omitempty" jsonschema:"folder path, defaults to the top level"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// CreateFolderInput holds parameters for gallery_create_folder.
type CreateFolderInput struct {
	Name       string `json:"name" jsonschema:"required,folder name"`
	ParentPath string `json:"parent_path,omitempty" jsonschema:"path of the parent folder, defaults to the top level"`
}

// RenameFolderInput holds parameters for gallery_rename_folder.
type RenameFolderInput struct {
	Path    string `json:"path" jsonschema:"required,folder path"`
	Token   string `json:"token,omitempty" jsonschema:"standalone section token, if the folder has one"`
	NewName string `json:"new_name" jsonschema:"required,new display name"`
}

// FolderInput identifies one folder.
type FolderInput struct {
	Path  string `json:"path" jsonschema:"required,folder path"`
	Token string `json:"token,omitempty" jsonschema:"standalone section token, if the folder has one"`
}

// DeleteFileInput holds parameters for gallery_delete_file.
type DeleteFileInput struct {
	FileID string `json:"file_id" jsonschema:"required,id of the file to delete"`
}

// VisibilityInput holds parameters for gallery_set_visibility.
type VisibilityInput struct {
	Path    string `json:"path" jsonschema:"required,folder path"`
	Token   string `json:"token,omitempty" jsonschema:"standalone section token, if the folder has one"`
	Visible bool   `json:"visible" jsonschema:"true to show the folder, false to hide it"`
}

// ReorderInput holds parameters for gallery_reorder.
type ReorderInput struct {
	Path   string `json:"path" jsonschema:"required,top-level folder to move"`
	ToPath string `json:"to_path" jsonschema:"required,top-level folder whose position it takes"`
}

// DownloadInput holds parameters for gallery_download.
type DownloadInput struct {
	Path    string   `json:"path,omitempty" jsonschema:"folder to download as an archive"`
	FileIDs []string `json:"file_ids,omitempty" jsonschema:"explicit file selection, takes precedence over path"`
}

// DownloadsInput holds parameters for gallery_downloads.
type DownloadsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of records, defaults to 20"`
}

// --- Output types ---

// MutationResult reports an accepted change.
type MutationResult struct {
	OK  bool   `json:"ok"`
	Key string `json:"key,omitempty"`
}

// ReorderResult reports the top-level order after a reorder.
type ReorderResult struct {
	Moved bool     `json:"moved"`
	Order []string `json:"order"`
}

// DownloadsResult lists download history records.
type DownloadsResult struct {
	Downloads []models.DownloadRecord `json:"downloads"`
}

// --- Handlers ---

func listHandler(s *gallery.Session) mcp.ToolHandlerFor[ListInput, *gallery.Listing] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *gallery.Listing, error) {
		listing, err := s.Browse(input.Path)
		if err != nil {
			return nil, nil, err
		}
		return textResult(listing), &listing, nil
	}
}

func statusHandler(s *gallery.Session) mcp.ToolHandlerFor[StatusInput, *gallery.Status] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *gallery.Status, error) {
		status := s.Status()
		return textResult(status), &status, nil
	}
}

func refreshHandler(s *gallery.Session) mcp.ToolHandlerFor[StatusInput, *gallery.Status] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *gallery.Status, error) {
		if err := s.Fetcher.Fetch(ctx); err != nil {
			return nil, nil, err
		}
		status := s.Status()
		return textResult(status), &status, nil
	}
}

func createFolderHandler(s *gallery.Session) mcp.ToolHandlerFor[CreateFolderInput, *MutationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateFolderInput) (*mcp.CallToolResult, *MutationResult, error) {
		key, err := s.Coordinator.CreateFolder(ctx, input.Name, input.ParentPath)
		if err != nil {
			return nil, nil, err
		}
		result := &MutationResult{OK: true, Key: key}
		return textResult(result), result, nil
	}
}

func renameFolderHandler(s *gallery.Session) mcp.ToolHandlerFor[RenameFolderInput, *MutationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RenameFolderInput) (*mcp.CallToolResult, *MutationResult, error) {
		parts := gallery.KeyParts{Token: input.Token, Path: input.Path}
		if err := s.Coordinator.RenameFolder(ctx, parts, input.NewName); err != nil {
			return nil, nil, err
		}
		return mutationResult(s, parts)
	}
}

func deleteFolderHandler(s *gallery.Session) mcp.ToolHandlerFor[FolderInput, *MutationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FolderInput) (*mcp.CallToolResult, *MutationResult, error) {
		if err := s.Coordinator.DeleteFolder(ctx, gallery.KeyParts{Token: input.Token, Path: input.Path}); err != nil {
			return nil, nil, err
		}
		result := &MutationResult{OK: true}
		return textResult(result), result, nil
	}
}

func deleteFileHandler(s *gallery.Session) mcp.ToolHandlerFor[DeleteFileInput, *MutationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteFileInput) (*mcp.CallToolResult, *MutationResult, error) {
		if err := s.Coordinator.DeleteFile(ctx, input.FileID); err != nil {
			return nil, nil, err
		}
		result := &MutationResult{OK: true}
		return textResult(result), result, nil
	}
}

func setVisibilityHandler(s *gallery.Session) mcp.ToolHandlerFor[VisibilityInput, *MutationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VisibilityInput) (*mcp.CallToolResult, *MutationResult, error) {
		parts := gallery.KeyParts{Token: input.Token, Path: input.Path}
		if err := s.Coordinator.SetVisibility(ctx, parts, input.Visible); err != nil {
			return nil, nil, err
		}
		return mutationResult(s, parts)
	}
}

func reorderHandler(s *gallery.Session) mcp.ToolHandlerFor[ReorderInput, *ReorderResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ReorderInput) (*mcp.CallToolResult, *ReorderResult, error) {
		active, ok := s.Model.Resolve(gallery.KeyParts{Path: input.Path})
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, input.Path)
		}

		over, ok := s.Model.Resolve(gallery.KeyParts{Path: input.ToPath})
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, input.ToPath)
		}

		moved, err := s.Reorderer.Reorder(ctx, active, over)
		if err != nil {
			return nil, nil, err
		}

		result := &ReorderResult{Moved: moved, Order: []string{}}
		for _, f := range s.Model.RootSiblings() {
			result.Order = append(result.Order, f.Label())
		}
		return textResult(result), result, nil
	}
}

func downloadHandler(s *gallery.Session, logger *slog.Logger) mcp.ToolHandlerFor[DownloadInput, *gallery.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DownloadInput) (*mcp.CallToolResult, *gallery.Result, error) {
		progress := logProgress(logger)

		var (
			result *gallery.Result
			err    error
		)

		if len(input.FileIDs) > 0 {
			result, err = s.Downloader.DownloadSelection(ctx, input.FileIDs, progress)
		} else {
			result, err = s.Downloader.DownloadFolder(ctx, input.Path, progress)
		}

		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func downloadsHandler(s *gallery.Session) mcp.ToolHandlerFor[DownloadsInput, *DownloadsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DownloadsInput) (*mcp.CallToolResult, *DownloadsResult, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultDownloadsLimit
		}

		recs, err := s.Downloads(limit)
		if err != nil {
			return nil, nil, err
		}

		result := &DownloadsResult{Downloads: recs}
		if result.Downloads == nil {
			result.Downloads = []models.DownloadRecord{}
		}
		return textResult(result), result, nil
	}
}

func mutationResult(s *gallery.Session, parts gallery.KeyParts) (*mcp.CallToolResult, *MutationResult, error) {
	key, _ := s.Model.Resolve(parts)
	result := &MutationResult{OK: true, Key: key}
	return textResult(result), result, nil
}

// logProgress logs stage changes of a download. Percent updates within
// a stage are too chatty for the log.
func logProgress(logger *slog.Logger) gallery.ProgressFunc {
	last := gallery.StageIdle

	return func(p gallery.Progress) {
		if p.Stage() == last {
			return
		}

		last = p.Stage()
		logger.Debug("download progress", slog.String("stage", string(last)))
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
