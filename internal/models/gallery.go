// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"
)

// File is a delivered asset. It belongs to exactly one folder.
type File struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	SizeBytes    int64     `json:"sizeBytes"`
	MimeType     string    `json:"mimeType"`
	DownloadURL  string    `json:"downloadUrl"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Folder is a node of a delivery tree as reported by the portal.
//
// Identity comes from Token, OrderID and Path only. DisplayName,
// IsVisible and DisplayOrder are operator-editable and never part of
// the key. DisplayOrder 0 means unset; persisted orders start at 1.
type Folder struct {
	Token         string `json:"token,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	DisplayName   string `json:"displayName,omitempty"`
	FileCount     int    `json:"fileCount"`
	Files         []File `json:"files"`
	IsVisible     bool   `json:"isVisible"`
	DisplayOrder  int    `json:"displayOrder,omitempty"`
	LinkedOrderID string `json:"linkedOrderId,omitempty"`
}

// Label returns the operator-assigned name, falling back to the system
// name and then the last path segment.
func (f Folder) Label() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}

	if f.Name != "" {
		return f.Name
	}

	segs := f.Segments()
	if len(segs) == 0 {
		return ""
	}

	return segs[len(segs)-1]
}

// Segments splits Path on "/" ignoring empty segments.
func (f Folder) Segments() []string {
	var segs []string

	for _, s := range strings.Split(f.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}

// Depth is the number of path segments. Root-level folders have depth 1.
func (f Folder) Depth() int {
	return len(f.Segments())
}

// ParentPath is the path without its last segment, "" for root-level
// folders.
func (f Folder) ParentPath() string {
	segs := f.Segments()
	if len(segs) <= 1 {
		return ""
	}

	return strings.Join(segs[:len(segs)-1], "/")
}

// Deletable reports whether the folder may be deleted. Folders linked
// to an order are immutable with respect to deletion.
func (f Folder) Deletable() bool {
	return f.LinkedOrderID == ""
}

// Clone returns a copy that does not share the file slice.
func (f Folder) Clone() Folder {
	c := f
	if f.Files != nil {
		c.Files = make([]File, len(f.Files))
		copy(c.Files, f.Files)
	}

	return c
}

// CloneFolders deep-copies a folder list.
func CloneFolders(folders []Folder) []Folder {
	if folders == nil {
		return nil
	}

	out := make([]Folder, len(folders))
	for i := range folders {
		out[i] = folders[i].Clone()
	}

	return out
}

// DownloadRecord describes a finished download saved to disk.
type DownloadRecord struct {
	RootID     string    `json:"rootId"`
	FolderPath string    `json:"folderPath,omitempty"`
	FileIDs    []string  `json:"fileIds,omitempty"`
	Filename   string    `json:"filename"`
	SavedPath  string    `json:"savedPath"`
	Bytes      int64     `json:"bytes"`
	Archived   bool      `json:"archived"`
	FinishedAt time.Time `json:"finishedAt"`
}
