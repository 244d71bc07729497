package gallery

import (
	"strings"

	"github.com/alexjbarnes/delivery-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// KeyParts holds whichever immutable identifying facts a call site has
// for a folder. Any subset may be empty.
type KeyParts struct {
	Token   string
	OrderID string
	Path    string
}

// PartsOf extracts the identifying facts of a folder.
func PartsOf(f models.Folder) KeyParts {
	return KeyParts{Token: f.Token, OrderID: f.OrderID, Path: f.Path}
}

// DeriveKey computes a folder's unique key. A standalone folder token
// wins, then the (order id, path) pair, then the bare path. Returns
// false when none of them is present.
//
// Display fields are not inputs: renaming, hiding or
// reordering a folder never changes its key.
func DeriveKey(p KeyParts) (string, bool) {
	token := strings.TrimSpace(p.Token)
	orderID := strings.TrimSpace(p.OrderID)
	path := NormalizePath(p.Path)

	switch {
	case token != "":
		return "token:" + token, true
	case orderID != "" && path != "":
		return "order:" + orderID + ":" + path, true
	case path != "":
		return "path:" + path, true
	default:
		return "", false
	}
}

// FolderKey derives the key of a folder from its immutable facts.
func FolderKey(f models.Folder) string {
	key, _ := DeriveKey(PartsOf(f))
	return key
}

// NormalizePath converts a folder path to its canonical form: NFC,
// forward slashes, no empty segments, no leading or trailing slash.
// Two sources describing the same folder may disagree on any of these.
func NormalizePath(p string) string {
	p = norm.NFC.String(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, "\\", "/")

	var segs []string

	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return strings.Join(segs, "/")
}

// JoinPath appends a child name to a parent path.
func JoinPath(parent, name string) string {
	parent = NormalizePath(parent)
	name = NormalizePath(name)

	if parent == "" {
		return name
	}

	return parent + "/" + name
}
