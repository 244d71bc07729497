package gallery

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
)

// Crumb is one level of the navigation stack.
type Crumb struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Label string `json:"label"`
}

// Navigator is the explicit view state of one operator: which folder
// is open and how they got there. The breadcrumb stack is kept as a
// sequence and only changes through Enter, Up and Reset.
type Navigator struct {
	stack []Crumb
}

// Enter opens a direct child of the current folder (or a root-level
// folder at the top).
func (n *Navigator) Enter(m *Model, key string) error {
	f, ok := m.Folder(key)
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, key)
	}

	if NormalizePath(f.ParentPath()) != NormalizePath(n.Current().Path) {
		return fmt.Errorf("%w: %s is not inside %q", apperrors.ErrFolderNotFound, key, n.Current().Path)
	}

	n.stack = append(n.stack, Crumb{Key: key, Path: NormalizePath(f.Path), Label: f.Label()})

	return nil
}

// Open resets the stack and enters every level of path in turn.
func (n *Navigator) Open(m *Model, path string) error {
	n.Reset()

	segs := (models.Folder{Path: NormalizePath(path)}).Segments()
	for i := range segs {
		prefix := strings.Join(segs[:i+1], "/")

		key, ok := m.Resolve(KeyParts{Path: prefix})
		if !ok {
			n.Reset()
			return fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, prefix)
		}

		if err := n.Enter(m, key); err != nil {
			n.Reset()
			return err
		}
	}

	return nil
}

// Up leaves the current folder. Returns false at the top.
func (n *Navigator) Up() bool {
	if len(n.stack) == 0 {
		return false
	}

	n.stack = n.stack[:len(n.stack)-1]

	return true
}

// Reset returns to the top level.
func (n *Navigator) Reset() {
	n.stack = nil
}

// Current returns the open folder, or the zero Crumb at the top.
func (n *Navigator) Current() Crumb {
	if len(n.stack) == 0 {
		return Crumb{}
	}

	return n.stack[len(n.stack)-1]
}

// Breadcrumbs returns a copy of the stack, outermost first.
func (n *Navigator) Breadcrumbs() []Crumb {
	return slices.Clone(n.stack)
}

// Listing is what the open folder shows. Slices are never nil.
type Listing struct {
	Crumbs  []Crumb         `json:"crumbs"`
	Folders []models.Folder `json:"folders"`
	Files   []models.File   `json:"files"`
}

// Listing returns the children and visible files of the open folder.
// When the open folder no longer exists (deleted by another session)
// the stack is trimmed back to the deepest surviving level.
func (n *Navigator) Listing(m *Model) Listing {
	for len(n.stack) > 0 {
		if _, ok := m.Folder(n.Current().Key); ok {
			break
		}

		n.Up()
	}

	cur := n.Current()

	l := Listing{
		Crumbs:  append([]Crumb{}, n.stack...),
		Folders: append([]models.Folder{}, m.Children(cur.Path)...),
		Files:   []models.File{},
	}

	if cur.Key != "" {
		if f, ok := m.Folder(cur.Key); ok {
			l.Files = append(l.Files, f.Files...)
		}
	}

	return l
}
