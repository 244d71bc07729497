package gallery

import (
	"slices"
	"sync"

	"github.com/alexjbarnes/delivery-sync/internal/models"
)

// Model is the client-side view of one delivery root's folder tree.
// Writers are the mutation coordinator and the snapshot fetcher, one
// mutation at a time; readers get deep copies. Concurrent writes are
// last-applied-wins.
type Model struct {
	mu         sync.RWMutex
	folders    []models.Folder
	tombstones *Tombstones

	// orderDirty is set when an optimistic reorder was rejected and
	// cleared by the next authoritative snapshot.
	orderDirty bool
}

// NewModel returns an empty model filtering through tombstones. A nil
// tombstone set gets a fresh one.
func NewModel(tombstones *Tombstones) *Model {
	if tombstones == nil {
		tombstones = NewTombstones()
	}

	return &Model{tombstones: tombstones}
}

// Tombstones returns the pending-delete set the model filters with.
func (m *Model) Tombstones() *Tombstones {
	return m.tombstones
}

// Replace installs an authoritative snapshot.
func (m *Model) Replace(folders []models.Folder) {
	cp := models.CloneFolders(folders)

	m.mu.Lock()
	m.folders = cp
	m.orderDirty = false
	m.mu.Unlock()
}

// Raw returns a deep copy of the stored folders, tombstoned files
// included, in arrival order.
func (m *Model) Raw() []models.Folder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.CloneFolders(m.folders)
}

// Len returns the number of folders.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.folders)
}

// Folders returns the derived view of every folder in arrival order:
// tombstoned files removed and FileCount equal to the visible files.
func (m *Model) Folders() []models.Folder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Folder, 0, len(m.folders))
	for i := range m.folders {
		out = append(out, m.viewOf(m.folders[i]))
	}

	return out
}

// Folder returns the derived view of the folder with the given key.
func (m *Model) Folder(key string) (models.Folder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexLocked(key)
	if i < 0 {
		return models.Folder{}, false
	}

	return m.viewOf(m.folders[i]), true
}

// Resolve maps partial identifying facts to the key of a stored folder.
// The derived key is tried first. When it does not match (the caller
// built it from a different shape than the snapshot), the folder is
// looked up by token, then by path constrained to the order id when one
// was given. The returned key is always the stored folder's own key.
func (m *Model) Resolve(parts KeyParts) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if key, ok := DeriveKey(parts); ok && m.indexLocked(key) >= 0 {
		return key, true
	}

	if parts.Token != "" {
		for i := range m.folders {
			if m.folders[i].Token == parts.Token {
				return FolderKey(m.folders[i]), true
			}
		}
	}

	path := NormalizePath(parts.Path)
	if path == "" {
		return "", false
	}

	for i := range m.folders {
		f := m.folders[i]
		if NormalizePath(f.Path) != path {
			continue
		}

		if parts.OrderID != "" && f.OrderID != "" && f.OrderID != parts.OrderID {
			continue
		}

		return FolderKey(f), true
	}

	return "", false
}

// FolderOfFile returns the key of the folder holding fileID.
func (m *Model) FolderOfFile(fileID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.folders {
		for _, file := range m.folders[i].Files {
			if file.ID == fileID {
				return FolderKey(m.folders[i]), true
			}
		}
	}

	return "", false
}

// File returns the file with the given id unless it is tombstoned.
func (m *Model) File(id string) (models.File, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tombstones.Has(id) {
		return models.File{}, false
	}

	for i := range m.folders {
		for _, file := range m.folders[i].Files {
			if file.ID == id {
				return file, true
			}
		}
	}

	return models.File{}, false
}

// RootSiblings returns the root-level folders in display order.
func (m *Model) RootSiblings() []models.Folder {
	return m.Children("")
}

// Children returns the direct children of parentPath in display order.
func (m *Model) Children(parentPath string) []models.Folder {
	parentPath = NormalizePath(parentPath)

	m.mu.RLock()

	var out []models.Folder

	for i := range m.folders {
		if NormalizePath(m.folders[i].ParentPath()) == parentPath && m.folders[i].Depth() > 0 {
			out = append(out, m.viewOf(m.folders[i]))
		}
	}

	m.mu.RUnlock()

	SortSiblings(out)

	return out
}

// SortSiblings orders folders by DisplayOrder. Folders with an order
// come first; unset ones keep their arrival order after them.
func SortSiblings(folders []models.Folder) {
	slices.SortStableFunc(folders, func(a, b models.Folder) int {
		switch {
		case a.DisplayOrder > 0 && b.DisplayOrder > 0:
			return a.DisplayOrder - b.DisplayOrder
		case a.DisplayOrder > 0:
			return -1
		case b.DisplayOrder > 0:
			return 1
		default:
			return 0
		}
	})
}

// Update applies fn to the stored folder with the given key.
func (m *Model) Update(key string, fn func(f *models.Folder)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(key)
	if i < 0 {
		return false
	}

	fn(&m.folders[i])

	return true
}

// Insert appends a folder unless one with the same key exists.
func (m *Model) Insert(f models.Folder) bool {
	key := FolderKey(f)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(key) >= 0 {
		return false
	}

	m.folders = append(m.folders, f.Clone())

	return true
}

// Remove deletes the folder with the given key.
func (m *Model) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(key)
	if i < 0 {
		return false
	}

	m.folders = slices.Delete(m.folders, i, i+1)

	return true
}

// RemoveFile drops fileID from whichever folder holds it.
func (m *Model) RemoveFile(fileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.folders {
		f := &m.folders[i]
		for j := range f.Files {
			if f.Files[j].ID == fileID {
				f.Files = slices.Delete(slices.Clone(f.Files), j, j+1)
				return true
			}
		}
	}

	return false
}

// SetDisplayOrders assigns the given orders in one write. Folders not
// named keep their current order.
func (m *Model) SetDisplayOrders(orders []OrderAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range orders {
		if i := m.indexLocked(o.Key); i >= 0 {
			m.folders[i].DisplayOrder = o.Order
		}
	}
}

// SetOrderDirty flags that the displayed sibling order was not
// persisted.
func (m *Model) SetOrderDirty(v bool) {
	m.mu.Lock()
	m.orderDirty = v
	m.mu.Unlock()
}

// OrderDirty reports whether a rejected reorder is still displayed.
func (m *Model) OrderDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.orderDirty
}

// folderCapture is the rollback image of one folder: its value and
// position, or its absence.
type folderCapture struct {
	key     string
	folder  models.Folder
	index   int
	present bool
}

func (m *Model) captureFolder(key string) folderCapture {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexLocked(key)
	if i < 0 {
		return folderCapture{key: key}
	}

	return folderCapture{key: key, folder: m.folders[i].Clone(), index: i, present: true}
}

// restoreFolder puts a captured folder back where it was, or removes
// it if it did not exist at capture time.
func (m *Model) restoreFolder(c folderCapture) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(c.key)

	if !c.present {
		if i >= 0 {
			m.folders = slices.Delete(m.folders, i, i+1)
		}

		return
	}

	if i >= 0 {
		m.folders[i] = c.folder.Clone()
		return
	}

	at := min(c.index, len(m.folders))
	m.folders = slices.Insert(m.folders, at, c.folder.Clone())
}

func (m *Model) indexLocked(key string) int {
	if key == "" {
		return -1
	}

	for i := range m.folders {
		if FolderKey(m.folders[i]) == key {
			return i
		}
	}

	return -1
}

func (m *Model) viewOf(f models.Folder) models.Folder {
	v := f.Clone()
	v.Files = v.Files[:0:0]

	for _, file := range f.Files {
		if !m.tombstones.Has(file.ID) {
			v.Files = append(v.Files, file)
		}
	}

	v.FileCount = len(v.Files)

	return v
}
