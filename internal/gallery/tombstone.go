package gallery

import (
	"sort"
	"sync"
)

// Tombstones is the set of file ids whose deletion has been applied
// locally but not yet confirmed by the live feed. Every derived view of
// folder contents filters these ids out, so a snapshot that predates
// the deletion cannot resurrect the file.
//
// Each entry carries the generation it was added at. A rollback only
// clears the entry it created; if the same id was tombstoned again in
// the meantime the newer entry survives. There is no expiry: an entry
// leaves the set on feed confirmation or on rollback, never on a timer.
type Tombstones struct {
	mu      sync.Mutex
	entries map[string]uint64
	gen     uint64

	onChange func(ids []string)
}

// NewTombstones returns an empty set.
func NewTombstones() *Tombstones {
	return &Tombstones{entries: make(map[string]uint64)}
}

// OnChange registers fn to receive the full id set after every change.
// fn runs outside the lock.
func (t *Tombstones) OnChange(fn func(ids []string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Load seeds the set with ids restored from disk without firing OnChange.
func (t *Tombstones) Load(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		t.gen++
		t.entries[id] = t.gen
	}
}

// Add tombstones id and returns the generation tag for a later Revert.
func (t *Tombstones) Add(id string) uint64 {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.entries[id] = gen
	ids, fn := t.snapshotLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(ids)
	}

	return gen
}

// Revert removes id if it is still tagged with gen. Returns whether an
// entry was removed.
func (t *Tombstones) Revert(id string, gen uint64) bool {
	t.mu.Lock()

	cur, ok := t.entries[id]
	if !ok || cur != gen {
		t.mu.Unlock()
		return false
	}

	delete(t.entries, id)
	ids, fn := t.snapshotLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(ids)
	}

	return true
}

// Confirm clears every tombstone whose id is absent from the live set:
// the authority no longer has that upload, so the deletion is done.
// Returns the cleared ids, sorted.
func (t *Tombstones) Confirm(live map[string]struct{}) []string {
	t.mu.Lock()

	var cleared []string

	for id := range t.entries {
		if _, ok := live[id]; !ok {
			cleared = append(cleared, id)
			delete(t.entries, id)
		}
	}

	if len(cleared) == 0 {
		t.mu.Unlock()
		return nil
	}

	ids, fn := t.snapshotLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(ids)
	}

	sort.Strings(cleared)

	return cleared
}

// Has reports whether id is tombstoned.
func (t *Tombstones) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[id]

	return ok
}

// Len returns the number of pending deletes.
func (t *Tombstones) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// IDs returns the tombstoned ids, sorted.
func (t *Tombstones) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, _ := t.snapshotLocked()

	return ids
}

func (t *Tombstones) snapshotLocked() ([]string, func([]string)) {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, t.onChange
}
