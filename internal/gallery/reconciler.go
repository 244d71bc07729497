package gallery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// IDDiff is the difference between two live upload id sets.
type IDDiff struct {
	Added   []string
	Removed []string
}

// Empty reports whether nothing changed.
func (d IDDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffIDs returns the ids in curr but not prev and the ids in prev but
// not curr, both sorted.
func DiffIDs(prev, curr map[string]struct{}) IDDiff {
	var d IDDiff

	for id := range curr {
		if _, ok := prev[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}

	for id := range prev {
		if _, ok := curr[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)

	return d
}

// IDSet builds a set from a list of ids.
func IDSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}

// Observation is what the reconciler decided for one feed emission.
type Observation struct {
	Diff IDDiff

	// Refresh is true when the emission warranted a snapshot refresh.
	Refresh bool

	// Started is true when a refresh was actually started; false when it
	// was coalesced into one already in flight.
	Started bool

	// Confirmed lists tombstones cleared by this emission.
	Confirmed []string
}

// Reconciler turns the cheap "something changed" feed into decisions
// about when to pay for a full snapshot, and confirms pending deletes.
type Reconciler struct {
	refresher  Refresher
	tombstones *Tombstones
	logger     *slog.Logger

	mu       sync.Mutex
	previous map[string]struct{}
}

// NewReconciler creates a Reconciler.
func NewReconciler(refresher Refresher, tombstones *Tombstones, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		refresher:  refresher,
		tombstones: tombstones,
		logger:     logger,
		previous:   map[string]struct{}{},
	}
}

// Observe processes one emission carrying the complete live id set.
// The previous set is replaced unconditionally, whatever the refresh
// outcome, so the same change never triggers twice.
func (r *Reconciler) Observe(ctx context.Context, ids []string) Observation {
	curr := IDSet(ids)

	r.mu.Lock()
	prev := r.previous
	r.previous = curr
	r.mu.Unlock()

	obs := Observation{Diff: DiffIDs(prev, curr)}
	obs.Refresh = !obs.Diff.Empty() || (len(prev) == 0 && len(curr) > 0)

	if r.tombstones != nil {
		obs.Confirmed = r.tombstones.Confirm(curr)
	}

	if obs.Refresh {
		obs.Started = r.refresher.TriggerRefresh(ctx)
	}

	if obs.Refresh || len(obs.Confirmed) > 0 {
		r.logger.Debug("live uploads changed",
			slog.Int("live", len(curr)),
			slog.Int("added", len(obs.Diff.Added)),
			slog.Int("removed", len(obs.Diff.Removed)),
			slog.Int("confirmed_deletes", len(obs.Confirmed)),
			slog.Bool("refresh_started", obs.Started),
		)
	}

	return obs
}

// Previous returns the last observed live set as a sorted list.
func (r *Reconciler) Previous() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.previous))
	for id := range r.previous {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
