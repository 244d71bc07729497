package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// TreeSource is the snapshot query of the portal.
type TreeSource interface {
	FetchTree(ctx context.Context, rootID string) ([]models.Folder, error)
}

// SnapshotStore persists the last authoritative tree so it can be shown
// before the first fetch of the next run completes.
type SnapshotStore interface {
	SaveSnapshot(rootID string, folders []models.Folder) error
}

// Refresher is the part of the fetcher the reconciler and mutation
// paths depend on.
type Refresher interface {
	Fetch(ctx context.Context) error
	TriggerRefresh(ctx context.Context) bool
}

// FetcherConfig holds the collaborators of a Fetcher.
type FetcherConfig struct {
	RootID   string
	Source   TreeSource
	Model    *Model
	Store    SnapshotStore
	Notifier Notifier

	// Interval is the fixed refresh cadence used by Run. Zero disables
	// cadence refreshes.
	Interval time.Duration
}

// Fetcher pulls the authoritative folder tree and installs it in the
// model. Every fetch goes to the portal; nothing is cached because
// other sessions and uploaders change the tree out of band.
type Fetcher struct {
	rootID   string
	source   TreeSource
	model    *Model
	store    SnapshotStore
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger

	// inflight gates background refreshes: at most one runs at a time
	// and triggers arriving meanwhile are dropped.
	inflight atomic.Bool
	wg       sync.WaitGroup

	fetches  atomic.Int64
	lastMu   sync.Mutex
	lastSync time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		rootID:   cfg.RootID,
		source:   cfg.Source,
		model:    cfg.Model,
		store:    cfg.Store,
		notifier: notifierOrLog(cfg.Notifier, logger),
		interval: cfg.Interval,
		logger:   logger,
	}
}

// Fetch pulls the tree and replaces the model with it. On failure the
// model is left untouched, a notice fires, and the error wraps
// ErrFetchFailed. Retrying is up to the caller.
func (f *Fetcher) Fetch(ctx context.Context) error {
	f.fetches.Add(1)

	start := time.Now()

	folders, err := f.source.FetchTree(ctx, f.rootID)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", apperrors.ErrFetchFailed, err)
		if ctx.Err() == nil {
			f.notifier.Notify(ctx, Notice{
				Operation: "fetch",
				Severity:  SeverityError,
				Message:   "could not refresh the gallery, showing last known state",
				Err:       wrapped,
			})
		}

		return wrapped
	}

	var before []models.Folder
	if f.logger.Enabled(ctx, slog.LevelDebug) {
		before = f.model.Raw()
	}

	f.model.Replace(folders)

	f.lastMu.Lock()
	f.lastSync = time.Now()
	f.lastMu.Unlock()

	f.logger.Debug("snapshot applied",
		slog.String("root", f.rootID),
		slog.Int("folders", len(folders)),
		slog.Duration("took", time.Since(start)),
	)

	if before != nil {
		f.logChanges(ctx, before, folders)
	}

	if f.store != nil {
		if err := f.store.SaveSnapshot(f.rootID, folders); err != nil {
			f.logger.Warn("persisting snapshot",
				slog.String("root", f.rootID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// TriggerRefresh starts a background fetch unless one is already in
// flight, in which case the trigger is dropped. Returns whether a fetch
// was started.
func (f *Fetcher) TriggerRefresh(ctx context.Context) bool {
	if !f.inflight.CompareAndSwap(false, true) {
		f.logger.Debug("refresh already in flight, dropping trigger", slog.String("root", f.rootID))
		return false
	}

	f.wg.Add(1)

	go func() {
		defer f.wg.Done()
		defer f.inflight.Store(false)

		if err := f.Fetch(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("background refresh failed",
				slog.String("root", f.rootID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return true
}

// Run refreshes on the configured cadence until ctx is cancelled. Ticks
// go through the same gate as TriggerRefresh.
func (f *Fetcher) Run(ctx context.Context) error {
	if f.interval <= 0 {
		<-ctx.Done()
		f.Wait()

		return ctx.Err()
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Wait()
			return ctx.Err()
		case <-ticker.C:
			f.TriggerRefresh(ctx)
		}
	}
}

// Wait blocks until background refreshes have finished.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// InFlight reports whether a background refresh is running.
func (f *Fetcher) InFlight() bool {
	return f.inflight.Load()
}

// Fetches returns how many fetches have been issued.
func (f *Fetcher) Fetches() int64 {
	return f.fetches.Load()
}

// LastSync returns when a snapshot was last applied.
func (f *Fetcher) LastSync() time.Time {
	f.lastMu.Lock()
	defer f.lastMu.Unlock()

	return f.lastSync
}

func (f *Fetcher) logChanges(ctx context.Context, before, after []models.Folder) {
	added, removed := TreeChanges(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	f.logger.LogAttrs(ctx, slog.LevelDebug, "snapshot changes",
		slog.String("root", f.rootID),
		slog.Any("added", added),
		slog.Any("removed", removed),
	)
}

// TreeChanges compares two trees line by line, one line per folder and
// one per file, and returns the lines only present in after and only
// present in before.
func TreeChanges(before, after []models.Folder) (added, removed []string) {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(renderTree(before), renderTree(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		var target *[]string

		switch d.Type {
		case diffmatchpatch.DiffInsert:
			target = &added
		case diffmatchpatch.DiffDelete:
			target = &removed
		default:
			continue
		}

		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if line != "" {
				*target = append(*target, line)
			}
		}
	}

	return added, removed
}

func renderTree(folders []models.Folder) string {
	var b strings.Builder

	for _, f := range folders {
		fmt.Fprintf(&b, "%s label=%q visible=%t order=%d\n", FolderKey(f), f.Label(), f.IsVisible, f.DisplayOrder)

		for _, file := range f.Files {
			fmt.Fprintf(&b, "%s file=%s name=%q\n", FolderKey(f), file.ID, file.OriginalName)
		}
	}

	return b.String()
}
