package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/alexjbarnes/delivery-sync/internal/state"
	"golang.org/x/sync/errgroup"
)

// SessionConfig holds everything needed to keep one delivery root in
// sync.
type SessionConfig struct {
	RootID  string
	FeedURL string
	Token   string

	API      API
	State    *state.State
	Saver    Saver
	Notifier Notifier

	PollInterval time.Duration
	RefreshDelay time.Duration
	MaxBytes     int64
}

// Session wires the model, fetcher, reconciler, feed, coordinator,
// reorderer and downloader of one root together.
type Session struct {
	RootID string

	Model       *Model
	Fetcher     *Fetcher
	Reconciler  *Reconciler
	Feed        *Feed
	Coordinator *Coordinator
	Reorderer   *Reorderer
	Downloader  *Downloader

	state  *state.State
	logger *slog.Logger
}

// NewSession builds a Session. State may be nil, in which case nothing
// is persisted.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("root", cfg.RootID))
	notifier := notifierOrLog(cfg.Notifier, logger)

	tombstones := NewTombstones()
	model := NewModel(tombstones)

	s := &Session{
		RootID: cfg.RootID,
		Model:  model,
		state:  cfg.State,
		logger: logger,
	}

	fetcherCfg := FetcherConfig{
		RootID:   cfg.RootID,
		Source:   cfg.API,
		Model:    model,
		Notifier: notifier,
		Interval: cfg.PollInterval,
	}

	var recorder DownloadRecorder
	if cfg.State != nil {
		fetcherCfg.Store = cfg.State
		recorder = cfg.State
	}

	s.Fetcher = NewFetcher(fetcherCfg, logger)
	s.Reconciler = NewReconciler(s.Fetcher, tombstones, logger)
	s.Feed = NewFeed(FeedConfig{
		URL:      cfg.FeedURL,
		RootID:   cfg.RootID,
		Token:    cfg.Token,
		Observer: s.Reconciler,
	}, logger)
	s.Coordinator = NewCoordinator(CoordinatorConfig{
		RootID:       cfg.RootID,
		API:          cfg.API,
		Model:        model,
		Refresher:    s.Fetcher,
		Notifier:     notifier,
		RefreshDelay: cfg.RefreshDelay,
	}, logger)
	s.Reorderer = NewReorderer(cfg.RootID, cfg.API, model, s.Fetcher, notifier, logger)
	s.Downloader = NewDownloader(DownloaderConfig{
		RootID:   cfg.RootID,
		API:      cfg.API,
		Model:    model,
		Saver:    cfg.Saver,
		Recorder: recorder,
		Notifier: notifier,
		MaxBytes: cfg.MaxBytes,
	}, logger)

	return s
}

// Start restores the cached tree and pending deletes, then fetches the
// live tree once. A failed fetch is not fatal: the cached tree stays on
// display and the cadence retries.
func (s *Session) Start(ctx context.Context) error {
	if s.state != nil {
		if err := s.restore(); err != nil {
			return err
		}
	}

	if err := s.Fetcher.Fetch(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("initial fetch failed", slog.String("error", err.Error()))
	}

	return nil
}

func (s *Session) restore() error {
	if err := s.state.InitRootBuckets(s.RootID); err != nil {
		return fmt.Errorf("initializing root buckets: %w", err)
	}

	snap, err := s.state.LoadSnapshot(s.RootID)
	if err != nil {
		return fmt.Errorf("loading cached snapshot: %w", err)
	}

	if snap != nil {
		s.Model.Replace(snap.Folders)
		s.logger.Info("restored cached snapshot",
			slog.Int("folders", len(snap.Folders)),
			slog.Time("fetched_at", snap.FetchedAt),
		)
	}

	pending, err := s.state.PendingDeletes(s.RootID)
	if err != nil {
		return fmt.Errorf("loading pending deletes: %w", err)
	}

	tombstones := s.Model.Tombstones()
	tombstones.Load(pending)
	tombstones.OnChange(func(ids []string) {
		if err := s.state.SetPendingDeletes(s.RootID, ids); err != nil {
			s.logger.Warn("persisting pending deletes", slog.String("error", err.Error()))
		}
	})

	if len(pending) > 0 {
		s.logger.Info("restored pending deletes", slog.Int("count", len(pending)))
	}

	return nil
}

// Run keeps the feed subscription and the refresh cadence going until
// ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Feed.Run(gctx)
	})

	g.Go(func() error {
		return s.Fetcher.Run(gctx)
	})

	return g.Wait()
}

// Close waits for scheduled refreshes and closes the feed.
func (s *Session) Close() error {
	s.Coordinator.Wait()
	s.Fetcher.Wait()

	return s.Feed.Close()
}

// Browse lists the folder at path ("" for the top level).
func (s *Session) Browse(path string) (Listing, error) {
	var nav Navigator
	if err := nav.Open(s.Model, path); err != nil {
		return Listing{}, err
	}

	return nav.Listing(s.Model), nil
}

// Status summarises the session for operators.
type Status struct {
	RootID         string    `json:"rootId"`
	Folders        int       `json:"folders"`
	PendingDeletes []string  `json:"pendingDeletes"`
	FeedConnected  bool      `json:"feedConnected"`
	LastSync       time.Time `json:"lastSync"`
	OrderDirty     bool      `json:"orderDirty"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	return Status{
		RootID:         s.RootID,
		Folders:        s.Model.Len(),
		PendingDeletes: s.Model.Tombstones().IDs(),
		FeedConnected:  s.Feed.Connected(),
		LastSync:       s.Fetcher.LastSync(),
		OrderDirty:     s.Model.OrderDirty(),
	}
}

// Downloads returns the newest download records, up to limit.
func (s *Session) Downloads(limit int) ([]models.DownloadRecord, error) {
	if s.state == nil {
		return nil, nil
	}

	return s.state.Downloads(s.RootID, limit)
}
