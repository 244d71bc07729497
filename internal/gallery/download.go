package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"time"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/docker/go-units"
)

// chunkSize is the read size of the transfer phase. Progress is
// reported after every chunk.
const chunkSize = 32 * 1024

// maxPrealloc caps how much of a declared Content-Length is reserved
// up front. Beyond it the buffer grows as chunks arrive.
const maxPrealloc = 64 * 1024 * 1024

// DownloadAPI is the part of the portal the downloader talks to.
type DownloadAPI interface {
	ArchiveProgress(ctx context.Context, rootID string, scope ArchiveScope) (FrameStream, error)
	Archive(ctx context.Context, rootID, folderPath string) (*Artifact, error)
	DownloadFiles(ctx context.Context, rootID string, fileIDs []string) (*Artifact, error)
}

// DownloadRecorder keeps a history of finished downloads.
type DownloadRecorder interface {
	AddDownload(rec models.DownloadRecord) error
}

// DownloaderConfig holds the collaborators of a Downloader.
type DownloaderConfig struct {
	RootID   string
	API      DownloadAPI
	Model    *Model
	Saver    Saver
	Recorder DownloadRecorder
	Notifier Notifier

	// MaxBytes aborts a transfer that grows past it. Zero means no limit.
	MaxBytes int64
}

// Downloader runs the two-phase bulk download: the portal assembles an
// archive while pushing progress frames, then the archive is streamed
// and saved.
type Downloader struct {
	rootID   string
	api      DownloadAPI
	model    *Model
	saver    Saver
	recorder DownloadRecorder
	notifier Notifier
	maxBytes int64
	logger   *slog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		rootID:   cfg.RootID,
		api:      cfg.API,
		model:    cfg.Model,
		saver:    cfg.Saver,
		recorder: cfg.Recorder,
		notifier: notifierOrLog(cfg.Notifier, logger),
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Result describes a saved download.
type Result struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Archived bool   `json:"archived"`
}

// DownloadFolder archives and downloads a whole folder.
func (d *Downloader) DownloadFolder(ctx context.Context, folderPath string, onProgress ProgressFunc) (*Result, error) {
	folderPath = NormalizePath(folderPath)
	scope := ArchiveScope{FolderPath: folderPath}

	return d.run(ctx, scope, true, onProgress, func(ctx context.Context) (*Artifact, error) {
		return d.api.Archive(ctx, d.rootID, folderPath)
	})
}

// DownloadSelection downloads an explicit file set. A single file is
// fetched directly with no archive phase; two or more go through
// archive assembly first. Files pending deletion are left out.
func (d *Downloader) DownloadSelection(ctx context.Context, fileIDs []string, onProgress ProgressFunc) (*Result, error) {
	ids := d.selectable(fileIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no downloadable files in selection", apperrors.ErrFileNotFound)
	}

	fetch := func(ctx context.Context) (*Artifact, error) {
		return d.api.DownloadFiles(ctx, d.rootID, ids)
	}

	return d.run(ctx, ArchiveScope{FileIDs: ids}, len(ids) > 1, onProgress, fetch)
}

func (d *Downloader) selectable(fileIDs []string) []string {
	var ids []string

	for _, id := range fileIDs {
		if id == "" || slices.Contains(ids, id) {
			continue
		}

		if d.model != nil && d.model.Tombstones().Has(id) {
			continue
		}

		ids = append(ids, id)
	}

	return ids
}

func (d *Downloader) run(ctx context.Context, scope ArchiveScope, archived bool, onProgress ProgressFunc, fetch func(context.Context) (*Artifact, error)) (*Result, error) {
	tr := newTracker(onProgress)
	start := time.Now()

	logger := d.logger.With(
		slog.String("root", d.rootID),
		slog.String("folder", scope.FolderPath),
		slog.Int("files", len(scope.FileIDs)),
	)

	res, err := d.download(ctx, tr, scope, archived, fetch)
	if err != nil {
		_ = tr.set(Failed{Reason: err.Error()})

		logger.Warn("download failed", slog.String("error", err.Error()))

		if ctx.Err() == nil {
			d.notifier.Notify(ctx, Notice{
				Operation: "download",
				Severity:  SeverityError,
				Message:   "download failed, nothing was saved",
				Err:       err,
			})
		}

		return nil, err
	}

	_ = tr.set(Done{Filename: res.Filename, Path: res.Path, Bytes: res.Bytes})

	logger.Info("download saved",
		slog.String("path", res.Path),
		slog.String("size", units.HumanSize(float64(res.Bytes))),
		slog.Duration("took", time.Since(start)),
	)

	d.notifier.Notify(ctx, Notice{
		Operation: "download",
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("saved %s (%s)", res.Filename, units.HumanSize(float64(res.Bytes))),
	})

	if d.recorder != nil {
		rec := models.DownloadRecord{
			RootID:     d.rootID,
			FolderPath: scope.FolderPath,
			FileIDs:    scope.FileIDs,
			Filename:   res.Filename,
			SavedPath:  res.Path,
			Bytes:      res.Bytes,
			Archived:   res.Archived,
			FinishedAt: time.Now().UTC(),
		}
		if err := d.recorder.AddDownload(rec); err != nil {
			logger.Warn("recording download", slog.String("error", err.Error()))
		}
	}

	return res, nil
}

func (d *Downloader) download(ctx context.Context, tr *tracker, scope ArchiveScope, archived bool, fetch func(context.Context) (*Artifact, error)) (*Result, error) {
	var assembled int64

	if archived {
		size, err := d.assemble(ctx, tr, scope)
		if err != nil {
			return nil, err
		}

		assembled = size
	}

	art, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %w", apperrors.ErrStreamReadFailed, err)
	}

	if assembled > 0 && art.ContentLength >= 0 && art.ContentLength != assembled {
		d.logger.Warn("archive size differs from assembly report",
			slog.String("root", d.rootID),
			slog.Int64("reported_bytes", assembled),
			slog.Int64("content_length", art.ContentLength),
		)
	}

	data, err := d.transfer(ctx, tr, art)
	if err != nil {
		return nil, err
	}

	filename := art.Filename
	if filename == "" {
		filename = d.fallbackFilename(scope, archived)
	}

	saved, err := d.saver.Save(ctx, SaveRequest{
		RootID:      d.rootID,
		Filename:    filename,
		ContentType: art.ContentType,
		Scope:       scope,
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", filename, err)
	}

	return &Result{Filename: filename, Path: saved, Bytes: int64(len(data)), Archived: archived}, nil
}

// assemble consumes the archive progress channel until a terminal
// frame. The channel is closed on every path out. Returns the total
// size the portal reported.
func (d *Downloader) assemble(ctx context.Context, tr *tracker, scope ArchiveScope) (int64, error) {
	stream, err := d.api.ArchiveProgress(ctx, d.rootID, scope)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("download cancelled: %w", ctx.Err())
		}

		return 0, fmt.Errorf("%w: opening progress channel: %w", apperrors.ErrArchiveAssemblyFailed, err)
	}
	defer stream.Close()

	if err := tr.set(Creating{}); err != nil {
		return 0, err
	}

	for {
		frame, err := stream.Next(ctx)

		switch {
		case errors.Is(err, io.EOF):
			return 0, fmt.Errorf("%w: progress channel closed before completion", apperrors.ErrArchiveAssemblyFailed)
		case err != nil && ctx.Err() != nil:
			return 0, fmt.Errorf("download cancelled: %w", ctx.Err())
		case errors.Is(err, apperrors.ErrArchiveAssemblyFailed):
			return 0, err
		case err != nil:
			return 0, fmt.Errorf("%w: %w", apperrors.ErrArchiveAssemblyFailed, err)
		}

		switch frame.Stage {
		case FrameCreating:
			if err := tr.set(Creating{
				Percent:        frame.Progress,
				FilesProcessed: frame.FilesProcessed,
				TotalFiles:     frame.TotalFiles,
			}); err != nil {
				return 0, err
			}
		case FrameComplete:
			d.logger.Debug("archive ready",
				slog.String("root", d.rootID),
				slog.String("size", units.HumanSize(float64(frame.TotalBytes))),
			)

			return frame.TotalBytes, nil
		case FrameError:
			msg := frame.Message
			if msg == "" {
				msg = "archive assembly failed"
			}

			return 0, fmt.Errorf("%w: %s", apperrors.ErrArchiveAssemblyFailed, msg)
		default:
			return 0, fmt.Errorf("%w: unexpected progress frame stage %q", apperrors.ErrArchiveAssemblyFailed, frame.Stage)
		}
	}
}

// transfer reads the artifact body in chunks, reporting progress after
// each. The whole body is held until the read completes; on any failure
// it is dropped.
func (d *Downloader) transfer(ctx context.Context, tr *tracker, art *Artifact) ([]byte, error) {
	defer art.Body.Close()

	total := art.ContentLength

	if d.maxBytes > 0 && total > d.maxBytes {
		return nil, fmt.Errorf("%w: artifact of %s exceeds the %s limit", apperrors.ErrStreamReadFailed,
			units.HumanSize(float64(total)), units.HumanSize(float64(d.maxBytes)))
	}

	if err := tr.set(Downloading{TotalBytes: total}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if total > 0 {
		reserve := min(total, maxPrealloc)
		if d.maxBytes > 0 {
			reserve = min(reserve, d.maxBytes)
		}

		buf.Grow(int(reserve))
	}

	chunk := make([]byte, chunkSize)

	var received int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download cancelled: %w", err)
		}

		n, err := art.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)

			if d.maxBytes > 0 && received > d.maxBytes {
				return nil, fmt.Errorf("%w: transfer exceeded the %s limit", apperrors.ErrStreamReadFailed, units.HumanSize(float64(d.maxBytes)))
			}

			if err := tr.set(Downloading{
				Percent:       transferPercent(received, total),
				ReceivedBytes: received,
				TotalBytes:    total,
			}); err != nil {
				return nil, err
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
			}

			return nil, fmt.Errorf("%w: after %s: %w", apperrors.ErrStreamReadFailed, units.HumanSize(float64(received)), err)
		}
	}

	if total > 0 && received < total {
		return nil, fmt.Errorf("%w: stream ended after %d of %d bytes", apperrors.ErrStreamReadFailed, received, total)
	}

	return buf.Bytes(), nil
}

func (d *Downloader) fallbackFilename(scope ArchiveScope, archived bool) string {
	if len(scope.FileIDs) == 1 && !archived {
		if d.model != nil {
			if f, ok := d.model.File(scope.FileIDs[0]); ok && f.OriginalName != "" {
				return f.OriginalName
			}
		}

		return "file-" + scope.FileIDs[0]
	}

	if len(scope.FileIDs) > 0 {
		return fmt.Sprintf("selection-%d-files.zip", len(scope.FileIDs))
	}

	if scope.FolderPath == "" {
		return d.rootID + ".zip"
	}

	return path.Base(scope.FolderPath) + ".zip"
}
