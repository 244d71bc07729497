package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	// DefaultRefreshDelay is how long after a successful mutation the
	// authoritative refresh runs, giving the write time to reach the
	// snapshot query.
	DefaultRefreshDelay = 500 * time.Millisecond

	// MaxFolderNameLength is the longest folder name accepted, in runes.
	MaxFolderNameLength = 120

	delayedFetchTimeout = 30 * time.Second
)

var folderNamePattern = regexp.MustCompile(`^[^/]+$`)

// MutationAPI is the subset of the portal the coordinator submits to.
type MutationAPI interface {
	CreateFolder(ctx context.Context, rootID, name, parentPath string) error
	RenameFolder(ctx context.Context, rootID, path, newName string) error
	DeleteFolder(ctx context.Context, rootID, path, token string) error
	DeleteFile(ctx context.Context, rootID, fileID string) error
	SetFolderVisibility(ctx context.Context, rootID, key string, visible bool) error
}

// CoordinatorConfig holds the collaborators of a Coordinator.
type CoordinatorConfig struct {
	RootID       string
	API          MutationAPI
	Model        *Model
	Refresher    Refresher
	Notifier     Notifier
	RefreshDelay time.Duration
}

// Coordinator applies operator edits to the model immediately, submits
// them to the portal, and restores the previous state when the portal
// refuses. Each mutation targets exactly one folder or file.
type Coordinator struct {
	rootID    string
	api       MutationAPI
	model     *Model
	refresher Refresher
	notifier  Notifier
	delay     time.Duration
	logger    *slog.Logger

	// afterFunc schedules the delayed refresh. Replaced in tests.
	afterFunc func(d time.Duration, f func())
	wg        sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.RefreshDelay
	if delay <= 0 {
		delay = DefaultRefreshDelay
	}

	return &Coordinator{
		rootID:    cfg.RootID,
		api:       cfg.API,
		model:     cfg.Model,
		refresher: cfg.Refresher,
		notifier:  notifierOrLog(cfg.Notifier, logger),
		delay:     delay,
		logger:    logger,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

type folderNameInput struct {
	Name string `json:"name"`
}

func validateFolderName(name string) error {
	in := folderNameInput{Name: name}

	return validation.ValidateStruct(&in,
		validation.Field(&in.Name,
			validation.Required,
			validation.RuneLength(1, MaxFolderNameLength),
			validation.Match(folderNamePattern).Error("folder name cannot contain slashes"),
		),
	)
}

// CreateFolder adds a section named name under parentPath ("" for the
// root). A placeholder appears in the model right away and is replaced
// by the real folder on the next refresh.
func (c *Coordinator) CreateFolder(ctx context.Context, name, parentPath string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validateFolderName(name); err != nil {
		return "", fmt.Errorf("invalid folder name: %w", err)
	}

	parentPath = NormalizePath(parentPath)
	if parentPath != "" {
		if _, ok := c.model.Resolve(KeyParts{Path: parentPath}); !ok {
			return "", fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, parentPath)
		}
	}

	placeholder := models.Folder{
		Path:      JoinPath(parentPath, name),
		Name:      name,
		IsVisible: true,
		Files:     []models.File{},
	}
	key := FolderKey(placeholder)

	if _, ok := c.model.Resolve(KeyParts{Path: placeholder.Path}); ok {
		return "", fmt.Errorf("invalid folder name: %w", validation.Errors{"name": validation.NewError("folder_exists", "a folder with this name already exists")})
	}

	txn := Begin(func() folderCapture { return c.model.captureFolder(key) }, c.model.restoreFolder)
	c.model.Insert(placeholder)

	err := mutate(ctx, c, "create_folder", key, txn, func(ctx context.Context) error {
		return c.api.CreateFolder(ctx, c.rootID, name, parentPath)
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

// RenameFolder sets the display name of the folder identified by parts.
func (c *Coordinator) RenameFolder(ctx context.Context, parts KeyParts, newName string) error {
	newName = strings.TrimSpace(newName)
	if err := validateFolderName(newName); err != nil {
		return fmt.Errorf("invalid folder name: %w", err)
	}

	key, folder, err := c.resolve(parts)
	if err != nil {
		return err
	}

	txn := Begin(func() folderCapture { return c.model.captureFolder(key) }, c.model.restoreFolder)
	c.model.Update(key, func(f *models.Folder) { f.DisplayName = newName })

	return mutate(ctx, c, "rename_folder", key, txn, func(ctx context.Context) error {
		return c.api.RenameFolder(ctx, c.rootID, folder.Path, newName)
	})
}

// DeleteFolder removes the folder identified by parts. A folder linked
// to an order is refused locally with ErrDeletionForbidden and nothing
// is sent to the portal.
func (c *Coordinator) DeleteFolder(ctx context.Context, parts KeyParts) error {
	key, folder, err := c.resolve(parts)
	if err != nil {
		return err
	}

	if !folder.Deletable() {
		err := fmt.Errorf("%w: %q is linked to order %s", apperrors.ErrDeletionForbidden, folder.Label(), folder.LinkedOrderID)
		c.notifier.Notify(ctx, Notice{
			Operation: "delete_folder",
			Severity:  SeverityError,
			Message:   "this folder is linked to an order and cannot be deleted",
			Err:       err,
		})

		return err
	}

	txn := Begin(func() folderCapture { return c.model.captureFolder(key) }, c.model.restoreFolder)
	c.model.Remove(key)

	return mutate(ctx, c, "delete_folder", key, txn, func(ctx context.Context) error {
		return c.api.DeleteFolder(ctx, c.rootID, folder.Path, folder.Token)
	})
}

// DeleteFile removes a file from its folder and tombstones it, so a
// snapshot that predates the deletion cannot bring it back. The
// tombstone clears when the live feed stops listing the id.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID string) error {
	key, ok := c.model.FolderOfFile(fileID)
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, fileID)
	}

	tombstones := c.model.Tombstones()

	var gen uint64

	txn := Begin(
		func() folderCapture { return c.model.captureFolder(key) },
		func(fc folderCapture) {
			c.model.restoreFolder(fc)
			tombstones.Revert(fileID, gen)
		},
	)
	gen = tombstones.Add(fileID)
	c.model.RemoveFile(fileID)

	return mutate(ctx, c, "delete_file", fileID, txn, func(ctx context.Context) error {
		return c.api.DeleteFile(ctx, c.rootID, fileID)
	})
}

// SetVisibility shows or hides the folder identified by parts.
func (c *Coordinator) SetVisibility(ctx context.Context, parts KeyParts, visible bool) error {
	key, _, err := c.resolve(parts)
	if err != nil {
		return err
	}

	txn := Begin(func() folderCapture { return c.model.captureFolder(key) }, c.model.restoreFolder)
	c.model.Update(key, func(f *models.Folder) { f.IsVisible = visible })

	return mutate(ctx, c, "set_visibility", key, txn, func(ctx context.Context) error {
		return c.api.SetFolderVisibility(ctx, c.rootID, key, visible)
	})
}

// Wait blocks until scheduled refreshes have run.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) resolve(parts KeyParts) (string, models.Folder, error) {
	key, ok := c.model.Resolve(parts)
	if !ok {
		return "", models.Folder{}, fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, describeParts(parts))
	}

	folder, ok := c.model.Folder(key)
	if !ok {
		return "", models.Folder{}, fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, key)
	}

	return key, folder, nil
}

// mutate runs the submit step of an optimistic change whose local
// apply has already happened under txn. On success the transaction
// commits and a delayed refresh is scheduled. On failure it rolls back,
// a notice fires, and the error wraps ErrMutationRejected. Nothing is
// retried.
func mutate[T any](ctx context.Context, c *Coordinator, op, target string, txn *Txn[T], submit func(ctx context.Context) error) error {
	requestID := uuid.NewString()
	logger := c.logger.With(
		slog.String("op", op),
		slog.String("target", target),
		slog.String("request_id", requestID),
	)

	if err := submit(WithRequestID(ctx, requestID)); err != nil {
		txn.Rollback()

		wrapped := fmt.Errorf("%w: %s: %w", apperrors.ErrMutationRejected, op, err)
		logger.Warn("mutation rejected, rolled back", slog.String("error", err.Error()))
		c.notifier.Notify(ctx, Notice{
			Operation: op,
			Severity:  SeverityError,
			Message:   "change was rejected and has been reverted",
			Err:       wrapped,
		})

		return wrapped
	}

	txn.Commit()
	logger.Info("mutation accepted")
	c.scheduleRefresh(ctx)

	return nil
}

// scheduleRefresh runs an authoritative fetch after the refresh delay.
// The fetch outlives the caller's context.
func (c *Coordinator) scheduleRefresh(ctx context.Context) {
	if c.refresher == nil {
		return
	}

	base := context.WithoutCancel(ctx)

	c.wg.Add(1)
	c.afterFunc(c.delay, func() {
		defer c.wg.Done()

		fetchCtx, cancel := context.WithTimeout(base, delayedFetchTimeout)
		defer cancel()

		if err := c.refresher.Fetch(fetchCtx); err != nil {
			c.logger.Warn("post-mutation refresh failed", slog.String("error", err.Error()))
		}
	})
}

func describeParts(p KeyParts) string {
	if key, ok := DeriveKey(p); ok {
		return key
	}

	return "<no identifying fields>"
}
