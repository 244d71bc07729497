package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/google/uuid"
)

// ReorderAPI persists sibling order.
type ReorderAPI interface {
	ReorderFolders(ctx context.Context, rootID string, orders []OrderAssignment) error
}

// Reorderer moves root-level folders among their siblings.
type Reorderer struct {
	rootID    string
	api       ReorderAPI
	model     *Model
	refresher Refresher
	notifier  Notifier
	logger    *slog.Logger
}

// NewReorderer creates a Reorderer.
func NewReorderer(rootID string, api ReorderAPI, model *Model, refresher Refresher, notifier Notifier, logger *slog.Logger) *Reorderer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reorderer{
		rootID:    rootID,
		api:       api,
		model:     model,
		refresher: refresher,
		notifier:  notifierOrLog(notifier, logger),
		logger:    logger,
	}
}

// MoveSibling returns a copy of list with the element at from removed
// and reinserted at to. Indices out of range return an unchanged copy.
func MoveSibling[T any](list []T, from, to int) []T {
	out := slices.Clone(list)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}

	item := out[from]
	out = slices.Delete(out, from, from+1)

	return slices.Insert(out, to, item)
}

// Reorder moves the folder with activeKey to the position of the folder
// with overKey. Returns false without touching anything when either key
// is not a root-level folder or both are the same.
func (r *Reorderer) Reorder(ctx context.Context, activeKey, overKey string) (bool, error) {
	if activeKey == "" || overKey == "" || activeKey == overKey {
		return false, nil
	}

	siblings := r.model.RootSiblings()

	from := slices.IndexFunc(siblings, func(f models.Folder) bool { return FolderKey(f) == activeKey })
	to := slices.IndexFunc(siblings, func(f models.Folder) bool { return FolderKey(f) == overKey })

	return r.move(ctx, siblings, from, to)
}

// ReorderByIndex moves the root-level folder at position from to
// position to, both counted in display order.
func (r *Reorderer) ReorderByIndex(ctx context.Context, from, to int) (bool, error) {
	return r.move(ctx, r.model.RootSiblings(), from, to)
}

func (r *Reorderer) move(ctx context.Context, siblings []models.Folder, from, to int) (bool, error) {
	if from < 0 || to < 0 || from >= len(siblings) || to >= len(siblings) || from == to {
		return false, nil
	}

	moved := MoveSibling(siblings, from, to)

	orders := make([]OrderAssignment, 0, len(moved))
	for i, f := range moved {
		orders = append(orders, OrderAssignment{Key: FolderKey(f), Order: i + 1})
	}

	r.model.SetDisplayOrders(orders)

	requestID := uuid.NewString()
	logger := r.logger.With(
		slog.String("op", "reorder"),
		slog.String("target", FolderKey(siblings[from])),
		slog.Int("from", from),
		slog.Int("to", to),
		slog.String("request_id", requestID),
	)

	if err := r.api.ReorderFolders(WithRequestID(ctx, requestID), r.rootID, orders); err != nil {
		r.model.SetOrderDirty(true)

		wrapped := fmt.Errorf("%w: %w", apperrors.ErrReorderRejected, err)
		logger.Warn("reorder rejected, keeping local order", slog.String("error", err.Error()))
		r.notifier.Notify(ctx, Notice{
			Operation: "reorder",
			Severity:  SeverityError,
			Message:   "new folder order could not be saved; the order shown may not match the delivery page until the next refresh",
			Err:       wrapped,
		})

		return true, wrapped
	}

	logger.Info("reorder saved")

	if r.refresher != nil {
		if err := r.refresher.Fetch(ctx); err != nil {
			logger.Warn("refresh after reorder failed", slog.String("error", err.Error()))
		}
	}

	return true, nil
}
