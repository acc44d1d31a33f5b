package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
)

// Notifier is the best-effort fan-out channel. Callers emit after their own
// transaction has committed; a failed write is logged and dropped, never
// propagated, so losing a notification can never lose ledger correctness.
type Notifier struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewNotifier(db *pgxpool.Pool, logger *slog.Logger) *Notifier {
	return &Notifier{db: db, logger: logger}
}

// Emit appends one notification. Self-notifications are suppressed.
func (n *Notifier) Emit(ctx context.Context, recipientID int64, actorID *int64, kind, targetType string, targetID int64) {
	if actorID != nil && *actorID == recipientID {
		return
	}

	_, err := n.db.Exec(ctx, `
		INSERT INTO notifications (recipient_id, actor_id, kind, target_type, target_id)
		VALUES ($1, $2, $3, $4, $5)`,
		recipientID, actorID, kind, targetType, targetID)
	if err != nil {
		notificationsDropped.Inc()
		n.logger.Warn("notification dropped",
			"recipient_id", recipientID, "kind", kind,
			"target_type", targetType, "target_id", targetID, "error", err)
	}
}

// MarkRead flips a notification's read flag.
func (n *Notifier) MarkRead(ctx context.Context, id int64) error {
	tag, err := n.db.Exec(ctx,
		"UPDATE notifications SET is_read = true WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("mark read failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}
