package store

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/atelierops/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampLimit normalizes a client page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// ListTransactions pages an account's ledger history (sent or received),
// newest first. A non-empty next cursor means more rows may follow.
func (s *Store) ListTransactions(ctx context.Context, accountID int64, cursor string, limit int) ([]domain.Transaction, string, error) {
	limit = ClampLimit(limit)
	cur, hasCur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	q := `
		SELECT id, sender_id, receiver_id, amount, tx_type, status,
		       related_style_id, related_job_id, memo, refunded, created_at
		FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1)`
	args := []any{accountID}
	if hasCur {
		q += " AND (created_at, id) < ($2, $3)"
		args = append(args, cur.CreatedAt, cur.ID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT " + limitArg(len(args)+1)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Type,
			&t.Status, &t.RelatedStyleID, &t.RelatedJobID, &t.Memo, &t.Refunded,
			&t.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit {
		last := out[len(out)-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

// ListJobs pages an account's generation history, newest first.
func (s *Store) ListJobs(ctx context.Context, requesterID int64, cursor string, limit int) ([]domain.GenerationJob, string, error) {
	limit = ClampLimit(limit)
	cur, hasCur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	q := `
		SELECT id, requester_id, style_id, aspect_ratio, consumed_tokens, status,
		       result_ref, progress, debit_tx_id, error_code, error_message,
		       created_at, completed_at
		FROM generation_jobs
		WHERE requester_id = $1`
	args := []any{requesterID}
	if hasCur {
		q += " AND (created_at, id) < ($2, $3)"
		args = append(args, cur.CreatedAt, cur.ID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT " + limitArg(len(args)+1)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.GenerationJob
	for rows.Next() {
		var j domain.GenerationJob
		if err := rows.Scan(&j.ID, &j.RequesterID, &j.StyleID, &j.AspectRatio,
			&j.ConsumedTokens, &j.Status, &j.ResultRef, &j.Progress, &j.DebitTxID,
			&j.ErrorCode, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, "", err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit {
		last := out[len(out)-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

// ListNotifications pages an account's notification feed, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID int64, cursor string, limit int) ([]domain.Notification, string, error) {
	limit = ClampLimit(limit)
	cur, hasCur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	q := `
		SELECT id, recipient_id, actor_id, kind, target_type, target_id, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1`
	args := []any{recipientID}
	if hasCur {
		q += " AND (created_at, id) < ($2, $3)"
		args = append(args, cur.CreatedAt, cur.ID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT " + limitArg(len(args)+1)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.Kind,
			&n.TargetType, &n.TargetID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit {
		last := out[len(out)-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

// limitArg keeps the positional placeholder in step with the optional
// cursor arguments.
func limitArg(n int) string {
	return fmt.Sprintf("$%d", n)
}
