package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the connection pool and the snapshot read surface. All reads
// here are lock-free; every balance mutation goes through internal/service.
type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// EnsureSchema applies the embedded DDL. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account; artist accounts get their 1:1 earned
// balance profile row in the same transaction.
func (s *Store) CreateAccount(ctx context.Context, displayName string, role domain.Role) (*domain.Account, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	acc := &domain.Account{DisplayName: displayName, Role: role}
	err = tx.QueryRow(ctx,
		"INSERT INTO accounts (display_name, role) VALUES ($1, $2) RETURNING id, balance, created_at",
		displayName, role,
	).Scan(&acc.ID, &acc.Balance, &acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}

	if role == domain.RoleArtist {
		if _, err := tx.Exec(ctx,
			"INSERT INTO artist_profiles (account_id) VALUES ($1)", acc.ID); err != nil {
			return nil, fmt.Errorf("artist profile insert failed: %w", err)
		}
		var zero int64
		acc.EarnedBalance = &zero
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return acc, nil
}

// GetAccount returns the account with its earned balance when one exists.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var acc domain.Account
	err := s.Pool.QueryRow(ctx, `
		SELECT a.id, a.display_name, a.role, a.balance, a.created_at, p.earned_balance
		FROM accounts a
		LEFT JOIN artist_profiles p ON p.account_id = a.id
		WHERE a.id = $1`, id,
	).Scan(&acc.ID, &acc.DisplayName, &acc.Role, &acc.Balance, &acc.CreatedAt, &acc.EarnedBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

func (s *Store) GetStyle(ctx context.Context, id int64) (*domain.Style, error) {
	var st domain.Style
	err := s.Pool.QueryRow(ctx, `
		SELECT id, artist_id, name, generation_cost, training_status,
		       COALESCE(model_ref, ''), training_progress, created_at
		FROM styles WHERE id = $1`, id,
	).Scan(&st.ID, &st.ArtistID, &st.Name, &st.GenerationCost, &st.TrainingStatus,
		&st.ModelRef, &st.Progress, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStyleNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	err := s.Pool.QueryRow(ctx, `
		SELECT id, requester_id, style_id, aspect_ratio, consumed_tokens, status,
		       result_ref, progress, debit_tx_id, error_code, error_message,
		       created_at, completed_at
		FROM generation_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.RequesterID, &j.StyleID, &j.AspectRatio, &j.ConsumedTokens,
		&j.Status, &j.ResultRef, &j.Progress, &j.DebitTxID, &j.ErrorCode,
		&j.ErrorMessage, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, amount, tx_type, status,
		       related_style_id, related_job_id, memo, refunded, created_at
		FROM transactions WHERE id = $1`, id,
	).Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Type, &t.Status,
		&t.RelatedStyleID, &t.RelatedJobID, &t.Memo, &t.Refunded, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetPurchaseByPaymentKey(ctx context.Context, paymentKey string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := s.Pool.QueryRow(ctx, `
		SELECT id, buyer_id, amount_tokens, price_per_token::text, provider,
		       provider_payment_key, provider_order_ref, status, approved_at, created_at
		FROM purchases WHERE provider_payment_key = $1`, paymentKey,
	).Scan(&p.ID, &p.BuyerID, &p.AmountTokens, &p.PricePerToken, &p.Provider,
		&p.ProviderPaymentKey, &p.ProviderOrderRef, &p.Status, &p.ApprovedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListAccountIDs feeds the offline reconciliation sweep.
func (s *Store) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.Pool.Query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
