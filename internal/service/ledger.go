package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
)

// Ledger is the balance guard: every token movement in the system goes
// through it. All mutations run inside one pgx transaction with row locks
// acquired in ascending account-id order, which makes lock ordering global
// and deadlock-free.
type Ledger struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewLedger(db *pgxpool.Pool, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// lockedAccount is one row pinned by SELECT ... FOR UPDATE.
type lockedAccount struct {
	Role    domain.Role
	Balance int64
}

// lockAccounts acquires FOR UPDATE locks on the given account rows in
// ascending id order and returns their current balances and roles.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]lockedAccount, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	out := make(map[int64]lockedAccount, len(ordered))
	for _, id := range ordered {
		var acc lockedAccount
		err := tx.QueryRow(ctx,
			"SELECT role, balance FROM accounts WHERE id = $1 FOR UPDATE", id,
		).Scan(&acc.Role, &acc.Balance)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, domain.ErrAccountNotFound
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		out[id] = acc
	}
	return out, nil
}

// applyCredit routes a credit by role: artists accrue into their earned
// balance, everyone else into the spendable balance. The caller must already
// hold the account's row lock.
func applyCredit(ctx context.Context, tx pgx.Tx, id int64, role domain.Role, amount int64) error {
	var err error
	if role == domain.RoleArtist {
		_, err = tx.Exec(ctx,
			"UPDATE artist_profiles SET earned_balance = earned_balance + $1, updated_at = now() WHERE account_id = $2",
			amount, id)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2",
			amount, id)
	}
	return err
}

// DebitAndCredit atomically moves tokens from payer to payee. A nil payee
// sends the debit to the platform sink (no credit row is updated). The
// payer's balance is re-read under lock; ErrInsufficientBalance means no
// mutation occurred.
func (l *Ledger) DebitAndCredit(ctx context.Context, payerID int64, payeeID *int64, amount int64, styleID, jobID *int64, memo string) (*domain.Transaction, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := l.debitAndCreditTx(ctx, tx, payerID, payeeID, amount, styleID, jobID, memo)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return t, nil
}

// debitAndCreditTx is the tx-scoped body of DebitAndCredit, shared with the
// generation orchestrator so a debit and the job it pays for commit together.
func (l *Ledger) debitAndCreditTx(ctx context.Context, tx pgx.Tx, payerID int64, payeeID *int64, amount int64, styleID, jobID *int64, memo string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}

	ids := []int64{payerID}
	if payeeID != nil {
		ids = append(ids, *payeeID)
	}
	accounts, err := lockAccounts(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}

	if accounts[payerID].Balance < amount {
		return nil, domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE id = $2",
		amount, payerID); err != nil {
		return nil, fmt.Errorf("debit failed: %w", err)
	}
	if payeeID != nil {
		if err := applyCredit(ctx, tx, *payeeID, accounts[*payeeID].Role, amount); err != nil {
			return nil, fmt.Errorf("credit failed: %w", err)
		}
	}

	return insertTransaction(ctx, tx, &payerID, payeeID, amount, domain.TxGeneration, styleID, jobID, memo)
}

// creditTx mints tokens into an account with no payer (purchase settlement,
// signup grant). Used by the purchase gate inside its own transaction so
// "paid" and "credited" can never diverge.
func (l *Ledger) creditTx(ctx context.Context, tx pgx.Tx, receiverID, amount int64, txType domain.TxType, memo string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}

	if _, err := lockAccounts(ctx, tx, receiverID); err != nil {
		return nil, err
	}

	// Purchases and grants are spendable regardless of role.
	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2",
		amount, receiverID); err != nil {
		return nil, fmt.Errorf("credit failed: %w", err)
	}

	return insertTransaction(ctx, tx, nil, &receiverID, amount, txType, nil, nil, memo)
}

// Grant credits a system bonus (e.g. signup welcome grant).
func (l *Ledger) Grant(ctx context.Context, receiverID, amount int64, memo string) (*domain.Transaction, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := l.creditTx(ctx, tx, receiverID, amount, domain.TxGrant, memo)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return t, nil
}

// Refund reverses a generation debit: a new inverse transaction is appended,
// the original is flagged, and both balances are restored, all-or-nothing.
func (l *Ledger) Refund(ctx context.Context, transactionID int64) (*domain.Transaction, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := l.refundTx(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return t, nil
}

// refundTx locks the original transaction row, validates eligibility, and
// reverses it. A transaction is refundable at most once, only when it is a
// completed generation debit whose job has failed.
func (l *Ledger) refundTx(ctx context.Context, tx pgx.Tx, transactionID int64) (*domain.Transaction, error) {
	var orig domain.Transaction
	err := tx.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, amount, tx_type, status,
		       related_style_id, related_job_id, refunded
		FROM transactions WHERE id = $1 FOR UPDATE`, transactionID,
	).Scan(&orig.ID, &orig.SenderID, &orig.ReceiverID, &orig.Amount, &orig.Type,
		&orig.Status, &orig.RelatedStyleID, &orig.RelatedJobID, &orig.Refunded)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("refund: transaction %d: %w", transactionID, domain.ErrNotRefundable)
		}
		return nil, fmt.Errorf("refund lock failed: %w", err)
	}

	if orig.Refunded {
		return nil, domain.ErrAlreadyRefunded
	}
	if orig.Type != domain.TxGeneration || orig.Status != "completed" || orig.SenderID == nil || orig.RelatedJobID == nil {
		return nil, domain.ErrNotRefundable
	}

	var jobStatus domain.JobStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM generation_jobs WHERE id = $1", *orig.RelatedJobID,
	).Scan(&jobStatus)
	if err != nil {
		return nil, fmt.Errorf("refund job lookup failed: %w", err)
	}
	if jobStatus != domain.JobFailed {
		return nil, domain.ErrNotRefundable
	}

	ids := []int64{*orig.SenderID}
	if orig.ReceiverID != nil {
		ids = append(ids, *orig.ReceiverID)
	}
	accounts, err := lockAccounts(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}

	// Reverse both legs: the payer gets the tokens back, the payee's earned
	// (or spendable) balance gives them up.
	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2",
		orig.Amount, *orig.SenderID); err != nil {
		return nil, fmt.Errorf("refund credit failed: %w", err)
	}
	if orig.ReceiverID != nil {
		recv := *orig.ReceiverID
		if accounts[recv].Role == domain.RoleArtist {
			_, err = tx.Exec(ctx,
				"UPDATE artist_profiles SET earned_balance = earned_balance - $1, updated_at = now() WHERE account_id = $2",
				orig.Amount, recv)
		} else {
			_, err = tx.Exec(ctx,
				"UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE id = $2",
				orig.Amount, recv)
		}
		if err != nil {
			return nil, fmt.Errorf("refund debit failed: %w", err)
		}
	}

	inverse, err := insertTransaction(ctx, tx, orig.ReceiverID, orig.SenderID, orig.Amount,
		domain.TxRefund, orig.RelatedStyleID, orig.RelatedJobID,
		fmt.Sprintf("refund of transaction %d", orig.ID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE transactions SET refunded = true WHERE id = $1", orig.ID); err != nil {
		return nil, fmt.Errorf("refund flag update failed: %w", err)
	}

	refundsTotal.Inc()
	return inverse, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, senderID, receiverID *int64, amount int64, txType domain.TxType, styleID, jobID *int64, memo string) (*domain.Transaction, error) {
	t := &domain.Transaction{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Amount:         amount,
		Type:           txType,
		Status:         "completed",
		RelatedStyleID: styleID,
		RelatedJobID:   jobID,
		Memo:           memo,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (sender_id, receiver_id, amount, tx_type, status,
		                          related_style_id, related_job_id, memo)
		VALUES ($1, $2, $3, $4, 'completed', $5, $6, $7)
		RETURNING id, created_at`,
		senderID, receiverID, amount, txType, styleID, jobID, memo,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return t, nil
}

// Reconcile recomputes an account's balances from the transaction log and
// compares them with the stored projections. It takes no locks and is meant
// for the offline audit sweep only; drift is reported, never repaired here.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (*domain.DriftReport, error) {
	report := &domain.DriftReport{AccountID: accountID}

	var role domain.Role
	var earned *int64
	err := l.db.QueryRow(ctx, `
		SELECT a.role, a.balance, p.earned_balance
		FROM accounts a
		LEFT JOIN artist_profiles p ON p.account_id = a.id
		WHERE a.id = $1`, accountID,
	).Scan(&role, &report.Balance, &earned)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	if earned != nil {
		report.Earned = *earned
	}

	var recvPlain, recvGen, sentGen, sentRefund int64
	err = l.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE receiver_id = $1 AND tx_type IN ('purchase', 'grant', 'refund')), 0),
			COALESCE(SUM(amount) FILTER (WHERE receiver_id = $1 AND tx_type = 'generation'), 0),
			COALESCE(SUM(amount) FILTER (WHERE sender_id = $1 AND tx_type = 'generation'), 0),
			COALESCE(SUM(amount) FILTER (WHERE sender_id = $1 AND tx_type = 'refund'), 0)
		FROM transactions
		WHERE status = 'completed' AND (sender_id = $1 OR receiver_id = $1)`, accountID,
	).Scan(&recvPlain, &recvGen, &sentGen, &sentRefund)
	if err != nil {
		return nil, fmt.Errorf("reconcile sum failed: %w", err)
	}

	// Credit routing by role mirrors applyCredit: artists accrue generation
	// income (and give up refunds) on the earned side, everyone else on the
	// spendable side.
	if role == domain.RoleArtist {
		report.ExpectedBalance = recvPlain - sentGen
		report.ExpectedEarned = recvGen - sentRefund
	} else {
		report.ExpectedBalance = recvPlain + recvGen - sentGen - sentRefund
		report.ExpectedEarned = 0
	}

	report.Drift = report.Balance != report.ExpectedBalance || report.Earned != report.ExpectedEarned
	if report.Drift {
		reconcileDrift.Inc()
		l.logger.Warn("balance drift detected",
			"account_id", accountID,
			"balance", report.Balance, "expected_balance", report.ExpectedBalance,
			"earned", report.Earned, "expected_earned", report.ExpectedEarned,
		)
	}
	return report, nil
}
