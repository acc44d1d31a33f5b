package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
)

const pgUniqueViolation = "23505"

// PurchaseService is the idempotency gate between the payment provider's
// at-least-once webhook deliveries and the ledger. The provider payment key
// is unique at the storage layer; concurrent deliveries of the same key
// serialize on the purchase row so at most one credit occurs.
type PurchaseService struct {
	db     *pgxpool.Pool
	ledger *Ledger
	notify *Notifier
	logger *slog.Logger
}

func NewPurchaseService(db *pgxpool.Pool, ledger *Ledger, notify *Notifier, logger *slog.Logger) *PurchaseService {
	return &PurchaseService{db: db, ledger: ledger, notify: notify, logger: logger}
}

// PaymentWebhook is the provider callback payload. Signature verification
// happens upstream; only the payment key matters for idempotency here.
type PaymentWebhook struct {
	PaymentKey    string `json:"payment_key"`
	OrderRef      string `json:"order_ref"`
	AmountTokens  int64  `json:"amount_tokens"`
	PricePerToken string `json:"price_per_token"`
	BuyerID       int64  `json:"buyer_id"`
}

// Checkout records a pending purchase before the buyer is handed off to the
// provider. The payment key is unknown until the provider confirms.
func (s *PurchaseService) Checkout(ctx context.Context, buyerID, amountTokens int64, pricePerToken, provider, orderRef string) (*domain.Purchase, error) {
	if amountTokens <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}
	if _, err := getAccountRole(ctx, s.db, buyerID); err != nil {
		return nil, err
	}

	p := &domain.Purchase{
		BuyerID:          buyerID,
		AmountTokens:     amountTokens,
		PricePerToken:    pricePerToken,
		Provider:         provider,
		ProviderOrderRef: orderRef,
		Status:           domain.PurchasePending,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO purchases (buyer_id, amount_tokens, price_per_token, provider, provider_order_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		buyerID, amountTokens, pricePerToken, provider, orderRef,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("checkout insert failed: %w", err)
	}
	return p, nil
}

// SettleWebhook finalizes a purchase from a provider webhook. The first
// delivery marks the purchase paid and credits the buyer inside one
// transaction; every later delivery of the same payment key returns the
// committed outcome unchanged. The boolean reports whether this delivery was
// a duplicate.
func (s *PurchaseService) SettleWebhook(ctx context.Context, hook PaymentWebhook) (*domain.Purchase, bool, error) {
	if hook.PaymentKey == "" {
		return nil, false, fmt.Errorf("settle: payment key required")
	}
	if hook.AmountTokens <= 0 {
		return nil, false, domain.ErrNonPositiveAmount
	}

	// A concurrent first delivery can win the unique-key insert between our
	// lookup and our own insert; one retry then lands on the paid row.
	for attempt := 0; ; attempt++ {
		p, dup, err := s.settleOnce(ctx, hook)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if dup {
			duplicateWebhooksTotal.Inc()
			s.logger.Info("duplicate payment webhook", "payment_key", hook.PaymentKey, "purchase_id", p.ID)
		} else {
			s.notify.Emit(ctx, p.BuyerID, nil, domain.NotifyPurchasePaid, "purchase", p.ID)
		}
		return p, dup, nil
	}
}

func (s *PurchaseService) settleOnce(ctx context.Context, hook PaymentWebhook) (*domain.Purchase, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// 1. Serialize on the purchase row for this payment key.
	p, err := lockPurchaseByKey(ctx, tx, hook.PaymentKey)
	if err != nil && !errors.Is(err, domain.ErrPurchaseNotFound) {
		return nil, false, err
	}

	if p != nil && p.Status == domain.PurchasePaid {
		// Repeated delivery: return the prior committed outcome. Nothing to
		// commit, but commit anyway to release the row lock cleanly.
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("tx commit failed: %w", err)
		}
		return p, true, nil
	}

	// 2. No row carries the key yet: claim the matching checkout row, or
	// create the purchase outright for providers that skip checkout.
	if p == nil {
		p, err = claimCheckoutRow(ctx, tx, hook)
		if err != nil && !errors.Is(err, domain.ErrPurchaseNotFound) {
			return nil, false, err
		}
		if p == nil {
			p, err = insertPaidCandidate(ctx, tx, hook)
			if err != nil {
				return nil, false, err
			}
		}
	}

	// 3. Flip to paid and credit the buyer in the same atomic unit, so
	// "paid" and "credited" can never diverge.
	err = tx.QueryRow(ctx, `
		UPDATE purchases SET status = 'paid', approved_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING approved_at`, p.ID,
	).Scan(&p.ApprovedAt)
	if err != nil {
		return nil, false, fmt.Errorf("purchase settle failed: %w", err)
	}
	p.Status = domain.PurchasePaid

	memo := fmt.Sprintf("token purchase %s (%s)", hook.OrderRef, p.Provider)
	if _, err := s.ledger.creditTx(ctx, tx, p.BuyerID, p.AmountTokens, domain.TxPurchase, memo); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return p, false, nil
}

// lockPurchaseByKey locks the purchase row holding the payment key.
func lockPurchaseByKey(ctx context.Context, tx pgx.Tx, paymentKey string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := tx.QueryRow(ctx, `
		SELECT id, buyer_id, amount_tokens, price_per_token::text, provider,
		       provider_payment_key, provider_order_ref, status, approved_at, created_at
		FROM purchases WHERE provider_payment_key = $1 FOR UPDATE`, paymentKey,
	).Scan(&p.ID, &p.BuyerID, &p.AmountTokens, &p.PricePerToken, &p.Provider,
		&p.ProviderPaymentKey, &p.ProviderOrderRef, &p.Status, &p.ApprovedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("purchase lock failed: %w", err)
	}
	return &p, nil
}

// claimCheckoutRow stamps the payment key onto the pending checkout row for
// this order, locking it in the process.
func claimCheckoutRow(ctx context.Context, tx pgx.Tx, hook PaymentWebhook) (*domain.Purchase, error) {
	var p domain.Purchase
	err := tx.QueryRow(ctx, `
		UPDATE purchases SET provider_payment_key = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM purchases
			WHERE provider_order_ref = $2 AND buyer_id = $3
			  AND status = 'pending' AND provider_payment_key IS NULL
			ORDER BY id LIMIT 1
			FOR UPDATE
		)
		RETURNING id, buyer_id, amount_tokens, price_per_token::text, provider,
		          provider_payment_key, provider_order_ref, status, approved_at, created_at`,
		hook.PaymentKey, hook.OrderRef, hook.BuyerID,
	).Scan(&p.ID, &p.BuyerID, &p.AmountTokens, &p.PricePerToken, &p.Provider,
		&p.ProviderPaymentKey, &p.ProviderOrderRef, &p.Status, &p.ApprovedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("checkout claim failed: %w", err)
	}
	return &p, nil
}

// insertPaidCandidate creates the purchase row for webhook-only providers.
// The unique constraint on the payment key closes the race between two
// concurrent first deliveries; the loser surfaces 23505 to the retry loop.
func insertPaidCandidate(ctx context.Context, tx pgx.Tx, hook PaymentWebhook) (*domain.Purchase, error) {
	p := domain.Purchase{
		BuyerID:          hook.BuyerID,
		AmountTokens:     hook.AmountTokens,
		PricePerToken:    hook.PricePerToken,
		Provider:         "webhook",
		ProviderOrderRef: hook.OrderRef,
		Status:           domain.PurchasePending,
	}
	key := hook.PaymentKey
	p.ProviderPaymentKey = &key
	err := tx.QueryRow(ctx, `
		INSERT INTO purchases (buyer_id, amount_tokens, price_per_token, provider,
		                       provider_payment_key, provider_order_ref)
		VALUES ($1, $2, $3, 'webhook', $4, $5)
		RETURNING id, created_at`,
		hook.BuyerID, hook.AmountTokens, hook.PricePerToken, hook.PaymentKey, hook.OrderRef,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// getAccountRole is a lock-free existence check shared by the services.
func getAccountRole(ctx context.Context, db *pgxpool.Pool, id int64) (domain.Role, error) {
	var role domain.Role
	err := db.QueryRow(ctx, "SELECT role FROM accounts WHERE id = $1", id).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrAccountNotFound
		}
		return "", err
	}
	return role, nil
}
