package service

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPurchaseService(pool *pgxpool.Pool) *PurchaseService {
	logger := testLogger()
	ledger := NewLedger(pool, logger)
	notify := NewNotifier(pool, logger)
	return NewPurchaseService(pool, ledger, notify, logger)
}

func TestCheckoutCreatesPendingPurchase(t *testing.T) {
	pool := testPool(t)
	svc := newPurchaseService(pool)
	ctx := context.Background()

	buyer := createAccount(t, pool, domain.RoleRequester, 0)

	p, err := svc.Checkout(ctx, buyer, 100, "0.0500", "stripe", "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasePending, p.Status)
	assert.Nil(t, p.ProviderPaymentKey)

	// No tokens move until the provider confirms.
	assert.Equal(t, int64(0), accountBalance(t, pool, buyer))

	_, err = svc.Checkout(ctx, buyer, 0, "0.0500", "stripe", "order-2")
	assert.ErrorIs(t, err, domain.ErrNonPositiveAmount)

	_, err = svc.Checkout(ctx, 99999, 100, "0.0500", "stripe", "order-3")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSettleWebhookClaimsCheckoutRow(t *testing.T) {
	pool := testPool(t)
	svc := newPurchaseService(pool)
	ctx := context.Background()

	buyer := createAccount(t, pool, domain.RoleRequester, 0)
	checkout, err := svc.Checkout(ctx, buyer, 100, "0.0500", "stripe", "order-1")
	require.NoError(t, err)

	hook := PaymentWebhook{
		PaymentKey:    "pay-abc",
		OrderRef:      "order-1",
		AmountTokens:  100,
		PricePerToken: "0.0500",
		BuyerID:       buyer,
	}

	p, dup, err := svc.SettleWebhook(ctx, hook)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, checkout.ID, p.ID)
	assert.Equal(t, domain.PurchasePaid, p.Status)
	require.NotNil(t, p.ApprovedAt)
	assert.Equal(t, int64(100), accountBalance(t, pool, buyer))

	stored, err := store.New(ctx, os.Getenv("TEST_DATABASE_URL"))
	require.NoError(t, err)
	defer stored.Close()
	byKey, err := stored.GetPurchaseByPaymentKey(ctx, "pay-abc")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byKey.ID)
	_, err = stored.GetPurchaseByPaymentKey(ctx, "pay-unknown")
	assert.ErrorIs(t, err, domain.ErrPurchaseNotFound)

	// Replayed delivery returns the settled purchase without crediting again.
	p2, dup, err := svc.SettleWebhook(ctx, hook)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, int64(100), accountBalance(t, pool, buyer))
	assert.Equal(t, 1, countRows(t, pool,
		"SELECT COUNT(*) FROM transactions WHERE tx_type = 'purchase'"))
}

func TestSettleWebhookWithoutCheckout(t *testing.T) {
	pool := testPool(t)
	svc := newPurchaseService(pool)
	ctx := context.Background()

	buyer := createAccount(t, pool, domain.RoleRequester, 0)

	p, dup, err := svc.SettleWebhook(ctx, PaymentWebhook{
		PaymentKey:    "pay-direct",
		OrderRef:      "order-x",
		AmountTokens:  40,
		PricePerToken: "0.0500",
		BuyerID:       buyer,
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, domain.PurchasePaid, p.Status)
	assert.Equal(t, "webhook", p.Provider)
	assert.Equal(t, int64(40), accountBalance(t, pool, buyer))
}

func TestSettleWebhookValidation(t *testing.T) {
	pool := testPool(t)
	svc := newPurchaseService(pool)
	ctx := context.Background()

	_, _, err := svc.SettleWebhook(ctx, PaymentWebhook{AmountTokens: 10})
	assert.Error(t, err)

	_, _, err = svc.SettleWebhook(ctx, PaymentWebhook{PaymentKey: "k", AmountTokens: 0})
	assert.ErrorIs(t, err, domain.ErrNonPositiveAmount)
}

// Concurrent deliveries of one payment key must produce exactly one credit.
func TestConcurrentWebhookDeliveriesCreditOnce(t *testing.T) {
	pool := testPool(t)
	svc := newPurchaseService(pool)
	ctx := context.Background()

	buyer := createAccount(t, pool, domain.RoleRequester, 0)
	hook := PaymentWebhook{
		PaymentKey:    "pay-race",
		OrderRef:      "order-race",
		AmountTokens:  25,
		PricePerToken: "0.0500",
		BuyerID:       buyer,
	}

	const deliveries = 8
	var wg sync.WaitGroup
	wg.Add(deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.SettleWebhook(ctx, hook)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "delivery %d", i)
	}
	assert.Equal(t, int64(25), accountBalance(t, pool, buyer))
	assert.Equal(t, 1, countRows(t, pool,
		"SELECT COUNT(*) FROM purchases WHERE provider_payment_key = 'pay-race'"))
	assert.Equal(t, 1, countRows(t, pool,
		"SELECT COUNT(*) FROM transactions WHERE tx_type = 'purchase'"))
}
