package service

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebitAndCreditRoutesArtistEarnings(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 100)
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	tx, err := ledger.DebitAndCredit(ctx, requester, &artist, 30, nil, nil, "generation payment")
	require.NoError(t, err)
	assert.Equal(t, domain.TxGeneration, tx.Type)
	assert.Equal(t, int64(30), tx.Amount)

	assert.Equal(t, int64(70), accountBalance(t, pool, requester))
	assert.Equal(t, int64(0), accountBalance(t, pool, artist))
	assert.Equal(t, int64(30), earnedBalance(t, pool, artist))
}

func TestDebitAndCreditInsufficientBalance(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 10)
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	_, err := ledger.DebitAndCredit(ctx, requester, &artist, 30, nil, nil, "too expensive")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, int64(10), accountBalance(t, pool, requester))
	assert.Equal(t, int64(0), earnedBalance(t, pool, artist))
	assert.Zero(t, countRows(t, pool, "SELECT COUNT(*) FROM transactions"))
}

func TestDebitAndCreditValidation(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 100)
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	_, err := ledger.DebitAndCredit(ctx, requester, &artist, 0, nil, nil, "")
	assert.ErrorIs(t, err, domain.ErrNonPositiveAmount)

	_, err = ledger.DebitAndCredit(ctx, requester, &artist, -5, nil, nil, "")
	assert.ErrorIs(t, err, domain.ErrNonPositiveAmount)

	missing := int64(99999)
	_, err = ledger.DebitAndCredit(ctx, requester, &missing, 10, nil, nil, "")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGrantCreditsSpendableBalance(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	// Grants land on the spendable side even for artists.
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	tx, err := ledger.Grant(ctx, artist, 50, "welcome grant")
	require.NoError(t, err)
	assert.Equal(t, domain.TxGrant, tx.Type)
	assert.Nil(t, tx.SenderID)

	assert.Equal(t, int64(50), accountBalance(t, pool, artist))
	assert.Equal(t, int64(0), earnedBalance(t, pool, artist))
}

// setupFailedGeneration creates a requester/artist pair with a generation
// debit tied to a failed job, the shape a refund requires.
func setupFailedGeneration(t *testing.T, pool *pgxpool.Pool, ledger *Ledger) (requester, artist, txID int64) {
	t.Helper()
	ctx := context.Background()

	requester = createAccount(t, pool, domain.RoleRequester, 100)
	artist = createAccount(t, pool, domain.RoleArtist, 0)
	styleID := createStyle(t, pool, artist, 30, domain.StyleCompleted, "model-x")

	tx, err := ledger.DebitAndCredit(ctx, requester, &artist, 30, &styleID, nil, "generation payment")
	require.NoError(t, err)
	txID = tx.ID

	var jobID int64
	err = pool.QueryRow(ctx, `
		INSERT INTO generation_jobs (requester_id, style_id, consumed_tokens, status, debit_tx_id)
		VALUES ($1, $2, 30, 'failed', $3)
		RETURNING id`, requester, styleID, txID,
	).Scan(&jobID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		"UPDATE transactions SET related_job_id = $1 WHERE id = $2", jobID, txID)
	require.NoError(t, err)
	return requester, artist, txID
}

func TestRefundReversesBothLegsOnce(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester, artist, txID := setupFailedGeneration(t, pool, ledger)

	inverse, err := ledger.Refund(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefund, inverse.Type)
	assert.Equal(t, int64(30), inverse.Amount)

	assert.Equal(t, int64(100), accountBalance(t, pool, requester))
	assert.Equal(t, int64(0), earnedBalance(t, pool, artist))

	var refunded bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT refunded FROM transactions WHERE id = $1", txID).Scan(&refunded))
	assert.True(t, refunded)

	_, err = ledger.Refund(ctx, txID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	assert.Equal(t, int64(100), accountBalance(t, pool, requester))
	assert.Equal(t, 1, countRows(t, pool,
		"SELECT COUNT(*) FROM transactions WHERE tx_type = 'refund'"))
}

func TestRefundRejectsIneligibleTransactions(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 100)
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	grant, err := ledger.Grant(ctx, requester, 10, "")
	require.NoError(t, err)
	_, err = ledger.Refund(ctx, grant.ID)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	// Generation debit with no related job.
	gen, err := ledger.DebitAndCredit(ctx, requester, &artist, 20, nil, nil, "")
	require.NoError(t, err)
	_, err = ledger.Refund(ctx, gen.ID)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	_, err = ledger.Refund(ctx, 99999)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
}

func TestRefundRequiresFailedJob(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 100)
	artist := createAccount(t, pool, domain.RoleArtist, 0)
	styleID := createStyle(t, pool, artist, 30, domain.StyleCompleted, "model-x")

	tx, err := ledger.DebitAndCredit(ctx, requester, &artist, 30, &styleID, nil, "")
	require.NoError(t, err)

	var jobID int64
	err = pool.QueryRow(ctx, `
		INSERT INTO generation_jobs (requester_id, style_id, consumed_tokens, status, debit_tx_id)
		VALUES ($1, $2, 30, 'completed', $3)
		RETURNING id`, requester, styleID, tx.ID,
	).Scan(&jobID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		"UPDATE transactions SET related_job_id = $1 WHERE id = $2", jobID, tx.ID)
	require.NoError(t, err)

	_, err = ledger.Refund(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
}

// Concurrent opposing transfers must conserve the total token supply. The
// ascending-id lock order is what keeps this deadlock-free.
func TestConcurrentTransfersConserveTotal(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	a := createAccount(t, pool, domain.RoleRequester, 1000)
	b := createAccount(t, pool, domain.RoleRequester, 1000)

	const rounds = 25
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			ledger.DebitAndCredit(ctx, a, &b, 7, nil, nil, "") //nolint:errcheck
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			ledger.DebitAndCredit(ctx, b, &a, 3, nil, nil, "") //nolint:errcheck
		}
	}()
	wg.Wait()

	total := accountBalance(t, pool, a) + accountBalance(t, pool, b)
	assert.Equal(t, int64(2000), total)
}

func TestReconcileDetectsDrift(t *testing.T) {
	pool := testPool(t)
	ledger := NewLedger(pool, testLogger())
	ctx := context.Background()

	requester := createAccount(t, pool, domain.RoleRequester, 0)
	artist := createAccount(t, pool, domain.RoleArtist, 0)

	_, err := ledger.Grant(ctx, requester, 100, "")
	require.NoError(t, err)
	_, err = ledger.DebitAndCredit(ctx, requester, &artist, 40, nil, nil, "")
	require.NoError(t, err)

	for _, id := range []int64{requester, artist} {
		report, err := ledger.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.False(t, report.Drift, "account %d", id)
	}

	// Corrupt the projection behind the ledger's back.
	_, err = pool.Exec(ctx, "UPDATE accounts SET balance = balance + 5 WHERE id = $1", requester)
	require.NoError(t, err)

	report, err := ledger.Reconcile(ctx, requester)
	require.NoError(t, err)
	assert.True(t, report.Drift)
	assert.Equal(t, int64(65), report.Balance)
	assert.Equal(t, int64(60), report.ExpectedBalance)

	_, err = ledger.Reconcile(ctx, 99999)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
