package service

import (
	"context"
	"testing"

	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSuppressesSelfNotification(t *testing.T) {
	pool := testPool(t)
	n := NewNotifier(pool, testLogger())
	ctx := context.Background()

	account := createAccount(t, pool, domain.RoleRequester, 0)

	n.Emit(ctx, account, &account, domain.NotifyPurchasePaid, "purchase", 1)
	assert.Zero(t, countRows(t, pool, "SELECT COUNT(*) FROM notifications"))

	other := createAccount(t, pool, domain.RoleRequester, 0)
	n.Emit(ctx, account, &other, domain.NotifyPurchasePaid, "purchase", 1)
	assert.Equal(t, 1, countRows(t, pool, "SELECT COUNT(*) FROM notifications"))
}

func TestEmitAndMarkRead(t *testing.T) {
	pool := testPool(t)
	n := NewNotifier(pool, testLogger())
	ctx := context.Background()

	account := createAccount(t, pool, domain.RoleRequester, 0)
	n.Emit(ctx, account, nil, domain.NotifyGenerationComplete, "generation", 7)

	var id int64
	var isRead bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT id, is_read FROM notifications WHERE recipient_id = $1", account,
	).Scan(&id, &isRead))
	assert.False(t, isRead)

	require.NoError(t, n.MarkRead(ctx, id))
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT is_read FROM notifications WHERE id = $1", id).Scan(&isRead))
	assert.True(t, isRead)

	assert.ErrorIs(t, n.MarkRead(ctx, 99999), domain.ErrNotificationNotFound)
}
