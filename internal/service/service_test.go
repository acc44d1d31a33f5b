package service

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/store"
	"github.com/stretchr/testify/require"
)

// testPool connects to TEST_DATABASE_URL, applies the schema, and truncates
// all tables. Tests are skipped when no database is configured.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	st, err := store.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.EnsureSchema(ctx))

	_, err = st.Pool.Exec(ctx, `
		TRUNCATE notifications, generation_jobs, purchases, transactions,
		         styles, artist_profiles, accounts RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return st.Pool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func createAccount(t *testing.T, pool *pgxpool.Pool, role domain.Role, balance int64) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := pool.QueryRow(ctx,
		"INSERT INTO accounts (display_name, role, balance) VALUES ($1, $2, $3) RETURNING id",
		"test-"+string(role), role, balance,
	).Scan(&id)
	require.NoError(t, err)

	if role == domain.RoleArtist {
		_, err = pool.Exec(ctx,
			"INSERT INTO artist_profiles (account_id) VALUES ($1)", id)
		require.NoError(t, err)
	}
	return id
}

func createStyle(t *testing.T, pool *pgxpool.Pool, artistID, cost int64, status domain.StyleStatus, modelRef string) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO styles (artist_id, name, generation_cost, training_status, model_ref)
		VALUES ($1, 'test style', $2, $3, NULLIF($4, ''))
		RETURNING id`,
		artistID, cost, status, modelRef,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func accountBalance(t *testing.T, pool *pgxpool.Pool, id int64) int64 {
	t.Helper()
	var balance int64
	err := pool.QueryRow(context.Background(),
		"SELECT balance FROM accounts WHERE id = $1", id).Scan(&balance)
	require.NoError(t, err)
	return balance
}

func earnedBalance(t *testing.T, pool *pgxpool.Pool, id int64) int64 {
	t.Helper()
	var earned int64
	err := pool.QueryRow(context.Background(),
		"SELECT earned_balance FROM artist_profiles WHERE account_id = $1", id).Scan(&earned)
	require.NoError(t, err)
	return earned
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(), query, args...).Scan(&n)
	require.NoError(t, err)
	return n
}
