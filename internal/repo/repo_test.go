package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truelens/internal/db"
	"truelens/internal/domain"
	"truelens/internal/migrate"
)

func TestUpdateItemStateLostRaceIsInvariant(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := Repo{DB: conn}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, r.InsertItemTx(ctx, tx, domain.ContentItem{
		ID:        "c1",
		State:     domain.StateOpen,
		CreatedBy: "tester",
		CreatedAt: now,
		ClosesAt:  now.Add(time.Hour),
	}))

	err = r.UpdateItemStateTx(ctx, tx, "c1", domain.StateClosed, domain.StateSettled)
	require.ErrorIs(t, err, domain.ErrInvariant)

	require.NoError(t, r.UpdateItemStateTx(ctx, tx, "c1", domain.StateOpen, domain.StateClosed))
	err = r.UpdateItemStateTx(ctx, tx, "c1", domain.StateOpen, domain.StateClosed)
	require.ErrorIs(t, err, domain.ErrInvariant)

	it, err := r.GetItemTx(ctx, tx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosed, it.State)
}
