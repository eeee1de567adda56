package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"truelens/internal/domain"
	"truelens/internal/engine"
)

func TestSweepOnceSettlesOnlyDueItems(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, map[string]int64{"A": 100, "B": 100})
	due := []domain.ContentItem{env.item(t, "one"), env.item(t, "two"), env.item(t, "three")}
	env.vote(t, due[0].ID, "A", domain.ChoiceVerify, 60)
	env.vote(t, due[0].ID, "B", domain.ChoiceFlag, 5)
	env.advance(23 * time.Hour)
	later, err := env.Engine.CreateItem(env.Ctx, engine.NewItem{Title: "later", ActorID: "tester"})
	require.NoError(t, err)
	env.advance(2 * time.Hour)

	sw := engine.Sweeper{Engine: env.Engine, Concurrency: 2, Logger: zaptest.NewLogger(t)}
	res, err := sw.SweepOnce(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{Checked: 3, Settled: 3}, res)

	for _, it := range due {
		got, err := env.Engine.Item(env.Ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateSettled, got.State)
	}
	got, err := env.Engine.Item(env.Ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, got.State)

	res, err = sw.SweepOnce(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.SweepResult{}, res)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	it := env.item(t, "expiring")
	env.advance(24 * time.Hour)

	ctx, cancel := context.WithCancel(env.Ctx)
	done := make(chan error, 1)
	sw := engine.Sweeper{Engine: env.Engine, Interval: 10 * time.Millisecond, Concurrency: 1}
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := env.Engine.Item(env.Ctx, it.ID)
		return err == nil && got.State == domain.StateSettled
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
