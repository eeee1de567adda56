package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper settles items whose voting window has ended.
type Sweeper struct {
	Engine      Engine
	Interval    time.Duration
	Concurrency int
	BatchSize   int
	Logger      *zap.Logger
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

func (s Sweeper) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Run sweeps every Interval until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger().Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs CloseAndSettleIfDue on every due item with bounded
// concurrency. A failing item is logged and does not stop the others.
func (s Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	ids, err := s.Engine.Repo.ListDueItemIDs(ctx, s.Engine.now(), s.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var settled, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep, err := s.Engine.CloseAndSettleIfDue(gctx, id)
			if err != nil {
				failed.Add(1)
				s.logger().Error("settle due item", zap.String("content_id", id), zap.Error(err))
				return nil
			}
			if rep.Action == ActionSettled {
				settled.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res := SweepResult{Checked: len(ids), Settled: int(settled.Load()), Failed: int(failed.Load())}
	if len(ids) > 0 {
		s.logger().Info("sweep complete", zap.Int("checked", res.Checked), zap.Int("settled", res.Settled), zap.Int("failed", res.Failed))
	}
	return res, err
}
