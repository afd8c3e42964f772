package ownercashback

import (
	"context"
	"errors"
	"sync"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/logger"
)

type Consumer struct {
	countWorkers int
	applier      *Applier
	logger       logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan pendingReward) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Owner cashback consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan pendingReward) {
	for {
		select {
		case <-ctx.Done():
			return

		case p, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			err := c.applier.Apply(ctx, p.reward)

			switch {
			case err == nil:

			case errors.Is(err, apperrors.ErrOwnerCashbackApplied):
				// Another worker or dispatcher won the race, nothing to do
				c.logger.Debug("Owner cashback already applied", "reward_id", p.reward.ID)

			default:
				c.logger.Error("Failed to apply owner cashback", "reward_id", p.reward.ID, "error", err)
			}
		}
	}
}
