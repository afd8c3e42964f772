package ownercashback

import (
	"context"
	"time"

	"github.com/nkiryanov/payledger/internal/logger"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

type pendingReward struct {
	reward models.OwnerCashback
}

type Producer struct {
	interval  time.Duration
	batchSize int
	storage   repository.Storage
	logger    logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- pendingReward) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting owner cashback producer", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				pending, err := p.storage.OwnerCashback().ListPending(ctx, p.batchSize)
				if err != nil {
					p.logger.Error("Failed to list pending owner cashbacks", "error", err)
					continue
				}

				for _, reward := range pending {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending rewards")
						return
					case out <- pendingReward{reward: reward}:
					}
				}
			}
		}
	}()

	return idleStopped
}
