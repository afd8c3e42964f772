package ownercashback

import (
	"context"
	"time"

	"github.com/nkiryanov/payledger/internal/logger"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/service/cashback"
)

const (
	defaultCountWorkers    = 4
	defaultProduceInterval = 15 * time.Second
	defaultBatchSize       = 100
)

// Dispatcher applies queued promo-owner rewards after payments commit.
// It is safe to run several dispatchers: every reward is applied exactly
// once, guarded by the queue row state.
type Dispatcher struct {
	producer *Producer
	consumer *Consumer
}

func New(storage repository.Storage, policy cashback.Policy, walletCode string, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		producer: &Producer{
			interval:  defaultProduceInterval,
			batchSize: defaultBatchSize,
			storage:   storage,
			logger:    log,
		},
		consumer: &Consumer{
			countWorkers: defaultCountWorkers,
			applier: &Applier{
				storage:    storage,
				policy:     policy,
				walletCode: walletCode,
			},
			logger: log,
		},
	}
}

// Process starts the dispatcher and returns a channel closed when both the
// producer and all workers stopped after context cancellation.
func (d *Dispatcher) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	pendingChan := make(chan pendingReward)

	producerStopped := d.producer.Produce(ctx, pendingChan)
	consumerStopped := d.consumer.Consume(ctx, pendingChan)

	go func() {
		defer close(idleStopped)
		defer close(pendingChan)
		<-producerStopped
		<-consumerStopped
		d.consumer.logger.Debug("Owner cashback dispatcher stopped")
	}()

	return idleStopped
}
