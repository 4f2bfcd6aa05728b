package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/internal/service"
)

const queueGroup = "worker_group"

// GrantedEventWorker listens on purchases.granted and projects each committed
// grant onto the balance cache.
type GrantedEventWorker struct {
	svc      service.PurchaseService
	natsConn *nats.Conn
	log      *zap.Logger
}

func NewGrantedEventWorker(svc service.PurchaseService, nc *nats.Conn, log *zap.Logger) *GrantedEventWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &GrantedEventWorker{
		svc:      svc,
		natsConn: nc,
		log:      log,
	}
}

// Run subscribes to purchases.granted and blocks until ctx is cancelled.
func (w *GrantedEventWorker) Run(ctx context.Context) error {
	// each event goes to exactly one worker of the group
	sub, err := w.natsConn.QueueSubscribe(repository.TopicPurchaseGranted, queueGroup, func(m *nats.Msg) {
		w.process(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.log.Info("granted event worker is running")

	<-ctx.Done()

	w.log.Info("worker received shutdown signal, draining subscription")
	return sub.Drain()
}

func (w *GrantedEventWorker) process(ctx context.Context, data []byte) {
	var event model.GrantedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.log.Error("worker: failed to unmarshal nats message", zap.Error(err))
		return
	}

	if err := w.svc.ApplyGrantedEvent(ctx, event); err != nil {
		w.log.Error("worker: failed to apply granted event",
			zap.String("account_id", event.AccountID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	w.log.Debug("worker: granted event applied",
		zap.String("account_id", event.AccountID),
		zap.String("event_id", event.EventID),
		zap.Int64("new_balance", event.NewBalance),
	)
}

// Start implements the infrastructure.Server interface.
func (w *GrantedEventWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *GrantedEventWorker) Stop(ctx context.Context) error {
	return nil
}
