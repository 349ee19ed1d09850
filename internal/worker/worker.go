package worker

import (
	"context"
	"encoding/json"
	"log"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/segmentio/kafka-go"
)

// AuditWorker consumes checkout domain events and writes the append-only
// order audit trail. Consumption is idempotent: redelivered events are
// skipped via the processed_events table.
type AuditWorker struct {
	consumer *broker.Consumer
	store    *store.Store
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer, st *store.Store) *AuditWorker {
	return &AuditWorker{
		consumer: consumer,
		store:    st,
	}
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	log.Println("Starting order audit worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	log.Println("Stopping order audit worker...")
	return w.consumer.Close()
}

func (w *AuditWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var envelope struct {
		models.BaseEvent
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		// Malformed payloads are logged and skipped, not retried forever.
		log.Printf("Dropping unparseable event: %v", err)
		return nil
	}

	processed, err := w.store.IsEventProcessed(ctx, envelope.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	if err := w.store.RecordOrderEvent(ctx, envelope.EventID, envelope.EventType, envelope.OrderID, msg.Value); err != nil {
		return err
	}

	return w.store.MarkEventProcessed(ctx, envelope.EventID, envelope.EventType)
}
