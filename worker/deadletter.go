package worker

import (
	"context"
	"errors"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/queue"
)

// DeadLetterHandler consome mensagens com retries esgotados. O claim
// dessas mensagens nunca virou pedido durável, então a unidade precisa
// voltar ao pool — senão vira uma "ghost reservation" trancada para
// sempre. Sempre reconhece; não existe outro tier de retry.
type DeadLetterHandler struct {
	inventory     *cache.Inventory
	rescueCounter metric.Int64Counter
}

// NewDeadLetterHandler cria uma nova instância de DeadLetterHandler.
func NewDeadLetterHandler(inventory *cache.Inventory) *DeadLetterHandler {
	meter := otel.Meter("settlement-worker")
	rescues, _ := meter.Int64Counter("dlq_rescues_total")

	return &DeadLetterHandler{
		inventory:     inventory,
		rescueCounter: rescues,
	}
}

// Run consome a dead-letter queue até o contexto ser cancelado.
func (h *DeadLetterHandler) Run(ctx context.Context, deadLetters *queue.Queue) {
	for {
		delivery, err := deadLetters.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("❌ [DLQ] Receive failed: %v", err)
			if !sleepBeforeRetry(ctx) {
				return
			}
			continue
		}
		h.Handle(ctx, delivery)
	}
}

// Handle restaura a unidade e registra o resgate.
func (h *DeadLetterHandler) Handle(ctx context.Context, delivery *queue.Delivery) {
	msg := delivery.Message()
	log.Printf("💀 [DLQ] Permanent failure | UserID=%d | ProductID=%d | restocking", msg.UserID, msg.ProductID)

	if err := h.inventory.Restore(ctx, msg.ProductID); err != nil {
		log.Printf("❌ [DLQ] Failed to restore unit for ProductID=%d: %v", msg.ProductID, err)
	}
	if _, err := h.inventory.IncrRescues(ctx); err != nil {
		log.Printf("❌ [DLQ] Failed to bump rescue counter: %v", err)
	}
	h.rescueCounter.Add(ctx, 1)

	if err := delivery.Ack(ctx); err != nil {
		log.Printf("⚠️ [DLQ] Ack failed: %v", err)
	}
}
