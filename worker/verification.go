package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/storewave/flash-sale-service/queue"
	"github.com/storewave/flash-sale-service/store"
)

// Verifier é o segundo estágio, atrasado, da liquidação: audita pedidos
// já confirmados. Falha aqui é só logada — auditoria não reentrega.
type Verifier struct {
	orders store.OrderRepository
}

// NewVerifier cria uma nova instância de Verifier.
func NewVerifier(orders store.OrderRepository) *Verifier {
	return &Verifier{
		orders: orders,
	}
}

// Run consome a fila de verificação até o contexto ser cancelado.
func (v *Verifier) Run(ctx context.Context, verifications *queue.Queue) {
	for {
		delivery, err := verifications.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("❌ [VERIFY] Receive failed: %v", err)
			if !sleepBeforeRetry(ctx) {
				return
			}
			continue
		}
		v.Handle(ctx, delivery)
	}
}

// Handle confere se o pedido confirmado realmente existe no banco.
func (v *Verifier) Handle(ctx context.Context, delivery *queue.Delivery) {
	msg := delivery.Message()
	claimedAt := time.UnixMilli(msg.Timestamp)

	exists, err := v.orders.HasConfirmedOrder(ctx, msg.UserID, msg.ProductID)
	if err != nil {
		log.Printf("⚠️ [VERIFY] Audit lookup failed | UserID=%d | ProductID=%d: %v", msg.UserID, msg.ProductID, err)
	} else if !exists {
		log.Printf("⚠️ [VERIFY] No confirmed order found | UserID=%d | ProductID=%d | claimed at %s", msg.UserID, msg.ProductID, claimedAt.Format(time.RFC3339))
	} else {
		log.Printf("✅ [VERIFY] Confirmed order audited | UserID=%d | ProductID=%d", msg.UserID, msg.ProductID)
	}

	if err := delivery.Ack(ctx); err != nil {
		log.Printf("⚠️ [VERIFY] Ack failed: %v", err)
	}
}
