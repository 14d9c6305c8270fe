package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/model"
	"github.com/storewave/flash-sale-service/payment"
	"github.com/storewave/flash-sale-service/queue"
	"github.com/storewave/flash-sale-service/store"
)

// Settler consome a fila de pedidos e resolve cada claim para CONFIRMED
// ou FAILED. Falha de processamento devolve a mensagem para reentrega;
// recusa de pagamento é resultado de negócio e é sempre reconhecida.
type Settler struct {
	orders            store.OrderRepository
	inventory         *cache.Inventory
	authorizer        payment.Authorizer
	verification      *queue.Queue
	verificationDelay time.Duration

	confirmedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
}

// NewSettler cria uma nova instância de Settler.
func NewSettler(
	orders store.OrderRepository,
	inventory *cache.Inventory,
	authorizer payment.Authorizer,
	verification *queue.Queue,
	verificationDelay time.Duration,
) *Settler {
	meter := otel.Meter("settlement-worker")
	confirmed, _ := meter.Int64Counter("orders_confirmed_total")
	failed, _ := meter.Int64Counter("orders_failed_total")

	return &Settler{
		orders:            orders,
		inventory:         inventory,
		authorizer:        authorizer,
		verification:      verification,
		verificationDelay: verificationDelay,
		confirmedCounter:  confirmed,
		failedCounter:     failed,
	}
}

// Run consome a fila até o contexto ser cancelado.
func (s *Settler) Run(ctx context.Context, orders *queue.Queue) {
	for {
		delivery, err := orders.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("❌ [SETTLE] Receive failed: %v", err)
			if !sleepBeforeRetry(ctx) {
				return
			}
			continue
		}
		s.Handle(ctx, delivery)
	}
}

// Handle liquida uma entrega e decide ack ou retry. A decisão do
// autorizador é gravada no envelope na primeira entrega; reentregas
// retomam a compensação a partir dela em vez de autorizar de novo.
func (s *Settler) Handle(ctx context.Context, delivery *queue.Delivery) {
	msg := delivery.Message()
	log.Printf("➡️ [SETTLE] UserID=%d | ProductID=%d | Attempt=%d", msg.UserID, msg.ProductID, delivery.Attempt())

	resolution := model.OrderStatus(delivery.Envelope.Resolution)
	if resolution == "" {
		approved, err := s.authorizer.Authorize(ctx, msg)
		if err != nil {
			log.Printf("❌ [SETTLE] Authorization error, retrying: %v", err)
			s.retry(ctx, delivery)
			return
		}
		if approved {
			resolution = model.OrderStatusConfirmed
		} else {
			resolution = model.OrderStatusFailed
		}
		delivery.Envelope.Resolution = string(resolution)
	}

	if resolution == model.OrderStatusConfirmed {
		s.settleConfirmed(ctx, delivery, msg)
		return
	}
	s.settleFailed(ctx, delivery, msg)
}

func (s *Settler) settleConfirmed(ctx context.Context, delivery *queue.Delivery, msg model.OrderMessage) {
	// Order insert and durable stock decrement commit together, keyed by
	// the envelope ID; a redelivery gets the already-settled order back
	// instead of a second row and a second decrement.
	orderID, err := s.orders.ConfirmOrder(ctx, msg.UserID, msg.ProductID, delivery.Envelope.ID)
	if err != nil {
		log.Printf("❌ [SETTLE] Durable write failed, retrying: %v", err)
		s.retry(ctx, delivery)
		return
	}

	// The order is already durable at this point, so a verification
	// enqueue failure must not trigger a redelivery (it would settle the
	// same claim twice). Audit coverage is lost for this one order.
	if err := s.verification.Publish(ctx, msg, s.verificationDelay); err != nil {
		log.Printf("⚠️ [SETTLE] Failed to schedule verification for OrderID=%d: %v", orderID, err)
	}

	s.ack(ctx, delivery)
	s.confirmedCounter.Add(ctx, 1)
	log.Printf("✅ [SETTLE] Confirmed OrderID=%d | UserID=%d | ProductID=%d", orderID, msg.UserID, msg.ProductID)
}

func (s *Settler) settleFailed(ctx context.Context, delivery *queue.Delivery, msg model.OrderMessage) {
	orderID, err := s.orders.CreateOrder(ctx, msg.UserID, msg.ProductID, model.OrderStatusFailed, delivery.Envelope.ID)
	if err != nil {
		log.Printf("❌ [SETTLE] Failed-order write failed, retrying: %v", err)
		s.retry(ctx, delivery)
		return
	}

	// Return the unit to the pool for another user.
	if err := s.inventory.Restore(ctx, msg.ProductID); err != nil {
		log.Printf("❌ [SETTLE] Compensation failed, retrying: %v", err)
		s.retry(ctx, delivery)
		return
	}

	s.ack(ctx, delivery)
	s.failedCounter.Add(ctx, 1)
	log.Printf("↩️ [SETTLE] Declined OrderID=%d | UserID=%d | ProductID=%d | unit restored", orderID, msg.UserID, msg.ProductID)
}

func (s *Settler) ack(ctx context.Context, delivery *queue.Delivery) {
	// An ack failure redelivers later; the message-keyed order writes
	// make the repeat harmless.
	if err := delivery.Ack(ctx); err != nil {
		log.Printf("⚠️ [SETTLE] Ack failed: %v", err)
	}
}

func (s *Settler) retry(ctx context.Context, delivery *queue.Delivery) {
	deadLettered, err := delivery.Retry(ctx)
	if err != nil {
		// The envelope stays parked and comes back via the visibility
		// timeout sweep.
		log.Printf("❌ [SETTLE] Retry scheduling failed: %v", err)
		return
	}
	if deadLettered {
		log.Printf("💀 [SETTLE] Delivery exhausted retries, dead-lettered | ProductID=%d", delivery.Message().ProductID)
	}
}

// sleepBeforeRetry segura o loop de consumo depois de um erro de
// Receive. Retorna false quando o contexto é cancelado durante a espera.
func sleepBeforeRetry(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return true
	}
}
