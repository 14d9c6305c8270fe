package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/model"
	"github.com/storewave/flash-sale-service/queue"
	"github.com/storewave/flash-sale-service/store"
)

// Outcome é o resultado de um claim.
type Outcome int

const (
	// Queued: unidade reservada no cache, pedido enfileirado para
	// liquidação assíncrona.
	Queued Outcome = iota
	// Confirmed: caminho síncrono de produto normal, pedido já durável.
	Confirmed
	// OutOfStock: capacidade esgotada, sem mutação.
	OutOfStock
	// Unavailable: cache inacessível, breaker aberto ou contador não
	// configurado. Nunca é degradado para o banco.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Queued:
		return "QUEUED"
	case Confirmed:
		return "CONFIRMED"
	case OutOfStock:
		return "OUT_OF_STOCK"
	case Unavailable:
		return "UNAVAILABLE"
	}
	return "UNKNOWN"
}

// Result carrega o outcome e, no caminho síncrono, o ID do pedido.
type Result struct {
	Outcome Outcome
	OrderID int64
}

// probe é o que uma única passada pelo breaker apura no cache.
type probe struct {
	flash bool
	claim int
}

// Gate é o componente de request-time que reivindica uma unidade de
// estoque. Todas as chamadas ao cache passam pelo circuit breaker com um
// timeout curto; produto normal segue direto para a transação no banco.
type Gate struct {
	inventory    *cache.Inventory
	orders       store.OrderRepository
	orderQueue   *queue.Queue
	breaker      *gobreaker.CircuitBreaker[probe]
	cacheTimeout time.Duration
}

// NewGate cria uma nova instância de Gate.
func NewGate(
	inventory *cache.Inventory,
	orders store.OrderRepository,
	orderQueue *queue.Queue,
	cacheTimeout time.Duration,
) *Gate {
	settings := gobreaker.Settings{
		Name:        "reservation-cache",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Gate{
		inventory:    inventory,
		orders:       orders,
		orderQueue:   orderQueue,
		breaker:      gobreaker.NewCircuitBreaker[probe](settings),
		cacheTimeout: cacheTimeout,
	}
}

// Claim reivindica uma unidade do produto para o usuário.
//
// O erro retornado é sempre acompanhado de Outcome Unavailable e existe
// só para logging; OutOfStock e contador ausente são resultados de
// negócio, não falhas, e não abrem o breaker.
func (g *Gate) Claim(ctx context.Context, productID, userID int64) (Result, error) {
	p, err := g.breaker.Execute(func() (probe, error) {
		cctx, cancel := context.WithTimeout(ctx, g.cacheTimeout)
		defer cancel()

		flash, err := g.inventory.IsFlashSale(cctx, productID)
		if err != nil {
			return probe{}, err
		}
		if !flash {
			return probe{flash: false}, nil
		}

		claim, err := g.inventory.ClaimOne(cctx, productID)
		if err != nil {
			return probe{}, err
		}
		return probe{flash: true, claim: claim}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{Outcome: Unavailable}, fmt.Errorf("reservation cache circuit open: %w", err)
		}
		return Result{Outcome: Unavailable}, fmt.Errorf("reservation cache unreachable: %w", err)
	}

	if p.flash {
		return g.claimFlash(ctx, productID, userID, p.claim)
	}
	return g.claimNormal(ctx, productID, userID)
}

func (g *Gate) claimFlash(ctx context.Context, productID, userID int64, claim int) (Result, error) {
	switch claim {
	case cache.ClaimOK:
		msg := model.NewOrderMessage(userID, productID)
		if err := g.orderQueue.Publish(ctx, msg, 0); err != nil {
			// The unit was already decremented; give it back before
			// reporting the failure, or it stays locked out of the pool.
			if rerr := g.inventory.Restore(ctx, productID); rerr != nil {
				log.Printf("❌ [CLAIM] Failed to restore unit after enqueue failure | ProductID=%d | Error=%v", productID, rerr)
			}
			return Result{Outcome: Unavailable}, fmt.Errorf("failed to enqueue claim: %w", err)
		}
		return Result{Outcome: Queued}, nil

	case cache.ClaimSoldOut:
		return Result{Outcome: OutOfStock}, nil

	default:
		// Counter missing for a flagged flash product: a configuration
		// error, not a sell-out. Telling users "sold out" here would lie.
		return Result{Outcome: Unavailable}, fmt.Errorf("reservation counter unconfigured for product %d", productID)
	}
}

func (g *Gate) claimNormal(ctx context.Context, productID, userID int64) (Result, error) {
	orderID, err := g.orders.CheckoutNormal(ctx, userID, productID)
	if errors.Is(err, store.ErrOutOfStock) {
		return Result{Outcome: OutOfStock}, nil
	}
	if err != nil {
		return Result{Outcome: Unavailable}, fmt.Errorf("normal checkout failed: %w", err)
	}
	return Result{Outcome: Confirmed, OrderID: orderID}, nil
}
