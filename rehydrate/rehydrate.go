package rehydrate

import (
	"context"
	"fmt"
	"log"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/store"
)

// Report descreve o resultado da reidratação de um produto.
type Report struct {
	ProductID       int64  `json:"product_id"`
	ProductName     string `json:"product_name"`
	OriginalStock   int    `json:"original_stock"`
	ConfirmedOrders int    `json:"confirmed_orders"`
	RestoredStock   int    `json:"restored_stock"`
}

// Rehydrator reconstrói o cache de reserva a partir do banco. O cache é
// um acelerador derivado: depois de um restart ou perda suspeita nada
// dele serve de entrada — só dados duráveis.
type Rehydrator struct {
	products  store.ProductRepository
	inventory *cache.Inventory
}

// NewRehydrator cria uma nova instância de Rehydrator.
func NewRehydrator(products store.ProductRepository, inventory *cache.Inventory) *Rehydrator {
	return &Rehydrator{
		products:  products,
		inventory: inventory,
	}
}

// Run recalcula o estoque restante de cada produto flash e reescreve
// contador, flag de roteamento e available_stock durável. Idempotente.
func (r *Rehydrator) Run(ctx context.Context) ([]Report, error) {
	stats, err := r.products.FlashProductStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load flash product stats: %w", err)
	}

	reports := make([]Report, 0, len(stats))
	for _, stat := range stats {
		restored := stat.AllocatedStock - stat.ConfirmedOrders
		if restored < 0 {
			restored = 0
		}

		if err := r.inventory.WriteFlashEntry(ctx, stat.ProductID, restored); err != nil {
			return reports, fmt.Errorf("failed to rehydrate cache for product %d: %w", stat.ProductID, err)
		}
		if err := r.products.SetAvailableStock(ctx, stat.ProductID, restored); err != nil {
			return reports, fmt.Errorf("failed to rewrite durable stock for product %d: %w", stat.ProductID, err)
		}

		log.Printf("♻️ [REHYDRATE] ProductID=%d | allocated=%d | confirmed=%d | restored=%d",
			stat.ProductID, stat.AllocatedStock, stat.ConfirmedOrders, restored)

		reports = append(reports, Report{
			ProductID:       stat.ProductID,
			ProductName:     stat.Name,
			OriginalStock:   stat.AllocatedStock,
			ConfirmedOrders: stat.ConfirmedOrders,
			RestoredStock:   restored,
		})
	}
	return reports, nil
}
