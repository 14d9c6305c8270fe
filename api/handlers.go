package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/gate"
	"github.com/storewave/flash-sale-service/model"
	"github.com/storewave/flash-sale-service/rehydrate"
	"github.com/storewave/flash-sale-service/store"
)

// Claimer define a interface do gate consumida pelos handlers.
type Claimer interface {
	Claim(ctx context.Context, productID, userID int64) (gate.Result, error)
}

// Rehydrator define a interface do protocolo de reidratação.
type Rehydrator interface {
	Run(ctx context.Context) ([]rehydrate.Report, error)
}

// Handler contém os handlers HTTP do serviço.
type Handler struct {
	gate       Claimer
	products   store.ProductRepository
	orders     store.OrderRepository
	inventory  *cache.Inventory
	rehydrator Rehydrator
	tracer     trace.Tracer
}

// NewHandler cria uma nova instância de Handler.
func NewHandler(
	claimer Claimer,
	products store.ProductRepository,
	orders store.OrderRepository,
	inventory *cache.Inventory,
	rehydrator Rehydrator,
	tracer trace.Tracer,
) *Handler {
	return &Handler{
		gate:       claimer,
		products:   products,
		orders:     orders,
		inventory:  inventory,
		rehydrator: rehydrator,
		tracer:     tracer,
	}
}

// Checkout processa um claim de compra para o produto da URL.
func (h *Handler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout")
	defer span.End()

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	userID := c.GetInt64(userIDKey)

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("user_id", userID),
	)

	result, err := h.gate.Claim(ctx, productID, userID)
	if err != nil {
		span.RecordError(err)
		log.Printf("❌ [CHECKOUT] ProductID=%d | UserID=%d | %v", productID, userID, err)
	}
	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))

	switch result.Outcome {
	case gate.Queued:
		c.JSON(http.StatusAccepted, gin.H{
			"msg":    "Order received and is processing. You are in the queue!",
			"status": model.OrderStatusPending,
		})
	case gate.Confirmed:
		c.JSON(http.StatusOK, gin.H{
			"msg":      "Checkout successful",
			"order_id": result.OrderID,
		})
	case gate.OutOfStock:
		c.JSON(http.StatusBadRequest, gin.H{"msg": "OUT_OF_STOCK"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "Flash sale unavailable."})
	}
}

// CreateProductRequest representa a requisição de cadastro de produto.
type CreateProductRequest struct {
	Name        string         `json:"name" binding:"required"`
	Type        string         `json:"type" binding:"required"`
	IsFlashSale bool           `json:"is_flash_sale"`
	Stock       int            `json:"stock" binding:"required,gt=0"`
	Attributes  map[string]any `json:"attributes"`
}

// SeedCatalog cadastra um produto no catálogo.
func (h *Handler) SeedCatalog(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid product data", "error": err.Error()})
		return
	}

	product := &model.Product{
		Name:           req.Name,
		Type:           req.Type,
		IsFlashSale:    req.IsFlashSale,
		AllocatedStock: req.Stock,
		AvailableStock: req.Stock,
		Attributes:     req.Attributes,
	}
	if err := h.products.CreateProduct(c.Request.Context(), product); err != nil {
		log.Printf("❌ [CATALOG] Insertion error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"msg":     "Product added to catalog successfully",
		"product": product,
	})
}

// Rehydrate dispara a reconstrução do cache a partir do banco e devolve
// o relatório por produto.
func (h *Handler) Rehydrate(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "rehydrate")
	defer span.End()

	reports, err := h.rehydrator.Run(ctx)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "partial": reports})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": reports})
}

// flashProductView e normalProductView são as linhas do dashboard.
type flashProductView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	LiveStock int    `json:"live_stock"`
}

type normalProductView struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	AvailableStock int    `json:"available_stock"`
}

// Dashboard devolve o snapshot de telemetria para o leitor externo:
// contagem de pedidos por status, resgates da DLQ e estoque ao vivo.
func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	products, err := h.products.ListProducts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Telemetry offline"})
		return
	}
	orderCounts, err := h.orders.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Telemetry offline"})
		return
	}

	var flashIDs []int64
	for _, p := range products {
		if p.IsFlashSale {
			flashIDs = append(flashIDs, p.ID)
		}
	}

	stocks, rescues, err := h.inventory.Snapshot(ctx, flashIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Telemetry offline"})
		return
	}

	flashSales := make([]flashProductView, 0)
	normalProducts := make([]normalProductView, 0)
	for _, p := range products {
		if p.IsFlashSale {
			live, ok := stocks[p.ID]
			if !ok {
				// Counter not configured yet: fall back to the durable view.
				live = p.AvailableStock
			}
			flashSales = append(flashSales, flashProductView{ID: p.ID, Name: p.Name, LiveStock: live})
		} else {
			normalProducts = append(normalProducts, normalProductView{ID: p.ID, Name: p.Name, AvailableStock: p.AvailableStock})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"order_metrics":   orderCounts,
		"dlq_rescues":     rescues,
		"flash_sales":     flashSales,
		"normal_products": normalProducts,
	})
}

// HealthCheck verifica a saúde do serviço.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "flash-sale-service",
	})
}
