package rehydrate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/model"
	"github.com/storewave/flash-sale-service/store"
)

// MockProductRepository simula o repositório de produtos.
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) CreateProduct(ctx context.Context, product *model.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockProductRepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(*model.Product), args.Error(1)
}

func (m *MockProductRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Product), args.Error(1)
}

func (m *MockProductRepository) FlashProductStats(ctx context.Context) ([]store.FlashProductStat, error) {
	args := m.Called(ctx)
	return args.Get(0).([]store.FlashProductStat), args.Error(1)
}

func (m *MockProductRepository) SetAvailableStock(ctx context.Context, productID int64, stock int) error {
	args := m.Called(ctx, productID, stock)
	return args.Error(0)
}

func newFixture(t *testing.T) (*miniredis.Miniredis, *MockProductRepository, *Rehydrator) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	products := new(MockProductRepository)
	return srv, products, NewRehydrator(products, cache.NewInventory(rdb))
}

func TestRun_RestoresStockFromDurableData(t *testing.T) {
	// Arrange: allocated 100, 30 confirmed orders
	srv, products, rehydrator := newFixture(t)
	products.On("FlashProductStats", mock.Anything).Return([]store.FlashProductStat{
		{ProductID: 42, Name: "Sneaker Drop", AllocatedStock: 100, ConfirmedOrders: 30},
	}, nil)
	products.On("SetAvailableStock", mock.Anything, int64(42), 70).Return(nil)

	// A stale cache value must be overwritten, never read as input.
	srv.Set(cache.StockKey(42), "3")

	// Act
	reports, err := rehydrator.Run(context.Background())

	// Assert
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, Report{
		ProductID:       42,
		ProductName:     "Sneaker Drop",
		OriginalStock:   100,
		ConfirmedOrders: 30,
		RestoredStock:   70,
	}, reports[0])

	stock, _ := srv.Get(cache.StockKey(42))
	assert.Equal(t, "70", stock)
	flag, _ := srv.Get(cache.FlashFlagKey(42))
	assert.Equal(t, "true", flag)

	products.AssertExpectations(t)
}

func TestRun_FloorsAtZeroWhenOversold(t *testing.T) {
	// Arrange
	srv, products, rehydrator := newFixture(t)
	products.On("FlashProductStats", mock.Anything).Return([]store.FlashProductStat{
		{ProductID: 42, Name: "Sneaker Drop", AllocatedStock: 10, ConfirmedOrders: 12},
	}, nil)
	products.On("SetAvailableStock", mock.Anything, int64(42), 0).Return(nil)

	// Act
	reports, err := rehydrator.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, reports[0].RestoredStock)
	stock, _ := srv.Get(cache.StockKey(42))
	assert.Equal(t, "0", stock)
}

func TestRun_Idempotent(t *testing.T) {
	// Arrange
	srv, products, rehydrator := newFixture(t)
	products.On("FlashProductStats", mock.Anything).Return([]store.FlashProductStat{
		{ProductID: 1, Name: "Ticket", AllocatedStock: 50, ConfirmedOrders: 8},
		{ProductID: 2, Name: "Console", AllocatedStock: 20, ConfirmedOrders: 20},
	}, nil).Twice()
	products.On("SetAvailableStock", mock.Anything, int64(1), 42).Return(nil).Twice()
	products.On("SetAvailableStock", mock.Anything, int64(2), 0).Return(nil).Twice()

	// Act: two runs with no orders in between
	first, err := rehydrator.Run(context.Background())
	require.NoError(t, err)
	second, err := rehydrator.Run(context.Background())
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first, second)
	stock, _ := srv.Get(cache.StockKey(1))
	assert.Equal(t, "42", stock)
	products.AssertExpectations(t)
}

func TestRun_NoFlashProducts(t *testing.T) {
	// Arrange
	_, products, rehydrator := newFixture(t)
	products.On("FlashProductStats", mock.Anything).Return([]store.FlashProductStat{}, nil)

	// Act
	reports, err := rehydrator.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Empty(t, reports)
}
