package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/model"
	"github.com/storewave/flash-sale-service/queue"
)

// MockOrderRepository simula o repositório de pedidos.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, userID, productID int64, status model.OrderStatus, messageID string) (int64, error) {
	args := m.Called(ctx, userID, productID, status, messageID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) CheckoutNormal(ctx context.Context, userID, productID int64) (int64, error) {
	args := m.Called(ctx, userID, productID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) ConfirmOrder(ctx context.Context, userID, productID int64, messageID string) (int64, error) {
	args := m.Called(ctx, userID, productID, messageID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) HasConfirmedOrder(ctx context.Context, userID, productID int64) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) CountByStatus(ctx context.Context) (map[model.OrderStatus]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[model.OrderStatus]int), args.Error(1)
}

func (m *MockOrderRepository) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(*model.Order), args.Error(1)
}

// authorizerFunc adapta uma função para payment.Authorizer.
type authorizerFunc func(ctx context.Context, msg model.OrderMessage) (bool, error)

func (f authorizerFunc) Authorize(ctx context.Context, msg model.OrderMessage) (bool, error) {
	return f(ctx, msg)
}

func approveAll(context.Context, model.OrderMessage) (bool, error) { return true, nil }
func declineAll(context.Context, model.OrderMessage) (bool, error) { return false, nil }

type workerFixture struct {
	srv           *miniredis.Miniredis
	inventory     *cache.Inventory
	orderQueue    *queue.Queue
	deadLetters   *queue.Queue
	verifications *queue.Queue
	orders        *MockOrderRepository
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	deadLetters := queue.New(rdb, "flash-dlq", queue.Options{})
	orderQueue := queue.New(rdb, "flash-orders", queue.Options{
		MaxAttempts: 4,
		RetryDelay:  0,
		DeadLetter:  deadLetters,
	})
	verifications := queue.New(rdb, "payment-timeout", queue.Options{})

	return &workerFixture{
		srv:           srv,
		inventory:     cache.NewInventory(rdb),
		orderQueue:    orderQueue,
		deadLetters:   deadLetters,
		verifications: verifications,
		orders:        new(MockOrderRepository),
	}
}

func (f *workerFixture) settler(authorizer authorizerFunc) *Settler {
	// Zero verification delay keeps the audit message visible to the test.
	return NewSettler(f.orders, f.inventory, authorizer, f.verifications, 0)
}

func (f *workerFixture) receiveOrder(t *testing.T) *queue.Delivery {
	t.Helper()
	delivery, err := f.orderQueue.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, delivery)
	return delivery
}

func TestSettler_ConfirmsApprovedClaim(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.orders.On("ConfirmOrder", mock.Anything, int64(7), int64(42), mock.Anything).Return(int64(99), nil)

	msg := model.NewOrderMessage(7, 42)
	require.NoError(t, f.orderQueue.Publish(context.Background(), msg, 0))

	// Act
	f.settler(approveAll).Handle(context.Background(), f.receiveOrder(t))

	// Assert: durable write happened and the audit stage was scheduled
	f.orders.AssertExpectations(t)

	verification, err := f.verifications.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, verification)
	assert.Equal(t, msg, verification.Message())

	// Acked: nothing left to redeliver
	leftover, _ := f.orderQueue.TryReceive(context.Background())
	assert.Nil(t, leftover)
}

func TestSettler_DeclineWritesFailedOrderAndRestoresUnit(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.srv.Set(cache.StockKey(42), "0")
	f.orders.On("CreateOrder", mock.Anything, int64(7), int64(42), model.OrderStatusFailed, mock.Anything).Return(int64(100), nil)

	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))

	// Act
	f.settler(declineAll).Handle(context.Background(), f.receiveOrder(t))

	// Assert
	f.orders.AssertExpectations(t)

	stock, _ := f.srv.Get(cache.StockKey(42))
	assert.Equal(t, "1", stock, "declined claim must return the unit to the pool")

	// A business failure is acked, never retried
	leftover, _ := f.orderQueue.TryReceive(context.Background())
	assert.Nil(t, leftover)

	// And never audited
	verification, _ := f.verifications.TryReceive(context.Background())
	assert.Nil(t, verification)
}

func TestSettler_RetriesOnDurableWriteFailure(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.orders.On("ConfirmOrder", mock.Anything, int64(7), int64(42), mock.Anything).Return(int64(0), errors.New("connection reset"))

	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))

	// Act
	f.settler(approveAll).Handle(context.Background(), f.receiveOrder(t))

	// Assert: redelivered with the attempt counted
	redelivered := f.receiveOrder(t)
	assert.Equal(t, 2, redelivered.Attempt())
}

func TestSettler_DeadLettersAfterMaxAttempts(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.orders.On("ConfirmOrder", mock.Anything, int64(7), int64(42), mock.Anything).Return(int64(0), errors.New("database down"))

	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))
	settler := f.settler(approveAll)

	// Act: four consecutive processing failures
	for i := 0; i < 4; i++ {
		settler.Handle(context.Background(), f.receiveOrder(t))
	}

	// Assert: nothing left on the main queue, message parked on the DLQ
	leftover, _ := f.orderQueue.TryReceive(context.Background())
	assert.Nil(t, leftover)

	parked, err := f.deadLetters.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, parked)
	assert.Equal(t, int64(42), parked.Message().ProductID)
}

// TestSettler_RedeliveryKeepsFirstDecision: uma recusa cuja compensação
// falhou volta com a decisão gravada no envelope. A reentrega não
// autoriza de novo — o mesmo claim jamais liquida como FAILED e
// CONFIRMED ao mesmo tempo.
func TestSettler_RedeliveryKeepsFirstDecision(t *testing.T) {
	// Arrange: the reservation cache is down, so restoring the unit fails
	f := newWorkerFixture(t)
	downSrv := miniredis.RunT(t)
	downRdb := redis.NewClient(&redis.Options{Addr: downSrv.Addr()})
	t.Cleanup(func() { downRdb.Close() })
	downSrv.Close()

	f.srv.Set(cache.StockKey(42), "0")
	f.orders.On("CreateOrder", mock.Anything, int64(7), int64(42), model.OrderStatusFailed, mock.Anything).Return(int64(100), nil).Twice()

	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))

	// Act 1: declined, FAILED row written, compensation fails, retried
	broken := NewSettler(f.orders, cache.NewInventory(downRdb), authorizerFunc(declineAll), f.verifications, 0)
	broken.Handle(context.Background(), f.receiveOrder(t))

	redelivered := f.receiveOrder(t)
	assert.Equal(t, 2, redelivered.Attempt())
	assert.Equal(t, string(model.OrderStatusFailed), redelivered.Envelope.Resolution)

	// Act 2: the authorizer would approve now, but the pinned decision wins
	reauthorized := false
	flipped := authorizerFunc(func(context.Context, model.OrderMessage) (bool, error) {
		reauthorized = true
		return true, nil
	})
	NewSettler(f.orders, f.inventory, flipped, f.verifications, 0).Handle(context.Background(), redelivered)

	// Assert: compensation resumed, no second charge, no confirmation
	assert.False(t, reauthorized, "a recorded decision must not re-run the charge")
	f.orders.AssertNotCalled(t, "ConfirmOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.orders.AssertExpectations(t)

	stock, _ := f.srv.Get(cache.StockKey(42))
	assert.Equal(t, "1", stock, "the unit goes back exactly once")

	leftover, _ := f.orderQueue.TryReceive(context.Background())
	assert.Nil(t, leftover)
}

// TestSettler_RunStopsWhileWaitingOutReceiveFailures: com o broker fora
// do ar o loop espera entre tentativas em vez de girar quente, e o
// cancelamento encerra a espera.
func TestSettler_RunStopsWhileWaitingOutReceiveFailures(t *testing.T) {
	// Arrange
	downSrv := miniredis.RunT(t)
	downRdb := redis.NewClient(&redis.Options{Addr: downSrv.Addr()})
	t.Cleanup(func() { downRdb.Close() })
	downSrv.Close()

	orderQueue := queue.New(downRdb, "flash-orders", queue.Options{})
	settler := NewSettler(new(MockOrderRepository), cache.NewInventory(downRdb), authorizerFunc(approveAll), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		settler.Run(ctx, orderQueue)
		close(done)
	}()

	// Act: let the loop reach the receive-failure wait, then cancel
	time.Sleep(100 * time.Millisecond)
	cancel()

	// Assert
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestDeadLetterHandler_RestoresUnitAndCountsRescue(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.srv.Set(cache.StockKey(42), "0")

	require.NoError(t, f.deadLetters.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))
	delivery, err := f.deadLetters.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, delivery)

	// Act
	NewDeadLetterHandler(f.inventory).Handle(context.Background(), delivery)

	// Assert
	stock, _ := f.srv.Get(cache.StockKey(42))
	assert.Equal(t, "1", stock)

	rescues, _ := f.srv.Get(cache.RescueCounterKey)
	assert.Equal(t, "1", rescues)
}

func TestVerifier_AuditsConfirmedOrder(t *testing.T) {
	// Arrange
	f := newWorkerFixture(t)
	f.orders.On("HasConfirmedOrder", mock.Anything, int64(7), int64(42)).Return(true, nil)

	require.NoError(t, f.verifications.Publish(context.Background(), model.NewOrderMessage(7, 42), 0))
	delivery, err := f.verifications.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, delivery)

	// Act
	NewVerifier(f.orders).Handle(context.Background(), delivery)

	// Assert: audit only, nothing redelivered even on lookup failure
	f.orders.AssertExpectations(t)
	leftover, _ := f.verifications.TryReceive(context.Background())
	assert.Nil(t, leftover)
}

// TestPipeline_NoStrandedInventory runs the claimed-unit ledger end to
// end: every queued claim either confirms durably or puts exactly one
// unit back, via decline or dead-letter rescue.
func TestPipeline_NoStrandedInventory(t *testing.T) {
	// Arrange: three claims against a counter that started at 3
	f := newWorkerFixture(t)
	f.srv.Set(cache.StockKey(42), "0") // all three units already claimed

	f.orders.On("ConfirmOrder", mock.Anything, int64(1), int64(42), mock.Anything).Return(int64(10), nil).Once()
	f.orders.On("CreateOrder", mock.Anything, int64(2), int64(42), model.OrderStatusFailed, mock.Anything).Return(int64(11), nil).Once()
	f.orders.On("ConfirmOrder", mock.Anything, int64(3), int64(42), mock.Anything).Return(int64(0), errors.New("database down"))

	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(1, 42), 0))
	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(2, 42), 0))
	require.NoError(t, f.orderQueue.Publish(context.Background(), model.NewOrderMessage(3, 42), 0))

	authorize := authorizerFunc(func(_ context.Context, msg model.OrderMessage) (bool, error) {
		return msg.UserID != 2, nil // user 2 is declined
	})
	settler := f.settler(authorize)
	dlqHandler := NewDeadLetterHandler(f.inventory)

	// Act: drain the main queue until user 3 exhausts retries
	for {
		delivery, err := f.orderQueue.TryReceive(context.Background())
		require.NoError(t, err)
		if delivery == nil {
			break
		}
		settler.Handle(context.Background(), delivery)
	}
	parked, err := f.deadLetters.TryReceive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, parked)
	dlqHandler.Handle(context.Background(), parked)

	// Assert: one confirmed durably, two units restored (decline + rescue)
	f.orders.AssertExpectations(t)
	stock, _ := f.srv.Get(cache.StockKey(42))
	assert.Equal(t, "2", stock)

	rescues, _ := f.srv.Get(cache.RescueCounterKey)
	assert.Equal(t, "1", rescues)
}
