package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memOrderRepo struct {
	orders     map[int64]Order
	payments   []PaymentRecord
	nextID     int64
	duplicates int // InsertOrder fails this many times with ErrDuplicateNumber
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[int64]Order{}}
}

func (m *memOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memOrderRepo) GetOrder(_ context.Context, id int64) (Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	return order, nil
}

func (m *memOrderRepo) ListOrders(_ context.Context, companyID int64, filter OrderFilter, _ shared.Pagination) ([]Order, int, error) {
	var out []Order
	for _, o := range m.orders {
		if o.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (m *memOrderRepo) ListPayments(_ context.Context, orderID int64) ([]PaymentRecord, error) {
	var out []PaymentRecord
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memOrderRepo) InsertOrder(_ context.Context, order Order) (int64, error) {
	if m.duplicates > 0 {
		m.duplicates--
		return 0, ErrDuplicateNumber
	}
	m.nextID++
	order.ID = m.nextID
	order.Items = nil
	m.orders[order.ID] = order
	return order.ID, nil
}

func (m *memOrderRepo) InsertItem(_ context.Context, item OrderItem) (int64, error) {
	m.nextID++
	item.ID = m.nextID
	order := m.orders[item.OrderID]
	order.Items = append(order.Items, item)
	m.orders[item.OrderID] = order
	return item.ID, nil
}

func (m *memOrderRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *memOrderRepo) UpdateOrderStatus(_ context.Context, id int64, status OrderStatus, deliveryDate time.Time) error {
	order, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	order.Status = status
	if !deliveryDate.IsZero() {
		order.DeliveryDate = deliveryDate
	}
	m.orders[id] = order
	return nil
}

func (m *memOrderRepo) UpdateOrderTotals(_ context.Context, order Order) error {
	existing, ok := m.orders[order.ID]
	if !ok {
		return shared.ErrNotFound
	}
	order.Items = existing.Items
	m.orders[order.ID] = order
	return nil
}

func (m *memOrderRepo) InsertPayment(_ context.Context, payment PaymentRecord) (int64, error) {
	m.nextID++
	payment.ID = m.nextID
	m.payments = append(m.payments, payment)
	return payment.ID, nil
}

func (m *memOrderRepo) DeleteOrder(_ context.Context, id int64) error {
	delete(m.orders, id)
	return nil
}

type memMaster struct{}

func (memMaster) Customer(_ context.Context, id, companyID int64) (masterdata.Customer, error) {
	if companyID != 10 {
		return masterdata.Customer{}, shared.ErrForbidden
	}
	return masterdata.Customer{ID: id, CompanyID: companyID, Name: "Acme"}, nil
}

func (memMaster) Warehouse(_ context.Context, id, companyID int64) (masterdata.Warehouse, error) {
	if companyID != 10 {
		return masterdata.Warehouse{}, shared.ErrForbidden
	}
	return masterdata.Warehouse{ID: id, CompanyID: companyID, Code: "WH"}, nil
}

func (memMaster) Product(_ context.Context, id, companyID int64) (masterdata.Product, error) {
	if companyID != 10 {
		return masterdata.Product{}, shared.ErrForbidden
	}
	return masterdata.Product{ID: id, CompanyID: companyID, SellingPrice: 25}, nil
}

type stockCall struct {
	op        string
	productID int64
	qty       float64
}

type memInventory struct {
	calls       []stockCall
	failProduct int64 // Reserve fails for this product
}

func (m *memInventory) Reserve(_ context.Context, input inventory.ReservationInput) (inventory.StockLevel, error) {
	if input.ProductID == m.failProduct {
		return inventory.StockLevel{}, fmt.Errorf("reserve: %w", inventory.ErrInsufficientStock)
	}
	m.calls = append(m.calls, stockCall{op: "reserve", productID: input.ProductID, qty: input.Quantity})
	return inventory.StockLevel{}, nil
}

func (m *memInventory) Release(_ context.Context, input inventory.ReservationInput) (inventory.StockLevel, error) {
	m.calls = append(m.calls, stockCall{op: "release", productID: input.ProductID, qty: input.Quantity})
	return inventory.StockLevel{}, nil
}

func (m *memInventory) CommitReservation(_ context.Context, input inventory.ReservationInput) (inventory.StockLevel, error) {
	m.calls = append(m.calls, stockCall{op: "commit", productID: input.ProductID, qty: input.Quantity})
	return inventory.StockLevel{}, nil
}

var testIdentity = shared.Identity{ActorID: 7, CompanyID: 10}

func newTestOrder(t *testing.T, svc *Service) Order {
	t.Helper()
	order, err := svc.Create(context.Background(), CreateOrderInput{
		Identity:    testIdentity,
		CustomerID:  1,
		WarehouseID: 1,
		Items: []OrderItemInput{
			{ProductID: 1, Quantity: 2, UnitPrice: 100, Discount: 20, Tax: 10},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderTotalsAndReservation(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{}
	svc := NewService(repo, memMaster{}, stock, nil)

	order := newTestOrder(t, svc)
	require.Equal(t, StatusPending, order.Status)
	require.NotEmpty(t, order.Number)

	// Line two had no explicit price, so the product selling price applies.
	require.Equal(t, 25.0, order.Items[1].UnitPrice)
	require.Equal(t, 225.0, order.Subtotal)
	require.Equal(t, 20.0, order.TotalDiscount)
	require.Equal(t, 10.0, order.TotalTax)
	require.Equal(t, 215.0, order.TotalAmount)
	require.Equal(t, 215.0, order.BalanceAmount)
	require.Equal(t, PaymentPending, order.PaymentStatus)

	require.Equal(t, []stockCall{
		{op: "reserve", productID: 1, qty: 2},
		{op: "reserve", productID: 2, qty: 1},
	}, stock.calls)
}

func TestCreateOrderReservationFailureCompensates(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{failProduct: 2}
	svc := NewService(repo, memMaster{}, stock, nil)

	_, err := svc.Create(context.Background(), CreateOrderInput{
		Identity:    testIdentity,
		CustomerID:  1,
		WarehouseID: 1,
		Items: []OrderItemInput{
			{ProductID: 1, Quantity: 3, UnitPrice: 10},
			{ProductID: 2, Quantity: 1, UnitPrice: 10},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// The first line's hold was released and no order survives.
	require.Equal(t, []stockCall{
		{op: "reserve", productID: 1, qty: 3},
		{op: "release", productID: 1, qty: 3},
	}, stock.calls)
	require.Empty(t, repo.orders)
}

func TestCreateOrderNumberRetries(t *testing.T) {
	repo := newMemOrderRepo()
	repo.duplicates = 3
	svc := NewService(repo, memMaster{}, &memInventory{}, nil)

	order := newTestOrder(t, svc)
	require.NotZero(t, order.ID)

	repo.duplicates = numberAttempts
	_, err := svc.Create(context.Background(), CreateOrderInput{
		Identity:    testIdentity,
		CustomerID:  1,
		WarehouseID: 1,
		Items:       []OrderItemInput{{ProductID: 1, Quantity: 1, UnitPrice: 5}},
	})
	require.ErrorIs(t, err, shared.ErrInternal)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := NewService(newMemOrderRepo(), memMaster{}, &memInventory{}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateOrderInput{Identity: testIdentity, CustomerID: 1, WarehouseID: 1})
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, err = svc.Create(ctx, CreateOrderInput{
		Identity: testIdentity, CustomerID: 1, WarehouseID: 1,
		Items: []OrderItemInput{{ProductID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	other := shared.Identity{ActorID: 1, CompanyID: 99}
	_, err = svc.Create(ctx, CreateOrderInput{
		Identity: other, CustomerID: 1, WarehouseID: 1,
		Items: []OrderItemInput{{ProductID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestConfirmCommitsReservations(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{}
	svc := NewService(repo, memMaster{}, stock, nil)
	order := newTestOrder(t, svc)
	stock.calls = nil

	updated, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Identity: testIdentity, OrderID: order.ID, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, updated.Status)
	require.Equal(t, []stockCall{
		{op: "commit", productID: 1, qty: 2},
		{op: "commit", productID: 2, qty: 1},
	}, stock.calls)
}

func TestCancelPendingReleasesReservations(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{}
	svc := NewService(repo, memMaster{}, stock, nil)
	order := newTestOrder(t, svc)
	stock.calls = nil

	updated, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Identity: testIdentity, OrderID: order.ID, Status: StatusCancelled,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.Equal(t, []stockCall{
		{op: "release", productID: 1, qty: 2},
		{op: "release", productID: 2, qty: 1},
	}, stock.calls)
}

func TestCancelConfirmedDoesNotTouchStock(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{}
	svc := NewService(repo, memMaster{}, stock, nil)
	order := newTestOrder(t, svc)

	_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: StatusConfirmed})
	require.NoError(t, err)
	stock.calls = nil

	_, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: StatusCancelled})
	require.NoError(t, err)
	require.Empty(t, stock.calls)
}

func TestUpdateStatusTransitions(t *testing.T) {
	repo := newMemOrderRepo()
	stock := &memInventory{}
	svc := NewService(repo, memMaster{}, stock, nil)
	ctx := context.Background()
	order := newTestOrder(t, svc)

	// Shipping a pending order skips confirmation.
	_, err := svc.UpdateStatus(ctx, UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: StatusShipped})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	for _, status := range []OrderStatus{StatusConfirmed, StatusShipped, StatusDelivered} {
		_, err = svc.UpdateStatus(ctx, UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: status})
		require.NoError(t, err)
	}

	final, err := svc.Get(ctx, testIdentity, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, final.Status)
	require.False(t, final.DeliveryDate.IsZero())

	// Delivered is terminal.
	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: StatusCancelled})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestAddPayment(t *testing.T) {
	repo := newMemOrderRepo()
	svc := NewService(repo, memMaster{}, &memInventory{}, nil)
	ctx := context.Background()
	order := newTestOrder(t, svc) // total 215

	updated, err := svc.AddPayment(ctx, AddPaymentInput{Identity: testIdentity, OrderID: order.ID, Amount: 100, Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, 100.0, updated.PaidAmount)
	require.Equal(t, 115.0, updated.BalanceAmount)
	require.Equal(t, PaymentPartial, updated.PaymentStatus)

	_, err = svc.AddPayment(ctx, AddPaymentInput{Identity: testIdentity, OrderID: order.ID, Amount: 200, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	updated, err = svc.AddPayment(ctx, AddPaymentInput{Identity: testIdentity, OrderID: order.ID, Amount: 115, Method: "transfer"})
	require.NoError(t, err)
	require.Equal(t, 0.0, updated.BalanceAmount)
	require.Equal(t, PaymentPaid, updated.PaymentStatus)

	payments, err := svc.Payments(ctx, testIdentity, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	_, err = svc.AddPayment(ctx, AddPaymentInput{Identity: testIdentity, OrderID: order.ID, Amount: 0, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestAddPaymentCancelledOrder(t *testing.T) {
	repo := newMemOrderRepo()
	svc := NewService(repo, memMaster{}, &memInventory{}, nil)
	ctx := context.Background()
	order := newTestOrder(t, svc)

	_, err := svc.UpdateStatus(ctx, UpdateStatusInput{Identity: testIdentity, OrderID: order.ID, Status: StatusCancelled})
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, AddPaymentInput{Identity: testIdentity, OrderID: order.ID, Amount: 10, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestOrderTenantIsolation(t *testing.T) {
	repo := newMemOrderRepo()
	svc := NewService(repo, memMaster{}, &memInventory{}, nil)
	order := newTestOrder(t, svc)

	other := shared.Identity{ActorID: 1, CompanyID: 99}
	_, err := svc.Get(context.Background(), other, order.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.AddPayment(context.Background(), AddPaymentInput{Identity: other, OrderID: order.ID, Amount: 10, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecomputeZeroTotalDerivesPaid(t *testing.T) {
	o := Order{Items: []OrderItem{
		{ProductID: 1, Quantity: 2, UnitPrice: 50, Discount: 100},
	}}
	o.Recompute()

	require.Equal(t, 0.0, o.TotalAmount)
	require.Equal(t, 0.0, o.BalanceAmount)
	require.Equal(t, PaymentPaid, o.PaymentStatus)
}
