package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memBillingRepo struct {
	invoices map[int64]Invoice
	orders   map[int64]OrderSummary
	payments []Payment
	nextID   int64
}

func newMemBillingRepo() *memBillingRepo {
	return &memBillingRepo{invoices: map[int64]Invoice{}, orders: map[int64]OrderSummary{}}
}

func (m *memBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memBillingRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (m *memBillingRepo) ListInvoices(_ context.Context, companyID int64, filter InvoiceFilter, _ shared.Pagination) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *memBillingRepo) ListPayments(_ context.Context, companyID int64, target PaymentTarget, targetID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.CompanyID == companyID && p.Target == target && p.TargetID == targetID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memBillingRepo) InsertInvoice(_ context.Context, inv Invoice) (int64, error) {
	m.nextID++
	inv.ID = m.nextID
	inv.Items = nil
	m.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (m *memBillingRepo) InsertInvoiceItem(_ context.Context, item InvoiceItem) (int64, error) {
	m.nextID++
	item.ID = m.nextID
	inv := m.invoices[item.InvoiceID]
	inv.Items = append(inv.Items, item)
	m.invoices[item.InvoiceID] = inv
	return item.ID, nil
}

func (m *memBillingRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memBillingRepo) UpdateInvoiceSettlement(_ context.Context, inv Invoice) error {
	existing, ok := m.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	existing.PaidAmount = inv.PaidAmount
	existing.BalanceAmount = inv.BalanceAmount
	existing.Status = inv.Status
	m.invoices[inv.ID] = existing
	return nil
}

func (m *memBillingRepo) GetPurchaseOrderForUpdate(_ context.Context, id int64) (OrderSummary, error) {
	order, ok := m.orders[id]
	if !ok {
		return OrderSummary{}, shared.ErrNotFound
	}
	return order, nil
}

func (m *memBillingRepo) UpdatePurchaseOrderSettlement(_ context.Context, order OrderSummary) error {
	if _, ok := m.orders[order.ID]; !ok {
		return shared.ErrNotFound
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memBillingRepo) InsertPayment(_ context.Context, payment Payment) (int64, error) {
	m.nextID++
	payment.ID = m.nextID
	m.payments = append(m.payments, payment)
	return payment.ID, nil
}

type memSales struct {
	orders map[int64]sales.Order
}

func (m *memSales) Get(_ context.Context, id shared.Identity, orderID int64) (sales.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return sales.Order{}, shared.ErrNotFound
	}
	if order.CompanyID != id.CompanyID {
		return sales.Order{}, shared.ErrForbidden
	}
	return order, nil
}

type memMaster struct{}

func (memMaster) Customer(_ context.Context, id, companyID int64) (masterdata.Customer, error) {
	if companyID != 10 {
		return masterdata.Customer{}, shared.ErrForbidden
	}
	return masterdata.Customer{ID: id, CompanyID: companyID}, nil
}

var testIdentity = shared.Identity{ActorID: 7, CompanyID: 10}

func newTestService(repo *memBillingRepo) *Service {
	so := sales.Order{
		ID:          5,
		CompanyID:   10,
		Number:      "SO-20260801-00001",
		CustomerID:  3,
		WarehouseID: 1,
		Status:      sales.StatusConfirmed,
		Items: []sales.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 100, Discount: 20, Tax: 10},
		},
		ShippingCost: 5,
	}
	so.Recompute()
	return NewService(repo, &memSales{orders: map[int64]sales.Order{5: so}}, memMaster{}, nil)
}

func TestCreateInvoiceFromSalesOrder(t *testing.T) {
	repo := newMemBillingRepo()
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		Identity:     testIdentity,
		SalesOrderID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), inv.SalesOrderID)
	require.Equal(t, int64(3), inv.CustomerID)
	require.Len(t, inv.Items, 1)
	// subtotal 200 - discount 20 + tax 10 + shipping 5
	require.Equal(t, 195.0, inv.TotalAmount)
	require.Equal(t, 195.0, inv.BalanceAmount)
	require.Equal(t, InvoicePending, inv.Status)
	require.NotEmpty(t, inv.Number)
	require.Equal(t, inv.IssueDate.Add(30*24*time.Hour), inv.DueDate)
}

func TestCreateInvoiceStandalone(t *testing.T) {
	repo := newMemBillingRepo()
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		Identity:   testIdentity,
		CustomerID: 3,
		Items: []InvoiceItemInput{
			{Description: "Consulting", Quantity: 4, UnitPrice: 50},
		},
	})
	require.NoError(t, err)
	require.Zero(t, inv.SalesOrderID)
	require.Equal(t, 200.0, inv.TotalAmount)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc := newTestService(newMemBillingRepo())
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, CreateInvoiceInput{Identity: testIdentity, CustomerID: 3})
	require.ErrorIs(t, err, ErrEmptyInvoice)

	_, err = svc.CreateInvoice(ctx, CreateInvoiceInput{
		Identity:     testIdentity,
		SalesOrderID: 5,
		Items:        []InvoiceItemInput{{Quantity: 1, UnitPrice: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.CreateInvoice(ctx, CreateInvoiceInput{Identity: testIdentity, SalesOrderID: 404})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestInvoiceSnapshotIsolation(t *testing.T) {
	repo := newMemBillingRepo()
	salesPort := &memSales{orders: map[int64]sales.Order{}}
	so := sales.Order{ID: 5, CompanyID: 10, CustomerID: 3, Status: sales.StatusConfirmed,
		Items: []sales.OrderItem{{ProductID: 1, Quantity: 1, UnitPrice: 100}}}
	so.Recompute()
	salesPort.orders[5] = so
	svc := NewService(repo, salesPort, memMaster{}, nil)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{Identity: testIdentity, SalesOrderID: 5})
	require.NoError(t, err)
	require.Equal(t, 100.0, inv.TotalAmount)

	// Later order edits must not change the issued invoice.
	so.Items[0].UnitPrice = 999
	so.Recompute()
	salesPort.orders[5] = so

	persisted, err := svc.GetInvoice(context.Background(), testIdentity, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, persisted.TotalAmount)
}

func TestPayInvoice(t *testing.T) {
	repo := newMemBillingRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{Identity: testIdentity, SalesOrderID: 5}) // total 195
	require.NoError(t, err)

	payment, err := svc.CreateForInvoice(ctx, PaymentInput{Identity: testIdentity, TargetID: inv.ID, Amount: 95, Method: "transfer"})
	require.NoError(t, err)
	require.NotEmpty(t, payment.Number)

	mid, err := svc.GetInvoice(ctx, testIdentity, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, mid.BalanceAmount)
	require.Equal(t, InvoicePartial, mid.Status)

	_, err = svc.CreateForInvoice(ctx, PaymentInput{Identity: testIdentity, TargetID: inv.ID, Amount: 150, Method: "transfer"})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.CreateForInvoice(ctx, PaymentInput{Identity: testIdentity, TargetID: inv.ID, Amount: 100, Method: "cash"})
	require.NoError(t, err)

	final, err := svc.GetInvoice(ctx, testIdentity, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, final.Status)
	require.Equal(t, 0.0, final.BalanceAmount)

	payments, err := svc.Payments(ctx, testIdentity, TargetInvoice, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestPayPurchaseOrder(t *testing.T) {
	repo := newMemBillingRepo()
	repo.orders[9] = OrderSummary{ID: 9, CompanyID: 10, Status: "pending", TotalAmount: 500, BalanceAmount: 500}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateForPurchaseOrder(ctx, PaymentInput{Identity: testIdentity, TargetID: 9, Amount: 600, Method: "transfer"})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	payment, err := svc.CreateForPurchaseOrder(ctx, PaymentInput{Identity: testIdentity, TargetID: 9, Amount: 500, Method: "transfer"})
	require.NoError(t, err)
	require.Equal(t, TargetPurchaseOrder, payment.Target)
	require.Equal(t, 0.0, repo.orders[9].BalanceAmount)
	require.Equal(t, 500.0, repo.orders[9].PaidAmount)
}

func TestInvoiceOverdueDerivation(t *testing.T) {
	inv := Invoice{BalanceAmount: 50, Status: InvoicePartial, DueDate: time.Now().Add(-24 * time.Hour)}
	require.Equal(t, InvoiceOverdue, inv.EffectiveStatus(time.Now()))

	inv.BalanceAmount = 0
	inv.Status = InvoicePaid
	require.Equal(t, InvoicePaid, inv.EffectiveStatus(time.Now()))

	inv = Invoice{BalanceAmount: 50, Status: InvoicePending, DueDate: time.Now().Add(24 * time.Hour)}
	require.Equal(t, InvoicePending, inv.EffectiveStatus(time.Now()))
}

func TestInvoiceTenantIsolation(t *testing.T) {
	repo := newMemBillingRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{Identity: testIdentity, SalesOrderID: 5})
	require.NoError(t, err)

	other := shared.Identity{ActorID: 1, CompanyID: 99}
	_, err = svc.GetInvoice(ctx, other, inv.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.CreateForInvoice(ctx, PaymentInput{Identity: other, TargetID: inv.ID, Amount: 10, Method: "cash"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecomputeZeroTotalDerivesPaid(t *testing.T) {
	inv := Invoice{Items: []InvoiceItem{
		{Description: "setup fee", Quantity: 1, UnitPrice: 80, Discount: 80},
	}}
	inv.Recompute()

	require.Equal(t, 0.0, inv.TotalAmount)
	require.Equal(t, 0.0, inv.BalanceAmount)
	require.Equal(t, InvoicePaid, inv.Status)
}
