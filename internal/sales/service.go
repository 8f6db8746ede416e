package sales

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, companyID int64, filter OrderFilter, page shared.Pagination) ([]Order, int, error)
	ListPayments(ctx context.Context, orderID int64) ([]PaymentRecord, error)
}

// MasterDataPort exposes the reference lookups orders validate against.
type MasterDataPort interface {
	Customer(ctx context.Context, id, companyID int64) (masterdata.Customer, error)
	Warehouse(ctx context.Context, id, companyID int64) (masterdata.Warehouse, error)
	Product(ctx context.Context, id, companyID int64) (masterdata.Product, error)
}

// InventoryPort exposes the stock engine operations orders drive. Orders never
// touch ledger rows directly.
type InventoryPort interface {
	Reserve(ctx context.Context, input inventory.ReservationInput) (inventory.StockLevel, error)
	Release(ctx context.Context, input inventory.ReservationInput) (inventory.StockLevel, error)
	CommitReservation(ctx context.Context, input inventory.ReservationInput) (inventory.StockLevel, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the sales order lifecycle.
type Service struct {
	repo      RepositoryPort
	master    MasterDataPort
	inventory InventoryPort
	audit     AuditPort
}

// NewService constructs sales service. audit may be nil.
func NewService(repo RepositoryPort, master MasterDataPort, inv InventoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, master: master, inventory: inv, audit: audit}
}

// CreateOrderInput describes a new sales order.
type CreateOrderInput struct {
	Identity     shared.Identity
	CustomerID   int64
	WarehouseID  int64
	ShippingCost float64
	Notes        string
	OrderDate    time.Time
	Items        []OrderItemInput
}

// OrderItemInput is one requested line.
type OrderItemInput struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
	Discount  float64
	Tax       float64
}

// UpdateStatusInput moves an order through its lifecycle.
type UpdateStatusInput struct {
	Identity     shared.Identity
	OrderID      int64
	Status       OrderStatus
	DeliveryDate time.Time
}

// AddPaymentInput records a settlement against an order.
type AddPaymentInput struct {
	Identity  shared.Identity
	OrderID   int64
	Amount    float64
	Method    string
	Reference string
	Notes     string
}

const numberAttempts = 10

// Create validates the order against master data, persists it and places a
// stock reservation for every line. When a reservation fails the already
// placed holds are released and the order is removed, so a rejected order
// leaves no trace in the ledger.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (Order, error) {
	if len(input.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	if _, err := s.master.Customer(ctx, input.CustomerID, input.Identity.CompanyID); err != nil {
		return Order{}, err
	}
	if _, err := s.master.Warehouse(ctx, input.WarehouseID, input.Identity.CompanyID); err != nil {
		return Order{}, err
	}

	order := Order{
		CompanyID:    input.Identity.CompanyID,
		CustomerID:   input.CustomerID,
		WarehouseID:  input.WarehouseID,
		Status:       StatusPending,
		ShippingCost: input.ShippingCost,
		Notes:        input.Notes,
		OrderDate:    input.OrderDate,
		CreatedBy:    input.Identity.ActorID,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}
	for _, line := range input.Items {
		if line.ProductID == 0 || line.Quantity <= 0 {
			return Order{}, fmt.Errorf("sales: item requires product and positive quantity: %w", shared.ErrInvalidOperation)
		}
		if line.UnitPrice < 0 || line.Discount < 0 || line.Tax < 0 {
			return Order{}, fmt.Errorf("sales: item amounts must not be negative: %w", shared.ErrInvalidOperation)
		}
		product, err := s.master.Product(ctx, line.ProductID, input.Identity.CompanyID)
		if err != nil {
			return Order{}, err
		}
		price := line.UnitPrice
		if price == 0 {
			price = product.SellingPrice
		}
		order.Items = append(order.Items, OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: price,
			Discount:  line.Discount,
			Tax:       line.Tax,
		})
	}
	order.Recompute()

	if err := s.persistNew(ctx, &order); err != nil {
		return Order{}, err
	}

	if err := s.reserveLines(ctx, input.Identity, order); err != nil {
		_ = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.DeleteOrder(ctx, order.ID)
		})
		return Order{}, err
	}

	s.recordAudit(ctx, input.Identity, "sales:CREATE", order.ID, map[string]any{"number": order.Number, "total": order.TotalAmount})
	return order, nil
}

// persistNew inserts the order with a fresh number, retrying on collisions.
func (s *Service) persistNew(ctx context.Context, order *Order) error {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		order.Number = generateOrderNumber()
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertOrder(ctx, *order)
			if err != nil {
				return err
			}
			order.ID = id
			for i := range order.Items {
				order.Items[i].OrderID = id
				itemID, err := tx.InsertItem(ctx, order.Items[i])
				if err != nil {
					return err
				}
				order.Items[i].ID = itemID
			}
			return nil
		})
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		return err
	}
	return fmt.Errorf("sales: could not allocate a unique order number: %w", shared.ErrInternal)
}

func (s *Service) reserveLines(ctx context.Context, id shared.Identity, order Order) error {
	reserved := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		_, err := s.inventory.Reserve(ctx, inventory.ReservationInput{
			Identity:    id,
			ProductID:   item.ProductID,
			WarehouseID: order.WarehouseID,
			Quantity:    item.Quantity,
			Ref:         inventory.RefMeta{Type: inventory.RefSales, ID: order.ID},
		})
		if err != nil {
			for _, held := range reserved {
				_, _ = s.inventory.Release(ctx, inventory.ReservationInput{
					Identity:    id,
					ProductID:   held.ProductID,
					WarehouseID: order.WarehouseID,
					Quantity:    held.Quantity,
				})
			}
			return fmt.Errorf("sales: reserve product %d: %w", item.ProductID, err)
		}
		reserved = append(reserved, item)
	}
	return nil
}

// UpdateStatus applies one lifecycle transition. Confirming a pending order
// commits each line's reservation, turning the soft holds into actual stock
// deductions; cancelling a pending order releases them. Later transitions only
// change state.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Order, error) {
	order, err := s.get(ctx, input.Identity, input.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(order.Status, input.Status) {
		return Order{}, fmt.Errorf("sales: cannot move order from %s to %s: %w", order.Status, input.Status, shared.ErrInvalidOperation)
	}

	switch {
	case order.Status == StatusPending && input.Status == StatusConfirmed:
		for _, item := range order.Items {
			if _, err := s.inventory.CommitReservation(ctx, inventory.ReservationInput{
				Identity:    input.Identity,
				ProductID:   item.ProductID,
				WarehouseID: order.WarehouseID,
				Quantity:    item.Quantity,
				Ref:         inventory.RefMeta{Type: inventory.RefSales, ID: order.ID, Notes: fmt.Sprintf("Sales order %s", order.Number)},
			}); err != nil {
				return Order{}, fmt.Errorf("sales: commit product %d: %w", item.ProductID, err)
			}
		}
	case order.Status == StatusPending && input.Status == StatusCancelled:
		for _, item := range order.Items {
			if _, err := s.inventory.Release(ctx, inventory.ReservationInput{
				Identity:    input.Identity,
				ProductID:   item.ProductID,
				WarehouseID: order.WarehouseID,
				Quantity:    item.Quantity,
			}); err != nil {
				return Order{}, fmt.Errorf("sales: release product %d: %w", item.ProductID, err)
			}
		}
	}

	deliveryDate := order.DeliveryDate
	if input.Status == StatusDelivered {
		deliveryDate = input.DeliveryDate
		if deliveryDate.IsZero() {
			deliveryDate = time.Now()
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateOrderStatus(ctx, order.ID, input.Status, deliveryDate)
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = input.Status
	order.DeliveryDate = deliveryDate

	s.recordAudit(ctx, input.Identity, "sales:STATUS", order.ID, map[string]any{"number": order.Number, "status": string(input.Status)})
	return order, nil
}

// AddPayment records a settlement and recomputes the order's balance. The
// amount must not exceed the outstanding balance.
func (s *Service) AddPayment(ctx context.Context, input AddPaymentInput) (Order, error) {
	if input.Amount <= 0 {
		return Order{}, fmt.Errorf("sales: payment amount must be positive: %w", shared.ErrInvalidOperation)
	}
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.CompanyID != input.Identity.CompanyID {
			return fmt.Errorf("sales: order %d: %w", input.OrderID, shared.ErrForbidden)
		}
		if order.Status == StatusCancelled {
			return fmt.Errorf("sales: cannot pay a cancelled order: %w", shared.ErrInvalidOperation)
		}
		if input.Amount > order.BalanceAmount {
			return fmt.Errorf("sales: payment %s exceeds balance %s: %w",
				shared.FormatAmount(input.Amount), shared.FormatAmount(order.BalanceAmount), shared.ErrInvalidOperation)
		}
		if _, err := tx.InsertPayment(ctx, PaymentRecord{
			OrderID:   order.ID,
			Amount:    input.Amount,
			Method:    input.Method,
			Reference: input.Reference,
			Notes:     input.Notes,
			CreatedBy: input.Identity.ActorID,
		}); err != nil {
			return err
		}
		order.PaidAmount += input.Amount
		order.Recompute()
		if err := tx.UpdateOrderTotals(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.Identity, "sales:PAYMENT", updated.ID, map[string]any{"number": updated.Number, "amount": input.Amount, "payment_status": string(updated.PaymentStatus)})
	return updated, nil
}

// Get returns one order with its lines.
func (s *Service) Get(ctx context.Context, id shared.Identity, orderID int64) (Order, error) {
	return s.get(ctx, id, orderID)
}

// List returns orders matching the filter, newest first.
func (s *Service) List(ctx context.Context, id shared.Identity, filter OrderFilter, page shared.Pagination) ([]Order, shared.Pagination, error) {
	orders, total, err := s.repo.ListOrders(ctx, id.CompanyID, filter, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Payments lists the settlement history of one order.
func (s *Service) Payments(ctx context.Context, id shared.Identity, orderID int64) ([]PaymentRecord, error) {
	if _, err := s.get(ctx, id, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, orderID)
}

func (s *Service) get(ctx context.Context, id shared.Identity, orderID int64) (Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.CompanyID != id.CompanyID {
		return Order{}, fmt.Errorf("sales: order %d: %w", orderID, shared.ErrForbidden)
	}
	return order, nil
}

func (s *Service) recordAudit(ctx context.Context, id shared.Identity, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:   id.ActorID,
		CompanyID: id.CompanyID,
		Action:    action,
		Entity:    "sales_order",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
	})
}

func generateOrderNumber() string {
	return fmt.Sprintf("SO-%s-%05d", time.Now().Format("20060102"), rand.IntN(100000))
}
