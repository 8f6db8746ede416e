package procurement

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

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
	Supplier(ctx context.Context, id, companyID int64) (masterdata.Supplier, error)
	Warehouse(ctx context.Context, id, companyID int64) (masterdata.Warehouse, error)
	Product(ctx context.Context, id, companyID int64) (masterdata.Product, error)
}

// InventoryPort exposes the stock engine operations goods receipts drive.
// RemoveStock reverses postings when a receipt fails partway through.
type InventoryPort interface {
	AddStock(ctx context.Context, input inventory.AddStockInput) (inventory.StockLevel, error)
	RemoveStock(ctx context.Context, input inventory.RemoveStockInput) (inventory.StockLevel, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	master      MasterDataPort
	inventory   InventoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs procurement service. audit and idem may be nil.
func NewService(repo RepositoryPort, master MasterDataPort, inv InventoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, master: master, inventory: inv, audit: audit, idempotency: idem}
}

// CreateOrderInput describes a new purchase order.
type CreateOrderInput struct {
	Identity     shared.Identity
	SupplierID   int64
	WarehouseID  int64
	ShippingCost float64
	Notes        string
	OrderDate    time.Time
	ExpectedDate time.Time
	Items        []OrderItemInput
}

// OrderItemInput is one requested line.
type OrderItemInput struct {
	ProductID int64
	Quantity  float64
	UnitCost  float64
	Discount  float64
	Tax       float64
}

// ReceiveGoodsInput records a (possibly partial) delivery against an order.
type ReceiveGoodsInput struct {
	Identity       shared.Identity
	OrderID        int64
	IdempotencyKey string
	Lines          []ReceiptLine
}

// ReceiptLine is one received line, keyed by the order item.
type ReceiptLine struct {
	ItemID   int64
	Quantity float64
}

// UpdateStatusInput moves an order through its lifecycle.
type UpdateStatusInput struct {
	Identity shared.Identity
	OrderID  int64
	Status   OrderStatus
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

// Create validates the order against master data and persists it with every
// line's received quantity at zero.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (Order, error) {
	if len(input.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	if _, err := s.master.Supplier(ctx, input.SupplierID, input.Identity.CompanyID); err != nil {
		return Order{}, err
	}
	if _, err := s.master.Warehouse(ctx, input.WarehouseID, input.Identity.CompanyID); err != nil {
		return Order{}, err
	}

	order := Order{
		CompanyID:    input.Identity.CompanyID,
		SupplierID:   input.SupplierID,
		WarehouseID:  input.WarehouseID,
		Status:       StatusPending,
		ShippingCost: input.ShippingCost,
		Notes:        input.Notes,
		OrderDate:    input.OrderDate,
		ExpectedDate: input.ExpectedDate,
		CreatedBy:    input.Identity.ActorID,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}
	for _, line := range input.Items {
		if line.ProductID == 0 || line.Quantity <= 0 {
			return Order{}, fmt.Errorf("procurement: item requires product and positive quantity: %w", shared.ErrInvalidOperation)
		}
		if line.UnitCost < 0 || line.Discount < 0 || line.Tax < 0 {
			return Order{}, fmt.Errorf("procurement: item amounts must not be negative: %w", shared.ErrInvalidOperation)
		}
		product, err := s.master.Product(ctx, line.ProductID, input.Identity.CompanyID)
		if err != nil {
			return Order{}, err
		}
		cost := line.UnitCost
		if cost == 0 {
			cost = product.CostPrice
		}
		order.Items = append(order.Items, OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  cost,
			Discount:  line.Discount,
			Tax:       line.Tax,
		})
	}
	order.Recompute()

	if err := s.persistNew(ctx, &order); err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, input.Identity, "procurement:CREATE", order.ID, map[string]any{"number": order.Number, "total": order.TotalAmount})
	return order, nil
}

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
	return fmt.Errorf("procurement: could not allocate a unique order number: %w", shared.ErrInternal)
}

// ReceiveGoods posts a delivery: received quantities accumulate per line and
// stock lands in the order's warehouse at the ordered unit cost. A retried
// receipt carrying the same idempotency key is rejected before any stock
// posts. Receiving the full outstanding quantity moves a pending order to
// confirmed and stamps the first received date.
//
// Stock posts line by line before the order document is touched; if a later
// line or the document transaction fails, the already-posted lines are
// reversed so the ledger never records an arrival no receipt explains. When a
// reversal itself fails the idempotency key is kept, so a retry cannot post
// the same lines twice.
func (s *Service) ReceiveGoods(ctx context.Context, input ReceiveGoodsInput) (Order, error) {
	if len(input.Lines) == 0 {
		return Order{}, fmt.Errorf("procurement: receipt requires at least one line: %w", shared.ErrInvalidOperation)
	}
	order, err := s.get(ctx, input.Identity, input.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == StatusCancelled || order.Status == StatusReturned {
		return Order{}, fmt.Errorf("procurement: cannot receive against a %s order: %w", order.Status, shared.ErrInvalidOperation)
	}

	items := make(map[int64]*OrderItem, len(order.Items))
	for i := range order.Items {
		items[order.Items[i].ID] = &order.Items[i]
	}
	for _, line := range input.Lines {
		item, ok := items[line.ItemID]
		if !ok {
			return Order{}, fmt.Errorf("procurement: order has no item %d: %w", line.ItemID, shared.ErrNotFound)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("procurement: receipt quantity must be positive: %w", shared.ErrInvalidOperation)
		}
		if item.ReceivedQuantity+line.Quantity > item.Quantity {
			return Order{}, fmt.Errorf("%w: item %d ordered %s, already received %s",
				ErrOverReceive, item.ID, shared.FormatQty(item.Quantity), shared.FormatQty(item.ReceivedQuantity))
		}
	}

	key := input.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	key = fmt.Sprintf("PO-RECEIPT:%d:%s", order.ID, key)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receipt"); err != nil {
			return Order{}, err
		}
		inserted = true
	}

	posted := make([]postedLine, 0, len(input.Lines))
	fail := func(err error) (Order, error) {
		reversed := s.reversePostings(ctx, input.Identity, order, posted)
		if inserted && reversed {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Order{}, err
	}

	for _, line := range input.Lines {
		item := items[line.ItemID]
		refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d:%d", order.ID, item.ID)))
		_, err := s.inventory.AddStock(ctx, inventory.AddStockInput{
			Identity:    input.Identity,
			ProductID:   item.ProductID,
			WarehouseID: order.WarehouseID,
			Quantity:    line.Quantity,
			UnitCost:    item.UnitCost,
			Ref: inventory.RefMeta{
				Type:  inventory.RefPurchase,
				ID:    order.ID,
				Notes: fmt.Sprintf("Purchase order %s receipt %s", order.Number, refID),
			},
		})
		if err != nil {
			return fail(err)
		}
		posted = append(posted, postedLine{productID: item.ProductID, quantity: line.Quantity})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range input.Lines {
			item := items[line.ItemID]
			item.ReceivedQuantity += line.Quantity
			if err := tx.UpdateItemReceived(ctx, item.ID, item.ReceivedQuantity); err != nil {
				return err
			}
		}
		if order.ReceivedDate.IsZero() {
			order.ReceivedDate = time.Now()
			if err := tx.SetReceivedDate(ctx, order.ID, order.ReceivedDate); err != nil {
				return err
			}
		}
		if order.Status == StatusPending && order.IsFullyReceived() {
			if err := tx.UpdateOrderStatus(ctx, order.ID, StatusConfirmed); err != nil {
				return err
			}
			order.Status = StatusConfirmed
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	s.recordAudit(ctx, input.Identity, "procurement:RECEIVE", order.ID, map[string]any{"number": order.Number, "lines": len(input.Lines)})
	return order, nil
}

// UpdateStatus applies one lifecycle transition.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Order, error) {
	order, err := s.get(ctx, input.Identity, input.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(order.Status, input.Status) {
		return Order{}, fmt.Errorf("procurement: cannot move order from %s to %s: %w", order.Status, input.Status, shared.ErrInvalidOperation)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateOrderStatus(ctx, order.ID, input.Status)
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = input.Status
	s.recordAudit(ctx, input.Identity, "procurement:STATUS", order.ID, map[string]any{"number": order.Number, "status": string(input.Status)})
	return order, nil
}

// AddPayment records a settlement and recomputes the order's balance.
func (s *Service) AddPayment(ctx context.Context, input AddPaymentInput) (Order, error) {
	if input.Amount <= 0 {
		return Order{}, fmt.Errorf("procurement: payment amount must be positive: %w", shared.ErrInvalidOperation)
	}
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.CompanyID != input.Identity.CompanyID {
			return fmt.Errorf("procurement: order %d: %w", input.OrderID, shared.ErrForbidden)
		}
		if order.Status == StatusCancelled {
			return fmt.Errorf("procurement: cannot pay a cancelled order: %w", shared.ErrInvalidOperation)
		}
		if input.Amount > order.BalanceAmount {
			return fmt.Errorf("procurement: payment %s exceeds balance %s: %w",
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
	s.recordAudit(ctx, input.Identity, "procurement:PAYMENT", updated.ID, map[string]any{"number": updated.Number, "amount": input.Amount, "payment_status": string(updated.PaymentStatus)})
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

// postedLine tracks one stock posting made on behalf of a receipt so it can
// be reversed if the receipt fails after it.
type postedLine struct {
	productID int64
	quantity  float64
}

// reversePostings removes the stock a failed receipt already landed, pairing
// every orphaned IN with a return-tagged OUT. Returns false when any reversal
// failed and the ledger still carries part of the receipt.
func (s *Service) reversePostings(ctx context.Context, id shared.Identity, order Order, posted []postedLine) bool {
	reversed := true
	for _, p := range posted {
		_, err := s.inventory.RemoveStock(ctx, inventory.RemoveStockInput{
			Identity:    id,
			ProductID:   p.productID,
			WarehouseID: order.WarehouseID,
			Quantity:    p.quantity,
			Ref: inventory.RefMeta{
				Type:  inventory.RefReturn,
				ID:    order.ID,
				Notes: fmt.Sprintf("Purchase order %s receipt reversal", order.Number),
			},
		})
		if err != nil {
			reversed = false
		}
	}
	return reversed
}

func (s *Service) get(ctx context.Context, id shared.Identity, orderID int64) (Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.CompanyID != id.CompanyID {
		return Order{}, fmt.Errorf("procurement: order %d: %w", orderID, shared.ErrForbidden)
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
		Entity:    "purchase_order",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
	})
}

func generateOrderNumber() string {
	return fmt.Sprintf("PO-%s-%05d", time.Now().Format("20060102"), rand.IntN(100000))
}
