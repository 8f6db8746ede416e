package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, companyID int64, filter InvoiceFilter, page shared.Pagination) ([]Invoice, int, error)
	ListPayments(ctx context.Context, companyID int64, target PaymentTarget, targetID int64) ([]Payment, error)
}

// SalesPort exposes the sales order lookup invoices snapshot from.
type SalesPort interface {
	Get(ctx context.Context, id shared.Identity, orderID int64) (sales.Order, error)
}

// MasterDataPort exposes the customer lookup standalone invoices validate
// against.
type MasterDataPort interface {
	Customer(ctx context.Context, id, companyID int64) (masterdata.Customer, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns invoices and payment records.
type Service struct {
	repo   RepositoryPort
	sales  SalesPort
	master MasterDataPort
	audit  AuditPort
}

// NewService constructs billing service. audit may be nil.
func NewService(repo RepositoryPort, salesPort SalesPort, master MasterDataPort, audit AuditPort) *Service {
	return &Service{repo: repo, sales: salesPort, master: master, audit: audit}
}

// CreateInvoiceInput describes a new invoice. When SalesOrderID is set the
// lines and totals come from the order and Items must be empty.
type CreateInvoiceInput struct {
	Identity     shared.Identity
	SalesOrderID int64
	CustomerID   int64
	ShippingCost float64
	Notes        string
	IssueDate    time.Time
	DueDate      time.Time
	Items        []InvoiceItemInput
}

// InvoiceItemInput is one standalone billed line.
type InvoiceItemInput struct {
	ProductID   int64
	Description string
	Quantity    float64
	UnitPrice   float64
	Discount    float64
	Tax         float64
}

// PaymentInput records a settlement.
type PaymentInput struct {
	Identity  shared.Identity
	TargetID  int64
	Amount    float64
	Method    string
	Reference string
	Notes     string
}

const (
	numberAttempts = 10
	defaultTerms   = 30 * 24 * time.Hour
)

// CreateInvoice issues an invoice, either snapshotting a sales order or from
// standalone lines. The due date defaults to thirty days after issue.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	inv := Invoice{
		CompanyID:    input.Identity.CompanyID,
		ShippingCost: input.ShippingCost,
		Notes:        input.Notes,
		IssueDate:    input.IssueDate,
		DueDate:      input.DueDate,
		CreatedBy:    input.Identity.ActorID,
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = time.Now()
	}
	if inv.DueDate.IsZero() {
		inv.DueDate = inv.IssueDate.Add(defaultTerms)
	}

	if input.SalesOrderID != 0 {
		if len(input.Items) > 0 {
			return Invoice{}, fmt.Errorf("billing: an order invoice cannot carry extra items: %w", shared.ErrInvalidOperation)
		}
		order, err := s.sales.Get(ctx, input.Identity, input.SalesOrderID)
		if err != nil {
			return Invoice{}, err
		}
		if order.Status == sales.StatusCancelled {
			return Invoice{}, fmt.Errorf("billing: cannot invoice a cancelled order: %w", shared.ErrInvalidOperation)
		}
		inv.SalesOrderID = order.ID
		inv.CustomerID = order.CustomerID
		inv.ShippingCost = order.ShippingCost
		for _, item := range order.Items {
			inv.Items = append(inv.Items, InvoiceItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Discount:  item.Discount,
				Tax:       item.Tax,
			})
		}
	} else {
		if len(input.Items) == 0 {
			return Invoice{}, ErrEmptyInvoice
		}
		if _, err := s.master.Customer(ctx, input.CustomerID, input.Identity.CompanyID); err != nil {
			return Invoice{}, err
		}
		inv.CustomerID = input.CustomerID
		for _, item := range input.Items {
			if item.Quantity <= 0 || item.UnitPrice < 0 || item.Discount < 0 || item.Tax < 0 {
				return Invoice{}, fmt.Errorf("billing: invalid invoice line: %w", shared.ErrInvalidOperation)
			}
			inv.Items = append(inv.Items, InvoiceItem{
				ProductID:   item.ProductID,
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Discount:    item.Discount,
				Tax:         item.Tax,
			})
		}
	}
	inv.Recompute()

	for attempt := 0; attempt < numberAttempts; attempt++ {
		inv.Number = generateNumber("INV")
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertInvoice(ctx, inv)
			if err != nil {
				return err
			}
			inv.ID = id
			for i := range inv.Items {
				inv.Items[i].InvoiceID = id
				itemID, err := tx.InsertInvoiceItem(ctx, inv.Items[i])
				if err != nil {
					return err
				}
				inv.Items[i].ID = itemID
			}
			return nil
		})
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return Invoice{}, err
		}
		s.recordAudit(ctx, input.Identity, "billing:INVOICE", inv.ID, map[string]any{"number": inv.Number, "total": inv.TotalAmount})
		return inv, nil
	}
	return Invoice{}, fmt.Errorf("billing: could not allocate a unique invoice number: %w", shared.ErrInternal)
}

// CreateForInvoice records a payment against an invoice and increments its
// paid amount in the same transaction.
func (s *Service) CreateForInvoice(ctx context.Context, input PaymentInput) (Payment, error) {
	if input.Amount <= 0 {
		return Payment{}, fmt.Errorf("billing: payment amount must be positive: %w", shared.ErrInvalidOperation)
	}
	var payment Payment
	err := s.withPaymentNumber(ctx, &payment, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.TargetID)
		if err != nil {
			return err
		}
		if inv.CompanyID != input.Identity.CompanyID {
			return fmt.Errorf("billing: invoice %d: %w", input.TargetID, shared.ErrForbidden)
		}
		if input.Amount > inv.BalanceAmount {
			return fmt.Errorf("billing: payment %s exceeds balance %s: %w",
				shared.FormatAmount(input.Amount), shared.FormatAmount(inv.BalanceAmount), shared.ErrInvalidOperation)
		}
		payment.CompanyID = input.Identity.CompanyID
		payment.Target = TargetInvoice
		payment.TargetID = inv.ID
		payment.Amount = input.Amount
		payment.Method = input.Method
		payment.Reference = input.Reference
		payment.Notes = input.Notes
		payment.CreatedBy = input.Identity.ActorID
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		inv.PaidAmount += input.Amount
		inv.Recompute()
		return tx.UpdateInvoiceSettlement(ctx, inv)
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, input.Identity, "billing:PAYMENT", payment.ID, map[string]any{"number": payment.Number, "target": string(TargetInvoice), "amount": input.Amount})
	return payment, nil
}

// CreateForPurchaseOrder records a supplier payment and increments the
// purchase order's paid amount in the same transaction.
func (s *Service) CreateForPurchaseOrder(ctx context.Context, input PaymentInput) (Payment, error) {
	if input.Amount <= 0 {
		return Payment{}, fmt.Errorf("billing: payment amount must be positive: %w", shared.ErrInvalidOperation)
	}
	var payment Payment
	err := s.withPaymentNumber(ctx, &payment, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetPurchaseOrderForUpdate(ctx, input.TargetID)
		if err != nil {
			return err
		}
		if order.CompanyID != input.Identity.CompanyID {
			return fmt.Errorf("billing: purchase order %d: %w", input.TargetID, shared.ErrForbidden)
		}
		if order.Status == "cancelled" {
			return fmt.Errorf("billing: cannot pay a cancelled order: %w", shared.ErrInvalidOperation)
		}
		if input.Amount > order.BalanceAmount {
			return fmt.Errorf("billing: payment %s exceeds balance %s: %w",
				shared.FormatAmount(input.Amount), shared.FormatAmount(order.BalanceAmount), shared.ErrInvalidOperation)
		}
		payment.CompanyID = input.Identity.CompanyID
		payment.Target = TargetPurchaseOrder
		payment.TargetID = order.ID
		payment.Amount = input.Amount
		payment.Method = input.Method
		payment.Reference = input.Reference
		payment.Notes = input.Notes
		payment.CreatedBy = input.Identity.ActorID
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		order.PaidAmount += input.Amount
		order.BalanceAmount = order.TotalAmount - order.PaidAmount
		return tx.UpdatePurchaseOrderSettlement(ctx, order)
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, input.Identity, "billing:PAYMENT", payment.ID, map[string]any{"number": payment.Number, "target": string(TargetPurchaseOrder), "amount": input.Amount})
	return payment, nil
}

// withPaymentNumber runs the callback with fresh PAY numbers until one sticks.
func (s *Service) withPaymentNumber(ctx context.Context, payment *Payment, fn func(context.Context, TxRepository) error) error {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		payment.Number = generateNumber("PAY")
		err := s.repo.WithTx(ctx, fn)
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		return err
	}
	return fmt.Errorf("billing: could not allocate a unique payment number: %w", shared.ErrInternal)
}

// GetInvoice returns one invoice with its lines. The returned status reflects
// overdue derivation.
func (s *Service) GetInvoice(ctx context.Context, id shared.Identity, invoiceID int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.CompanyID != id.CompanyID {
		return Invoice{}, fmt.Errorf("billing: invoice %d: %w", invoiceID, shared.ErrForbidden)
	}
	inv.Status = inv.EffectiveStatus(time.Now())
	return inv, nil
}

// ListInvoices returns invoices matching the filter, newest first.
func (s *Service) ListInvoices(ctx context.Context, id shared.Identity, filter InvoiceFilter, page shared.Pagination) ([]Invoice, shared.Pagination, error) {
	invoices, total, err := s.repo.ListInvoices(ctx, id.CompanyID, filter, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := time.Now()
	for i := range invoices {
		invoices[i].Status = invoices[i].EffectiveStatus(now)
	}
	return invoices, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Payments lists settlements against one document.
func (s *Service) Payments(ctx context.Context, id shared.Identity, target PaymentTarget, targetID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, id.CompanyID, target, targetID)
}

func (s *Service) recordAudit(ctx context.Context, id shared.Identity, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:   id.ActorID,
		CompanyID: id.CompanyID,
		Action:    action,
		Entity:    "billing",
		EntityID:  fmt.Sprintf("%d", entityID),
		Meta:      meta,
	})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, time.Now().Format("20060102"), rand.IntN(100000))
}
