package billing

import (
	"errors"
	"time"
)

// InvoiceStatus summarises settlement of an invoice. Overdue is derived, not
// stored: an unpaid invoice past its due date reports overdue.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
)

// Invoice bills a customer. When issued from a sales order it snapshots the
// order's lines and totals at issue time; later order edits do not leak in.
type Invoice struct {
	ID            int64         `json:"id"`
	CompanyID     int64         `json:"company_id"`
	Number        string        `json:"number"`
	CustomerID    int64         `json:"customer_id"`
	SalesOrderID  int64         `json:"sales_order_id,omitempty"`
	Items         []InvoiceItem `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	TotalDiscount float64       `json:"total_discount"`
	TotalTax      float64       `json:"total_tax"`
	ShippingCost  float64       `json:"shipping_cost"`
	TotalAmount   float64       `json:"total_amount"`
	PaidAmount    float64       `json:"paid_amount"`
	BalanceAmount float64       `json:"balance_amount"`
	Status        InvoiceStatus `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	IssueDate     time.Time     `json:"issue_date"`
	DueDate       time.Time     `json:"due_date"`
	CreatedBy     int64         `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// InvoiceItem is one billed line.
type InvoiceItem struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"invoice_id"`
	ProductID   int64   `json:"product_id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Discount    float64 `json:"discount"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

// Recompute derives every money field from the lines and refreshes the stored
// status from the balance.
func (inv *Invoice) Recompute() {
	inv.Subtotal, inv.TotalDiscount, inv.TotalTax = 0, 0, 0
	for i := range inv.Items {
		item := &inv.Items[i]
		item.Total = item.Quantity*item.UnitPrice - item.Discount + item.Tax
		inv.Subtotal += item.Quantity * item.UnitPrice
		inv.TotalDiscount += item.Discount
		inv.TotalTax += item.Tax
	}
	inv.TotalAmount = inv.Subtotal - inv.TotalDiscount + inv.TotalTax + inv.ShippingCost
	inv.BalanceAmount = inv.TotalAmount - inv.PaidAmount
	// Balance wins over payments: a fully discounted invoice with a zero
	// total derives paid even when nothing was paid.
	switch {
	case inv.BalanceAmount <= 0:
		inv.Status = InvoicePaid
	case inv.PaidAmount > 0:
		inv.Status = InvoicePartial
	default:
		inv.Status = InvoicePending
	}
}

// EffectiveStatus returns the stored status, upgraded to overdue when a
// balance remains past the due date.
func (inv Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.BalanceAmount > 0 && !inv.DueDate.IsZero() && now.After(inv.DueDate) {
		return InvoiceOverdue
	}
	return inv.Status
}

// PaymentTarget names the document a payment settles.
type PaymentTarget string

const (
	TargetInvoice       PaymentTarget = "invoice"
	TargetPurchaseOrder PaymentTarget = "purchase_order"
)

// Payment is an immutable settlement record. Corrections are made with a new
// counter-entry, never by editing.
type Payment struct {
	ID        int64         `json:"id"`
	CompanyID int64         `json:"company_id"`
	Number    string        `json:"number"`
	Target    PaymentTarget `json:"target"`
	TargetID  int64         `json:"target_id"`
	Amount    float64       `json:"amount"`
	Method    string        `json:"method"`
	Reference string        `json:"reference,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	CreatedBy int64         `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Status     InvoiceStatus
	CustomerID int64
	From       time.Time
	To         time.Time
	Search     string
	Overdue    bool
}

// OrderSummary is the slice of a purchase order billing needs to settle it.
type OrderSummary struct {
	ID            int64
	CompanyID     int64
	Status        string
	TotalAmount   float64
	PaidAmount    float64
	BalanceAmount float64
}

// ErrDuplicateNumber indicates an invoice or payment number collision.
var ErrDuplicateNumber = errors.New("billing: document number already exists")

// ErrEmptyInvoice indicates an invoice with no lines.
var ErrEmptyInvoice = errors.New("billing: invoice requires at least one item")
