package procurement

import (
	"errors"
	"time"
)

// OrderStatus enumerates the purchase order lifecycle.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusReturned   OrderStatus = "returned"
)

// transitions maps each status to the states reachable from it. Returned is
// only reachable after delivery; cancelled and returned are terminal.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusShipped, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusReturned},
	StatusCancelled:  {},
	StatusReturned:   {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus summarises how much of the order has been settled.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Order is a purchase order header with its lines.
type Order struct {
	ID            int64         `json:"id"`
	CompanyID     int64         `json:"company_id"`
	Number        string        `json:"number"`
	SupplierID    int64         `json:"supplier_id"`
	WarehouseID   int64         `json:"warehouse_id"`
	Status        OrderStatus   `json:"status"`
	Items         []OrderItem   `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	TotalDiscount float64       `json:"total_discount"`
	TotalTax      float64       `json:"total_tax"`
	ShippingCost  float64       `json:"shipping_cost"`
	TotalAmount   float64       `json:"total_amount"`
	PaidAmount    float64       `json:"paid_amount"`
	BalanceAmount float64       `json:"balance_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Notes         string        `json:"notes,omitempty"`
	OrderDate     time.Time     `json:"order_date"`
	ExpectedDate  time.Time     `json:"expected_date,omitempty"`
	ReceivedDate  time.Time     `json:"received_date,omitempty"`
	CreatedBy     int64         `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OrderItem is one line of a purchase order. ReceivedQuantity accumulates
// across partial receipts and never exceeds Quantity.
type OrderItem struct {
	ID               int64   `json:"id"`
	OrderID          int64   `json:"order_id"`
	ProductID        int64   `json:"product_id"`
	Quantity         float64 `json:"quantity"`
	ReceivedQuantity float64 `json:"received_quantity"`
	UnitCost         float64 `json:"unit_cost"`
	Discount         float64 `json:"discount"`
	Tax              float64 `json:"tax"`
	Total            float64 `json:"total"`
}

// Recompute derives every money field from the lines.
func (o *Order) Recompute() {
	o.Subtotal, o.TotalDiscount, o.TotalTax = 0, 0, 0
	for i := range o.Items {
		item := &o.Items[i]
		item.Total = item.Quantity*item.UnitCost - item.Discount + item.Tax
		o.Subtotal += item.Quantity * item.UnitCost
		o.TotalDiscount += item.Discount
		o.TotalTax += item.Tax
	}
	o.TotalAmount = o.Subtotal - o.TotalDiscount + o.TotalTax + o.ShippingCost
	o.BalanceAmount = o.TotalAmount - o.PaidAmount
	switch {
	case o.BalanceAmount <= 0:
		o.PaymentStatus = PaymentPaid
	case o.PaidAmount > 0:
		o.PaymentStatus = PaymentPartial
	default:
		o.PaymentStatus = PaymentPending
	}
}

// IsFullyReceived reports whether every line has arrived in full.
func (o Order) IsFullyReceived() bool {
	for _, item := range o.Items {
		if item.ReceivedQuantity < item.Quantity {
			return false
		}
	}
	return len(o.Items) > 0
}

// PaymentRecord is an immutable settlement entry against a purchase order.
type PaymentRecord struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Reference string    `json:"reference,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	SupplierID    int64
	WarehouseID   int64
	From          time.Time
	To            time.Time
	Search        string
}

// ErrDuplicateNumber indicates an order number collision on insert.
var ErrDuplicateNumber = errors.New("procurement: order number already exists")

// ErrEmptyOrder indicates an order with no lines.
var ErrEmptyOrder = errors.New("procurement: order requires at least one item")

// ErrOverReceive indicates a receipt line exceeding the outstanding quantity.
var ErrOverReceive = errors.New("procurement: received quantity exceeds ordered quantity")
