package inventory

import (
	"errors"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementAction enumerates supported stock movements.
type MovementAction string

const (
	// ActionIn represents an inbound movement.
	ActionIn MovementAction = "IN"
	// ActionOut represents an outbound movement.
	ActionOut MovementAction = "OUT"
	// ActionAdjustment indicates manual corrections after a physical count.
	ActionAdjustment MovementAction = "ADJUSTMENT"
	// ActionTransfer is the summary record written for warehouse transfers.
	ActionTransfer MovementAction = "TRANSFER"
)

// ReferenceType ties a movement to the business document that caused it.
type ReferenceType string

const (
	RefPurchase   ReferenceType = "purchase"
	RefSales      ReferenceType = "sales"
	RefAdjustment ReferenceType = "adjustment"
	RefTransfer   ReferenceType = "transfer"
	RefReturn     ReferenceType = "return"
	RefOther      ReferenceType = "other"
)

// StockLevel is the per (product, warehouse) ledger entry. Created lazily with
// zero quantities on first touch and never hard-deleted.
type StockLevel struct {
	ID                int64     `json:"id"`
	CompanyID         int64     `json:"company_id"`
	ProductID         int64     `json:"product_id"`
	WarehouseID       int64     `json:"warehouse_id"`
	Quantity          float64   `json:"quantity"`
	ReservedQuantity  float64   `json:"reserved_quantity"`
	AvailableQuantity float64   `json:"available_quantity"`
	AverageCost       float64   `json:"average_cost"`
	LastCost          float64   `json:"last_cost"`
	TotalValue        float64   `json:"total_value"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// refresh recomputes the derived fields. Every mutator must call it before
// the level is persisted.
func (l *StockLevel) refresh() {
	l.AvailableQuantity = l.Quantity - l.ReservedQuantity
	if l.AvailableQuantity < 0 {
		l.AvailableQuantity = 0
	}
	l.TotalValue = l.Quantity * l.AverageCost
}

// Movement is an immutable audit entry for a single quantity-changing event.
// Quantity is signed: positive inbound, negative outbound.
type Movement struct {
	ID               int64          `json:"id"`
	CompanyID        int64          `json:"company_id"`
	ProductID        int64          `json:"product_id"`
	WarehouseID      int64          `json:"warehouse_id"`
	ToWarehouseID    int64          `json:"to_warehouse_id,omitempty"`
	Action           MovementAction `json:"action"`
	Quantity         float64        `json:"quantity"`
	PreviousQuantity float64        `json:"previous_quantity"`
	NewQuantity      float64        `json:"new_quantity"`
	Cost             float64        `json:"cost"`
	ReferenceType    ReferenceType  `json:"reference_type"`
	ReferenceID      int64          `json:"reference_id,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	CreatedBy        int64          `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
}

// RefMeta carries the causing document reference for engine operations.
type RefMeta struct {
	Type  ReferenceType
	ID    int64
	Notes string
}

// AddStockInput describes an inbound posting.
type AddStockInput struct {
	Identity    shared.Identity
	ProductID   int64
	WarehouseID int64
	Quantity    float64
	UnitCost    float64
	Ref         RefMeta
}

// RemoveStockInput describes an outbound posting.
type RemoveStockInput struct {
	Identity    shared.Identity
	ProductID   int64
	WarehouseID int64
	Quantity    float64
	Ref         RefMeta
}

// AdjustStockInput sets the on-hand quantity to an absolute value.
type AdjustStockInput struct {
	Identity    shared.Identity
	ProductID   int64
	WarehouseID int64
	NewQuantity float64
	Notes       string
}

// TransferStockInput moves stock between warehouses at the source average cost.
type TransferStockInput struct {
	Identity        shared.Identity
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        float64
	Notes           string
}

// ReservationInput reserves or releases a soft hold on stock.
type ReservationInput struct {
	Identity    shared.Identity
	ProductID   int64
	WarehouseID int64
	Quantity    float64
	Ref         RefMeta
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	CompanyID     int64
	ProductID     int64
	WarehouseID   int64
	Action        MovementAction
	ReferenceType ReferenceType
	ReferenceID   int64
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// LowStockItem joins a ledger entry with the product reorder metadata.
type LowStockItem struct {
	StockLevel
	ProductSKU  string  `json:"product_sku"`
	ProductName string  `json:"product_name"`
	Threshold   float64 `json:"threshold"`
}

// ValuationRow summarises stock value per warehouse.
type ValuationRow struct {
	WarehouseID   int64   `json:"warehouse_id"`
	WarehouseCode string  `json:"warehouse_code"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalValue    float64 `json:"total_value"`
}

// ErrInsufficientStock triggered when a movement or hold exceeds available quantity.
var ErrInsufficientStock = errors.New("inventory: insufficient available stock")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
