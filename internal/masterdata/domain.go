// Package masterdata holds the reference entities the order and inventory
// modules validate against: products, warehouses, customers and suppliers.
package masterdata

import "time"

// Product is the catalog entry inventory tracks stock for.
type Product struct {
	ID           int64     `json:"id"`
	CompanyID    int64     `json:"company_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	CostPrice    float64   `json:"cost_price"`
	SellingPrice float64   `json:"selling_price"`
	ReorderLevel float64   `json:"reorder_level"`
	MinStock     float64   `json:"min_stock"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReorderThreshold returns the quantity at or below which the product is low on stock.
func (p Product) ReorderThreshold() float64 {
	if p.ReorderLevel > p.MinStock {
		return p.ReorderLevel
	}
	return p.MinStock
}

// Warehouse is a stock-keeping location.
type Warehouse struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the counterparty of a sales order.
type Customer struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Supplier is the counterparty of a purchase order.
type Supplier struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}
