package procurement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service.
type TxRepository interface {
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error
	UpdateOrderTotals(ctx context.Context, order Order) error
	UpdateItemReceived(ctx context.Context, itemID int64, receivedQuantity float64) error
	SetReceivedDate(ctx context.Context, id int64, receivedDate time.Time) error
	InsertPayment(ctx context.Context, payment PaymentRecord) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, company_id, number, supplier_id, warehouse_id, status, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, payment_status, notes, order_date, expected_date, received_date, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var expected, received *time.Time
	err := row.Scan(&o.ID, &o.CompanyID, &o.Number, &o.SupplierID, &o.WarehouseID, &o.Status,
		&o.Subtotal, &o.TotalDiscount, &o.TotalTax, &o.ShippingCost, &o.TotalAmount,
		&o.PaidAmount, &o.BalanceAmount, &o.PaymentStatus, &o.Notes, &o.OrderDate,
		&expected, &received, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if expected != nil {
		o.ExpectedDate = *expected
	}
	if received != nil {
		o.ReceivedDate = *received
	}
	return o, err
}

// GetOrder returns one order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	order.Items, err = r.listItems(ctx, id)
	return order, err
}

func (r *Repository) listItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, quantity, received_quantity, unit_cost, discount, tax, total FROM purchase_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.ReceivedQuantity, &item.UnitCost, &item.Discount, &item.Tax, &item.Total); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListOrders returns orders matching the filter, newest first, plus the
// unpaginated total.
func (r *Repository) ListOrders(ctx context.Context, companyID int64, filter OrderFilter, page shared.Pagination) ([]Order, int, error) {
	where := ` WHERE company_id=$1`
	args := []any{companyID}
	idx := 2
	if filter.Status != "" {
		where += ` AND status=$` + strconv.Itoa(idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.PaymentStatus != "" {
		where += ` AND payment_status=$` + strconv.Itoa(idx)
		args = append(args, filter.PaymentStatus)
		idx++
	}
	if filter.SupplierID != 0 {
		where += ` AND supplier_id=$` + strconv.Itoa(idx)
		args = append(args, filter.SupplierID)
		idx++
	}
	if filter.WarehouseID != 0 {
		where += ` AND warehouse_id=$` + strconv.Itoa(idx)
		args = append(args, filter.WarehouseID)
		idx++
	}
	if !filter.From.IsZero() {
		where += ` AND order_date >= $` + strconv.Itoa(idx)
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where += ` AND order_date <= $` + strconv.Itoa(idx)
		args = append(args, filter.To)
		idx++
	}
	if filter.Search != "" {
		where += ` AND number ILIKE $` + strconv.Itoa(idx)
		args = append(args, "%"+filter.Search+"%")
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM purchase_orders` + where + ` ORDER BY order_date DESC, id DESC`
	if page.PerPage > 0 {
		query += ` LIMIT $` + strconv.Itoa(idx) + ` OFFSET $` + strconv.Itoa(idx+1)
		args = append(args, page.PerPage, page.Offset())
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

// ListPayments returns the settlement history of one order.
func (r *Repository) ListPayments(ctx context.Context, orderID int64) ([]PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, amount, method, reference, notes, created_by, created_at FROM purchase_order_payments WHERE order_id=$1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []PaymentRecord{}
	for rows.Next() {
		var p PaymentRecord
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Reference, &p.Notes, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepository) InsertOrder(ctx context.Context, order Order) (int64, error) {
	var expected *time.Time
	if !order.ExpectedDate.IsZero() {
		expected = &order.ExpectedDate
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (company_id, number, supplier_id, warehouse_id, status, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, payment_status, notes, order_date, expected_date, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
		RETURNING id`,
		order.CompanyID, order.Number, order.SupplierID, order.WarehouseID, order.Status,
		order.Subtotal, order.TotalDiscount, order.TotalTax, order.ShippingCost, order.TotalAmount,
		order.PaidAmount, order.BalanceAmount, order.PaymentStatus, order.Notes, order.OrderDate, expected, order.CreatedBy,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_items (order_id, product_id, quantity, received_quantity, unit_cost, discount, tax, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.ReceivedQuantity, item.UnitCost, item.Discount, item.Tax, item.Total,
	).Scan(&id)
	return id, err
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func (t *txRepository) UpdateOrderTotals(ctx context.Context, order Order) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders
		SET subtotal=$2, total_discount=$3, total_tax=$4, shipping_cost=$5, total_amount=$6, paid_amount=$7, balance_amount=$8, payment_status=$9, updated_at=NOW()
		WHERE id=$1`,
		order.ID, order.Subtotal, order.TotalDiscount, order.TotalTax, order.ShippingCost,
		order.TotalAmount, order.PaidAmount, order.BalanceAmount, order.PaymentStatus,
	)
	return err
}

func (t *txRepository) UpdateItemReceived(ctx context.Context, itemID int64, receivedQuantity float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET received_quantity=$2 WHERE id=$1`, itemID, receivedQuantity)
	return err
}

func (t *txRepository) SetReceivedDate(ctx context.Context, id int64, receivedDate time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET received_date=$2, updated_at=NOW() WHERE id=$1 AND received_date IS NULL`, id, receivedDate)
	return err
}

func (t *txRepository) InsertPayment(ctx context.Context, payment PaymentRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_payments (order_id, amount, method, reference, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		RETURNING id`,
		payment.OrderID, payment.Amount, payment.Method, payment.Reference, payment.Notes, payment.CreatedBy,
	).Scan(&id)
	return id, err
}
