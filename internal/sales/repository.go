package sales

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

// Repository persists sales orders in PostgreSQL.
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
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, deliveryDate time.Time) error
	UpdateOrderTotals(ctx context.Context, order Order) error
	InsertPayment(ctx context.Context, payment PaymentRecord) (int64, error)
	DeleteOrder(ctx context.Context, id int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, company_id, number, customer_id, warehouse_id, status, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, payment_status, notes, order_date, delivery_date, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var deliveryDate *time.Time
	err := row.Scan(&o.ID, &o.CompanyID, &o.Number, &o.CustomerID, &o.WarehouseID, &o.Status,
		&o.Subtotal, &o.TotalDiscount, &o.TotalTax, &o.ShippingCost, &o.TotalAmount,
		&o.PaidAmount, &o.BalanceAmount, &o.PaymentStatus, &o.Notes, &o.OrderDate,
		&deliveryDate, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if deliveryDate != nil {
		o.DeliveryDate = *deliveryDate
	}
	return o, err
}

// GetOrder returns one order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1`, id))
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
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, discount, tax, total FROM sales_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Discount, &item.Tax, &item.Total); err != nil {
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
	if filter.CustomerID != 0 {
		where += ` AND customer_id=$` + strconv.Itoa(idx)
		args = append(args, filter.CustomerID)
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM sales_orders` + where + ` ORDER BY order_date DESC, id DESC`
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
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, amount, method, reference, notes, created_by, created_at FROM sales_order_payments WHERE order_id=$1 ORDER BY created_at ASC`, orderID)
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
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_orders (company_id, number, customer_id, warehouse_id, status, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, payment_status, notes, order_date, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
		RETURNING id`,
		order.CompanyID, order.Number, order.CustomerID, order.WarehouseID, order.Status,
		order.Subtotal, order.TotalDiscount, order.TotalTax, order.ShippingCost, order.TotalAmount,
		order.PaidAmount, order.BalanceAmount, order.PaymentStatus, order.Notes, order.OrderDate, order.CreatedBy,
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
		INSERT INTO sales_order_items (order_id, product_id, quantity, unit_price, discount, tax, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Discount, item.Tax, item.Total,
	).Scan(&id)
	return id, err
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, deliveryDate time.Time) error {
	var delivery *time.Time
	if !deliveryDate.IsZero() {
		delivery = &deliveryDate
	}
	_, err := t.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, delivery_date=COALESCE($3, delivery_date), updated_at=NOW() WHERE id=$1`, id, status, delivery)
	return err
}

func (t *txRepository) UpdateOrderTotals(ctx context.Context, order Order) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_orders
		SET subtotal=$2, total_discount=$3, total_tax=$4, shipping_cost=$5, total_amount=$6, paid_amount=$7, balance_amount=$8, payment_status=$9, updated_at=NOW()
		WHERE id=$1`,
		order.ID, order.Subtotal, order.TotalDiscount, order.TotalTax, order.ShippingCost,
		order.TotalAmount, order.PaidAmount, order.BalanceAmount, order.PaymentStatus,
	)
	return err
}

func (t *txRepository) InsertPayment(ctx context.Context, payment PaymentRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_order_payments (order_id, amount, method, reference, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		RETURNING id`,
		payment.OrderID, payment.Amount, payment.Method, payment.Reference, payment.Notes, payment.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepository) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM sales_order_items WHERE order_id=$1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM sales_orders WHERE id=$1`, id)
	return err
}
