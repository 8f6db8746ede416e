package billing

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists invoices and payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoiceSettlement(ctx context.Context, inv Invoice) error
	GetPurchaseOrderForUpdate(ctx context.Context, id int64) (OrderSummary, error)
	UpdatePurchaseOrderSettlement(ctx context.Context, order OrderSummary) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const invoiceColumns = `id, company_id, number, customer_id, sales_order_id, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, status, notes, issue_date, due_date, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var salesOrderID *int64
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Number, &inv.CustomerID, &salesOrderID,
		&inv.Subtotal, &inv.TotalDiscount, &inv.TotalTax, &inv.ShippingCost, &inv.TotalAmount,
		&inv.PaidAmount, &inv.BalanceAmount, &inv.Status, &inv.Notes, &inv.IssueDate, &inv.DueDate,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if salesOrderID != nil {
		inv.SalesOrderID = *salesOrderID
	}
	return inv, err
}

// GetInvoice returns one invoice with its items.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	inv.Items, err = r.listItems(ctx, id)
	return inv, err
}

func (r *Repository) listItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, product_id, description, quantity, unit_price, discount, tax, total FROM invoice_items WHERE invoice_id=$1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []InvoiceItem{}
	for rows.Next() {
		var item InvoiceItem
		var productID *int64
		if err := rows.Scan(&item.ID, &item.InvoiceID, &productID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Discount, &item.Tax, &item.Total); err != nil {
			return nil, err
		}
		if productID != nil {
			item.ProductID = *productID
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListInvoices returns invoices matching the filter, newest first, plus the
// unpaginated total.
func (r *Repository) ListInvoices(ctx context.Context, companyID int64, filter InvoiceFilter, page shared.Pagination) ([]Invoice, int, error) {
	where := ` WHERE company_id=$1`
	args := []any{companyID}
	idx := 2
	if filter.Status != "" && filter.Status != InvoiceOverdue {
		where += ` AND status=$` + strconv.Itoa(idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Status == InvoiceOverdue || filter.Overdue {
		where += ` AND balance_amount > 0 AND due_date < NOW()`
	}
	if filter.CustomerID != 0 {
		where += ` AND customer_id=$` + strconv.Itoa(idx)
		args = append(args, filter.CustomerID)
		idx++
	}
	if !filter.From.IsZero() {
		where += ` AND issue_date >= $` + strconv.Itoa(idx)
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where += ` AND issue_date <= $` + strconv.Itoa(idx)
		args = append(args, filter.To)
		idx++
	}
	if filter.Search != "" {
		where += ` AND number ILIKE $` + strconv.Itoa(idx)
		args = append(args, "%"+filter.Search+"%")
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where + ` ORDER BY issue_date DESC, id DESC`
	if page.PerPage > 0 {
		query += ` LIMIT $` + strconv.Itoa(idx) + ` OFFSET $` + strconv.Itoa(idx+1)
		args = append(args, page.PerPage, page.Offset())
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	invoices := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// ListPayments returns settlements against one document, oldest first.
func (r *Repository) ListPayments(ctx context.Context, companyID int64, target PaymentTarget, targetID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, number, target, target_id, amount, method, reference, notes, created_by, created_at FROM payments WHERE company_id=$1 AND target=$2 AND target_id=$3 ORDER BY created_at ASC`, companyID, target, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Number, &p.Target, &p.TargetID, &p.Amount, &p.Method, &p.Reference, &p.Notes, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var salesOrderID *int64
	if inv.SalesOrderID != 0 {
		salesOrderID = &inv.SalesOrderID
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (company_id, number, customer_id, sales_order_id, subtotal, total_discount, total_tax, shipping_cost, total_amount, paid_amount, balance_amount, status, notes, issue_date, due_date, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
		RETURNING id`,
		inv.CompanyID, inv.Number, inv.CustomerID, salesOrderID,
		inv.Subtotal, inv.TotalDiscount, inv.TotalTax, inv.ShippingCost, inv.TotalAmount,
		inv.PaidAmount, inv.BalanceAmount, inv.Status, inv.Notes, inv.IssueDate, inv.DueDate, inv.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	return id, nil
}

func (t *txRepository) InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error) {
	var productID *int64
	if item.ProductID != 0 {
		productID = &item.ProductID
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_items (invoice_id, product_id, description, quantity, unit_price, discount, tax, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		item.InvoiceID, productID, item.Description, item.Quantity, item.UnitPrice, item.Discount, item.Tax, item.Total,
	).Scan(&id)
	return id, err
}

func (t *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (t *txRepository) UpdateInvoiceSettlement(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, balance_amount=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		inv.ID, inv.PaidAmount, inv.BalanceAmount, inv.Status)
	return err
}

func (t *txRepository) GetPurchaseOrderForUpdate(ctx context.Context, id int64) (OrderSummary, error) {
	var order OrderSummary
	err := t.tx.QueryRow(ctx, `SELECT id, company_id, status, total_amount, paid_amount, balance_amount FROM purchase_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&order.ID, &order.CompanyID, &order.Status, &order.TotalAmount, &order.PaidAmount, &order.BalanceAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderSummary{}, shared.ErrNotFound
		}
		return OrderSummary{}, err
	}
	return order, nil
}

func (t *txRepository) UpdatePurchaseOrderSettlement(ctx context.Context, order OrderSummary) error {
	status := "pending"
	switch {
	case order.BalanceAmount <= 0:
		status = "paid"
	case order.PaidAmount > 0:
		status = "partial"
	}
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET paid_amount=$2, balance_amount=$3, payment_status=$4, updated_at=NOW() WHERE id=$1`,
		order.ID, order.PaidAmount, order.BalanceAmount, status)
	return err
}

func (t *txRepository) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (company_id, number, target, target_id, amount, method, reference, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		RETURNING id`,
		payment.CompanyID, payment.Number, payment.Target, payment.TargetID, payment.Amount,
		payment.Method, payment.Reference, payment.Notes, payment.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	return id, nil
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateNumber
	}
	return err
}
