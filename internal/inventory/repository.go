package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists stock levels and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the engine.
type TxRepository interface {
	GetLevelForUpdate(ctx context.Context, productID, warehouseID int64) (StockLevel, error)
	UpsertLevel(ctx context.Context, level StockLevel) (StockLevel, error)
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrLevelNotFound indicates a missing stock level row.
var ErrLevelNotFound = errors.New("inventory: stock level not found")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const levelColumns = `id, company_id, product_id, warehouse_id, quantity, reserved_quantity, available_quantity, average_cost, last_cost, total_value, updated_at`

func scanLevel(row pgx.Row) (StockLevel, error) {
	var l StockLevel
	err := row.Scan(&l.ID, &l.CompanyID, &l.ProductID, &l.WarehouseID, &l.Quantity, &l.ReservedQuantity, &l.AvailableQuantity, &l.AverageCost, &l.LastCost, &l.TotalValue, &l.UpdatedAt)
	return l, err
}

// GetLevel returns the stock level for a (product, warehouse) pair.
func (r *Repository) GetLevel(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	level, err := scanLevel(r.pool.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{}, ErrLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

// ListLevelsByProduct returns levels across warehouses for one product.
func (r *Repository) ListLevelsByProduct(ctx context.Context, companyID, productID int64) ([]StockLevel, error) {
	return r.listLevels(ctx, `SELECT `+levelColumns+` FROM stock_levels WHERE company_id=$1 AND product_id=$2 ORDER BY warehouse_id ASC`, companyID, productID)
}

// ListLevelsByWarehouse returns levels for every product stocked in a warehouse.
func (r *Repository) ListLevelsByWarehouse(ctx context.Context, companyID, warehouseID int64) ([]StockLevel, error) {
	return r.listLevels(ctx, `SELECT `+levelColumns+` FROM stock_levels WHERE company_id=$1 AND warehouse_id=$2 ORDER BY product_id ASC`, companyID, warehouseID)
}

func (r *Repository) listLevels(ctx context.Context, query string, args ...any) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []StockLevel{}
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// ListMovements returns the movement audit trail matching the filter.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT id, company_id, product_id, warehouse_id, COALESCE(to_warehouse_id, 0), action, quantity, previous_quantity, new_quantity, cost, reference_type, COALESCE(reference_id, 0), note, created_by, created_at
FROM stock_movements WHERE company_id=$1`
	args := []any{filter.CompanyID}
	argCount := 1

	add := func(clause string, value any) {
		argCount++
		query += ` AND ` + clause + `$` + strconv.Itoa(argCount)
		args = append(args, value)
	}
	if filter.ProductID != 0 {
		add(`product_id=`, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		add(`warehouse_id=`, filter.WarehouseID)
	}
	if filter.Action != "" {
		add(`action=`, string(filter.Action))
	}
	if filter.ReferenceType != "" {
		add(`reference_type=`, string(filter.ReferenceType))
	}
	if filter.ReferenceID != 0 {
		add(`reference_id=`, filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		add(`created_at >= `, filter.From)
	}
	if !filter.To.IsZero() {
		add(`created_at <= `, filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	argCount++
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ProductID, &m.WarehouseID, &m.ToWarehouseID, &m.Action, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity, &m.Cost, &m.ReferenceType, &m.ReferenceID, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListLowStock joins stock levels with product reorder metadata. A product is
// low when its on-hand quantity is at or below the larger of reorder_level and
// min_stock.
func (r *Repository) ListLowStock(ctx context.Context, companyID, warehouseID int64) ([]LowStockItem, error) {
	query := `SELECT l.id, l.company_id, l.product_id, l.warehouse_id, l.quantity, l.reserved_quantity, l.available_quantity, l.average_cost, l.last_cost, l.total_value, l.updated_at,
p.sku, p.name, GREATEST(p.reorder_level, p.min_stock)
FROM stock_levels l
JOIN products p ON p.id = l.product_id
WHERE l.company_id=$1 AND l.quantity <= GREATEST(p.reorder_level, p.min_stock)`
	args := []any{companyID}
	if warehouseID != 0 {
		query += ` AND l.warehouse_id=$2`
		args = append(args, warehouseID)
	}
	query += ` ORDER BY l.quantity ASC, p.name ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []LowStockItem{}
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.ProductID, &item.WarehouseID, &item.Quantity, &item.ReservedQuantity, &item.AvailableQuantity, &item.AverageCost, &item.LastCost, &item.TotalValue, &item.UpdatedAt, &item.ProductSKU, &item.ProductName, &item.Threshold); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListStockedCompanies returns every company holding at least one stock level
// row. The background low-stock scan uses it to sweep all tenants.
func (r *Repository) ListStockedCompanies(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM stock_levels ORDER BY company_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	companies := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		companies = append(companies, id)
	}
	return companies, rows.Err()
}

// Valuation sums quantity and value per warehouse.
func (r *Repository) Valuation(ctx context.Context, companyID, warehouseID int64) ([]ValuationRow, error) {
	query := `SELECT l.warehouse_id, w.code, SUM(l.quantity), SUM(l.quantity * l.average_cost)
FROM stock_levels l
JOIN warehouses w ON w.id = l.warehouse_id
WHERE l.company_id=$1`
	args := []any{companyID}
	if warehouseID != 0 {
		query += ` AND l.warehouse_id=$2`
		args = append(args, warehouseID)
	}
	query += ` GROUP BY l.warehouse_id, w.code ORDER BY l.warehouse_id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []ValuationRow{}
	for rows.Next() {
		var row ValuationRow
		if err := rows.Scan(&row.WarehouseID, &row.WarehouseCode, &row.TotalQuantity, &row.TotalValue); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (r *txRepository) GetLevelForUpdate(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{ProductID: productID, WarehouseID: warehouseID}, ErrLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

func (r *txRepository) UpsertLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	updated, err := scanLevel(r.tx.QueryRow(ctx, `INSERT INTO stock_levels (company_id, product_id, warehouse_id, quantity, reserved_quantity, available_quantity, average_cost, last_cost, total_value, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET
quantity=EXCLUDED.quantity, reserved_quantity=EXCLUDED.reserved_quantity, available_quantity=EXCLUDED.available_quantity,
average_cost=EXCLUDED.average_cost, last_cost=EXCLUDED.last_cost, total_value=EXCLUDED.total_value, updated_at=NOW()
RETURNING `+levelColumns, level.CompanyID, level.ProductID, level.WarehouseID, level.Quantity, level.ReservedQuantity, level.AvailableQuantity, level.AverageCost, level.LastCost, level.TotalValue))
	if err != nil {
		return StockLevel{}, err
	}
	return updated, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (company_id, product_id, warehouse_id, to_warehouse_id, action, quantity, previous_quantity, new_quantity, cost, reference_type, reference_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()) RETURNING id`,
		movement.CompanyID, movement.ProductID, movement.WarehouseID, nullInt(movement.ToWarehouseID), string(movement.Action), movement.Quantity, movement.PreviousQuantity, movement.NewQuantity, movement.Cost, string(movement.ReferenceType), nullInt(movement.ReferenceID), movement.Notes, movement.CreatedBy).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
