package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLevel(ctx context.Context, productID, warehouseID int64) (StockLevel, error)
	ListLevelsByProduct(ctx context.Context, companyID, productID int64) ([]StockLevel, error)
	ListLevelsByWarehouse(ctx context.Context, companyID, warehouseID int64) ([]StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListLowStock(ctx context.Context, companyID, warehouseID int64) ([]LowStockItem, error)
	Valuation(ctx context.Context, companyID, warehouseID int64) ([]ValuationRow, error)
}

// ProductPort exposes the product metadata lookups the engine validates against.
type ProductPort interface {
	Product(ctx context.Context, id, companyID int64) (masterdata.Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the inventory engine. It owns every stock level mutation; the
// order modules never write ledger fields directly. Each operation runs inside
// one repeatable-read transaction with the affected rows locked, so concurrent
// postings on the same (product, warehouse) key serialize and the moving
// average cannot lose updates.
type Service struct {
	repo     RepositoryPort
	products ProductPort
	audit    AuditPort
	cache    *Cache
}

// NewService builds Service. audit and cache may be nil.
func NewService(repo RepositoryPort, products ProductPort, audit AuditPort, cache *Cache) *Service {
	return &Service{repo: repo, products: products, audit: audit, cache: cache}
}

// TransferResult carries both sides of a completed transfer.
type TransferResult struct {
	From StockLevel `json:"from"`
	To   StockLevel `json:"to"`
}

// GetOrCreate returns the ledger entry for (product, warehouse), creating a
// zeroed one when absent. The upsert-with-default behaviour is part of the
// engine's public contract.
func (s *Service) GetOrCreate(ctx context.Context, id shared.Identity, productID, warehouseID int64) (StockLevel, error) {
	if productID == 0 || warehouseID == 0 {
		return StockLevel{}, errors.New("inventory: product and warehouse required")
	}
	level, err := s.repo.GetLevel(ctx, productID, warehouseID)
	if err == nil {
		if level.CompanyID != id.CompanyID {
			return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrForbidden)
		}
		return level, nil
	}
	if !errors.Is(err, ErrLevelNotFound) {
		return StockLevel{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err = s.lockOrCreate(ctx, tx, id, productID, warehouseID)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	return level, nil
}

// AddStock posts an inbound movement and recomputes the moving-average cost.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (StockLevel, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return StockLevel{}, ErrInvalidUnitCost
	}
	if _, err := s.products.Product(ctx, input.ProductID, input.Identity.CompanyID); err != nil {
		return StockLevel{}, err
	}

	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockOrCreate(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		updated, err = s.applyInbound(ctx, tx, level, input.Quantity, input.UnitCost, input.Ref, input.Identity.ActorID)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.afterMutation(ctx, input.Identity, "inventory:IN", updated, input.Quantity)
	return updated, nil
}

// RemoveStock posts an outbound movement. The gate is available quantity, not
// raw on-hand: reserved stock cannot be casually removed. Cost fields are left
// untouched.
func (s *Service) RemoveStock(ctx context.Context, input RemoveStockInput) (StockLevel, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		updated, err = s.applyOutbound(ctx, tx, level, input.Quantity, ActionOut, input.Ref, input.Identity.ActorID)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.afterMutation(ctx, input.Identity, "inventory:OUT", updated, -input.Quantity)
	return updated, nil
}

// AdjustStock sets the on-hand quantity to an absolute value after a physical
// count. The signed delta is recorded; average cost is not recalculated.
func (s *Service) AdjustStock(ctx context.Context, input AdjustStockInput) (StockLevel, error) {
	if input.NewQuantity < 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockOrCreate(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		previous := level.Quantity
		delta := input.NewQuantity - previous
		level.Quantity = input.NewQuantity
		level.refresh()
		updated, err = tx.UpsertLevel(ctx, level)
		if err != nil {
			return err
		}
		notes := input.Notes
		if notes == "" {
			notes = fmt.Sprintf("Stock adjustment: %s -> %s", shared.FormatQty(previous), shared.FormatQty(input.NewQuantity))
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:        level.CompanyID,
			ProductID:        level.ProductID,
			WarehouseID:      level.WarehouseID,
			Action:           ActionAdjustment,
			Quantity:         delta,
			PreviousQuantity: previous,
			NewQuantity:      updated.Quantity,
			Cost:             level.AverageCost,
			ReferenceType:    RefAdjustment,
			Notes:            notes,
			CreatedBy:        input.Identity.ActorID,
		})
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.afterMutation(ctx, input.Identity, "inventory:ADJUSTMENT", updated, updated.Quantity)
	return updated, nil
}

// TransferStock moves stock between warehouses. Both ledger updates and all
// three movement records commit in one transaction: either the full transfer
// applies or none of it does. The destination receives stock at the source's
// pre-transfer average cost so total value is conserved.
func (s *Service) TransferStock(ctx context.Context, input TransferStockInput) (TransferResult, error) {
	if input.FromWarehouseID == input.ToWarehouseID {
		return TransferResult{}, fmt.Errorf("inventory: source and destination warehouse must differ: %w", shared.ErrInvalidOperation)
	}
	if input.Quantity <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}

	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Rows are locked in warehouse id order so two opposite transfers
		// cannot deadlock.
		var source, dest StockLevel
		var err error
		if input.FromWarehouseID < input.ToWarehouseID {
			if source, err = s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.FromWarehouseID); err != nil {
				return err
			}
			if dest, err = s.lockOrCreate(ctx, tx, input.Identity, input.ProductID, input.ToWarehouseID); err != nil {
				return err
			}
		} else {
			if dest, err = s.lockOrCreate(ctx, tx, input.Identity, input.ProductID, input.ToWarehouseID); err != nil {
				return err
			}
			if source, err = s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.FromWarehouseID); err != nil {
				return err
			}
		}

		unitCost := source.AverageCost
		ref := RefMeta{Type: RefTransfer, Notes: input.Notes}
		if result.From, err = s.applyOutbound(ctx, tx, source, input.Quantity, ActionOut, ref, input.Identity.ActorID); err != nil {
			return err
		}
		if result.To, err = s.applyInbound(ctx, tx, dest, input.Quantity, unitCost, ref, input.Identity.ActorID); err != nil {
			return err
		}

		notes := input.Notes
		if notes == "" {
			notes = fmt.Sprintf("Transferred %s units to warehouse %d", shared.FormatQty(input.Quantity), input.ToWarehouseID)
		}
		_, err = tx.InsertMovement(ctx, Movement{
			CompanyID:        source.CompanyID,
			ProductID:        input.ProductID,
			WarehouseID:      input.FromWarehouseID,
			ToWarehouseID:    input.ToWarehouseID,
			Action:           ActionTransfer,
			Quantity:         -input.Quantity,
			PreviousQuantity: source.Quantity,
			NewQuantity:      result.From.Quantity,
			Cost:             unitCost,
			ReferenceType:    RefTransfer,
			Notes:            notes,
			CreatedBy:        input.Identity.ActorID,
		})
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterMutation(ctx, input.Identity, "inventory:TRANSFER", result.From, -input.Quantity)
	return result, nil
}

// Reserve places a soft hold: available quantity drops, on-hand is unchanged.
func (s *Service) Reserve(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if level.AvailableQuantity < input.Quantity {
			return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientStock, shared.FormatQty(level.AvailableQuantity), shared.FormatQty(input.Quantity))
		}
		level.ReservedQuantity += input.Quantity
		level.refresh()
		updated, err = tx.UpsertLevel(ctx, level)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	return updated, nil
}

// Release removes a soft hold previously placed with Reserve.
func (s *Service) Release(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if level.ReservedQuantity < input.Quantity {
			return fmt.Errorf("inventory: cannot release more than reserved quantity: %w", shared.ErrInvalidOperation)
		}
		level.ReservedQuantity -= input.Quantity
		level.refresh()
		updated, err = tx.UpsertLevel(ctx, level)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	return updated, nil
}

// CommitReservation converts a hold into an actual deduction in a single
// step: reserved and on-hand quantity both drop by the committed amount and
// one OUT movement is recorded. This keeps reservedQuantity free of stale
// holds after order confirmation.
func (s *Service) CommitReservation(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var updated StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.lockExisting(ctx, tx, input.Identity, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if level.ReservedQuantity < input.Quantity {
			return fmt.Errorf("inventory: commit exceeds reserved quantity: %w", shared.ErrInvalidOperation)
		}
		level.ReservedQuantity -= input.Quantity
		level.refresh()
		updated, err = s.applyOutbound(ctx, tx, level, input.Quantity, ActionOut, input.Ref, input.Identity.ActorID)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.afterMutation(ctx, input.Identity, "inventory:OUT", updated, -input.Quantity)
	return updated, nil
}

// Level returns a company's ledger entry without creating it.
func (s *Service) Level(ctx context.Context, id shared.Identity, productID, warehouseID int64) (StockLevel, error) {
	level, err := s.repo.GetLevel(ctx, productID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrLevelNotFound) {
			return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrNotFound)
		}
		return StockLevel{}, err
	}
	if level.CompanyID != id.CompanyID {
		return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrForbidden)
	}
	return level, nil
}

// LevelsByProduct lists stock across warehouses for one product.
func (s *Service) LevelsByProduct(ctx context.Context, id shared.Identity, productID int64) ([]StockLevel, error) {
	return s.repo.ListLevelsByProduct(ctx, id.CompanyID, productID)
}

// LevelsByWarehouse lists stock for all products in one warehouse.
func (s *Service) LevelsByWarehouse(ctx context.Context, id shared.Identity, warehouseID int64) ([]StockLevel, error) {
	return s.repo.ListLevelsByWarehouse(ctx, id.CompanyID, warehouseID)
}

// Movements lists the audit trail matching the filter.
func (s *Service) Movements(ctx context.Context, id shared.Identity, filter MovementFilter) ([]Movement, error) {
	filter.CompanyID = id.CompanyID
	return s.repo.ListMovements(ctx, filter)
}

// LowStock lists ledger entries at or below their product's reorder threshold.
func (s *Service) LowStock(ctx context.Context, id shared.Identity, warehouseID int64) ([]LowStockItem, error) {
	if s.cache != nil {
		if items, ok := s.cache.GetLowStock(ctx, id.CompanyID, warehouseID); ok {
			return items, nil
		}
	}
	items, err := s.repo.ListLowStock(ctx, id.CompanyID, warehouseID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetLowStock(ctx, id.CompanyID, warehouseID, items)
	}
	return items, nil
}

// Valuation reports total on-hand value per warehouse.
func (s *Service) Valuation(ctx context.Context, id shared.Identity, warehouseID int64) ([]ValuationRow, error) {
	if s.cache != nil {
		if rows, ok := s.cache.GetValuation(ctx, id.CompanyID, warehouseID); ok {
			return rows, nil
		}
	}
	rows, err := s.repo.Valuation(ctx, id.CompanyID, warehouseID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetValuation(ctx, id.CompanyID, warehouseID, rows)
	}
	return rows, nil
}

// lockOrCreate locks the ledger row for update, creating a zeroed entry when
// the pair has never been stocked.
func (s *Service) lockOrCreate(ctx context.Context, tx TxRepository, id shared.Identity, productID, warehouseID int64) (StockLevel, error) {
	level, err := tx.GetLevelForUpdate(ctx, productID, warehouseID)
	if err != nil {
		if !errors.Is(err, ErrLevelNotFound) {
			return StockLevel{}, err
		}
		level = StockLevel{CompanyID: id.CompanyID, ProductID: productID, WarehouseID: warehouseID}
		level.refresh()
		return tx.UpsertLevel(ctx, level)
	}
	if level.CompanyID != id.CompanyID {
		return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrForbidden)
	}
	return level, nil
}

// lockExisting locks an existing ledger row, failing when it does not exist.
func (s *Service) lockExisting(ctx context.Context, tx TxRepository, id shared.Identity, productID, warehouseID int64) (StockLevel, error) {
	level, err := tx.GetLevelForUpdate(ctx, productID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrLevelNotFound) {
			return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrNotFound)
		}
		return StockLevel{}, err
	}
	if level.CompanyID != id.CompanyID {
		return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrForbidden)
	}
	return level, nil
}

func (s *Service) applyInbound(ctx context.Context, tx TxRepository, level StockLevel, qty, unitCost float64, ref RefMeta, actorID int64) (StockLevel, error) {
	previous := level.Quantity
	newQty := previous + qty
	if newQty > 0 {
		level.AverageCost = (previous*level.AverageCost + qty*unitCost) / newQty
	} else {
		level.AverageCost = unitCost
	}
	level.LastCost = unitCost
	level.Quantity = newQty
	level.refresh()

	updated, err := tx.UpsertLevel(ctx, level)
	if err != nil {
		return StockLevel{}, err
	}
	refType := ref.Type
	if refType == "" {
		refType = RefOther
	}
	_, err = tx.InsertMovement(ctx, Movement{
		CompanyID:        level.CompanyID,
		ProductID:        level.ProductID,
		WarehouseID:      level.WarehouseID,
		Action:           ActionIn,
		Quantity:         qty,
		PreviousQuantity: previous,
		NewQuantity:      updated.Quantity,
		Cost:             unitCost,
		ReferenceType:    refType,
		ReferenceID:      ref.ID,
		Notes:            ref.Notes,
		CreatedBy:        actorID,
	})
	if err != nil {
		return StockLevel{}, err
	}
	return updated, nil
}

func (s *Service) applyOutbound(ctx context.Context, tx TxRepository, level StockLevel, qty float64, action MovementAction, ref RefMeta, actorID int64) (StockLevel, error) {
	if level.AvailableQuantity < qty {
		return StockLevel{}, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientStock, shared.FormatQty(level.AvailableQuantity), shared.FormatQty(qty))
	}
	previous := level.Quantity
	level.Quantity = previous - qty
	level.refresh()

	updated, err := tx.UpsertLevel(ctx, level)
	if err != nil {
		return StockLevel{}, err
	}
	refType := ref.Type
	if refType == "" {
		refType = RefOther
	}
	_, err = tx.InsertMovement(ctx, Movement{
		CompanyID:        level.CompanyID,
		ProductID:        level.ProductID,
		WarehouseID:      level.WarehouseID,
		Action:           action,
		Quantity:         -qty,
		PreviousQuantity: previous,
		NewQuantity:      updated.Quantity,
		Cost:             level.AverageCost,
		ReferenceType:    refType,
		ReferenceID:      ref.ID,
		Notes:            ref.Notes,
		CreatedBy:        actorID,
	})
	if err != nil {
		return StockLevel{}, err
	}
	return updated, nil
}

func (s *Service) afterMutation(ctx context.Context, id shared.Identity, action string, level StockLevel, qty float64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id.CompanyID)
	}
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:   id.ActorID,
		CompanyID: id.CompanyID,
		Action:    action,
		Entity:    "stock_level",
		EntityID:  fmt.Sprintf("%d:%d", level.ProductID, level.WarehouseID),
		Meta: map[string]any{
			"product_id":   level.ProductID,
			"warehouse_id": level.WarehouseID,
			"qty":          qty,
			"new_quantity": level.Quantity,
		},
	})
}
