package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memRepo struct {
	levels    map[string]StockLevel
	movements []Movement
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{levels: make(map[string]StockLevel)}
}

func levelKey(productID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", productID, warehouseID)
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot state so a failed callback rolls back like the real thing.
	levels := make(map[string]StockLevel, len(m.levels))
	for k, v := range m.levels {
		levels[k] = v
	}
	movements := append([]Movement(nil), m.movements...)
	if err := fn(ctx, m); err != nil {
		m.levels = levels
		m.movements = movements
		return err
	}
	return nil
}

func (m *memRepo) GetLevelForUpdate(_ context.Context, productID, warehouseID int64) (StockLevel, error) {
	level, ok := m.levels[levelKey(productID, warehouseID)]
	if !ok {
		return StockLevel{}, ErrLevelNotFound
	}
	return level, nil
}

func (m *memRepo) UpsertLevel(_ context.Context, level StockLevel) (StockLevel, error) {
	key := levelKey(level.ProductID, level.WarehouseID)
	if existing, ok := m.levels[key]; ok {
		level.ID = existing.ID
	} else {
		m.nextID++
		level.ID = m.nextID
	}
	m.levels[key] = level
	return level, nil
}

func (m *memRepo) InsertMovement(_ context.Context, movement Movement) (int64, error) {
	m.nextID++
	movement.ID = m.nextID
	m.movements = append(m.movements, movement)
	return movement.ID, nil
}

func (m *memRepo) GetLevel(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	return m.GetLevelForUpdate(ctx, productID, warehouseID)
}

func (m *memRepo) ListLevelsByProduct(_ context.Context, companyID, productID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range m.levels {
		if l.CompanyID == companyID && l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memRepo) ListLevelsByWarehouse(_ context.Context, companyID, warehouseID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range m.levels {
		if l.CompanyID == companyID && l.WarehouseID == warehouseID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memRepo) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if filter.CompanyID != 0 && mv.CompanyID != filter.CompanyID {
			continue
		}
		if filter.ProductID != 0 && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && mv.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Action != "" && mv.Action != filter.Action {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (m *memRepo) ListLowStock(_ context.Context, companyID, warehouseID int64) ([]LowStockItem, error) {
	return nil, nil
}

func (m *memRepo) Valuation(_ context.Context, companyID, warehouseID int64) ([]ValuationRow, error) {
	return nil, nil
}

type memProducts struct {
	products map[int64]masterdata.Product
}

func (m *memProducts) Product(_ context.Context, id, companyID int64) (masterdata.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return masterdata.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	if p.CompanyID != companyID {
		return masterdata.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrForbidden)
	}
	return p, nil
}

func newTestService(repo *memRepo) *Service {
	products := &memProducts{products: map[int64]masterdata.Product{
		1: {ID: 1, CompanyID: 10, SKU: "SKU-001", Name: "Widget"},
		2: {ID: 2, CompanyID: 99, SKU: "SKU-XXX", Name: "Other tenant"},
	}}
	return NewService(repo, products, nil, nil)
}

var testIdentity = shared.Identity{ActorID: 7, CompanyID: 10}

func TestAddStockMovingAverage(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	level, err := svc.AddStock(ctx, AddStockInput{
		Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10, UnitCost: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 10.0, level.Quantity)
	require.Equal(t, 5.0, level.AverageCost)

	level, err = svc.AddStock(ctx, AddStockInput{
		Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10, UnitCost: 7,
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, level.Quantity)
	require.Equal(t, 6.0, level.AverageCost)
	require.Equal(t, 7.0, level.LastCost)
	require.Equal(t, 120.0, level.TotalValue)

	require.Len(t, repo.movements, 2)
	last := repo.movements[1]
	require.Equal(t, ActionIn, last.Action)
	require.Equal(t, 10.0, last.Quantity)
	require.Equal(t, 10.0, last.PreviousQuantity)
	require.Equal(t, 20.0, last.NewQuantity)
}

func TestAddStockValidation(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 0, UnitCost: 5})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 1, UnitCost: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 2, WarehouseID: 1, Quantity: 1, UnitCost: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRemoveStockGate(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10, UnitCost: 4})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 6})
	require.NoError(t, err)

	// 10 on hand, 6 reserved: only 4 available for removal.
	_, err = svc.RemoveStock(ctx, RemoveStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5})
	require.ErrorIs(t, err, ErrInsufficientStock)

	level, err := svc.RemoveStock(ctx, RemoveStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, 6.0, level.Quantity)
	require.Equal(t, 6.0, level.ReservedQuantity)
	require.Equal(t, 0.0, level.AvailableQuantity)
	require.Equal(t, 4.0, level.AverageCost)
}

func TestRemoveStockMissingLevel(t *testing.T) {
	svc := newTestService(newMemRepo())
	_, err := svc.RemoveStock(context.Background(), RemoveStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustStockRecordsDelta(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 8, UnitCost: 3})
	require.NoError(t, err)

	level, err := svc.AdjustStock(ctx, AdjustStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, NewQuantity: 5})
	require.NoError(t, err)
	require.Equal(t, 5.0, level.Quantity)
	require.Equal(t, 3.0, level.AverageCost)

	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, ActionAdjustment, last.Action)
	require.Equal(t, -3.0, last.Quantity)
	require.Equal(t, "Stock adjustment: 8 -> 5", last.Notes)
}

func TestAdjustStockCreatesLevel(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	level, err := svc.AdjustStock(context.Background(), AdjustStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 3, NewQuantity: 12})
	require.NoError(t, err)
	require.Equal(t, 12.0, level.Quantity)
	require.Equal(t, 0.0, level.AverageCost)
}

func TestTransferConservesQuantityAndValue(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10, UnitCost: 6})
	require.NoError(t, err)
	_, err = svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 2, Quantity: 2, UnitCost: 6})
	require.NoError(t, err)

	result, err := svc.TransferStock(ctx, TransferStockInput{
		Identity: testIdentity, ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 6.0, result.From.Quantity)
	require.Equal(t, 6.0, result.To.Quantity)
	require.Equal(t, 6.0, result.To.AverageCost)
	require.Equal(t, 12.0, result.From.Quantity+result.To.Quantity)

	// OUT at source, IN at destination, plus the summary record.
	actions := make([]MovementAction, 0, 3)
	for _, mv := range repo.movements[2:] {
		actions = append(actions, mv.Action)
	}
	require.Equal(t, []MovementAction{ActionOut, ActionIn, ActionTransfer}, actions)
	summary := repo.movements[len(repo.movements)-1]
	require.Equal(t, int64(2), summary.ToWarehouseID)
	require.Equal(t, -4.0, summary.Quantity)
}

func TestTransferInsufficientSourceRollsBack(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 3, UnitCost: 2})
	require.NoError(t, err)

	_, err = svc.TransferStock(ctx, TransferStockInput{
		Identity: testIdentity, ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 5,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	source, err := repo.GetLevel(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 3.0, source.Quantity)
	_, err = repo.GetLevel(ctx, 1, 2)
	require.ErrorIs(t, err, ErrLevelNotFound)
	require.Len(t, repo.movements, 1)
}

func TestTransferSameWarehouse(t *testing.T) {
	svc := newTestService(newMemRepo())
	_, err := svc.TransferStock(context.Background(), TransferStockInput{
		Identity: testIdentity, ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 1, Quantity: 1,
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestReserveAndRelease(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5, UnitCost: 1})
	require.NoError(t, err)

	level, err := svc.Reserve(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, 5.0, level.Quantity)
	require.Equal(t, 5.0, level.ReservedQuantity)
	require.Equal(t, 0.0, level.AvailableQuantity)

	// A hold does not move on-hand, so no movement was written.
	require.Len(t, repo.movements, 1)

	_, err = svc.Reserve(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.Release(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 6})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	level, err = svc.Release(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, 0.0, level.ReservedQuantity)
	require.Equal(t, 5.0, level.AvailableQuantity)
}

func TestCommitReservation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10, UnitCost: 2})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10})
	require.NoError(t, err)

	// Committing the full hold must succeed even though nothing is available
	// outside of it.
	level, err := svc.CommitReservation(ctx, ReservationInput{
		Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 10,
		Ref: RefMeta{Type: RefSales, ID: 42},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, level.Quantity)
	require.Equal(t, 0.0, level.ReservedQuantity)

	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, ActionOut, last.Action)
	require.Equal(t, -10.0, last.Quantity)
	require.Equal(t, RefSales, last.ReferenceType)
	require.Equal(t, int64(42), last.ReferenceID)

	_, err = svc.CommitReservation(ctx, ReservationInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestGetOrCreateIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, testIdentity, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 0.0, first.Quantity)
	require.Equal(t, int64(10), first.CompanyID)

	second, err := svc.GetOrCreate(ctx, testIdentity, 1, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.levels, 1)
}

func TestTenantIsolation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5, UnitCost: 1})
	require.NoError(t, err)

	other := shared.Identity{ActorID: 1, CompanyID: 99}
	_, err = svc.Level(ctx, other, 1, 1)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.RemoveStock(ctx, RemoveStockInput{Identity: other, ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestMovementsScopedToCompany(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{Identity: testIdentity, ProductID: 1, WarehouseID: 1, Quantity: 5, UnitCost: 1})
	require.NoError(t, err)

	movements, err := svc.Movements(ctx, testIdentity, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 1)

	movements, err = svc.Movements(ctx, shared.Identity{CompanyID: 99}, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Empty(t, movements)
}

var errBoom = errors.New("boom")

func TestWithTxRollbackOnInsertFailure(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.UpsertLevel(ctx, StockLevel{CompanyID: 10, ProductID: 1, WarehouseID: 1, Quantity: 3}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, repo.levels)

	_, err = svc.Level(ctx, testIdentity, 1, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
