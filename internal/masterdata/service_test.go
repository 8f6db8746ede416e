package masterdata

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memRepo struct {
	products   map[int64]Product
	warehouses map[int64]Warehouse
	customers  map[int64]Customer
	suppliers  map[int64]Supplier
}

func (m *memRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (m *memRepo) ListProducts(_ context.Context, filters ListFilters) ([]Product, int, error) {
	out := []Product{}
	for _, p := range m.products {
		if p.CompanyID == filters.CompanyID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	w, ok := m.warehouses[id]
	if !ok {
		return Warehouse{}, fmt.Errorf("warehouse %d: %w", id, shared.ErrNotFound)
	}
	return w, nil
}

func (m *memRepo) GetCustomer(_ context.Context, id int64) (Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return Customer{}, fmt.Errorf("customer %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

func (m *memRepo) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	s, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, fmt.Errorf("supplier %d: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

func newTestService() *Service {
	return NewService(&memRepo{
		products: map[int64]Product{
			1: {ID: 1, CompanyID: 10, SKU: "SKU-1", Name: "Widget"},
			2: {ID: 2, CompanyID: 99, SKU: "SKU-2", Name: "Other"},
		},
		warehouses: map[int64]Warehouse{
			1: {ID: 1, CompanyID: 10, Code: "MAIN"},
		},
		customers: map[int64]Customer{
			1: {ID: 1, CompanyID: 10, Name: "Acme"},
		},
		suppliers: map[int64]Supplier{
			1: {ID: 1, CompanyID: 99, Name: "Globex"},
		},
	})
}

func TestLookupsEnforceCompanyOwnership(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, err := svc.Product(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, "SKU-1", p.SKU)

	_, err = svc.Product(ctx, 2, 10)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Product(ctx, 404, 10)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Warehouse(ctx, 1, 10)
	require.NoError(t, err)

	_, err = svc.Customer(ctx, 1, 99)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Supplier(ctx, 1, 99)
	require.NoError(t, err)
}

func TestReorderThresholdTakesTheLargerBound(t *testing.T) {
	p := Product{ReorderLevel: 10, MinStock: 4}
	require.Equal(t, 10.0, p.ReorderThreshold())

	p = Product{ReorderLevel: 2, MinStock: 7}
	require.Equal(t, 7.0, p.ReorderThreshold())
}
