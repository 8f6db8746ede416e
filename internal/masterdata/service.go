package masterdata

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
}

// Service exposes tenant-checked lookups for the order and inventory modules.
type Service struct {
	repo RepositoryPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Product returns the product after enforcing company ownership.
func (s *Service) Product(ctx context.Context, id, companyID int64) (Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, fmt.Errorf("masterdata: product %d: %w", id, err)
	}
	if p.CompanyID != companyID {
		return Product{}, fmt.Errorf("masterdata: product %d: %w", id, shared.ErrForbidden)
	}
	return p, nil
}

// Products lists the company's catalog.
func (s *Service) Products(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filters)
}

// Warehouse returns the warehouse after enforcing company ownership.
func (s *Service) Warehouse(ctx context.Context, id, companyID int64) (Warehouse, error) {
	w, err := s.repo.GetWarehouse(ctx, id)
	if err != nil {
		return Warehouse{}, fmt.Errorf("masterdata: warehouse %d: %w", id, err)
	}
	if w.CompanyID != companyID {
		return Warehouse{}, fmt.Errorf("masterdata: warehouse %d: %w", id, shared.ErrForbidden)
	}
	return w, nil
}

// Customer returns the customer after enforcing company ownership.
func (s *Service) Customer(ctx context.Context, id, companyID int64) (Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return Customer{}, fmt.Errorf("masterdata: customer %d: %w", id, err)
	}
	if c.CompanyID != companyID {
		return Customer{}, fmt.Errorf("masterdata: customer %d: %w", id, shared.ErrForbidden)
	}
	return c, nil
}

// Supplier returns the supplier after enforcing company ownership.
func (s *Service) Supplier(ctx context.Context, id, companyID int64) (Supplier, error) {
	sup, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return Supplier{}, fmt.Errorf("masterdata: supplier %d: %w", id, err)
	}
	if sup.CompanyID != companyID {
		return Supplier{}, fmt.Errorf("masterdata: supplier %d: %w", id, shared.ErrForbidden)
	}
	return sup, nil
}
