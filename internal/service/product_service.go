package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"main-stack/internal/domain"
	"main-stack/internal/repository"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

type ProductService struct {
	logger   *zap.Logger
	products repository.ProductRepository
}

func NewProductService(logger *zap.Logger, products repository.ProductRepository) *ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductService{logger: logger, products: products}
}

type CreateProductInput struct {
	Name     string
	Price    float64
	Quantity int
	AddedBy  string
}

func (s *ProductService) Create(ctx context.Context, input CreateProductInput) (domain.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || input.Price < 0 || input.Quantity < 0 || input.AddedBy == "" {
		return domain.Product{}, ErrInvalidProduct
	}
	now := time.Now().UTC()
	p := domain.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     input.Price,
		Quantity:  input.Quantity,
		AddedBy:   input.AddedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.products.Create(ctx, p); err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("product created", zap.String("product_id", p.ID), zap.String("user_id", p.AddedBy))
	return p, nil
}

func (s *ProductService) Update(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return domain.Product{}, ErrInvalidProduct
		}
		patch.Name = &name
	}
	if (patch.Price != nil && *patch.Price < 0) || (patch.Quantity != nil && *patch.Quantity < 0) {
		return domain.Product{}, ErrInvalidProduct
	}
	if !isUUID(id) {
		return domain.Product{}, ErrProductNotFound
	}
	p, err := s.products.Update(ctx, id, patch)
	return p, notFound(err)
}

func (s *ProductService) Get(ctx context.Context, id string) (domain.Product, error) {
	if !isUUID(id) {
		return domain.Product{}, ErrProductNotFound
	}
	p, err := s.products.GetByID(ctx, id)
	return p, notFound(err)
}

func (s *ProductService) GetByName(ctx context.Context, name string) (domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Product{}, ErrProductNotFound
	}
	p, err := s.products.GetByName(ctx, name)
	return p, notFound(err)
}

// List devuelve los productos filtrados por id y/o nombre parcial.
func (s *ProductService) List(ctx context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	filter.Name = strings.TrimSpace(filter.Name)
	filter.ID = strings.TrimSpace(filter.ID)
	if filter.ID != "" && !isUUID(filter.ID) {
		return []domain.Product{}, nil
	}
	items, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Product{}
	}
	return items, nil
}

func (s *ProductService) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return ErrProductNotFound
	}
	if err := notFound(s.products.Delete(ctx, id)); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	return err
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
