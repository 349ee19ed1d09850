package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService handles the product catalog. Listings are cached in Redis;
// admin writes invalidate the cache.
type CatalogService struct {
	store    *store.Store
	cache    *redisclient.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(st *store.Store, cache *redisclient.Client, cacheTTL time.Duration) *CatalogService {
	return &CatalogService{
		store:    st,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// ProductInput is the validated admin payload for create/update.
type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
	Stock       int    `json:"stock"`
}

// ListProducts returns the catalog, served from cache when possible
func (cs *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	if cs.cache != nil {
		products, hit, err := cs.cache.GetCachedProducts(ctx)
		if err != nil {
			cs.logger.Warn("Catalog cache read failed", zap.Error(err))
		} else if hit {
			return products, nil
		}
	}

	products, err := cs.store.GetProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	if cs.cache != nil {
		if err := cs.cache.CacheProducts(ctx, products, cs.cacheTTL); err != nil {
			cs.logger.Warn("Catalog cache write failed", zap.Error(err))
		}
	}
	return products, nil
}

// GetProduct returns a single product by id
func (cs *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// CreateProduct adds a product to the catalog (admin)
func (cs *CatalogService) CreateProduct(ctx context.Context, input *ProductInput) (*models.Product, error) {
	price, err := cs.validateInput(input)
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Price:       price,
		ImageURL:    input.ImageURL,
		Stock:       input.Stock,
	}

	if err := cs.store.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	cs.invalidate(ctx)
	cs.logger.Info("Product created", zap.String("product_id", product.ID))
	return product, nil
}

// UpdateProduct replaces catalog fields of an existing product (admin)
func (cs *CatalogService) UpdateProduct(ctx context.Context, id string, input *ProductInput) (*models.Product, error) {
	price, err := cs.validateInput(input)
	if err != nil {
		return nil, err
	}

	existing, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrProductNotFound
	}

	existing.Name = input.Name
	existing.Description = input.Description
	existing.Price = price
	existing.ImageURL = input.ImageURL
	existing.Stock = input.Stock

	if err := cs.store.UpdateProduct(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	cs.invalidate(ctx)
	return existing, nil
}

// DeleteProduct removes a product from the catalog (admin)
func (cs *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	existing, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrProductNotFound
	}

	if err := cs.store.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	cs.invalidate(ctx)
	cs.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

func (cs *CatalogService) validateInput(input *ProductInput) (decimal.Decimal, error) {
	if input.Name == "" {
		return decimal.Zero, validationf("name is required")
	}
	price, err := decimal.NewFromString(input.Price)
	if err != nil {
		return decimal.Zero, validationf("unparseable price %q", input.Price)
	}
	if price.IsNegative() {
		return decimal.Zero, validationf("price must not be negative")
	}
	if input.Stock < 0 {
		return decimal.Zero, validationf("stock must not be negative")
	}
	return price, nil
}

func (cs *CatalogService) invalidate(ctx context.Context) {
	if cs.cache == nil {
		return
	}
	if err := cs.cache.InvalidateProducts(ctx); err != nil {
		cs.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
	}
}
