// Package catalog serves product reads and admin product CRUD. The
// public listing is cached read-mostly; every write invalidates.
package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/storefront/internal/cache"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

const listCacheKey = "catalog:active"

type Service struct {
	store    repository.Store
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewService(store repository.Store, c cache.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{store: store, cache: c, cacheTTL: ttl}
}

// ListActive returns the public storefront listing, served from cache
// when possible.
func (s *Service) ListActive(ctx context.Context) ([]domain.Product, error) {
	if s.cache != nil {
		if b, ok := s.cache.Get(listCacheKey); ok {
			var out []domain.Product
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}
	out, err := s.store.Products().List(ctx, repository.ProductFilter{ActiveOnly: true, Limit: 200})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if b, err := json.Marshal(out); err == nil {
			s.cache.Set(listCacheKey, b, s.cacheTTL)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.store.Products().Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if err := s.store.Products().Create(ctx, p); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) Update(ctx context.Context, p *domain.Product) error {
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Products().Update(ctx, p); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Delete(listCacheKey)
	}
}
