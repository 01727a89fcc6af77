// Package memory is the in-process store adapter, used by tests and
// local development. Transactions are simulated: mutations build on
// copies and commit under one lock, so the same all-or-nothing
// guarantees hold as in the pg adapter.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type Store struct {
	mu sync.RWMutex

	admins    map[string]domain.Admin
	products  map[string]domain.Product
	orders    map[string]domain.Order
	discounts map[string]domain.Discount
	waitlist  map[string]domain.WaitlistEntry
	invlog    []domain.InventoryLogEntry

	// OnBeforeCommit, when set, runs inside the lock just before a
	// multi-write operation commits. Tests use it to simulate a
	// mid-transaction failure.
	OnBeforeCommit func(op string) error
}

func New() *Store {
	return &Store{
		admins:    map[string]domain.Admin{},
		products:  map[string]domain.Product{},
		orders:    map[string]domain.Order{},
		discounts: map[string]domain.Discount{},
		waitlist:  map[string]domain.WaitlistEntry{},
	}
}

func (s *Store) Admins() repository.Admins       { return (*adminRepo)(s) }
func (s *Store) Products() repository.Products   { return (*productRepo)(s) }
func (s *Store) Orders() repository.Orders       { return (*orderRepo)(s) }
func (s *Store) Discounts() repository.Discounts { return (*discountRepo)(s) }
func (s *Store) Waitlist() repository.Waitlist   { return (*waitlistRepo)(s) }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// ───────────────────────── admins ─────────────────────────

type adminRepo Store

func (r *adminRepo) Get(ctx context.Context, sub string) (*domain.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.admins[sub]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *adminRepo) Upsert(ctx context.Context, a *domain.Admin) error {
	if a.Role == "" {
		return repository.ErrMissingRole
	}
	if !domain.ValidRole(a.Role) {
		return repository.ErrMissingRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.admins[a.Sub]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.admins[a.Sub] = *a
	return nil
}

func (r *adminRepo) List(ctx context.Context) ([]domain.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Admin, 0, len(r.admins))
	for _, a := range r.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sub < out[j].Sub })
	return out, nil
}

func (r *adminRepo) Delete(ctx context.Context, sub string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.admins[sub]; !ok {
		return repository.ErrNotFound
	}
	delete(r.admins, sub)
	return nil
}

// ──────────────────────── products ────────────────────────

type productRepo Store

func (r *productRepo) Create(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.products {
		if existing.SKU == p.SKU {
			return repository.ErrConflict
		}
	}
	r.products[p.ID] = *p
	return nil
}

func (r *productRepo) Update(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.products[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Stock = cur.Stock // stock changes only through AdjustStock
	p.CreatedAt = cur.CreatedAt
	r.products[p.ID] = *p
	return nil
}

func (r *productRepo) Get(ctx context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *productRepo) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if p.SKU == sku {
			out := p
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *productRepo) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		if f.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *productRepo) AdjustStock(ctx context.Context, productID string, delta int, reason, actor string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (*Store)(r).adjustStockLocked(productID, delta, reason, actor)
}

// adjustStockLocked is shared with order cancellation; caller holds mu.
func (s *Store) adjustStockLocked(productID string, delta int, reason, actor string) (int, error) {
	p, ok := s.products[productID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	level := p.Stock + delta
	if level < 0 {
		return 0, repository.ErrInsufficientStock
	}
	p.Stock = level
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	s.invlog = append(s.invlog, domain.InventoryLogEntry{
		ID:        uuid.NewString(),
		ProductID: productID,
		Delta:     delta,
		Level:     level,
		Reason:    reason,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	})
	return level, nil
}

func (r *productRepo) InventoryLog(ctx context.Context, productID string, limit int) ([]domain.InventoryLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.InventoryLogEntry
	for i := len(r.invlog) - 1; i >= 0 && len(out) < limit; i-- {
		if r.invlog[i].ProductID == productID {
			out = append(out, r.invlog[i])
		}
	}
	return out, nil
}

// ───────────────────────── orders ─────────────────────────

type orderRepo Store

func (r *orderRepo) Create(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return repository.ErrConflict
	}
	o.UpdatedAt = o.CreatedAt
	r.orders[o.ID] = *o
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r *orderRepo) List(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != from {
		return repository.ErrConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return nil
}

// CancelRestock stages every mutation on copies and commits under the
// lock only after all of them succeed, mirroring the pg transaction.
func (r *orderRepo) CancelRestock(ctx context.Context, id string, from domain.OrderStatus, actor string) error {
	s := (*Store)(r)
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != from {
		return repository.ErrConflict
	}

	// Stage product updates and log entries.
	staged := make(map[string]domain.Product, len(o.Items))
	var logEntries []domain.InventoryLogEntry
	now := time.Now().UTC()
	for _, it := range o.Items {
		p, ok := r.products[it.ProductID]
		if !ok {
			return repository.ErrNotFound
		}
		if prev, ok := staged[p.ID]; ok {
			p = prev
		}
		p.Stock += it.Quantity
		p.UpdatedAt = now
		staged[p.ID] = p
		logEntries = append(logEntries, domain.InventoryLogEntry{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Delta:     it.Quantity,
			Level:     p.Stock,
			Reason:    "order_cancelled:" + id,
			Actor:     actor,
			CreatedAt: now,
		})
	}

	if s.OnBeforeCommit != nil {
		if err := s.OnBeforeCommit("orders.cancel_restock"); err != nil {
			return err
		}
	}

	// Commit.
	for pid, p := range staged {
		r.products[pid] = p
	}
	r.invlog = append(r.invlog, logEntries...)
	o.Status = domain.OrderCancelled
	o.UpdatedAt = now
	r.orders[id] = o
	return nil
}

// ──────────────────────── discounts ───────────────────────

type discountRepo Store

func (r *discountRepo) Create(ctx context.Context, d *domain.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.discounts[d.Code]; ok {
		return repository.ErrConflict
	}
	d.CreatedAt = time.Now().UTC()
	r.discounts[d.Code] = *d
	return nil
}

func (r *discountRepo) Update(ctx context.Context, d *domain.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.discounts[d.Code]
	if !ok {
		return repository.ErrNotFound
	}
	d.CreatedAt = cur.CreatedAt
	r.discounts[d.Code] = *d
	return nil
}

func (r *discountRepo) Get(ctx context.Context, code string) (*domain.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.discounts[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *discountRepo) List(ctx context.Context) ([]domain.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Discount, 0, len(r.discounts))
	for _, d := range r.discounts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *discountRepo) Delete(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.discounts[code]; !ok {
		return repository.ErrNotFound
	}
	delete(r.discounts, code)
	return nil
}

// ──────────────────────── waitlist ────────────────────────

type waitlistRepo Store

func (r *waitlistRepo) Join(ctx context.Context, e *domain.WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.waitlist {
		if existing.ProductID == e.ProductID && existing.Email == e.Email && existing.NotifiedAt.IsZero() {
			return repository.ErrConflict
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	r.waitlist[e.ID] = *e
	return nil
}

func (r *waitlistRepo) PendingFor(ctx context.Context, productID string) ([]domain.WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WaitlistEntry
	for _, e := range r.waitlist {
		if e.ProductID == productID && e.NotifiedAt.IsZero() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *waitlistRepo) MarkNotified(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if e, ok := r.waitlist[id]; ok {
			e.NotifiedAt = now
			r.waitlist[id] = e
		}
	}
	return nil
}
