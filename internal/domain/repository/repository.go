// Package repository defines the storage boundary. The hosted document
// store behind the original system is treated as a black box; these
// interfaces are its contract, implemented by the pg adapter in
// production and by the memory adapter in tests.
package repository

import (
	"context"
	"errors"

	"github.com/dropDatabas3/storefront/internal/domain"
)

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: conflict")
	// ErrInsufficientStock rejects a decrement below zero.
	ErrInsufficientStock = errors.New("repository: insufficient stock")
	// ErrMissingRole rejects admin records created without an explicit role.
	ErrMissingRole = errors.New("repository: admin role is required")
)

// Admins resolves subjects to admin identity records. Absence of a
// record means "not an admin", never a default role.
type Admins interface {
	Get(ctx context.Context, sub string) (*domain.Admin, error)
	Upsert(ctx context.Context, a *domain.Admin) error
	List(ctx context.Context) ([]domain.Admin, error)
	Delete(ctx context.Context, sub string) error
}

type ProductFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

type Products interface {
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) error
	Get(ctx context.Context, id string) (*domain.Product, error)
	GetBySKU(ctx context.Context, sku string) (*domain.Product, error)
	List(ctx context.Context, f ProductFilter) ([]domain.Product, error)

	// AdjustStock applies a delta and writes the inventory log entry in
	// one transaction, returning the resulting level. A delta that would
	// take the level negative fails with ErrInsufficientStock and writes
	// nothing.
	AdjustStock(ctx context.Context, productID string, delta int, reason, actor string) (int, error)

	InventoryLog(ctx context.Context, productID string, limit int) ([]domain.InventoryLogEntry, error)
}

type OrderFilter struct {
	Status domain.OrderStatus
	Limit  int
	Offset int
}

type Orders interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, f OrderFilter) ([]domain.Order, error)

	// UpdateStatus performs a guarded compare-and-set from one status to
	// another; ErrConflict when the stored status is not `from`.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error

	// CancelRestock transitions the order to cancelled AND restores the
	// previously-decremented stock for every line item, including the
	// inventory log writes, in a single atomic transaction. Either all
	// of it lands or none of it does.
	CancelRestock(ctx context.Context, id string, from domain.OrderStatus, actor string) error
}

type Discounts interface {
	Create(ctx context.Context, d *domain.Discount) error
	Update(ctx context.Context, d *domain.Discount) error
	Get(ctx context.Context, code string) (*domain.Discount, error)
	List(ctx context.Context) ([]domain.Discount, error)
	Delete(ctx context.Context, code string) error
}

type Waitlist interface {
	Join(ctx context.Context, e *domain.WaitlistEntry) error
	PendingFor(ctx context.Context, productID string) ([]domain.WaitlistEntry, error)
	MarkNotified(ctx context.Context, ids []string) error
}

// Store aggregates the repositories plus lifecycle.
type Store interface {
	Admins() Admins
	Products() Products
	Orders() Orders
	Discounts() Discounts
	Waitlist() Waitlist
	Ping(ctx context.Context) error
	Close()
}
