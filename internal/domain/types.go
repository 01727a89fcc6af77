// Package domain holds the storefront's core entities.
package domain

import "time"

// Role is the closed set of admin roles. There is no default: a subject
// without an admin record is simply not an admin.
type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RoleManager       Role = "manager"
	RoleInventoryOnly Role = "inventory_only"
	RoleReadOnly      Role = "read_only"
)

// ValidRole reports membership in the closed set.
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleManager, RoleInventoryOnly, RoleReadOnly:
		return true
	}
	return false
}

// Admin associates an identity-provider subject with a role and
// permission list.
type Admin struct {
	Sub         string    `json:"sub"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Product is a catalog item with a live stock level.
type Product struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Stock       int       `json:"stock"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrderStatus values and their legal transitions.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// OrderItem is one line of an order. Quantity was decremented from the
// product's stock when the order was placed; cancellation restores it.
type OrderItem struct {
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type Order struct {
	ID           string      `json:"id"`
	CustomerID   string      `json:"customer_id"`
	Email        string      `json:"email"`
	Status       OrderStatus `json:"status"`
	Items        []OrderItem `json:"items"`
	TotalCents   int64       `json:"total_cents"`
	DiscountCode string      `json:"discount_code,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Discount is a flat or percentage code.
type Discount struct {
	Code       string    `json:"code"`
	Percent    int       `json:"percent,omitempty"`
	FlatCents  int64     `json:"flat_cents,omitempty"`
	Active     bool      `json:"active"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	MaxUses    int       `json:"max_uses,omitempty"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// WaitlistEntry records interest in an out-of-stock product.
type WaitlistEntry struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Email      string    `json:"email"`
	NotifiedAt time.Time `json:"notified_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// InventoryLogEntry is the audit trail for every stock movement.
type InventoryLogEntry struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Level     int       `json:"level"` // stock level after the movement
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"` // admin sub or "system"
	CreatedAt time.Time `json:"created_at"`
}
