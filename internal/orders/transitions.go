package orders

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dropDatabas3/storefront/internal/domain"
)

// transitions is the whole order-status machine. delivered and
// cancelled are terminal (no entry).
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderPending:    {domain.OrderProcessing, domain.OrderCancelled},
	domain.OrderProcessing: {domain.OrderShipped, domain.OrderCancelled},
	domain.OrderShipped:    {domain.OrderDelivered},
}

// AllowedNext returns the legal next statuses for a given status,
// sorted for stable error messages.
func AllowedNext(from domain.OrderStatus) []domain.OrderStatus {
	next := make([]domain.OrderStatus, len(transitions[from]))
	copy(next, transitions[from])
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// CanTransition reports whether from→to is in the table.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError rejects an illegal transition, naming the allowed
// next states so the caller can fix the request.
type TransitionError struct {
	From, To domain.OrderStatus
}

func (e *TransitionError) Error() string {
	next := AllowedNext(e.From)
	if len(next) == 0 {
		return fmt.Sprintf("orders: %q is terminal, no transitions allowed", e.From)
	}
	names := make([]string, len(next))
	for i, s := range next {
		names[i] = string(s)
	}
	return fmt.Sprintf("orders: cannot transition %q to %q, allowed next: %s",
		e.From, e.To, strings.Join(names, ", "))
}
