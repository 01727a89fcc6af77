package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	"github.com/dropDatabas3/storefront/internal/store/memory"
)

func seedProduct(t *testing.T, st *memory.Store, id, sku string, price int64, stock int) {
	t.Helper()
	err := st.Products().Create(context.Background(), &domain.Product{
		ID: id, SKU: sku, Name: "Product " + sku,
		PriceCents: price, Currency: "EUR", Stock: stock, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func stockOf(t *testing.T, st *memory.Store, id string) int {
	t.Helper()
	p, err := st.Products().Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Stock
}

func TestPlace_DecrementsStockAndSums(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1500, 10)
	seedProduct(t, st, "p2", "SKU-2", 400, 3)
	svc := NewService(st)

	o, err := svc.Place(context.Background(), "", "buyer@example.com", []PlaceInput{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.OrderPending {
		t.Fatalf("want pending, got %s", o.Status)
	}
	if o.TotalCents != 2*1500+3*400 {
		t.Fatalf("bad total: %d", o.TotalCents)
	}
	if got := stockOf(t, st, "p1"); got != 8 {
		t.Fatalf("p1 stock: want 8, got %d", got)
	}
	if got := stockOf(t, st, "p2"); got != 0 {
		t.Fatalf("p2 stock: want 0, got %d", got)
	}
	if len(o.Items) != 2 || o.Items[0].SKU != "SKU-1" || o.Items[0].PriceCents != 1500 {
		t.Fatalf("items not snapshotted from catalog: %+v", o.Items)
	}
}

func TestPlace_InsufficientStock(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 1)
	svc := NewService(st)

	_, err := svc.Place(context.Background(), "", "buyer@example.com", []PlaceInput{
		{ProductID: "p1", Quantity: 2},
	}, "")
	if !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
}

func TestPlace_Discounts(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 100)
	mustCreate := func(d domain.Discount) {
		if err := st.Discounts().Create(ctx, &d); err != nil {
			t.Fatal(err)
		}
	}
	mustCreate(domain.Discount{Code: "TEN", Percent: 10, Active: true})
	mustCreate(domain.Discount{Code: "FLAT5", FlatCents: 500, Active: true})
	mustCreate(domain.Discount{Code: "OFF", Percent: 50, Active: false})
	mustCreate(domain.Discount{Code: "OLD", Percent: 50, Active: true, ExpiresAt: time.Now().Add(-time.Hour)})
	mustCreate(domain.Discount{Code: "BIG", FlatCents: 99999, Active: true})

	svc := NewService(st)
	cases := []struct {
		code      string
		wantTotal int64
		applied   bool
	}{
		{"TEN", 1800, true},   // 2000 - 10%
		{"FLAT5", 1500, true}, // 2000 - 500
		{"OFF", 2000, false},  // inactive
		{"OLD", 2000, false},  // expired
		{"NOPE", 2000, false}, // unknown
		{"BIG", 0, true},      // flat larger than total clamps at zero
	}
	for _, tc := range cases {
		o, err := svc.Place(ctx, "", "buyer@example.com", []PlaceInput{{ProductID: "p1", Quantity: 2}}, tc.code)
		if err != nil {
			t.Fatalf("%s: %v", tc.code, err)
		}
		if o.TotalCents != tc.wantTotal {
			t.Fatalf("%s: want total %d, got %d", tc.code, tc.wantTotal, o.TotalCents)
		}
		if tc.applied && o.DiscountCode != tc.code {
			t.Fatalf("%s: discount not recorded on order", tc.code)
		}
		if !tc.applied && o.DiscountCode != "" {
			t.Fatalf("%s: unusable discount must not be recorded, got %q", tc.code, o.DiscountCode)
		}
	}
}

func TestPlace_RejectsBadInput(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 10)
	svc := NewService(st)

	if _, err := svc.Place(context.Background(), "", "a@b.c", nil, ""); err == nil {
		t.Fatal("empty order must fail")
	}
	if _, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{{ProductID: "p1", Quantity: 0}}, ""); err == nil {
		t.Fatal("zero quantity must fail")
	}
	if _, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{{ProductID: "ghost", Quantity: 1}}, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown product: want ErrNotFound, got %v", err)
	}
}

func TestTransitions_Table(t *testing.T) {
	legal := []struct{ from, to domain.OrderStatus }{
		{domain.OrderPending, domain.OrderProcessing},
		{domain.OrderPending, domain.OrderCancelled},
		{domain.OrderProcessing, domain.OrderShipped},
		{domain.OrderProcessing, domain.OrderCancelled},
		{domain.OrderShipped, domain.OrderDelivered},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to domain.OrderStatus }{
		{domain.OrderPending, domain.OrderShipped},
		{domain.OrderPending, domain.OrderDelivered},
		{domain.OrderShipped, domain.OrderCancelled},
		{domain.OrderShipped, domain.OrderProcessing},
		{domain.OrderDelivered, domain.OrderCancelled},
		{domain.OrderCancelled, domain.OrderPending},
		{domain.OrderProcessing, domain.OrderPending},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be illegal", tc.from, tc.to)
		}
	}
}

func TestTransitionError_NamesAllowedNext(t *testing.T) {
	err := &TransitionError{From: domain.OrderPending, To: domain.OrderShipped}
	msg := err.Error()
	for _, want := range []string{"pending", "shipped", "cancelled", "processing"} {
		if !containsStr(msg, want) {
			t.Fatalf("message %q must mention %q", msg, want)
		}
	}

	terminal := &TransitionError{From: domain.OrderDelivered, To: domain.OrderPending}
	if !containsStr(terminal.Error(), "terminal") {
		t.Fatalf("terminal message: %q", terminal.Error())
	}
}

func containsStr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestSetStatus_IllegalTransition(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 10)
	svc := NewService(st)

	o, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{{ProductID: "p1", Quantity: 1}}, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.SetStatus(context.Background(), o.ID, domain.OrderDelivered, "admin-1")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("want *TransitionError, got %v", err)
	}

	got, err := svc.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderPending {
		t.Fatalf("rejected transition must not change status, got %s", got.Status)
	}
}

func TestSetStatus_CancelRestocks(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 10)
	seedProduct(t, st, "p2", "SKU-2", 500, 5)
	svc := NewService(st)

	o, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{
		{ProductID: "p1", Quantity: 4},
		{ProductID: "p2", Quantity: 5},
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SetStatus(context.Background(), o.ID, domain.OrderCancelled, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if got := stockOf(t, st, "p1"); got != 10 {
		t.Fatalf("p1 stock after cancel: want 10, got %d", got)
	}
	if got := stockOf(t, st, "p2"); got != 5 {
		t.Fatalf("p2 stock after cancel: want 5, got %d", got)
	}

	entries, err := st.Products().InventoryLog(context.Background(), "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[0].Reason != "order_cancelled:"+o.ID {
		t.Fatalf("restock must be journaled, got %+v", entries)
	}
}

func TestSetStatus_CancelIsAtomic(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 10)
	svc := NewService(st)

	o, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{{ProductID: "p1", Quantity: 3}}, "")
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("commit refused")
	st.OnBeforeCommit = func(op string) error {
		if op == "orders.cancel_restock" {
			return boom
		}
		return nil
	}
	if _, err := svc.SetStatus(context.Background(), o.ID, domain.OrderCancelled, "admin-1"); !errors.Is(err, boom) {
		t.Fatalf("want injected commit error, got %v", err)
	}

	// No partial application: status and stock both untouched.
	got, err := svc.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderPending {
		t.Fatalf("status must be unchanged after failed cancel, got %s", got.Status)
	}
	if stock := stockOf(t, st, "p1"); stock != 7 {
		t.Fatalf("stock must be unchanged after failed cancel, got %d", stock)
	}

	// Lifting the failure lets the same cancel succeed.
	st.OnBeforeCommit = nil
	if _, err := svc.SetStatus(context.Background(), o.ID, domain.OrderCancelled, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if stock := stockOf(t, st, "p1"); stock != 10 {
		t.Fatalf("stock after successful cancel: want 10, got %d", stock)
	}
}

func TestSetStatus_FullLifecycle(t *testing.T) {
	st := memory.New()
	seedProduct(t, st, "p1", "SKU-1", 1000, 10)
	svc := NewService(st)

	o, err := svc.Place(context.Background(), "", "a@b.c", []PlaceInput{{ProductID: "p1", Quantity: 1}}, "")
	if err != nil {
		t.Fatal(err)
	}

	for _, next := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderShipped, domain.OrderDelivered} {
		got, err := svc.SetStatus(context.Background(), o.ID, next, "admin-1")
		if err != nil {
			t.Fatalf("to %s: %v", next, err)
		}
		if got.Status != next {
			t.Fatalf("want %s, got %s", next, got.Status)
		}
	}
	if stock := stockOf(t, st, "p1"); stock != 9 {
		t.Fatalf("delivery must not touch stock, got %d", stock)
	}
}
