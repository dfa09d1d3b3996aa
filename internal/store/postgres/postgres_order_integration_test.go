package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coffybyte/backend/internal/domain"
	"coffybyte/backend/internal/store"
)

func TestOrderTokensAndCheckoutSingularity(t *testing.T) {
	databaseURL := os.Getenv("COFFYBYTE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set COFFYBYTE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	storeID := fmt.Sprintf("it-store-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM checkouts WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM taxes WHERE store_id = $1`, storeID)
	})

	tax, err := s.CreateTax(ctx, domain.Tax{
		StoreID:    storeID,
		Name:       "GST 5%",
		Percentage: decimal.RequireFromString("5"),
	})
	if err != nil {
		t.Fatalf("create tax: %v", err)
	}

	newOrder := func() *domain.Order {
		o, err := s.CreateOrder(ctx, domain.Order{
			StoreID:       storeID,
			Method:        domain.OrderMethodTakeaway,
			CreatedBy:     "it-cashier",
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodPending,
			PaymentStatus: domain.PaymentStatusPending,
		}, []domain.OrderItem{{
			MenuItemID:   "menu-it",
			MenuItemName: "Integration Brew",
			Quantity:     2,
			UnitPrice:    decimal.RequireFromString("10.00"),
			TaxIDs:       []string{tax.ID},
		}})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		return o
	}

	first := newOrder()
	second := newOrder()
	if first.Token != 1 || second.Token != 2 {
		t.Fatalf("expected sequential tokens 1,2 got %d,%d", first.Token, second.Token)
	}

	want := decimal.RequireFromString("21.00")
	if !first.TotalPrice.Equal(want) {
		t.Fatalf("expected total 21.00, got %s", first.TotalPrice)
	}
	wantTax := decimal.RequireFromString("1.00")
	if !first.TotalTax.Equal(wantTax) {
		t.Fatalf("expected tax 1.00, got %s", first.TotalTax)
	}

	checkout := domain.Checkout{
		OrderID:       first.ID,
		StoreID:       storeID,
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
	}
	paid, err := s.CreateCheckout(ctx, checkout, nil)
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if !paid.TotalPrice.Equal(want) || !paid.TaxAmount.Equal(wantTax) {
		t.Fatalf("expected frozen totals %s/%s, got %s/%s", want, wantTax, paid.TotalPrice, paid.TaxAmount)
	}
	if _, err := s.CreateCheckout(ctx, checkout, nil); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second checkout, got %v", err)
	}

	locked, err := s.GetOrder(ctx, storeID, first.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !locked.CheckoutStatus {
		t.Fatal("expected checkout_status true after checkout")
	}
	if _, err := s.AddOrderItem(ctx, storeID, domain.OrderItem{
		OrderID:      first.ID,
		MenuItemID:   "menu-it",
		MenuItemName: "Integration Brew",
		Quantity:     1,
		UnitPrice:    decimal.RequireFromString("10.00"),
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState adding checkout item after checkout, got %v", err)
	}
}
