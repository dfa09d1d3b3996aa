package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coffybyte/backend/internal/cache"
	"coffybyte/backend/internal/domain"
	"coffybyte/backend/internal/store"
	"coffybyte/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopMenuCache{}, 5*time.Second, "main-store")
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func mustCreateOrder(t *testing.T, svc *Service, req domain.OrderCreateRequest) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(cashierCtx(), req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateOrderComputesTaxInclusiveTotals(t *testing.T) {
	svc := newTestService()

	// Cappuccino 10.00 + Extra Shot 1.00, qty 2, GST 5%:
	// line 22.00, tax 1.10, total 23.10.
	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{{
			MenuItemID:  "menu-cappuccino",
			Quantity:    2,
			ModifierIDs: []string{"mod-extra-shot"},
		}},
	})

	if !order.TotalBeforeTax.Equal(dec("22.00")) {
		t.Fatalf("expected before-tax 22.00, got %s", order.TotalBeforeTax)
	}
	if !order.TotalTax.Equal(dec("1.10")) {
		t.Fatalf("expected tax 1.10, got %s", order.TotalTax)
	}
	if !order.TotalPrice.Equal(dec("23.10")) {
		t.Fatalf("expected total 23.10, got %s", order.TotalPrice)
	}
	if !order.TotalPrice.Equal(order.TotalBeforeTax.Add(order.TotalTax)) {
		t.Fatalf("totals invariant violated: %s != %s + %s", order.TotalPrice, order.TotalBeforeTax, order.TotalTax)
	}
	if order.Token != 1 {
		t.Fatalf("expected first daily token 1, got %d", order.Token)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected Pending, got %s", order.Status)
	}
}

func TestSavedItemsExcludedFromTotals(t *testing.T) {
	svc := newTestService()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 2},
			{MenuItemID: "menu-croissant", Quantity: 1, SavedForLater: true},
		},
	})

	// Only the espresso line counts: 15.00 + 5% = 15.75.
	if !order.TotalPrice.Equal(dec("15.75")) {
		t.Fatalf("expected total 15.75 with saved item excluded, got %s", order.TotalPrice)
	}
}

func TestMoveItemsToSavedAndBack(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1},
		},
	})
	itemID := order.Items[0].ID

	resp, err := svc.MoveItems(ctx, "", order.ID, domain.ItemMoveRequest{
		ItemIDs:   []string{itemID},
		Direction: domain.MoveToSaved,
		Notes:     "customer stepped out",
	})
	if err != nil {
		t.Fatalf("move to saved: %v", err)
	}
	if len(resp.MovedItemIDs) != 1 {
		t.Fatalf("expected 1 moved item, got %d", len(resp.MovedItemIDs))
	}
	if !resp.Order.TotalPrice.IsZero() {
		t.Fatalf("expected zero total with everything saved, got %s", resp.Order.TotalPrice)
	}

	logs, err := svc.ListSavedItemsLogs(ctx, "", order.ID)
	if err != nil {
		t.Fatalf("list saved logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 saved-items log, got %d", len(logs))
	}
	if logs[0].ItemsCount != 1 || logs[0].SavedBy != "cashier" {
		t.Fatalf("unexpected log entry: %+v", logs[0])
	}
	if !logs[0].TotalAmount.Equal(dec("7.50")) {
		t.Fatalf("expected saved amount 7.50, got %s", logs[0].TotalAmount)
	}

	resp, err = svc.MoveItems(ctx, "", order.ID, domain.ItemMoveRequest{
		ItemIDs:   []string{itemID},
		Direction: domain.MoveToCheckout,
	})
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if !resp.Order.TotalPrice.Equal(dec("7.88")) {
		// 7.50 + 5% tax 0.38
		t.Fatalf("expected restored total 7.88, got %s", resp.Order.TotalPrice)
	}
	if resp.Order.Items[0].MovedToCheckoutAt == nil {
		t.Fatal("expected moved_to_checkout_at to be set")
	}

	// Moving an already-checkout item is a no-op, not an error.
	resp, err = svc.MoveItems(ctx, "", order.ID, domain.ItemMoveRequest{
		ItemIDs:   []string{itemID},
		Direction: domain.MoveToCheckout,
	})
	if err != nil {
		t.Fatalf("redundant move: %v", err)
	}
	if len(resp.MovedItemIDs) != 0 {
		t.Fatalf("expected no items moved, got %v", resp.MovedItemIDs)
	}
}

func TestRecalculateTotalsIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-croissant", Quantity: 3},
		},
	})

	first, err := svc.RecalculateTotals(ctx, "", order.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	second, err := svc.RecalculateTotals(ctx, "", order.ID)
	if err != nil {
		t.Fatalf("recalculate again: %v", err)
	}
	if !first.TotalPrice.Equal(second.TotalPrice) || !first.TotalTax.Equal(second.TotalTax) {
		t.Fatalf("recalculation not idempotent: %s/%s vs %s/%s", first.TotalPrice, first.TotalTax, second.TotalPrice, second.TotalTax)
	}
	if !first.TotalPrice.Equal(order.TotalPrice) {
		t.Fatalf("recalculation changed an already-consistent total: %s vs %s", first.TotalPrice, order.TotalPrice)
	}
}

func TestDailyTokensArePermutationUnderConcurrency(t *testing.T) {
	svc := newTestService()
	const n = 20

	var wg sync.WaitGroup
	tokens := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
				Method: domain.OrderMethodTakeaway,
				Items: []domain.OrderItemCreateRequest{
					{MenuItemID: "menu-espresso", Quantity: 1},
				},
			})
			if err != nil {
				t.Errorf("create order %d: %v", idx, err)
				return
			}
			tokens[idx] = order.Token
		}(i)
	}
	wg.Wait()

	sort.Ints(tokens)
	for i, token := range tokens {
		if token != i+1 {
			t.Fatalf("tokens are not a permutation of 1..%d: %v", n, tokens)
		}
	}
}

func TestTokensAreScopedPerStore(t *testing.T) {
	svc := newTestService()

	main := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})
	branch := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		StoreID: "branch-2",
		Method:  domain.OrderMethodTakeaway,
		Items:   []domain.OrderItemCreateRequest{{MenuItemID: "menu-branch-mocha", Quantity: 1}},
	})
	if main.Token != 1 || branch.Token != 1 {
		t.Fatalf("expected independent token sequences per store, got %d and %d", main.Token, branch.Token)
	}
}

func TestCheckoutSplitPaymentTolerance(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-cappuccino", Quantity: 2},
		},
	})
	// 20.00 + 5% = 21.00

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodSplit,
		Splits: &domain.SplitAmounts{
			Cash: dec("10.00"),
			Card: dec("11.02"),
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for split off by 0.02, got %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodSplit,
		Splits: &domain.SplitAmounts{
			Cash: dec("10.00"),
			Card: dec("11.00"),
		},
	})
	if err != nil {
		t.Fatalf("checkout with exact split: %v", err)
	}
	if !resp.FinalAmount.Equal(dec("21.00")) {
		t.Fatalf("expected final amount 21.00, got %s", resp.FinalAmount)
	}
	if !resp.Checkout.CashAmount.Equal(dec("10.00")) || !resp.Checkout.CardAmount.Equal(dec("11.00")) {
		t.Fatalf("split amounts not recorded: %+v", resp.Checkout)
	}
}

func TestCheckoutIsSingularAndFreezesOrder(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1},
		},
	})

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second checkout, got %v", err)
	}

	// In-checkout items are frozen after checkout.
	_, err = svc.AddItem(ctx, "", order.ID, domain.OrderItemCreateRequest{
		MenuItemID: "menu-espresso",
		Quantity:   1,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState adding item after checkout, got %v", err)
	}

	// Saved-for-later additions remain allowed.
	updated, err := svc.AddItem(ctx, "", order.ID, domain.OrderItemCreateRequest{
		MenuItemID:    "menu-espresso",
		Quantity:      1,
		SavedForLater: true,
	})
	if err != nil {
		t.Fatalf("adding saved item after checkout: %v", err)
	}
	if len(updated.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(updated.Items))
	}
}

// rivalTerminalRepo injects an item right as the checkout begins, standing in
// for a second terminal mutating the order concurrently.
type rivalTerminalRepo struct {
	store.Repository
	inject domain.OrderItem
}

func (r *rivalTerminalRepo) CreateCheckout(ctx context.Context, checkout domain.Checkout, finalize func(*domain.Checkout) error) (*domain.Checkout, error) {
	if _, err := r.Repository.AddOrderItem(ctx, checkout.StoreID, r.inject); err != nil {
		return nil, err
	}
	return r.Repository.CreateCheckout(ctx, checkout, finalize)
}

func TestCheckoutFreezesTotalsOfCurrentItemSet(t *testing.T) {
	repo := memory.NewSeeded()
	wrapped := &rivalTerminalRepo{Repository: repo}
	svc := New(wrapped, cache.NoopMenuCache{}, 5*time.Second, "main-store")
	ctx := cashierCtx()

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	wrapped.inject = domain.OrderItem{
		OrderID:      order.ID,
		MenuItemID:   "menu-espresso",
		MenuItemName: "Espresso",
		Quantity:     3,
		UnitPrice:    dec("7.50"),
		TaxIDs:       []string{"tax-gst5"},
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// 4 espressos: 30.00 + tax 0.38 + 1.13 = 31.51.
	if !resp.Checkout.TotalPrice.Equal(resp.Order.TotalPrice) {
		t.Fatalf("checkout froze stale totals: checkout=%s order=%s", resp.Checkout.TotalPrice, resp.Order.TotalPrice)
	}
	if !resp.Checkout.TotalPrice.Equal(dec("31.51")) {
		t.Fatalf("expected frozen total 31.51, got %s", resp.Checkout.TotalPrice)
	}
	if !resp.FinalAmount.Equal(dec("31.51")) {
		t.Fatalf("expected final amount 31.51, got %s", resp.FinalAmount)
	}
}

func TestSplitValidatedAgainstFrozenAmount(t *testing.T) {
	repo := memory.NewSeeded()
	wrapped := &rivalTerminalRepo{Repository: repo}
	svc := New(wrapped, cache.NoopMenuCache{}, 5*time.Second, "main-store")
	ctx := cashierCtx()

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	wrapped.inject = domain.OrderItem{
		OrderID:      order.ID,
		MenuItemID:   "menu-espresso",
		MenuItemName: "Espresso",
		Quantity:     3,
		UnitPrice:    dec("7.50"),
		TaxIDs:       []string{"tax-gst5"},
	}

	// Splits summing to the pre-mutation total (7.88) must be rejected;
	// the order being paid for is now worth 31.51.
	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodSplit,
		Splits: &domain.SplitAmounts{
			Cash: dec("7.88"),
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for split against stale amount, got %v", err)
	}
}

func TestCheckoutRequiresCheckoutItems(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1, SavedForLater: true},
		},
	})

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState checking out an all-saved order, got %v", err)
	}
}

func TestDineInRequiresActiveTableInStore(t *testing.T) {
	svc := newTestService()
	items := []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}}

	cases := []struct {
		name    string
		tableID string
	}{
		{"missing table", ""},
		{"inactive table", "tbl-3"},
		{"cross-store table", "tbl-branch-1"},
		{"unknown table", "tbl-nope"},
	}
	for _, tc := range cases {
		_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
			Method:  domain.OrderMethodDineIn,
			TableID: tc.tableID,
			Items:   items,
		})
		if !errors.Is(err, store.ErrInvalidReference) {
			t.Fatalf("%s: expected ErrInvalidReference, got %v", tc.name, err)
		}
	}

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method:  domain.OrderMethodDineIn,
		TableID: "tbl-1",
		Items:   items,
	})
	if order.TableID != "tbl-1" {
		t.Fatalf("expected table tbl-1, got %s", order.TableID)
	}
}

func TestCrossStoreMenuItemRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-branch-mocha", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for cross-store menu item, got %v", err)
	}
}

func TestInactiveMenuItemRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-retired-mocha", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for inactive menu item, got %v", err)
	}
}

func TestUnitPriceIsSnapshottedAtAddTime(t *testing.T) {
	svc := newTestService()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 2},
		},
	})
	before := order.TotalPrice

	newPrice := dec("9.99")
	if _, err := svc.UpdateMenuItem(adminCtx(), "", "menu-espresso", domain.MenuItemUpdateRequest{
		Price: &newPrice,
	}); err != nil {
		t.Fatalf("update menu price: %v", err)
	}

	after, err := svc.RecalculateTotals(cashierCtx(), "", order.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !after.TotalPrice.Equal(before) {
		t.Fatalf("catalog price change leaked into existing order: %s -> %s", before, after.TotalPrice)
	}
	if !after.Items[0].UnitPrice.Equal(dec("7.50")) {
		t.Fatalf("expected snapshotted unit price 7.50, got %s", after.Items[0].UnitPrice)
	}
}

func TestTaxOverrideReplacesMenuDefaults(t *testing.T) {
	svc := newTestService()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{{
			MenuItemID:  "menu-espresso",
			Quantity:    1,
			TaxOverride: true,
		}},
	})
	if !order.TotalTax.IsZero() {
		t.Fatalf("expected zero tax with empty override, got %s", order.TotalTax)
	}
	if !order.TotalPrice.Equal(dec("7.50")) {
		t.Fatalf("expected total 7.50, got %s", order.TotalPrice)
	}
}

func TestItemAssociationModes(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1},
		},
	})
	itemID := order.Items[0].ID

	// add: 7.50 + oat milk 0.75 = 8.25, 5% tax 0.41, total 8.66
	updated, err := svc.SetItemAssociations(ctx, "", itemID, domain.ItemAssocUpdateRequest{
		ModifierIDs: []string{"mod-oat-milk"},
		Mode:        domain.AssocModeAdd,
	})
	if err != nil {
		t.Fatalf("add associations: %v", err)
	}
	if !updated.TotalPrice.Equal(dec("8.66")) {
		t.Fatalf("expected total 8.66 after add, got %s", updated.TotalPrice)
	}

	// remove the tax: total falls back to the bare line.
	updated, err = svc.SetItemAssociations(ctx, "", itemID, domain.ItemAssocUpdateRequest{
		TaxIDs: []string{"tax-gst5"},
		Mode:   domain.AssocModeRemove,
	})
	if err != nil {
		t.Fatalf("remove associations: %v", err)
	}
	if !updated.TotalPrice.Equal(dec("8.25")) {
		t.Fatalf("expected total 8.25 after tax removal, got %s", updated.TotalPrice)
	}

	// replace: back to the plain taxed espresso.
	updated, err = svc.SetItemAssociations(ctx, "", itemID, domain.ItemAssocUpdateRequest{
		TaxIDs: []string{"tax-gst5"},
		Mode:   domain.AssocModeReplace,
	})
	if err != nil {
		t.Fatalf("replace associations: %v", err)
	}
	if !updated.TotalPrice.Equal(dec("7.88")) {
		t.Fatalf("expected total 7.88 after replace, got %s", updated.TotalPrice)
	}

	_, err = svc.SetItemAssociations(ctx, "", itemID, domain.ItemAssocUpdateRequest{
		TaxIDs: []string{"tax-branch-gst5"},
		Mode:   domain.AssocModeAdd,
	})
	if !errors.Is(err, store.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for cross-store tax, got %v", err)
	}
}

func TestItemCompletionAutoReadiesOrder(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1},
			{MenuItemID: "menu-croissant", Quantity: 1},
			{MenuItemID: "menu-cappuccino", Quantity: 1, SavedForLater: true},
		},
	})

	updated, err := svc.SetItemCompletion(ctx, "", order.Items[0].ID, true)
	if err != nil {
		t.Fatalf("complete first item: %v", err)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("order should not be ready with an incomplete item, got %s", updated.Status)
	}

	// The saved cappuccino never blocks readiness.
	updated, err = svc.SetItemCompletion(ctx, "", order.Items[1].ID, true)
	if err != nil {
		t.Fatalf("complete second item: %v", err)
	}
	if updated.Status != domain.OrderStatusOrderReady {
		t.Fatalf("expected Order Ready once checkout items are done, got %s", updated.Status)
	}
}

func TestKitchenDisplaySkipsFullySavedOrders(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	active := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})
	mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-croissant", Quantity: 1, SavedForLater: true}},
	})

	orders, err := svc.KitchenDisplay(ctx, "")
	if err != nil {
		t.Fatalf("kitchen display: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != active.ID {
		t.Fatalf("expected only the active order on the kitchen display, got %d orders", len(orders))
	}
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateTax(cashierCtx(), domain.TaxCreateRequest{
		Name:       "Luxury 20%",
		Percentage: dec("20"),
	})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected ErrAdminRequired for cashier, got %v", err)
	}

	created, err := svc.CreateTax(adminCtx(), domain.TaxCreateRequest{
		Name:       "Luxury 20%",
		Percentage: dec("20"),
	})
	if err != nil {
		t.Fatalf("admin create tax: %v", err)
	}
	if !created.Active {
		t.Fatal("expected new tax to be active")
	}
}

func TestQuantityUpdateRecalculatesTotals(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})

	qty := 4
	updated, err := svc.UpdateItem(ctx, "", order.Items[0].ID, domain.OrderItemUpdateRequest{Quantity: &qty})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	// 30.00 + 5% = 31.50
	if !updated.TotalPrice.Equal(dec("31.50")) {
		t.Fatalf("expected total 31.50 after quantity change, got %s", updated.TotalPrice)
	}

	badQty := 0
	if _, err := svc.UpdateItem(ctx, "", order.Items[0].ID, domain.OrderItemUpdateRequest{Quantity: &badQty}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
}

func TestRemoveLastItemLeavesZeroTotals(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})

	updated, err := svc.RemoveItem(ctx, "", order.Items[0].ID)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(updated.Items))
	}
	if !updated.TotalPrice.IsZero() || !updated.TotalTax.IsZero() {
		t.Fatalf("expected zero totals, got %s / %s", updated.TotalPrice, updated.TotalTax)
	}
}

func TestReceiptPartitionsItemsAndUsesCheckoutAmounts(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-cappuccino", Quantity: 2, ModifierIDs: []string{"mod-extra-shot"}},
			{MenuItemID: "menu-croissant", Quantity: 1, SavedForLater: true},
		},
	})

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCard,
		ServiceCharge: dec("2.00"),
		DiscountAmount: dec("1.00"),
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	receipt, err := svc.Receipt(ctx, "", order.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if len(receipt.CheckoutItems) != 1 || len(receipt.SavedItems) != 1 {
		t.Fatalf("expected 1 checkout and 1 saved line, got %d/%d", len(receipt.CheckoutItems), len(receipt.SavedItems))
	}
	if !receipt.CheckoutItems[0].LineTotal.Equal(dec("22.00")) {
		t.Fatalf("expected line total 22.00, got %s", receipt.CheckoutItems[0].LineTotal)
	}
	// 23.10 + 2.00 service - 1.00 discount
	if !receipt.FinalAmount.Equal(dec("24.10")) {
		t.Fatalf("expected final amount 24.10, got %s", receipt.FinalAmount)
	}
	if receipt.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("expected Card payment on receipt, got %s", receipt.PaymentMethod)
	}
}

func TestOrderStatisticsCountSavedOrders(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-espresso", Quantity: 1},
			{MenuItemID: "menu-croissant", Quantity: 1, SavedForLater: true},
		},
	})
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	stats, err := svc.OrderStatistics(ctx, "")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TodayOrders != 1 {
		t.Fatalf("expected 1 order today, got %d", stats.TodayOrders)
	}
	if stats.OrdersWithSavedItems != 1 {
		t.Fatalf("expected 1 order with saved items, got %d", stats.OrdersWithSavedItems)
	}
	if !stats.TodayRevenue.Equal(dec("7.88")) {
		t.Fatalf("expected revenue 7.88, got %s", stats.TodayRevenue)
	}
}

func TestMenuTaxSplitRecomputedOnAssociationChange(t *testing.T) {
	svc := newTestService()

	menu, err := svc.ListMenu(cashierCtx(), "")
	if err != nil {
		t.Fatalf("list menu: %v", err)
	}
	var cappuccino domain.MenuItem
	for _, item := range menu {
		if item.ID == "menu-cappuccino" {
			cappuccino = item
		}
	}
	// 10.00 at 5% inclusive: 9.52 before tax, 0.48 contained tax.
	if !cappuccino.PriceBeforeTax.Equal(dec("9.52")) || !cappuccino.TaxAmount.Equal(dec("0.48")) {
		t.Fatalf("unexpected tax split %s/%s", cappuccino.PriceBeforeTax, cappuccino.TaxAmount)
	}

	updated, err := svc.SetMenuItemAssociations(adminCtx(), "", "menu-cappuccino", domain.MenuItemAssocRequest{
		TaxIDs:      []string{"tax-gst5", "tax-vat10"},
		ModifierIDs: []string{"mod-extra-shot"},
	})
	if err != nil {
		t.Fatalf("set associations: %v", err)
	}
	// 10.00 at 15% inclusive: 8.70 before tax, 1.30 contained tax.
	if !updated.PriceBeforeTax.Equal(dec("8.70")) || !updated.TaxAmount.Equal(dec("1.30")) {
		t.Fatalf("expected recomputed split 8.70/1.30, got %s/%s", updated.PriceBeforeTax, updated.TaxAmount)
	}
}

func TestListOrdersFilters(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	open := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})
	paid := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodTakeaway,
		Items: []domain.OrderItemCreateRequest{
			{MenuItemID: "menu-croissant", Quantity: 1},
			{MenuItemID: "menu-espresso", Quantity: 1, SavedForLater: true},
		},
	})
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       paid.ID,
		PaymentMethod: domain.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	checkedOut := true
	orders, err := svc.ListOrders(ctx, "", domain.OrderFilter{CheckoutStatus: &checkedOut})
	if err != nil {
		t.Fatalf("list checked-out: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != paid.ID {
		t.Fatalf("expected only the paid order, got %d orders", len(orders))
	}

	orders, err = svc.ListOrders(ctx, "", domain.OrderFilter{HasSavedItems: true})
	if err != nil {
		t.Fatalf("list saved: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != paid.ID {
		t.Fatalf("expected only the order with saved items, got %d orders", len(orders))
	}

	orders, err = svc.ListOrders(ctx, "", domain.OrderFilter{Status: domain.OrderStatusPending})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	foundOpen := false
	for _, o := range orders {
		if o.ID == open.ID {
			foundOpen = true
		}
	}
	if !foundOpen {
		t.Fatal("expected the open order in the pending list")
	}

	if _, err := svc.ListOrders(ctx, "", domain.OrderFilter{Status: "Nonsense"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status filter, got %v", err)
	}
}

func TestDeliveryCheckoutRequiresAddress(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	order := mustCreateOrder(t, svc, domain.OrderCreateRequest{
		Method: domain.OrderMethodDelivery,
		Items:  []domain.OrderItemCreateRequest{{MenuItemID: "menu-espresso", Quantity: 1}},
	})

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for delivery without address, got %v", err)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID:         order.ID,
		PaymentMethod:   domain.PaymentMethodCash,
		DeliveryAddress: "12 Bean Street",
	}); err != nil {
		t.Fatalf("delivery checkout with address: %v", err)
	}
}
