package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coffybyte/backend/internal/cache"
	"coffybyte/backend/internal/domain"
	"coffybyte/backend/internal/pricing"
	"coffybyte/backend/internal/store"
	"coffybyte/backend/internal/xid"
)

// ErrAdminRequired is returned by operations reserved for the admin role.
var ErrAdminRequired = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	menuCache      cache.MenuCache
	menuCacheTTL   time.Duration
	defaultStoreID string
}

func New(repo store.Repository, menuCache cache.MenuCache, menuCacheTTL time.Duration, defaultStoreID string) *Service {
	if menuCache == nil {
		menuCache = cache.NoopMenuCache{}
	}
	if menuCacheTTL <= 0 {
		menuCacheTTL = 5 * time.Minute
	}
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}

	return &Service{
		repo:           repo,
		menuCache:      menuCache,
		menuCacheTTL:   menuCacheTTL,
		defaultStoreID: defaultStoreID,
	}
}

func (s *Service) storeID(raw string) string {
	if raw == "" {
		return s.defaultStoreID
	}
	return raw
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	return nil
}

func (s *Service) actorUsername(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "system"
	}
	return actor.Username
}

func (s *Service) invalidateMenu(ctx context.Context, storeID string) {
	if err := s.menuCache.Invalidate(ctx, storeID); err != nil {
		log.Printf("[service] WARN: failed to invalidate menu cache store=%s: %v", storeID, err)
	}
}

// Tables

func (s *Service) CreateTable(ctx context.Context, req domain.TableCreateRequest) (domain.Table, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Table{}, err
	}
	created, err := s.repo.CreateTable(ctx, domain.Table{
		StoreID: s.storeID(req.StoreID),
		Number:  req.Number,
		Seats:   req.Seats,
	})
	if err != nil {
		return domain.Table{}, err
	}
	log.Printf("[audit] actor=%s action=table_create store=%s number=%d", s.actorUsername(ctx), created.StoreID, created.Number)
	return *created, nil
}

func (s *Service) ListTables(ctx context.Context, storeID string) ([]domain.Table, error) {
	return s.repo.ListTables(ctx, s.storeID(storeID))
}

func (s *Service) SetTableActive(ctx context.Context, storeID string, tableID string, active bool) (domain.Table, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Table{}, err
	}
	updated, err := s.repo.SetTableActive(ctx, s.storeID(storeID), tableID, active)
	if err != nil {
		return domain.Table{}, err
	}
	return *updated, nil
}

// Taxes

func (s *Service) CreateTax(ctx context.Context, req domain.TaxCreateRequest) (domain.Tax, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Tax{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Percentage.Sign() < 0 {
		return domain.Tax{}, store.ErrValidation
	}
	created, err := s.repo.CreateTax(ctx, domain.Tax{
		StoreID:    s.storeID(req.StoreID),
		Name:       req.Name,
		Percentage: req.Percentage,
	})
	if err != nil {
		return domain.Tax{}, err
	}
	s.invalidateMenu(ctx, created.StoreID)
	log.Printf("[audit] actor=%s action=tax_create store=%s name=%s pct=%s", s.actorUsername(ctx), created.StoreID, created.Name, created.Percentage)
	return *created, nil
}

func (s *Service) ListTaxes(ctx context.Context, storeID string) ([]domain.Tax, error) {
	return s.repo.ListTaxes(ctx, s.storeID(storeID))
}

func (s *Service) UpdateTax(ctx context.Context, storeID string, taxID string, req domain.TaxUpdateRequest) (domain.Tax, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Tax{}, err
	}
	storeID = s.storeID(storeID)

	taxes, err := s.repo.GetTaxesByIDs(ctx, storeID, []string{taxID})
	if err != nil {
		return domain.Tax{}, err
	}
	existing, ok := taxes[taxID]
	if !ok {
		return domain.Tax{}, store.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Tax{}, store.ErrValidation
		}
		existing.Name = name
	}
	if req.Percentage != nil {
		if req.Percentage.Sign() < 0 {
			return domain.Tax{}, store.ErrValidation
		}
		existing.Percentage = *req.Percentage
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	updated, err := s.repo.UpdateTax(ctx, existing)
	if err != nil {
		return domain.Tax{}, err
	}
	s.invalidateMenu(ctx, storeID)
	return *updated, nil
}

// Modifiers

func (s *Service) CreateModifier(ctx context.Context, req domain.ModifierCreateRequest) (domain.Modifier, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Modifier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price.Sign() < 0 {
		return domain.Modifier{}, store.ErrValidation
	}
	created, err := s.repo.CreateModifier(ctx, domain.Modifier{
		StoreID: s.storeID(req.StoreID),
		Name:    req.Name,
		Price:   req.Price.Round(2),
	})
	if err != nil {
		return domain.Modifier{}, err
	}
	s.invalidateMenu(ctx, created.StoreID)
	log.Printf("[audit] actor=%s action=modifier_create store=%s name=%s price=%s", s.actorUsername(ctx), created.StoreID, created.Name, created.Price)
	return *created, nil
}

func (s *Service) ListModifiers(ctx context.Context, storeID string) ([]domain.Modifier, error) {
	return s.repo.ListModifiers(ctx, s.storeID(storeID))
}

func (s *Service) UpdateModifier(ctx context.Context, storeID string, modifierID string, req domain.ModifierUpdateRequest) (domain.Modifier, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Modifier{}, err
	}
	storeID = s.storeID(storeID)

	modifiers, err := s.repo.GetModifiersByIDs(ctx, storeID, []string{modifierID})
	if err != nil {
		return domain.Modifier{}, err
	}
	existing, ok := modifiers[modifierID]
	if !ok {
		return domain.Modifier{}, store.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Modifier{}, store.ErrValidation
		}
		existing.Name = name
	}
	if req.Price != nil {
		if req.Price.Sign() < 0 {
			return domain.Modifier{}, store.ErrValidation
		}
		existing.Price = req.Price.Round(2)
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	updated, err := s.repo.UpdateModifier(ctx, existing)
	if err != nil {
		return domain.Modifier{}, err
	}
	s.invalidateMenu(ctx, storeID)
	return *updated, nil
}

// Categories

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Category{}, store.ErrValidation
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		StoreID: s.storeID(req.StoreID),
		Name:    req.Name,
	})
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context, storeID string) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx, s.storeID(storeID))
}

// Menu

func (s *Service) CreateMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.MenuItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MenuItem{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price.Sign() <= 0 {
		return domain.MenuItem{}, store.ErrValidation
	}
	created, err := s.repo.CreateMenuItem(ctx, domain.MenuItem{
		StoreID:     s.storeID(req.StoreID),
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Price:       req.Price.Round(2),
		TaxIDs:      req.TaxIDs,
		ModifierIDs: req.ModifierIDs,
	})
	if err != nil {
		return domain.MenuItem{}, err
	}
	s.invalidateMenu(ctx, created.StoreID)
	log.Printf("[audit] actor=%s action=menu_create store=%s name=%s price=%s", s.actorUsername(ctx), created.StoreID, created.Name, created.Price)
	return *created, nil
}

func (s *Service) UpdateMenuItem(ctx context.Context, storeID string, itemID string, req domain.MenuItemUpdateRequest) (domain.MenuItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MenuItem{}, err
	}
	storeID = s.storeID(storeID)

	existing, err := s.repo.GetMenuItem(ctx, storeID, itemID)
	if err != nil {
		return domain.MenuItem{}, err
	}

	updated := *existing
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.MenuItem{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Price != nil {
		if req.Price.Sign() <= 0 {
			return domain.MenuItem{}, store.ErrValidation
		}
		updated.Price = req.Price.Round(2)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateMenuItem(ctx, updated)
	if err != nil {
		return domain.MenuItem{}, err
	}
	s.invalidateMenu(ctx, storeID)
	return *saved, nil
}

func (s *Service) SetMenuItemAssociations(ctx context.Context, storeID string, itemID string, req domain.MenuItemAssocRequest) (domain.MenuItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MenuItem{}, err
	}
	storeID = s.storeID(storeID)

	updated, err := s.repo.SetMenuItemAssociations(ctx, storeID, itemID, req.TaxIDs, req.ModifierIDs)
	if err != nil {
		return domain.MenuItem{}, err
	}
	s.invalidateMenu(ctx, storeID)
	return *updated, nil
}

// ListMenu serves the POS menu, read-through against the store's cache.
func (s *Service) ListMenu(ctx context.Context, storeID string) ([]domain.MenuItem, error) {
	storeID = s.storeID(storeID)

	if cached, ok, err := s.menuCache.Get(ctx, storeID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: menu cache read failed store=%s: %v", storeID, err)
	}

	items, err := s.repo.ListMenuItems(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := s.menuCache.Set(ctx, storeID, items, s.menuCacheTTL); err != nil {
		log.Printf("[service] WARN: menu cache write failed store=%s: %v", storeID, err)
	}
	return items, nil
}

// Orders

// resolveOrderItem turns an incoming item request into a persisted order item,
// snapshotting the current menu price and name. Taxes default to the menu
// item's linked taxes unless the request explicitly overrides them.
func (s *Service) resolveOrderItem(ctx context.Context, storeID string, req domain.OrderItemCreateRequest) (domain.OrderItem, error) {
	if req.Quantity < 1 {
		return domain.OrderItem{}, store.ErrValidation
	}

	menuItem, err := s.repo.GetMenuItem(ctx, storeID, req.MenuItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.OrderItem{}, store.ErrInvalidReference
		}
		return domain.OrderItem{}, err
	}
	if !menuItem.Active {
		return domain.OrderItem{}, store.ErrInvalidReference
	}

	taxIDs := menuItem.TaxIDs
	if req.TaxOverride {
		taxIDs = req.TaxIDs
	}
	taxes, err := s.repo.GetTaxesByIDs(ctx, storeID, taxIDs)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if len(taxes) != len(taxIDs) {
		return domain.OrderItem{}, store.ErrInvalidReference
	}

	modifiers, err := s.repo.GetModifiersByIDs(ctx, storeID, req.ModifierIDs)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if len(modifiers) != len(req.ModifierIDs) {
		return domain.OrderItem{}, store.ErrInvalidReference
	}

	return domain.OrderItem{
		ID:            xid.New("item"),
		MenuItemID:    menuItem.ID,
		MenuItemName:  menuItem.Name,
		Quantity:      req.Quantity,
		UnitPrice:     menuItem.Price,
		Instructions:  strings.TrimSpace(req.Instructions),
		ModifierIDs:   append([]string(nil), req.ModifierIDs...),
		TaxIDs:        append([]string(nil), taxIDs...),
		SavedForLater: req.SavedForLater,
	}, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	storeID := s.storeID(req.StoreID)

	if !domain.ValidOrderMethod(req.Method) {
		return domain.Order{}, store.ErrValidation
	}
	if len(req.Items) == 0 {
		return domain.Order{}, store.ErrValidation
	}

	if req.Method == domain.OrderMethodDineIn {
		if req.TableID == "" {
			return domain.Order{}, store.ErrInvalidReference
		}
		table, err := s.repo.GetTable(ctx, storeID, req.TableID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Order{}, store.ErrInvalidReference
			}
			return domain.Order{}, err
		}
		if !table.Active {
			return domain.Order{}, store.ErrInvalidReference
		}
	} else {
		req.TableID = ""
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, itemReq := range req.Items {
		item, err := s.resolveOrderItem(ctx, storeID, itemReq)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, item)
	}

	order := domain.Order{
		ID:            xid.New("ord"),
		StoreID:       storeID,
		Method:        req.Method,
		TableID:       req.TableID,
		CreatedBy:     s.actorUsername(ctx),
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodPending,
		PaymentStatus: domain.PaymentStatusPending,
	}

	created, err := s.repo.CreateOrder(ctx, order, items)
	if err != nil {
		return domain.Order{}, err
	}
	log.Printf("[audit] actor=%s action=order_create store=%s order=%s token=%d total=%s", order.CreatedBy, storeID, created.ID, created.Token, created.TotalPrice)
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, storeID string, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, s.storeID(storeID), orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, storeID string, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !domain.ValidOrderStatus(filter.Status) {
		return nil, store.ErrValidation
	}
	if filter.Method != "" && !domain.ValidOrderMethod(filter.Method) {
		return nil, store.ErrValidation
	}
	return s.repo.ListOrders(ctx, s.storeID(storeID), filter)
}

func (s *Service) UpdateOrderStatus(ctx context.Context, storeID string, orderID string, status string) (domain.Order, error) {
	if !domain.ValidOrderStatus(status) {
		return domain.Order{}, store.ErrValidation
	}
	updated, err := s.repo.UpdateOrderStatus(ctx, s.storeID(storeID), orderID, status)
	if err != nil {
		return domain.Order{}, err
	}
	log.Printf("[audit] actor=%s action=order_status store=%s order=%s status=%s", s.actorUsername(ctx), updated.StoreID, orderID, status)
	return *updated, nil
}

func (s *Service) AddItem(ctx context.Context, storeID string, orderID string, req domain.OrderItemCreateRequest) (domain.Order, error) {
	storeID = s.storeID(storeID)

	item, err := s.resolveOrderItem(ctx, storeID, req)
	if err != nil {
		return domain.Order{}, err
	}
	item.OrderID = orderID
	item.AddedAt = time.Now().UTC()

	updated, err := s.repo.AddOrderItem(ctx, storeID, item)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

func (s *Service) UpdateItem(ctx context.Context, storeID string, itemID string, req domain.OrderItemUpdateRequest) (domain.Order, error) {
	updated, err := s.repo.UpdateOrderItem(ctx, s.storeID(storeID), itemID, req)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

func (s *Service) RemoveItem(ctx context.Context, storeID string, itemID string) (domain.Order, error) {
	updated, err := s.repo.DeleteOrderItem(ctx, s.storeID(storeID), itemID)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

func (s *Service) SetItemAssociations(ctx context.Context, storeID string, itemID string, req domain.ItemAssocUpdateRequest) (domain.Order, error) {
	switch req.Mode {
	case domain.AssocModeAdd, domain.AssocModeReplace, domain.AssocModeRemove:
	default:
		return domain.Order{}, store.ErrValidation
	}
	updated, err := s.repo.SetOrderItemAssociations(ctx, s.storeID(storeID), itemID, req)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

// MoveItems shifts items between the saved-for-later and checkout partitions.
// Moves into saved-for-later are recorded in the saved-items audit trail.
func (s *Service) MoveItems(ctx context.Context, storeID string, orderID string, req domain.ItemMoveRequest) (domain.ItemMoveResponse, error) {
	storeID = s.storeID(storeID)

	switch req.Direction {
	case domain.MoveToCheckout, domain.MoveToSaved:
	default:
		return domain.ItemMoveResponse{}, store.ErrValidation
	}
	if len(req.ItemIDs) == 0 {
		return domain.ItemMoveResponse{}, store.ErrValidation
	}

	updated, moved, err := s.repo.MoveOrderItems(ctx, storeID, orderID, req.ItemIDs, req.Direction)
	if err != nil {
		return domain.ItemMoveResponse{}, err
	}

	if req.Direction == domain.MoveToSaved && len(moved) > 0 {
		movedSet := make(map[string]struct{}, len(moved))
		for _, id := range moved {
			movedSet[id] = struct{}{}
		}
		savedAmount := decimal.Zero
		for _, item := range updated.Items {
			if _, ok := movedSet[item.ID]; !ok {
				continue
			}
			prices, err := s.modifierPrices(ctx, storeID, item.ModifierIDs)
			if err != nil {
				return domain.ItemMoveResponse{}, err
			}
			savedAmount = savedAmount.Add(pricing.LineTotal(item.UnitPrice, prices, item.Quantity))
		}
		if err := s.repo.CreateSavedItemsLog(ctx, domain.SavedItemsLog{
			OrderID:     orderID,
			StoreID:     storeID,
			SavedBy:     s.actorUsername(ctx),
			ItemsCount:  len(moved),
			TotalAmount: savedAmount.Round(2),
			Notes:       strings.TrimSpace(req.Notes),
		}); err != nil {
			log.Printf("[audit] WARN: failed to write saved-items log order=%s: %v", orderID, err)
		}
	}

	return domain.ItemMoveResponse{MovedItemIDs: moved, Order: *updated}, nil
}

func (s *Service) modifierPrices(ctx context.Context, storeID string, ids []string) ([]decimal.Decimal, error) {
	modifiers, err := s.repo.GetModifiersByIDs(ctx, storeID, ids)
	if err != nil {
		return nil, err
	}
	prices := make([]decimal.Decimal, 0, len(ids))
	for _, id := range ids {
		if m, ok := modifiers[id]; ok {
			prices = append(prices, m.Price)
		}
	}
	return prices, nil
}

func (s *Service) SetItemCompletion(ctx context.Context, storeID string, itemID string, done bool) (domain.Order, error) {
	updated, err := s.repo.SetOrderItemCompletion(ctx, s.storeID(storeID), itemID, done)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

// RecalculateTotals recomputes an order's totals from scratch. Idempotent;
// useful after a tax or modifier definition changes under an open order.
func (s *Service) RecalculateTotals(ctx context.Context, storeID string, orderID string) (domain.Order, error) {
	updated, err := s.repo.RecalculateOrderTotals(ctx, s.storeID(storeID), orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

func (s *Service) ListSavedItemsLogs(ctx context.Context, storeID string, orderID string) ([]domain.SavedItemsLog, error) {
	return s.repo.ListSavedItemsLogs(ctx, s.storeID(storeID), orderID)
}

// Checkout

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	storeID := s.storeID(req.StoreID)

	if !domain.ValidPaymentMethod(req.PaymentMethod) || req.PaymentMethod == domain.PaymentMethodPending {
		return domain.CheckoutResponse{}, store.ErrValidation
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = domain.PaymentStatusPaid
	}
	if !domain.ValidPaymentStatus(req.PaymentStatus) {
		return domain.CheckoutResponse{}, store.ErrValidation
	}
	if req.DiscountAmount.Sign() < 0 || req.ServiceCharge.Sign() < 0 {
		return domain.CheckoutResponse{}, store.ErrValidation
	}

	if req.PaymentMethod == domain.PaymentMethodSplit {
		if req.Splits == nil {
			return domain.CheckoutResponse{}, store.ErrValidation
		}
		splits := *req.Splits
		if splits.Cash.Sign() < 0 || splits.Card.Sign() < 0 || splits.UPI.Sign() < 0 || splits.Other.Sign() < 0 {
			return domain.CheckoutResponse{}, store.ErrValidation
		}
	}

	existing, err := s.repo.GetOrder(ctx, storeID, req.OrderID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if existing.CheckoutStatus {
		return domain.CheckoutResponse{}, store.ErrInvalidState
	}
	if existing.Method == domain.OrderMethodDelivery && strings.TrimSpace(req.DeliveryAddress) == "" {
		return domain.CheckoutResponse{}, store.ErrValidation
	}

	checkout := domain.Checkout{
		ID:              xid.New("chk"),
		OrderID:         req.OrderID,
		StoreID:         storeID,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   req.PaymentStatus,
		Reference:       strings.TrimSpace(req.Reference),
		Notes:           strings.TrimSpace(req.Notes),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		DiscountAmount:  req.DiscountAmount.Round(2),
		DiscountReason:  strings.TrimSpace(req.DiscountReason),
		ServiceCharge:   req.ServiceCharge.Round(2),
		CreatedAt:       time.Now().UTC(),
	}

	// The store recalculates and snapshots the totals inside the transaction
	// that holds the order, then hands the fresh amount to this callback.
	// Amount-dependent validation therefore always sees the item set the
	// checkout actually freezes.
	finalize := func(c *domain.Checkout) error {
		if c.FinalAmount().Sign() < 0 {
			return store.ErrValidation
		}
		if req.PaymentMethod != domain.PaymentMethodSplit {
			return nil
		}
		splits := *req.Splits
		diff := splits.Sum().Sub(c.FinalAmount()).Abs()
		if diff.GreaterThan(domain.SplitTolerance) {
			return store.ErrValidation
		}
		c.CashAmount = splits.Cash.Round(2)
		c.CardAmount = splits.Card.Round(2)
		c.UPIAmount = splits.UPI.Round(2)
		c.OtherAmount = splits.Other.Round(2)
		return nil
	}

	created, err := s.repo.CreateCheckout(ctx, checkout, finalize)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	final, err := s.repo.GetOrder(ctx, storeID, req.OrderID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	log.Printf("[audit] actor=%s action=checkout store=%s order=%s method=%s amount=%s", s.actorUsername(ctx), storeID, req.OrderID, created.PaymentMethod, created.FinalAmount())

	return domain.CheckoutResponse{
		Checkout:    *created,
		FinalAmount: created.FinalAmount(),
		Order:       *final,
	}, nil
}

// Receipt assembles the printable view of an order, including its checkout
// details when one exists.
func (s *Service) Receipt(ctx context.Context, storeID string, orderID string) (domain.Receipt, error) {
	storeID = s.storeID(storeID)

	order, err := s.repo.GetOrder(ctx, storeID, orderID)
	if err != nil {
		return domain.Receipt{}, err
	}

	modIDs := make([]string, 0, 8)
	taxIDs := make([]string, 0, 8)
	for _, item := range order.Items {
		modIDs = append(modIDs, item.ModifierIDs...)
		taxIDs = append(taxIDs, item.TaxIDs...)
	}
	modifiers, err := s.repo.GetModifiersByIDs(ctx, storeID, modIDs)
	if err != nil {
		return domain.Receipt{}, err
	}
	taxes, err := s.repo.GetTaxesByIDs(ctx, storeID, taxIDs)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt := domain.Receipt{
		OrderID:       order.ID,
		Token:         order.Token,
		StoreID:       order.StoreID,
		TableID:       order.TableID,
		Method:        order.Method,
		CreatedAt:     order.CreatedAt,
		Subtotal:      order.TotalBeforeTax,
		TotalTax:      order.TotalTax,
		FinalAmount:   order.TotalPrice,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
	}

	for _, item := range order.Items {
		line := domain.ReceiptLine{
			Name:         item.MenuItemName,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Instructions: item.Instructions,
		}
		addOnPrices := make([]decimal.Decimal, 0, len(item.ModifierIDs))
		for _, id := range item.ModifierIDs {
			if m, ok := modifiers[id]; ok {
				line.AddOns = append(line.AddOns, domain.ReceiptAddOn{Name: m.Name, Price: m.Price})
				addOnPrices = append(addOnPrices, m.Price)
			}
		}
		line.LineTotal = pricing.LineTotal(item.UnitPrice, addOnPrices, item.Quantity)
		for _, id := range item.TaxIDs {
			t, ok := taxes[id]
			if !ok || !t.Active {
				continue
			}
			line.Taxes = append(line.Taxes, domain.ReceiptTaxLine{
				Name:       t.Name,
				Percentage: t.Percentage,
				Amount:     pricing.LineTax(line.LineTotal, []decimal.Decimal{t.Percentage}),
			})
		}
		if item.SavedForLater {
			receipt.SavedItems = append(receipt.SavedItems, line)
		} else {
			receipt.CheckoutItems = append(receipt.CheckoutItems, line)
		}
	}

	checkout, err := s.repo.GetCheckout(ctx, storeID, orderID)
	if err == nil {
		receipt.ServiceCharge = checkout.ServiceCharge
		receipt.DiscountAmount = checkout.DiscountAmount
		receipt.FinalAmount = checkout.FinalAmount()
		receipt.PaymentMethod = checkout.PaymentMethod
		receipt.PaymentStatus = checkout.PaymentStatus
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Receipt{}, err
	}

	return receipt, nil
}

func (s *Service) GetCheckout(ctx context.Context, storeID string, orderID string) (domain.Checkout, error) {
	checkout, err := s.repo.GetCheckout(ctx, s.storeID(storeID), orderID)
	if err != nil {
		return domain.Checkout{}, err
	}
	return *checkout, nil
}

// KitchenDisplay lists active orders that still have at least one item in the
// checkout partition, oldest first.
func (s *Service) KitchenDisplay(ctx context.Context, storeID string) ([]domain.Order, error) {
	return s.repo.ListKitchenOrders(ctx, s.storeID(storeID))
}

func (s *Service) OrderStatistics(ctx context.Context, storeID string) (domain.OrderStatistics, error) {
	stats, err := s.repo.GetOrderStatistics(ctx, s.storeID(storeID))
	if err != nil {
		return domain.OrderStatistics{}, err
	}
	return *stats, nil
}
