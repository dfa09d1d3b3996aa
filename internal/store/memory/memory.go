package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"coffybyte/backend/internal/domain"
	"coffybyte/backend/internal/pricing"
	"coffybyte/backend/internal/store"
	"coffybyte/backend/internal/xid"
)

// Store is a mutex-guarded in-memory Repository used for dev mode and unit
// tests. The single mutex serializes order mutations, which gives the same
// observable guarantees as the Postgres store's per-order transactions.
type Store struct {
	mu               sync.RWMutex
	tables           map[string]domain.Table
	taxes            map[string]domain.Tax
	modifiers        map[string]domain.Modifier
	categories       map[string]domain.Category
	menuItems        map[string]domain.MenuItem
	orders           map[string]*domain.Order
	itemOrderIndex   map[string]string
	checkoutsByOrder map[string]domain.Checkout
	savedLogs        []domain.SavedItemsLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		tables:           make(map[string]domain.Table),
		taxes:            make(map[string]domain.Tax),
		modifiers:        make(map[string]domain.Modifier),
		categories:       make(map[string]domain.Category),
		menuItems:        make(map[string]domain.MenuItem),
		orders:           make(map[string]*domain.Order),
		itemOrderIndex:   make(map[string]string),
		checkoutsByOrder: make(map[string]domain.Checkout),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; when
// unset, hardcoded dev defaults are used with a warning. The in-memory store
// is never used in production (Postgres is selected when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded builds a store with a small two-tenant coffee-shop catalog, used
// by dev mode and the test suite.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat-coffee", StoreID: "main-store", Name: "Coffee", Active: true},
		{ID: "cat-food", StoreID: "main-store", Name: "Food", Active: true},
		{ID: "cat-branch-coffee", StoreID: "branch-2", Name: "Coffee", Active: true},
	} {
		s.categories[c.ID] = c
	}

	for _, t := range []domain.Tax{
		{ID: "tax-gst5", StoreID: "main-store", Name: "GST 5%", Percentage: dec("5"), Active: true, CreatedAt: now},
		{ID: "tax-vat10", StoreID: "main-store", Name: "VAT 10%", Percentage: dec("10"), Active: true, CreatedAt: now},
		{ID: "tax-branch-gst5", StoreID: "branch-2", Name: "GST 5%", Percentage: dec("5"), Active: true, CreatedAt: now},
	} {
		s.taxes[t.ID] = t
	}

	for _, m := range []domain.Modifier{
		{ID: "mod-extra-shot", StoreID: "main-store", Name: "Extra Shot", Price: dec("1.00"), Active: true, CreatedAt: now},
		{ID: "mod-oat-milk", StoreID: "main-store", Name: "Oat Milk", Price: dec("0.75"), Active: true, CreatedAt: now},
		{ID: "mod-whipped-cream", StoreID: "main-store", Name: "Whipped Cream", Price: dec("0.50"), Active: true, CreatedAt: now},
		{ID: "mod-branch-syrup", StoreID: "branch-2", Name: "Vanilla Syrup", Price: dec("0.60"), Active: true, CreatedAt: now},
	} {
		s.modifiers[m.ID] = m
	}

	for _, item := range []domain.MenuItem{
		{ID: "menu-cappuccino", StoreID: "main-store", CategoryID: "cat-coffee", Name: "Cappuccino", Price: dec("10.00"), Active: true, TaxIDs: []string{"tax-gst5"}, ModifierIDs: []string{"mod-extra-shot", "mod-oat-milk"}, CreatedAt: now},
		{ID: "menu-espresso", StoreID: "main-store", CategoryID: "cat-coffee", Name: "Espresso", Price: dec("7.50"), Active: true, TaxIDs: []string{"tax-gst5"}, ModifierIDs: []string{"mod-extra-shot"}, CreatedAt: now},
		{ID: "menu-croissant", StoreID: "main-store", CategoryID: "cat-food", Name: "Croissant", Price: dec("12.00"), Active: true, TaxIDs: []string{"tax-gst5", "tax-vat10"}, CreatedAt: now},
		{ID: "menu-retired-mocha", StoreID: "main-store", CategoryID: "cat-coffee", Name: "Mocha (Retired)", Price: dec("9.00"), Active: false, TaxIDs: []string{"tax-gst5"}, CreatedAt: now},
		{ID: "menu-branch-mocha", StoreID: "branch-2", CategoryID: "cat-branch-coffee", Name: "Mocha", Price: dec("9.50"), Active: true, TaxIDs: []string{"tax-branch-gst5"}, CreatedAt: now},
	} {
		item.PriceBeforeTax, item.TaxAmount = s.taxSplitLocked(item)
		s.menuItems[item.ID] = item
	}

	for _, t := range []domain.Table{
		{ID: "tbl-1", StoreID: "main-store", Number: 1, Seats: 4, Active: true},
		{ID: "tbl-2", StoreID: "main-store", Number: 2, Seats: 2, Active: true},
		{ID: "tbl-3", StoreID: "main-store", Number: 3, Seats: 6, Active: false},
		{ID: "tbl-branch-1", StoreID: "branch-2", Number: 1, Seats: 4, Active: true},
	} {
		s.tables[t.ID] = t
	}

	s.usersByUsername = seedUsers()
	return s
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

// Tables

func (m *Store) CreateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	if table.StoreID == "" || table.Number < 1 || table.Seats < 1 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tables {
		if existing.StoreID == table.StoreID && existing.Number == table.Number {
			return nil, store.ErrValidation
		}
	}
	if table.ID == "" {
		table.ID = xid.New("tbl")
	}
	table.Active = true
	m.tables[table.ID] = table
	created := table
	return &created, nil
}

func (m *Store) ListTables(_ context.Context, storeID string) ([]domain.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]domain.Table, 0, len(m.tables))
	for _, t := range m.tables {
		if t.StoreID == storeID {
			tables = append(tables, t)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Number < tables[j].Number })
	return tables, nil
}

func (m *Store) GetTable(_ context.Context, storeID string, tableID string) (*domain.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableID]
	if !ok || t.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	found := t
	return &found, nil
}

func (m *Store) SetTableActive(_ context.Context, storeID string, tableID string, active bool) (*domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[tableID]
	if !ok || t.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	t.Active = active
	m.tables[tableID] = t
	updated := t
	return &updated, nil
}

// Taxes

func (m *Store) CreateTax(_ context.Context, tax domain.Tax) (*domain.Tax, error) {
	if tax.StoreID == "" || strings.TrimSpace(tax.Name) == "" || tax.Percentage.Sign() < 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.taxes {
		if existing.StoreID == tax.StoreID && existing.Name == tax.Name {
			return nil, store.ErrValidation
		}
	}
	if tax.ID == "" {
		tax.ID = xid.New("tax")
	}
	tax.Active = true
	if tax.CreatedAt.IsZero() {
		tax.CreatedAt = time.Now().UTC()
	}
	m.taxes[tax.ID] = tax
	created := tax
	return &created, nil
}

func (m *Store) ListTaxes(_ context.Context, storeID string) ([]domain.Tax, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	taxes := make([]domain.Tax, 0, len(m.taxes))
	for _, t := range m.taxes {
		if t.StoreID == storeID {
			taxes = append(taxes, t)
		}
	}
	sort.Slice(taxes, func(i, j int) bool { return taxes[i].Name < taxes[j].Name })
	return taxes, nil
}

func (m *Store) GetTaxesByIDs(_ context.Context, storeID string, ids []string) (map[string]domain.Tax, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taxesByIDsLocked(storeID, ids), nil
}

func (m *Store) taxesByIDsLocked(storeID string, ids []string) map[string]domain.Tax {
	result := make(map[string]domain.Tax, len(ids))
	for _, id := range ids {
		if t, ok := m.taxes[id]; ok && t.StoreID == storeID {
			result[id] = t
		}
	}
	return result
}

func (m *Store) UpdateTax(_ context.Context, tax domain.Tax) (*domain.Tax, error) {
	if strings.TrimSpace(tax.Name) == "" || tax.Percentage.Sign() < 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.taxes[tax.ID]
	if !ok || existing.StoreID != tax.StoreID {
		return nil, store.ErrNotFound
	}
	tax.CreatedAt = existing.CreatedAt
	m.taxes[tax.ID] = tax
	m.refreshMenuSplitsForTaxLocked(tax.StoreID, tax.ID)
	updated := tax
	return &updated, nil
}

// Modifiers

func (m *Store) CreateModifier(_ context.Context, modifier domain.Modifier) (*domain.Modifier, error) {
	if modifier.StoreID == "" || strings.TrimSpace(modifier.Name) == "" || modifier.Price.Sign() < 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.modifiers {
		if existing.StoreID == modifier.StoreID && existing.Name == modifier.Name {
			return nil, store.ErrValidation
		}
	}
	if modifier.ID == "" {
		modifier.ID = xid.New("mod")
	}
	modifier.Active = true
	if modifier.CreatedAt.IsZero() {
		modifier.CreatedAt = time.Now().UTC()
	}
	m.modifiers[modifier.ID] = modifier
	created := modifier
	return &created, nil
}

func (m *Store) ListModifiers(_ context.Context, storeID string) ([]domain.Modifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	modifiers := make([]domain.Modifier, 0, len(m.modifiers))
	for _, mod := range m.modifiers {
		if mod.StoreID == storeID {
			modifiers = append(modifiers, mod)
		}
	}
	sort.Slice(modifiers, func(i, j int) bool { return modifiers[i].Name < modifiers[j].Name })
	return modifiers, nil
}

func (m *Store) GetModifiersByIDs(_ context.Context, storeID string, ids []string) (map[string]domain.Modifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modifiersByIDsLocked(storeID, ids), nil
}

func (m *Store) modifiersByIDsLocked(storeID string, ids []string) map[string]domain.Modifier {
	result := make(map[string]domain.Modifier, len(ids))
	for _, id := range ids {
		if mod, ok := m.modifiers[id]; ok && mod.StoreID == storeID {
			result[id] = mod
		}
	}
	return result
}

func (m *Store) UpdateModifier(_ context.Context, modifier domain.Modifier) (*domain.Modifier, error) {
	if strings.TrimSpace(modifier.Name) == "" || modifier.Price.Sign() < 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.modifiers[modifier.ID]
	if !ok || existing.StoreID != modifier.StoreID {
		return nil, store.ErrNotFound
	}
	modifier.CreatedAt = existing.CreatedAt
	m.modifiers[modifier.ID] = modifier
	updated := modifier
	return &updated, nil
}

// Categories

func (m *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	if category.StoreID == "" || strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.categories {
		if existing.StoreID == category.StoreID && existing.Name == category.Name {
			return nil, store.ErrValidation
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	category.Active = true
	m.categories[category.ID] = category
	created := category
	return &created, nil
}

func (m *Store) ListCategories(_ context.Context, storeID string) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	categories := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		if c.StoreID == storeID {
			categories = append(categories, c)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

// Menu

func (m *Store) CreateMenuItem(_ context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if item.StoreID == "" || strings.TrimSpace(item.Name) == "" || item.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.CategoryID != "" {
		cat, ok := m.categories[item.CategoryID]
		if !ok || cat.StoreID != item.StoreID {
			return nil, store.ErrInvalidReference
		}
	}
	if len(m.taxesByIDsLocked(item.StoreID, item.TaxIDs)) != len(item.TaxIDs) {
		return nil, store.ErrInvalidReference
	}
	if len(m.modifiersByIDsLocked(item.StoreID, item.ModifierIDs)) != len(item.ModifierIDs) {
		return nil, store.ErrInvalidReference
	}

	if item.ID == "" {
		item.ID = xid.New("menu")
	}
	item.Active = true
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.PriceBeforeTax, item.TaxAmount = m.taxSplitLocked(item)
	m.menuItems[item.ID] = item
	created := item
	return &created, nil
}

func (m *Store) UpdateMenuItem(_ context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if strings.TrimSpace(item.Name) == "" || item.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.menuItems[item.ID]
	if !ok || existing.StoreID != item.StoreID {
		return nil, store.ErrNotFound
	}
	item.TaxIDs = existing.TaxIDs
	item.ModifierIDs = existing.ModifierIDs
	item.CreatedAt = existing.CreatedAt
	item.PriceBeforeTax, item.TaxAmount = m.taxSplitLocked(item)
	m.menuItems[item.ID] = item
	updated := item
	return &updated, nil
}

func (m *Store) GetMenuItem(_ context.Context, storeID string, itemID string) (*domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.menuItems[itemID]
	if !ok || item.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (m *Store) ListMenuItems(_ context.Context, storeID string) ([]domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.MenuItem, 0, len(m.menuItems))
	for _, item := range m.menuItems {
		if item.StoreID == storeID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *Store) SetMenuItemAssociations(_ context.Context, storeID string, itemID string, taxIDs []string, modifierIDs []string) (*domain.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.menuItems[itemID]
	if !ok || item.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	if len(m.taxesByIDsLocked(storeID, taxIDs)) != len(taxIDs) {
		return nil, store.ErrInvalidReference
	}
	if len(m.modifiersByIDsLocked(storeID, modifierIDs)) != len(modifierIDs) {
		return nil, store.ErrInvalidReference
	}

	item.TaxIDs = append([]string(nil), taxIDs...)
	item.ModifierIDs = append([]string(nil), modifierIDs...)
	item.PriceBeforeTax, item.TaxAmount = m.taxSplitLocked(item)
	m.menuItems[itemID] = item
	updated := item
	return &updated, nil
}

// taxSplitLocked recomputes the informational tax-inclusive price split of a
// catalog item from its currently linked taxes.
func (m *Store) taxSplitLocked(item domain.MenuItem) (decimal.Decimal, decimal.Decimal) {
	totalPct := decimal.Zero
	for _, id := range item.TaxIDs {
		if t, ok := m.taxes[id]; ok && t.Active {
			totalPct = totalPct.Add(t.Percentage)
		}
	}
	return pricing.TaxInclusiveSplit(item.Price, totalPct)
}

func (m *Store) refreshMenuSplitsForTaxLocked(storeID string, taxID string) {
	for id, item := range m.menuItems {
		if item.StoreID != storeID {
			continue
		}
		for _, linked := range item.TaxIDs {
			if linked == taxID {
				item.PriceBeforeTax, item.TaxAmount = m.taxSplitLocked(item)
				m.menuItems[id] = item
				break
			}
		}
	}
}

// Orders

func (m *Store) CreateOrder(_ context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Token = m.nextTokenLocked(order.StoreID, order.CreatedAt)
	order.Items = nil
	for _, item := range items {
		item.OrderID = order.ID
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = order.CreatedAt
		}
		order.Items = append(order.Items, item)
		m.itemOrderIndex[item.ID] = order.ID
	}

	stored := cloneOrder(order)
	m.recalcLocked(&stored)
	m.orders[stored.ID] = &stored

	created := cloneOrder(stored)
	return &created, nil
}

// nextTokenLocked implements max(token)+1 over (store, UTC calendar day).
// The mutex serializes concurrent creations, which is the in-memory analogue
// of the Postgres unique index plus retry.
func (m *Store) nextTokenLocked(storeID string, at time.Time) int {
	day := at.UTC().Format("2006-01-02")
	max := 0
	for _, o := range m.orders {
		if o.StoreID != storeID {
			continue
		}
		if o.CreatedAt.UTC().Format("2006-01-02") != day {
			continue
		}
		if o.Token > max {
			max = o.Token
		}
	}
	return max + 1
}

func (m *Store) GetOrder(_ context.Context, storeID string, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok || o.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(*o)
	return &found, nil
}

func (m *Store) ListOrders(_ context.Context, storeID string, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]domain.Order, 0, 32)
	for _, o := range m.orders {
		if o.StoreID != storeID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Method != "" && o.Method != filter.Method {
			continue
		}
		if filter.Date != "" && o.CreatedAt.UTC().Format("2006-01-02") != filter.Date {
			continue
		}
		if filter.CheckoutStatus != nil && o.CheckoutStatus != *filter.CheckoutStatus {
			continue
		}
		if filter.HasSavedItems && !hasSavedItems(o) {
			continue
		}
		orders = append(orders, cloneOrder(*o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (m *Store) UpdateOrderStatus(_ context.Context, storeID string, orderID string, status string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	o.Status = status
	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) AddOrderItem(_ context.Context, storeID string, item domain.OrderItem) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[item.OrderID]
	if !ok || o.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	if o.CheckoutStatus && !item.SavedForLater {
		return nil, store.ErrInvalidState
	}

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	o.Items = append(o.Items, item)
	m.itemOrderIndex[item.ID] = o.ID
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) UpdateOrderItem(_ context.Context, storeID string, itemID string, req domain.OrderItemUpdateRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, idx, err := m.findItemLocked(storeID, itemID)
	if err != nil {
		return nil, err
	}
	if o.CheckoutStatus && !o.Items[idx].SavedForLater {
		return nil, store.ErrInvalidState
	}
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return nil, store.ErrValidation
		}
		o.Items[idx].Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.Sign() <= 0 {
			return nil, store.ErrValidation
		}
		o.Items[idx].UnitPrice = req.UnitPrice.Round(2)
	}
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) DeleteOrderItem(_ context.Context, storeID string, itemID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, idx, err := m.findItemLocked(storeID, itemID)
	if err != nil {
		return nil, err
	}
	if o.CheckoutStatus && !o.Items[idx].SavedForLater {
		return nil, store.ErrInvalidState
	}
	o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	delete(m.itemOrderIndex, itemID)
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) SetOrderItemAssociations(_ context.Context, storeID string, itemID string, req domain.ItemAssocUpdateRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, idx, err := m.findItemLocked(storeID, itemID)
	if err != nil {
		return nil, err
	}
	if o.CheckoutStatus && !o.Items[idx].SavedForLater {
		return nil, store.ErrInvalidState
	}
	if len(m.taxesByIDsLocked(storeID, req.TaxIDs)) != len(req.TaxIDs) {
		return nil, store.ErrInvalidReference
	}
	if len(m.modifiersByIDsLocked(storeID, req.ModifierIDs)) != len(req.ModifierIDs) {
		return nil, store.ErrInvalidReference
	}

	item := &o.Items[idx]
	switch req.Mode {
	case domain.AssocModeAdd:
		item.TaxIDs = unionIDs(item.TaxIDs, req.TaxIDs)
		item.ModifierIDs = unionIDs(item.ModifierIDs, req.ModifierIDs)
	case domain.AssocModeReplace:
		item.TaxIDs = append([]string(nil), req.TaxIDs...)
		item.ModifierIDs = append([]string(nil), req.ModifierIDs...)
	case domain.AssocModeRemove:
		item.TaxIDs = subtractIDs(item.TaxIDs, req.TaxIDs)
		item.ModifierIDs = subtractIDs(item.ModifierIDs, req.ModifierIDs)
	default:
		return nil, store.ErrValidation
	}
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) MoveOrderItems(_ context.Context, storeID string, orderID string, itemIDs []string, direction string) (*domain.Order, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.StoreID != storeID {
		return nil, nil, store.ErrNotFound
	}
	if o.CheckoutStatus {
		return nil, nil, store.ErrInvalidState
	}

	index := make(map[string]int, len(o.Items))
	for i, item := range o.Items {
		index[item.ID] = i
	}
	for _, id := range itemIDs {
		if _, found := index[id]; !found {
			return nil, nil, store.ErrNotFound
		}
	}

	now := time.Now().UTC()
	moved := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		item := &o.Items[index[id]]
		switch direction {
		case domain.MoveToCheckout:
			if item.SavedForLater {
				item.SavedForLater = false
				at := now
				item.MovedToCheckoutAt = &at
				moved = append(moved, id)
			}
		case domain.MoveToSaved:
			if !item.SavedForLater {
				item.SavedForLater = true
				item.MovedToCheckoutAt = nil
				moved = append(moved, id)
			}
		default:
			return nil, nil, store.ErrValidation
		}
	}
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, moved, nil
}

func (m *Store) SetOrderItemCompletion(_ context.Context, storeID string, itemID string, done bool) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, idx, err := m.findItemLocked(storeID, itemID)
	if err != nil {
		return nil, err
	}
	o.Items[idx].CompletionStatus = done

	allDone := true
	hasActive := false
	for _, item := range o.Items {
		if item.SavedForLater {
			continue
		}
		hasActive = true
		if !item.CompletionStatus {
			allDone = false
			break
		}
	}
	if hasActive && allDone && o.Status != domain.OrderStatusOrderReady && o.Status != domain.OrderStatusCompleted {
		o.Status = domain.OrderStatusOrderReady
	}

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) RecalculateOrderTotals(_ context.Context, storeID string, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	m.recalcLocked(o)

	updated := cloneOrder(*o)
	return &updated, nil
}

func (m *Store) ListKitchenOrders(_ context.Context, storeID string) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]domain.Order, 0, 16)
	for _, o := range m.orders {
		if o.StoreID != storeID {
			continue
		}
		switch o.Status {
		case domain.OrderStatusPending, domain.OrderStatusInKitchen, domain.OrderStatusInProgress:
		default:
			continue
		}
		if countInCheckout(o) == 0 {
			continue
		}
		orders = append(orders, cloneOrder(*o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (m *Store) GetOrderStatistics(_ context.Context, storeID string) (*domain.OrderStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	today := time.Now().UTC().Format("2006-01-02")
	stats := domain.OrderStatistics{
		StoreID:      storeID,
		Date:         today,
		TodayRevenue: decimal.Zero.Round(2),
	}
	for _, o := range m.orders {
		if o.StoreID != storeID {
			continue
		}
		isToday := o.CreatedAt.UTC().Format("2006-01-02") == today
		if isToday {
			stats.TodayOrders++
			if o.Status == domain.OrderStatusCompleted {
				stats.CompletedOrders++
			}
			if o.PaymentStatus == domain.PaymentStatusPaid {
				stats.TodayRevenue = stats.TodayRevenue.Add(o.TotalPrice)
			}
		}
		switch o.Status {
		case domain.OrderStatusPending, domain.OrderStatusInKitchen, domain.OrderStatusInProgress:
			stats.PendingOrders++
		}
		if hasSavedItems(o) {
			stats.OrdersWithSavedItems++
		}
	}
	return &stats, nil
}

// Checkout

func (m *Store) CreateCheckout(_ context.Context, checkout domain.Checkout, finalize func(*domain.Checkout) error) (*domain.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[checkout.OrderID]
	if !ok || o.StoreID != checkout.StoreID {
		return nil, store.ErrNotFound
	}
	if o.CheckoutStatus {
		return nil, store.ErrInvalidState
	}
	if _, exists := m.checkoutsByOrder[checkout.OrderID]; exists {
		return nil, store.ErrConflict
	}

	// Freeze the amount from the item set as it exists right now, under the
	// same lock that serializes item mutations.
	m.recalcLocked(o)
	if countInCheckout(o) == 0 {
		return nil, store.ErrInvalidState
	}
	checkout.TotalPrice = o.TotalPrice
	checkout.TaxAmount = o.TotalTax

	if finalize != nil {
		if err := finalize(&checkout); err != nil {
			return nil, err
		}
	}

	if checkout.ID == "" {
		checkout.ID = xid.New("chk")
	}
	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = time.Now().UTC()
	}
	m.checkoutsByOrder[checkout.OrderID] = checkout

	o.CheckoutStatus = true
	o.PaymentMethod = checkout.PaymentMethod
	o.PaymentStatus = checkout.PaymentStatus

	created := checkout
	return &created, nil
}

func (m *Store) GetCheckout(_ context.Context, storeID string, orderID string) (*domain.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.checkoutsByOrder[orderID]
	if !ok || c.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

// Saved-items audit trail

func (m *Store) CreateSavedItemsLog(_ context.Context, entry domain.SavedItemsLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("saved")
	}
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}
	m.savedLogs = append(m.savedLogs, entry)
	return nil
}

func (m *Store) ListSavedItemsLogs(_ context.Context, storeID string, orderID string) ([]domain.SavedItemsLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]domain.SavedItemsLog, 0, 8)
	for _, entry := range m.savedLogs {
		if entry.StoreID != storeID {
			continue
		}
		if orderID != "" && entry.OrderID != orderID {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// Users

func (m *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.usersByUsername[user.Username] = user
	return nil
}

func (m *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(m.usersByUsername))
	for _, u := range m.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	m.usersByUsername[username] = u
	return nil
}

// internals

func (m *Store) findItemLocked(storeID string, itemID string) (*domain.Order, int, error) {
	orderID, ok := m.itemOrderIndex[itemID]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	o, ok := m.orders[orderID]
	if !ok || o.StoreID != storeID {
		return nil, 0, store.ErrNotFound
	}
	for i, item := range o.Items {
		if item.ID == itemID {
			return o, i, nil
		}
	}
	return nil, 0, store.ErrNotFound
}

// recalcLocked recomputes the order's derived totals from its current
// in-checkout item set. Invoked by every mutating method before it returns.
func (m *Store) recalcLocked(o *domain.Order) {
	lines := make([]pricing.Line, 0, len(o.Items))
	for _, item := range o.Items {
		line := pricing.Line{
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			SavedForLater: item.SavedForLater,
		}
		for _, id := range item.ModifierIDs {
			if mod, ok := m.modifiers[id]; ok {
				line.AddOnPrices = append(line.AddOnPrices, mod.Price)
			}
		}
		for _, id := range item.TaxIDs {
			if t, ok := m.taxes[id]; ok && t.Active {
				line.TaxPercentages = append(line.TaxPercentages, t.Percentage)
			}
		}
		lines = append(lines, line)
	}
	totals := pricing.Compute(lines)
	o.TotalBeforeTax = totals.BeforeTax
	o.TotalTax = totals.Tax
	o.TotalPrice = totals.Total
}

func cloneOrder(o domain.Order) domain.Order {
	clone := o
	clone.Items = make([]domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		clone.Items[i] = item
		clone.Items[i].ModifierIDs = append([]string(nil), item.ModifierIDs...)
		clone.Items[i].TaxIDs = append([]string(nil), item.TaxIDs...)
		if item.MovedToCheckoutAt != nil {
			at := *item.MovedToCheckoutAt
			clone.Items[i].MovedToCheckoutAt = &at
		}
	}
	return clone
}

func hasSavedItems(o *domain.Order) bool {
	for _, item := range o.Items {
		if item.SavedForLater {
			return true
		}
	}
	return false
}

func countInCheckout(o *domain.Order) int {
	count := 0
	for _, item := range o.Items {
		if !item.SavedForLater {
			count++
		}
	}
	return count
}

func unionIDs(current []string, add []string) []string {
	seen := make(map[string]struct{}, len(current)+len(add))
	result := make([]string, 0, len(current)+len(add))
	for _, id := range current {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	for _, id := range add {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}

func subtractIDs(current []string, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	result := make([]string, 0, len(current))
	for _, id := range current {
		if _, ok := drop[id]; !ok {
			result = append(result, id)
		}
	}
	return result
}
