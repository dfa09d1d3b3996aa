package store

import (
	"context"
	"errors"

	"coffybyte/backend/internal/domain"
)

var (
	// ErrNotFound: the referenced entity does not exist or is outside the
	// caller's store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference: a cross-store reference, or an inactive entity
	// used where an active one is required.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrInvalidState: the operation is not valid for the entity's current
	// lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation: malformed input (non-positive quantity or price,
	// split-payment mismatch).
	ErrValidation = errors.New("validation failed")
	// ErrConflict: a storage-level uniqueness race (token collision,
	// duplicate checkout) that exhausted its retries.
	ErrConflict = errors.New("conflict")
)

// Repository is the persistence boundary. Every method takes the store
// (tenant) explicitly; implementations must reject references that cross it.
// Mutating order methods execute the mutation and the totals recalculation
// inside one transaction.
type Repository interface {
	// Tables
	CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	ListTables(ctx context.Context, storeID string) ([]domain.Table, error)
	GetTable(ctx context.Context, storeID string, tableID string) (*domain.Table, error)
	SetTableActive(ctx context.Context, storeID string, tableID string, active bool) (*domain.Table, error)

	// Taxes
	CreateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error)
	ListTaxes(ctx context.Context, storeID string) ([]domain.Tax, error)
	GetTaxesByIDs(ctx context.Context, storeID string, ids []string) (map[string]domain.Tax, error)
	UpdateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error)

	// Modifiers
	CreateModifier(ctx context.Context, modifier domain.Modifier) (*domain.Modifier, error)
	ListModifiers(ctx context.Context, storeID string) ([]domain.Modifier, error)
	GetModifiersByIDs(ctx context.Context, storeID string, ids []string) (map[string]domain.Modifier, error)
	UpdateModifier(ctx context.Context, modifier domain.Modifier) (*domain.Modifier, error)

	// Categories
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context, storeID string) ([]domain.Category, error)

	// Menu
	CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error)
	UpdateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error)
	GetMenuItem(ctx context.Context, storeID string, itemID string) (*domain.MenuItem, error)
	ListMenuItems(ctx context.Context, storeID string) ([]domain.MenuItem, error)
	SetMenuItemAssociations(ctx context.Context, storeID string, itemID string, taxIDs []string, modifierIDs []string) (*domain.MenuItem, error)

	// Orders
	CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error)
	GetOrder(ctx context.Context, storeID string, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, storeID string, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, storeID string, orderID string, status string) (*domain.Order, error)
	AddOrderItem(ctx context.Context, storeID string, item domain.OrderItem) (*domain.Order, error)
	UpdateOrderItem(ctx context.Context, storeID string, itemID string, req domain.OrderItemUpdateRequest) (*domain.Order, error)
	DeleteOrderItem(ctx context.Context, storeID string, itemID string) (*domain.Order, error)
	SetOrderItemAssociations(ctx context.Context, storeID string, itemID string, req domain.ItemAssocUpdateRequest) (*domain.Order, error)
	MoveOrderItems(ctx context.Context, storeID string, orderID string, itemIDs []string, direction string) (*domain.Order, []string, error)
	SetOrderItemCompletion(ctx context.Context, storeID string, itemID string, done bool) (*domain.Order, error)
	RecalculateOrderTotals(ctx context.Context, storeID string, orderID string) (*domain.Order, error)
	ListKitchenOrders(ctx context.Context, storeID string) ([]domain.Order, error)
	GetOrderStatistics(ctx context.Context, storeID string) (*domain.OrderStatistics, error)

	// Checkout. CreateCheckout runs in one transaction holding the order:
	// it recalculates the totals, snapshots them onto the checkout, then
	// calls finalize (may adjust the checkout, e.g. split amounts) before
	// inserting and flipping the order's checkout state. A finalize error
	// aborts the whole operation. An already-checked-out order is
	// ErrInvalidState; a concurrent duplicate insert is ErrConflict.
	CreateCheckout(ctx context.Context, checkout domain.Checkout, finalize func(*domain.Checkout) error) (*domain.Checkout, error)
	GetCheckout(ctx context.Context, storeID string, orderID string) (*domain.Checkout, error)

	// Saved-items audit trail
	CreateSavedItemsLog(ctx context.Context, entry domain.SavedItemsLog) error
	ListSavedItemsLogs(ctx context.Context, storeID string, orderID string) ([]domain.SavedItemsLog, error)

	// Users
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
