package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order methods. Dine In is the only method that requires a table.
const (
	OrderMethodDineIn   = "Dine In"
	OrderMethodTakeaway = "Takeaway"
	OrderMethodDelivery = "Delivery"
	OrderMethodB2B      = "B2B"
)

// Order kitchen statuses. Staff may move an order in either direction.
const (
	OrderStatusPending    = "Pending"
	OrderStatusInKitchen  = "In Kitchen"
	OrderStatusInProgress = "In Progress"
	OrderStatusOrderReady = "Order Ready"
	OrderStatusCompleted  = "Completed"
)

const (
	PaymentMethodCash          = "Cash"
	PaymentMethodCard          = "Card"
	PaymentMethodUPI           = "UPI"
	PaymentMethodBankTransfer  = "Bank Transfer"
	PaymentMethodDigitalWallet = "Digital Wallet"
	PaymentMethodSplit         = "Split Payment"
	PaymentMethodPending       = "Pending"
)

const (
	PaymentStatusPending  = "Pending"
	PaymentStatusPaid     = "Paid"
	PaymentStatusFailed   = "Failed"
	PaymentStatusRefunded = "Refunded"
	PaymentStatusPartial  = "Partial"
)

// Association edit modes for taxes and add-ons on an order item.
const (
	AssocModeAdd     = "add"
	AssocModeReplace = "replace"
	AssocModeRemove  = "remove"
)

// Item move directions between the saved and checkout partitions.
const (
	MoveToCheckout = "to_checkout"
	MoveToSaved    = "to_saved"
)

// SplitTolerance is the maximum accepted difference between the sum of
// split-payment channels and the final collectible amount.
var SplitTolerance = decimal.RequireFromString("0.01")

type Table struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Number  int    `json:"number"`
	Seats   int    `json:"seats"`
	Active  bool   `json:"active"`
}

type TableCreateRequest struct {
	StoreID string `json:"store_id"`
	Number  int    `json:"number"`
	Seats   int    `json:"seats"`
}

type Tax struct {
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

type TaxCreateRequest struct {
	StoreID    string          `json:"store_id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
}

type TaxUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Active     *bool            `json:"active,omitempty"`
}

// Modifier is a flat-priced add-on that can be attached to an order item.
type Modifier struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

type ModifierCreateRequest struct {
	StoreID string          `json:"store_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}

type ModifierUpdateRequest struct {
	Name   *string          `json:"name,omitempty"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Active *bool            `json:"active,omitempty"`
}

type Category struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
}

type CategoryCreateRequest struct {
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
}

// MenuItem is catalog reference data. Price is tax inclusive; PriceBeforeTax
// and TaxAmount are an informational split derived from the linked default
// taxes and never feed order totals.
type MenuItem struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CategoryID     string          `json:"category_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	Active         bool            `json:"active"`
	TaxIDs         []string        `json:"tax_ids"`
	ModifierIDs    []string        `json:"modifier_ids"`
	PriceBeforeTax decimal.Decimal `json:"price_before_tax"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

type MenuItemCreateRequest struct {
	StoreID     string          `json:"store_id"`
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	TaxIDs      []string        `json:"tax_ids,omitempty"`
	ModifierIDs []string        `json:"modifier_ids,omitempty"`
}

type MenuItemUpdateRequest struct {
	CategoryID *string          `json:"category_id,omitempty"`
	Name       *string          `json:"name,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Active     *bool            `json:"active,omitempty"`
}

type MenuItemAssocRequest struct {
	TaxIDs      []string `json:"tax_ids"`
	ModifierIDs []string `json:"modifier_ids"`
}

// OrderItem belongs to exactly one order and is cascade-deleted with it.
// UnitPrice is snapshotted from the menu item at add time; later catalog
// price changes never alter existing orders.
type OrderItem struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	MenuItemID        string          `json:"menu_item_id"`
	MenuItemName      string          `json:"menu_item_name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Instructions      string          `json:"instructions,omitempty"`
	ModifierIDs       []string        `json:"modifier_ids"`
	TaxIDs            []string        `json:"tax_ids"`
	SavedForLater     bool            `json:"is_saved_for_later"`
	CompletionStatus  bool            `json:"completion_status"`
	AddedAt           time.Time       `json:"added_at"`
	MovedToCheckoutAt *time.Time      `json:"moved_to_checkout_at,omitempty"`
}

// Order is the aggregate root. The three total fields are a cache recomputed
// from the in-checkout item set after every mutation, never authoritative on
// their own.
type Order struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	Token          int             `json:"token"`
	Method         string          `json:"order_method"`
	TableID        string          `json:"table_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Status         string          `json:"status"`
	CheckoutStatus bool            `json:"checkout_status"`
	TotalBeforeTax decimal.Decimal `json:"total_before_tax"`
	TotalTax       decimal.Decimal `json:"total_tax"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
	Items          []OrderItem     `json:"items"`
}

type OrderItemCreateRequest struct {
	MenuItemID    string   `json:"menu_item_id"`
	Quantity      int      `json:"quantity"`
	Instructions  string   `json:"instructions,omitempty"`
	ModifierIDs   []string `json:"add_ons,omitempty"`
	TaxIDs        []string `json:"taxes,omitempty"`
	TaxOverride   bool     `json:"tax_override,omitempty"`
	SavedForLater bool     `json:"is_saved_for_later,omitempty"`
}

type OrderCreateRequest struct {
	StoreID string                   `json:"store_id"`
	Method  string                   `json:"order_method"`
	TableID string                   `json:"table_id,omitempty"`
	Items   []OrderItemCreateRequest `json:"items"`
}

type OrderItemUpdateRequest struct {
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type ItemAssocUpdateRequest struct {
	TaxIDs      []string `json:"tax_ids"`
	ModifierIDs []string `json:"modifier_ids"`
	Mode        string   `json:"mode"`
}

type ItemMoveRequest struct {
	ItemIDs   []string `json:"item_ids"`
	Direction string   `json:"direction"`
	Notes     string   `json:"notes,omitempty"`
}

type ItemMoveResponse struct {
	MovedItemIDs []string `json:"moved_item_ids"`
	Order        Order    `json:"order"`
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

type ItemCompletionRequest struct {
	CompletionStatus bool `json:"completion_status"`
}

// OrderFilter narrows ListOrders. Zero values mean "no filter".
type OrderFilter struct {
	Status         string
	Method         string
	Date           string // YYYY-MM-DD, UTC
	CheckoutStatus *bool
	HasSavedItems  bool
	Limit          int
}

// Checkout is the one-time terminal payment record for an order.
type Checkout struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	StoreID         string          `json:"store_id"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	Reference       string          `json:"payment_reference,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CashAmount      decimal.Decimal `json:"cash_amount"`
	CardAmount      decimal.Decimal `json:"card_amount"`
	UPIAmount       decimal.Decimal `json:"upi_amount"`
	OtherAmount     decimal.Decimal `json:"other_amount"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountReason  string          `json:"discount_reason,omitempty"`
	ServiceCharge   decimal.Decimal `json:"service_charge"`
	CreatedAt       time.Time       `json:"created_at"`
}

// FinalAmount is the collectible amount for this checkout. Pure function.
func (c Checkout) FinalAmount() decimal.Decimal {
	return c.TotalPrice.Add(c.ServiceCharge).Sub(c.DiscountAmount)
}

type SplitAmounts struct {
	Cash  decimal.Decimal `json:"cash_amount"`
	Card  decimal.Decimal `json:"card_amount"`
	UPI   decimal.Decimal `json:"upi_amount"`
	Other decimal.Decimal `json:"other_amount"`
}

func (s SplitAmounts) Sum() decimal.Decimal {
	return s.Cash.Add(s.Card).Add(s.UPI).Add(s.Other)
}

type CheckoutRequest struct {
	StoreID         string          `json:"store_id"`
	OrderID         string          `json:"order_id"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	Reference       string          `json:"payment_reference,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Splits          *SplitAmounts   `json:"splits,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountReason  string          `json:"discount_reason,omitempty"`
	ServiceCharge   decimal.Decimal `json:"service_charge"`
}

type CheckoutResponse struct {
	Checkout    Checkout        `json:"checkout"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Order       Order           `json:"order"`
}

// SavedItemsLog records a move of items into the saved-for-later partition.
type SavedItemsLog struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	StoreID     string          `json:"store_id"`
	SavedBy     string          `json:"saved_by"`
	ItemsCount  int             `json:"items_count"`
	TotalAmount decimal.Decimal `json:"total_saved_amount"`
	Notes       string          `json:"notes,omitempty"`
	SavedAt     time.Time       `json:"saved_at"`
}

type ReceiptTaxLine struct {
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type ReceiptAddOn struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type ReceiptLine struct {
	Name         string           `json:"name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	AddOns       []ReceiptAddOn   `json:"add_ons,omitempty"`
	LineTotal    decimal.Decimal  `json:"line_total"`
	Taxes        []ReceiptTaxLine `json:"taxes,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
}

type Receipt struct {
	OrderID        string          `json:"order_id"`
	Token          int             `json:"token"`
	StoreID        string          `json:"store_id"`
	TableID        string          `json:"table_id,omitempty"`
	Method         string          `json:"order_method"`
	CreatedAt      time.Time       `json:"created_at"`
	CheckoutItems  []ReceiptLine   `json:"checkout_items"`
	SavedItems     []ReceiptLine   `json:"saved_items,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TotalTax       decimal.Decimal `json:"total_tax"`
	ServiceCharge  decimal.Decimal `json:"service_charge"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
}

type OrderStatistics struct {
	StoreID              string          `json:"store_id"`
	Date                 string          `json:"date"`
	TodayOrders          int             `json:"today_orders"`
	PendingOrders        int             `json:"pending_orders"`
	CompletedOrders      int             `json:"completed_orders"`
	TodayRevenue         decimal.Decimal `json:"today_revenue"`
	OrdersWithSavedItems int             `json:"orders_with_saved_items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the pre-resolved caller identity. Core operations never perform
// their own authorization lookups.
type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// ValidOrderMethod reports whether method is one of the supported order methods.
func ValidOrderMethod(method string) bool {
	switch method {
	case OrderMethodDineIn, OrderMethodTakeaway, OrderMethodDelivery, OrderMethodB2B:
		return true
	default:
		return false
	}
}

// ValidOrderStatus reports whether status is a known kitchen status.
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusInKitchen, OrderStatusInProgress, OrderStatusOrderReady, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// ValidPaymentMethod reports whether method is accepted at checkout.
func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodUPI, PaymentMethodBankTransfer,
		PaymentMethodDigitalWallet, PaymentMethodSplit, PaymentMethodPending:
		return true
	default:
		return false
	}
}

// ValidPaymentStatus reports whether status is a known payment status.
func ValidPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartial:
		return true
	default:
		return false
	}
}
