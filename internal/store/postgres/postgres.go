package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"coffybyte/backend/internal/domain"
	"coffybyte/backend/internal/pricing"
	"coffybyte/backend/internal/store"
	"coffybyte/backend/internal/xid"
)

// tokenRetries bounds the number of attempts to claim a daily token when
// concurrent creations collide on the (store_id, created_date, token) index.
const tokenRetries = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			number INT NOT NULL,
			seats INT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			UNIQUE (store_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS taxes (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			name TEXT NOT NULL,
			percentage NUMERIC(7,3) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (store_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS modifiers (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (store_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			UNIQUE (store_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			category_id TEXT,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			tax_ids JSONB NOT NULL DEFAULT '[]',
			modifier_ids JSONB NOT NULL DEFAULT '[]',
			price_before_tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			token INT NOT NULL,
			created_date DATE NOT NULL,
			order_method TEXT NOT NULL,
			table_id TEXT,
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			checkout_status BOOLEAN NOT NULL DEFAULT false,
			total_before_tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			UNIQUE (store_id, created_date, token)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			menu_item_id TEXT NOT NULL,
			menu_item_name TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			modifier_ids JSONB NOT NULL DEFAULT '[]',
			tax_ids JSONB NOT NULL DEFAULT '[]',
			saved_for_later BOOLEAN NOT NULL DEFAULT false,
			completion_status BOOLEAN NOT NULL DEFAULT false,
			added_at TIMESTAMPTZ NOT NULL,
			moved_to_checkout_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
		`CREATE TABLE IF NOT EXISTS checkouts (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
			store_id TEXT NOT NULL,
			total_price NUMERIC(12,2) NOT NULL,
			tax_amount NUMERIC(12,2) NOT NULL,
			payment_method TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			payment_reference TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			cash_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			card_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			upi_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			other_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			delivery_address TEXT NOT NULL DEFAULT '',
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_reason TEXT NOT NULL DEFAULT '',
			service_charge NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_items_logs (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			store_id TEXT NOT NULL,
			saved_by TEXT NOT NULL,
			items_count INT NOT NULL,
			total_amount NUMERIC(12,2) NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tables

func (s *Store) CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
	if table.StoreID == "" || table.Number < 1 || table.Seats < 1 {
		return nil, store.ErrValidation
	}
	if table.ID == "" {
		table.ID = xid.New("tbl")
	}
	table.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dining_tables (id, store_id, number, seats, active)
		VALUES ($1,$2,$3,$4,$5)
	`, table.ID, table.StoreID, table.Number, table.Seats, table.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := table
	return &created, nil
}

func (s *Store) ListTables(ctx context.Context, storeID string) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, number, seats, active
		FROM dining_tables
		WHERE store_id = $1
		ORDER BY number
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make([]domain.Table, 0, 16)
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Number, &t.Seats, &t.Active); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Store) GetTable(ctx context.Context, storeID string, tableID string) (*domain.Table, error) {
	var t domain.Table
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, number, seats, active
		FROM dining_tables
		WHERE id = $1 AND store_id = $2
	`, tableID, storeID).Scan(&t.ID, &t.StoreID, &t.Number, &t.Seats, &t.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) SetTableActive(ctx context.Context, storeID string, tableID string, active bool) (*domain.Table, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dining_tables SET active = $3
		WHERE id = $1 AND store_id = $2
	`, tableID, storeID, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTable(ctx, storeID, tableID)
}

// Taxes

func (s *Store) CreateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error) {
	if tax.StoreID == "" || strings.TrimSpace(tax.Name) == "" || tax.Percentage.Sign() < 0 {
		return nil, store.ErrValidation
	}
	if tax.ID == "" {
		tax.ID = xid.New("tax")
	}
	tax.Active = true
	if tax.CreatedAt.IsZero() {
		tax.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxes (id, store_id, name, percentage, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, tax.ID, tax.StoreID, tax.Name, tax.Percentage, tax.Active, tax.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := tax
	return &created, nil
}

func (s *Store) ListTaxes(ctx context.Context, storeID string) ([]domain.Tax, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, percentage, active, created_at
		FROM taxes
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taxes := make([]domain.Tax, 0, 16)
	for rows.Next() {
		var t domain.Tax
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Name, &t.Percentage, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		taxes = append(taxes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return taxes, nil
}

func (s *Store) GetTaxesByIDs(ctx context.Context, storeID string, ids []string) (map[string]domain.Tax, error) {
	return taxesByIDs(ctx, s.db, storeID, ids)
}

func taxesByIDs(ctx context.Context, q dbtx, storeID string, ids []string) (map[string]domain.Tax, error) {
	result := make(map[string]domain.Tax, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, store_id, name, percentage, active, created_at
		FROM taxes
		WHERE store_id = $1 AND id = ANY($2)
	`, storeID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Tax
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Name, &t.Percentage, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		result[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error) {
	if strings.TrimSpace(tax.Name) == "" || tax.Percentage.Sign() < 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE taxes SET name = $3, percentage = $4, active = $5
		WHERE id = $1 AND store_id = $2
	`, tax.ID, tax.StoreID, tax.Name, tax.Percentage, tax.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := refreshMenuSplitsForTax(ctx, tx, tax.StoreID, tax.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := tax
	return &updated, nil
}

// refreshMenuSplitsForTax recomputes the informational price split of every
// menu item linked to the given tax.
func refreshMenuSplitsForTax(ctx context.Context, tx dbtx, storeID string, taxID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, price, tax_ids
		FROM menu_items
		WHERE store_id = $1 AND tax_ids @> to_jsonb(ARRAY[$2::text])
	`, storeID, taxID)
	if err != nil {
		return err
	}

	type menuRow struct {
		id     string
		price  decimal.Decimal
		taxIDs []string
	}
	items := make([]menuRow, 0, 16)
	for rows.Next() {
		var row menuRow
		var rawTaxIDs []byte
		if err := rows.Scan(&row.id, &row.price, &rawTaxIDs); err != nil {
			_ = rows.Close()
			return err
		}
		if err := json.Unmarshal(rawTaxIDs, &row.taxIDs); err != nil {
			_ = rows.Close()
			return err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, item := range items {
		taxes, err := taxesByIDs(ctx, tx, storeID, item.taxIDs)
		if err != nil {
			return err
		}
		totalPct := decimal.Zero
		for _, t := range taxes {
			if t.Active {
				totalPct = totalPct.Add(t.Percentage)
			}
		}
		beforeTax, taxAmount := pricing.TaxInclusiveSplit(item.price, totalPct)
		if _, err := tx.ExecContext(ctx, `
			UPDATE menu_items SET price_before_tax = $2, tax_amount = $3
			WHERE id = $1
		`, item.id, beforeTax, taxAmount); err != nil {
			return err
		}
	}
	return nil
}

// Modifiers

func (s *Store) CreateModifier(ctx context.Context, modifier domain.Modifier) (*domain.Modifier, error) {
	if modifier.StoreID == "" || strings.TrimSpace(modifier.Name) == "" || modifier.Price.Sign() < 0 {
		return nil, store.ErrValidation
	}
	if modifier.ID == "" {
		modifier.ID = xid.New("mod")
	}
	modifier.Active = true
	if modifier.CreatedAt.IsZero() {
		modifier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modifiers (id, store_id, name, price, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, modifier.ID, modifier.StoreID, modifier.Name, modifier.Price, modifier.Active, modifier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := modifier
	return &created, nil
}

func (s *Store) ListModifiers(ctx context.Context, storeID string) ([]domain.Modifier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, price, active, created_at
		FROM modifiers
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modifiers := make([]domain.Modifier, 0, 16)
	for rows.Next() {
		var m domain.Modifier
		if err := rows.Scan(&m.ID, &m.StoreID, &m.Name, &m.Price, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		modifiers = append(modifiers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return modifiers, nil
}

func (s *Store) GetModifiersByIDs(ctx context.Context, storeID string, ids []string) (map[string]domain.Modifier, error) {
	return modifiersByIDs(ctx, s.db, storeID, ids)
}

func modifiersByIDs(ctx context.Context, q dbtx, storeID string, ids []string) (map[string]domain.Modifier, error) {
	result := make(map[string]domain.Modifier, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, store_id, name, price, active, created_at
		FROM modifiers
		WHERE store_id = $1 AND id = ANY($2)
	`, storeID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Modifier
		if err := rows.Scan(&m.ID, &m.StoreID, &m.Name, &m.Price, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateModifier(ctx context.Context, modifier domain.Modifier) (*domain.Modifier, error) {
	if strings.TrimSpace(modifier.Name) == "" || modifier.Price.Sign() < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE modifiers SET name = $3, price = $4, active = $5
		WHERE id = $1 AND store_id = $2
	`, modifier.ID, modifier.StoreID, modifier.Name, modifier.Price, modifier.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := modifier
	return &updated, nil
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.StoreID == "" || strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	category.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, store_id, name, active)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.StoreID, category.Name, category.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context, storeID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, active
		FROM categories
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 8)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.StoreID, &c.Name, &c.Active); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// Menu

func (s *Store) CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if item.StoreID == "" || strings.TrimSpace(item.Name) == "" || item.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("menu")
	}
	item.Active = true
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if item.CategoryID != "" {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1 AND store_id = $2)
		`, item.CategoryID, item.StoreID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrInvalidReference
		}
	}

	taxes, err := taxesByIDs(ctx, tx, item.StoreID, item.TaxIDs)
	if err != nil {
		return nil, err
	}
	if len(taxes) != len(item.TaxIDs) {
		return nil, store.ErrInvalidReference
	}
	modifiers, err := modifiersByIDs(ctx, tx, item.StoreID, item.ModifierIDs)
	if err != nil {
		return nil, err
	}
	if len(modifiers) != len(item.ModifierIDs) {
		return nil, store.ErrInvalidReference
	}

	totalPct := decimal.Zero
	for _, t := range taxes {
		if t.Active {
			totalPct = totalPct.Add(t.Percentage)
		}
	}
	item.PriceBeforeTax, item.TaxAmount = pricing.TaxInclusiveSplit(item.Price, totalPct)

	taxJSON, modJSON, err := marshalIDLists(item.TaxIDs, item.ModifierIDs)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO menu_items (
			id, store_id, category_id, name, price, active,
			tax_ids, modifier_ids, price_before_tax, tax_amount, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, item.ID, item.StoreID, nullIfEmpty(item.CategoryID), item.Name, item.Price, item.Active,
		taxJSON, modJSON, item.PriceBeforeTax, item.TaxAmount, item.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if strings.TrimSpace(item.Name) == "" || item.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getMenuItem(ctx, tx, item.StoreID, item.ID)
	if err != nil {
		return nil, err
	}
	item.TaxIDs = existing.TaxIDs
	item.ModifierIDs = existing.ModifierIDs
	item.CreatedAt = existing.CreatedAt

	taxes, err := taxesByIDs(ctx, tx, item.StoreID, item.TaxIDs)
	if err != nil {
		return nil, err
	}
	totalPct := decimal.Zero
	for _, t := range taxes {
		if t.Active {
			totalPct = totalPct.Add(t.Percentage)
		}
	}
	item.PriceBeforeTax, item.TaxAmount = pricing.TaxInclusiveSplit(item.Price, totalPct)

	_, err = tx.ExecContext(ctx, `
		UPDATE menu_items
		SET category_id = $3, name = $4, price = $5, active = $6,
			price_before_tax = $7, tax_amount = $8
		WHERE id = $1 AND store_id = $2
	`, item.ID, item.StoreID, nullIfEmpty(item.CategoryID), item.Name, item.Price, item.Active,
		item.PriceBeforeTax, item.TaxAmount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := item
	return &updated, nil
}

func (s *Store) GetMenuItem(ctx context.Context, storeID string, itemID string) (*domain.MenuItem, error) {
	return getMenuItem(ctx, s.db, storeID, itemID)
}

func getMenuItem(ctx context.Context, q dbtx, storeID string, itemID string) (*domain.MenuItem, error) {
	var item domain.MenuItem
	var categoryID sql.NullString
	var rawTaxIDs, rawModIDs []byte
	err := q.QueryRowContext(ctx, `
		SELECT id, store_id, category_id, name, price, active,
			tax_ids, modifier_ids, price_before_tax, tax_amount, created_at
		FROM menu_items
		WHERE id = $1 AND store_id = $2
	`, itemID, storeID).Scan(&item.ID, &item.StoreID, &categoryID, &item.Name, &item.Price,
		&item.Active, &rawTaxIDs, &rawModIDs, &item.PriceBeforeTax, &item.TaxAmount, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if categoryID.Valid {
		item.CategoryID = categoryID.String
	}
	if err := unmarshalIDLists(rawTaxIDs, rawModIDs, &item.TaxIDs, &item.ModifierIDs); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) ListMenuItems(ctx context.Context, storeID string) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, category_id, name, price, active,
			tax_ids, modifier_ids, price_before_tax, tax_amount, created_at
		FROM menu_items
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.MenuItem, 0, 64)
	for rows.Next() {
		var item domain.MenuItem
		var categoryID sql.NullString
		var rawTaxIDs, rawModIDs []byte
		if err := rows.Scan(&item.ID, &item.StoreID, &categoryID, &item.Name, &item.Price,
			&item.Active, &rawTaxIDs, &rawModIDs, &item.PriceBeforeTax, &item.TaxAmount, &item.CreatedAt); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			item.CategoryID = categoryID.String
		}
		if err := unmarshalIDLists(rawTaxIDs, rawModIDs, &item.TaxIDs, &item.ModifierIDs); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetMenuItemAssociations(ctx context.Context, storeID string, itemID string, taxIDs []string, modifierIDs []string) (*domain.MenuItem, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := getMenuItem(ctx, tx, storeID, itemID)
	if err != nil {
		return nil, err
	}

	taxes, err := taxesByIDs(ctx, tx, storeID, taxIDs)
	if err != nil {
		return nil, err
	}
	if len(taxes) != len(taxIDs) {
		return nil, store.ErrInvalidReference
	}
	modifiers, err := modifiersByIDs(ctx, tx, storeID, modifierIDs)
	if err != nil {
		return nil, err
	}
	if len(modifiers) != len(modifierIDs) {
		return nil, store.ErrInvalidReference
	}

	item.TaxIDs = append([]string(nil), taxIDs...)
	item.ModifierIDs = append([]string(nil), modifierIDs...)

	totalPct := decimal.Zero
	for _, t := range taxes {
		if t.Active {
			totalPct = totalPct.Add(t.Percentage)
		}
	}
	item.PriceBeforeTax, item.TaxAmount = pricing.TaxInclusiveSplit(item.Price, totalPct)

	taxJSON, modJSON, err := marshalIDLists(item.TaxIDs, item.ModifierIDs)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE menu_items
		SET tax_ids = $3, modifier_ids = $4, price_before_tax = $5, tax_amount = $6
		WHERE id = $1 AND store_id = $2
	`, itemID, storeID, taxJSON, modJSON, item.PriceBeforeTax, item.TaxAmount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	createdDate := nowDateUTC(order.CreatedAt)

	for attempt := 0; attempt < tokenRetries; attempt++ {
		created, err := s.tryCreateOrder(ctx, order, items, createdDate)
		if err == nil {
			return created, nil
		}
		// Two concurrent creations collide either on the token unique index
		// or as a serialization abort, depending on commit timing. Both mean
		// the same thing here: re-read the max and try again.
		if !isUniqueViolation(err) && !isSerializationFailure(err) {
			return nil, err
		}
	}
	return nil, store.ErrConflict
}

func (s *Store) tryCreateOrder(ctx context.Context, order domain.Order, items []domain.OrderItem, createdDate time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(token), 0) + 1
		FROM orders
		WHERE store_id = $1 AND created_date = $2
	`, order.StoreID, createdDate).Scan(&order.Token)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, store_id, token, created_date, order_method, table_id, created_by,
			created_at, status, checkout_status, total_before_tax, total_tax,
			total_price, payment_method, payment_status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,0,0,0,$10,$11)
	`, order.ID, order.StoreID, order.Token, createdDate, order.Method, nullIfEmpty(order.TableID),
		order.CreatedBy, order.CreatedAt, order.Status, order.PaymentMethod, order.PaymentStatus)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		item.OrderID = order.ID
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = order.CreatedAt
		}
		if err := insertOrderItem(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	if err := recalcOrderTotals(ctx, tx, order.StoreID, order.ID); err != nil {
		return nil, err
	}
	created, err := getOrder(ctx, tx, order.StoreID, order.ID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func insertOrderItem(ctx context.Context, tx dbtx, item domain.OrderItem) error {
	taxJSON, modJSON, err := marshalIDLists(item.TaxIDs, item.ModifierIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_items (
			id, order_id, menu_item_id, menu_item_name, quantity, unit_price,
			instructions, modifier_ids, tax_ids, saved_for_later, completion_status,
			added_at, moved_to_checkout_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, item.ID, item.OrderID, item.MenuItemID, item.MenuItemName, item.Quantity, item.UnitPrice,
		item.Instructions, modJSON, taxJSON, item.SavedForLater, item.CompletionStatus,
		item.AddedAt, nullTime(item.MovedToCheckoutAt))
	return err
}

func (s *Store) GetOrder(ctx context.Context, storeID string, orderID string) (*domain.Order, error) {
	return getOrder(ctx, s.db, storeID, orderID, false)
}

func getOrder(ctx context.Context, q dbtx, storeID string, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, store_id, token, order_method, table_id, created_by, created_at,
			status, checkout_status, total_before_tax, total_tax, total_price,
			payment_method, payment_status
		FROM orders
		WHERE id = $1 AND store_id = $2
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var o domain.Order
	var tableID sql.NullString
	err := q.QueryRowContext(ctx, query, orderID, storeID).Scan(
		&o.ID, &o.StoreID, &o.Token, &o.Method, &tableID, &o.CreatedBy, &o.CreatedAt,
		&o.Status, &o.CheckoutStatus, &o.TotalBeforeTax, &o.TotalTax, &o.TotalPrice,
		&o.PaymentMethod, &o.PaymentStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tableID.Valid {
		o.TableID = tableID.String
	}
	o.CreatedAt = o.CreatedAt.UTC()

	items, err := loadOrderItems(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func loadOrderItems(ctx context.Context, q dbtx, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, menu_item_name, quantity, unit_price,
			instructions, modifier_ids, tax_ids, saved_for_later, completion_status,
			added_at, moved_to_checkout_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY added_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		var rawModIDs, rawTaxIDs []byte
		var movedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.MenuItemName,
			&item.Quantity, &item.UnitPrice, &item.Instructions, &rawModIDs, &rawTaxIDs,
			&item.SavedForLater, &item.CompletionStatus, &item.AddedAt, &movedAt); err != nil {
			return nil, err
		}
		if err := unmarshalIDLists(rawTaxIDs, rawModIDs, &item.TaxIDs, &item.ModifierIDs); err != nil {
			return nil, err
		}
		item.AddedAt = item.AddedAt.UTC()
		if movedAt.Valid {
			at := movedAt.Time.UTC()
			item.MovedToCheckoutAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context, storeID string, filter domain.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT o.id
		FROM orders o
		WHERE o.store_id = $1
			AND ($2 = '' OR o.status = $2)
			AND ($3 = '' OR o.order_method = $3)
			AND ($4 = '' OR o.created_date::text = $4)
			AND ($5::boolean IS NULL OR o.checkout_status = $5)
	`
	if filter.HasSavedItems {
		query += ` AND EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.saved_for_later)`
	}
	query += ` ORDER BY o.created_at DESC LIMIT $6`

	rows, err := s.db.QueryContext(ctx, query, storeID, filter.Status, filter.Method, filter.Date, filter.CheckoutStatus, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := getOrder(ctx, s.db, storeID, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, storeID string, orderID string, status string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $3
		WHERE id = $1 AND store_id = $2
	`, orderID, storeID, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return getOrder(ctx, s.db, storeID, orderID, false)
}

// mutateOrder runs fn against a locked order inside a serializable
// transaction, then recalculates the order totals and reloads it. A
// serialization abort from a contending mutation surfaces as ErrConflict.
func (s *Store) mutateOrder(ctx context.Context, storeID string, orderID string, fn func(tx *sql.Tx, o *domain.Order) error) (*domain.Order, error) {
	updated, err := s.tryMutateOrder(ctx, storeID, orderID, fn)
	if err != nil && isSerializationFailure(err) {
		return nil, store.ErrConflict
	}
	return updated, err
}

func (s *Store) tryMutateOrder(ctx context.Context, storeID string, orderID string, fn func(tx *sql.Tx, o *domain.Order) error) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := getOrder(ctx, tx, storeID, orderID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(tx, o); err != nil {
		return nil, err
	}
	if err := recalcOrderTotals(ctx, tx, storeID, orderID); err != nil {
		return nil, err
	}
	updated, err := getOrder(ctx, tx, storeID, orderID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// recalcOrderTotals recomputes the order totals cache from the in-checkout
// item set, resolving modifier prices and active tax percentages at call time.
func recalcOrderTotals(ctx context.Context, tx dbtx, storeID string, orderID string) error {
	items, err := loadOrderItems(ctx, tx, orderID)
	if err != nil {
		return err
	}

	modIDs := make([]string, 0, 8)
	taxIDs := make([]string, 0, 8)
	for _, item := range items {
		modIDs = append(modIDs, item.ModifierIDs...)
		taxIDs = append(taxIDs, item.TaxIDs...)
	}
	modifiers, err := modifiersByIDs(ctx, tx, storeID, modIDs)
	if err != nil {
		return err
	}
	taxes, err := taxesByIDs(ctx, tx, storeID, taxIDs)
	if err != nil {
		return err
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		line := pricing.Line{
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			SavedForLater: item.SavedForLater,
		}
		for _, id := range item.ModifierIDs {
			if m, ok := modifiers[id]; ok {
				line.AddOnPrices = append(line.AddOnPrices, m.Price)
			}
		}
		for _, id := range item.TaxIDs {
			if t, ok := taxes[id]; ok && t.Active {
				line.TaxPercentages = append(line.TaxPercentages, t.Percentage)
			}
		}
		lines = append(lines, line)
	}
	totals := pricing.Compute(lines)

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET total_before_tax = $3, total_tax = $4, total_price = $5
		WHERE id = $1 AND store_id = $2
	`, orderID, storeID, totals.BeforeTax, totals.Tax, totals.Total)
	return err
}

func (s *Store) AddOrderItem(ctx context.Context, storeID string, item domain.OrderItem) (*domain.Order, error) {
	return s.mutateOrder(ctx, storeID, item.OrderID, func(tx *sql.Tx, o *domain.Order) error {
		if o.CheckoutStatus && !item.SavedForLater {
			return store.ErrInvalidState
		}
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = time.Now().UTC()
		}
		return insertOrderItem(ctx, tx, item)
	})
}

func (s *Store) orderIDForItem(ctx context.Context, itemID string) (string, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id FROM order_items WHERE id = $1
	`, itemID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return orderID, nil
}

func (s *Store) UpdateOrderItem(ctx context.Context, storeID string, itemID string, req domain.OrderItemUpdateRequest) (*domain.Order, error) {
	orderID, err := s.orderIDForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		item := findItem(o, itemID)
		if item == nil {
			return store.ErrNotFound
		}
		if o.CheckoutStatus && !item.SavedForLater {
			return store.ErrInvalidState
		}
		if req.Quantity != nil {
			if *req.Quantity < 1 {
				return store.ErrValidation
			}
			item.Quantity = *req.Quantity
		}
		if req.UnitPrice != nil {
			if req.UnitPrice.Sign() <= 0 {
				return store.ErrValidation
			}
			item.UnitPrice = req.UnitPrice.Round(2)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_items SET quantity = $2, unit_price = $3
			WHERE id = $1
		`, itemID, item.Quantity, item.UnitPrice)
		return err
	})
}

func (s *Store) DeleteOrderItem(ctx context.Context, storeID string, itemID string) (*domain.Order, error) {
	orderID, err := s.orderIDForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		item := findItem(o, itemID)
		if item == nil {
			return store.ErrNotFound
		}
		if o.CheckoutStatus && !item.SavedForLater {
			return store.ErrInvalidState
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
		return err
	})
}

func (s *Store) SetOrderItemAssociations(ctx context.Context, storeID string, itemID string, req domain.ItemAssocUpdateRequest) (*domain.Order, error) {
	orderID, err := s.orderIDForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		item := findItem(o, itemID)
		if item == nil {
			return store.ErrNotFound
		}
		if o.CheckoutStatus && !item.SavedForLater {
			return store.ErrInvalidState
		}

		taxes, err := taxesByIDs(ctx, tx, storeID, req.TaxIDs)
		if err != nil {
			return err
		}
		if len(taxes) != len(req.TaxIDs) {
			return store.ErrInvalidReference
		}
		modifiers, err := modifiersByIDs(ctx, tx, storeID, req.ModifierIDs)
		if err != nil {
			return err
		}
		if len(modifiers) != len(req.ModifierIDs) {
			return store.ErrInvalidReference
		}

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
			return store.ErrValidation
		}

		taxJSON, modJSON, err := marshalIDLists(item.TaxIDs, item.ModifierIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET tax_ids = $2, modifier_ids = $3
			WHERE id = $1
		`, itemID, taxJSON, modJSON)
		return err
	})
}

func (s *Store) MoveOrderItems(ctx context.Context, storeID string, orderID string, itemIDs []string, direction string) (*domain.Order, []string, error) {
	moved := make([]string, 0, len(itemIDs))
	updated, err := s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		if o.CheckoutStatus {
			return store.ErrInvalidState
		}

		byID := make(map[string]*domain.OrderItem, len(o.Items))
		for i := range o.Items {
			byID[o.Items[i].ID] = &o.Items[i]
		}
		for _, id := range itemIDs {
			if _, found := byID[id]; !found {
				return store.ErrNotFound
			}
		}

		now := time.Now().UTC()
		for _, id := range itemIDs {
			item := byID[id]
			switch direction {
			case domain.MoveToCheckout:
				if !item.SavedForLater {
					continue
				}
				_, err := tx.ExecContext(ctx, `
					UPDATE order_items SET saved_for_later = false, moved_to_checkout_at = $2
					WHERE id = $1
				`, id, now)
				if err != nil {
					return err
				}
				moved = append(moved, id)
			case domain.MoveToSaved:
				if item.SavedForLater {
					continue
				}
				_, err := tx.ExecContext(ctx, `
					UPDATE order_items SET saved_for_later = true, moved_to_checkout_at = NULL
					WHERE id = $1
				`, id)
				if err != nil {
					return err
				}
				moved = append(moved, id)
			default:
				return store.ErrValidation
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, moved, nil
}

func (s *Store) SetOrderItemCompletion(ctx context.Context, storeID string, itemID string, done bool) (*domain.Order, error) {
	orderID, err := s.orderIDForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		item := findItem(o, itemID)
		if item == nil {
			return store.ErrNotFound
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_items SET completion_status = $2
			WHERE id = $1
		`, itemID, done)
		if err != nil {
			return err
		}
		item.CompletionStatus = done

		allDone := true
		hasActive := false
		for _, it := range o.Items {
			if it.SavedForLater {
				continue
			}
			hasActive = true
			if !it.CompletionStatus {
				allDone = false
				break
			}
		}
		if hasActive && allDone && o.Status != domain.OrderStatusOrderReady && o.Status != domain.OrderStatusCompleted {
			_, err := tx.ExecContext(ctx, `
				UPDATE orders SET status = $3
				WHERE id = $1 AND store_id = $2
			`, o.ID, storeID, domain.OrderStatusOrderReady)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RecalculateOrderTotals(ctx context.Context, storeID string, orderID string) (*domain.Order, error) {
	return s.mutateOrder(ctx, storeID, orderID, func(tx *sql.Tx, o *domain.Order) error {
		return nil
	})
}

func (s *Store) ListKitchenOrders(ctx context.Context, storeID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id
		FROM orders o
		WHERE o.store_id = $1
			AND o.status = ANY($2)
			AND EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND NOT i.saved_for_later)
		ORDER BY o.created_at
	`, storeID, []string{domain.OrderStatusPending, domain.OrderStatusInKitchen, domain.OrderStatusInProgress})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := getOrder(ctx, s.db, storeID, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (s *Store) GetOrderStatistics(ctx context.Context, storeID string) (*domain.OrderStatistics, error) {
	today := nowDateUTC(time.Now().UTC())
	stats := domain.OrderStatistics{
		StoreID:      storeID,
		Date:         today.Format("2006-01-02"),
		TodayRevenue: decimal.Zero.Round(2),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_date = $2),
			COUNT(*) FILTER (WHERE status = ANY($3)),
			COUNT(*) FILTER (WHERE created_date = $2 AND status = $4),
			COALESCE(SUM(total_price) FILTER (WHERE created_date = $2 AND payment_status = $5), 0),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM order_items i WHERE i.order_id = orders.id AND i.saved_for_later
			))
		FROM orders
		WHERE store_id = $1
	`, storeID, today,
		[]string{domain.OrderStatusPending, domain.OrderStatusInKitchen, domain.OrderStatusInProgress},
		domain.OrderStatusCompleted, domain.PaymentStatusPaid).Scan(
		&stats.TodayOrders, &stats.PendingOrders, &stats.CompletedOrders,
		&stats.TodayRevenue, &stats.OrdersWithSavedItems)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Checkout

func (s *Store) CreateCheckout(ctx context.Context, checkout domain.Checkout, finalize func(*domain.Checkout) error) (*domain.Checkout, error) {
	created, err := s.tryCreateCheckout(ctx, checkout, finalize)
	if err != nil && isSerializationFailure(err) {
		return nil, store.ErrConflict
	}
	return created, err
}

// tryCreateCheckout recalculates, snapshots and inserts inside one
// transaction that holds the order row, so the frozen amount always matches
// the item set the checkout terminates.
func (s *Store) tryCreateCheckout(ctx context.Context, checkout domain.Checkout, finalize func(*domain.Checkout) error) (*domain.Checkout, error) {
	if checkout.ID == "" {
		checkout.ID = xid.New("chk")
	}
	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := getOrder(ctx, tx, checkout.StoreID, checkout.OrderID, true)
	if err != nil {
		return nil, err
	}
	if o.CheckoutStatus {
		return nil, store.ErrInvalidState
	}

	if err := recalcOrderTotals(ctx, tx, checkout.StoreID, checkout.OrderID); err != nil {
		return nil, err
	}
	o, err = getOrder(ctx, tx, checkout.StoreID, checkout.OrderID, false)
	if err != nil {
		return nil, err
	}
	inCheckout := 0
	for _, item := range o.Items {
		if !item.SavedForLater {
			inCheckout++
		}
	}
	if inCheckout == 0 {
		return nil, store.ErrInvalidState
	}
	checkout.TotalPrice = o.TotalPrice
	checkout.TaxAmount = o.TotalTax

	if finalize != nil {
		if err := finalize(&checkout); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkouts (
			id, order_id, store_id, total_price, tax_amount, payment_method,
			payment_status, payment_reference, notes, cash_amount, card_amount,
			upi_amount, other_amount, customer_name, customer_phone,
			delivery_address, discount_amount, discount_reason, service_charge, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, checkout.ID, checkout.OrderID, checkout.StoreID, checkout.TotalPrice, checkout.TaxAmount,
		checkout.PaymentMethod, checkout.PaymentStatus, checkout.Reference, checkout.Notes,
		checkout.CashAmount, checkout.CardAmount, checkout.UPIAmount, checkout.OtherAmount,
		checkout.CustomerName, checkout.CustomerPhone, checkout.DeliveryAddress,
		checkout.DiscountAmount, checkout.DiscountReason, checkout.ServiceCharge, checkout.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET checkout_status = true, payment_method = $3, payment_status = $4
		WHERE id = $1 AND store_id = $2
	`, checkout.OrderID, checkout.StoreID, checkout.PaymentMethod, checkout.PaymentStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := checkout
	return &created, nil
}

func (s *Store) GetCheckout(ctx context.Context, storeID string, orderID string) (*domain.Checkout, error) {
	var c domain.Checkout
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, store_id, total_price, tax_amount, payment_method,
			payment_status, payment_reference, notes, cash_amount, card_amount,
			upi_amount, other_amount, customer_name, customer_phone,
			delivery_address, discount_amount, discount_reason, service_charge, created_at
		FROM checkouts
		WHERE order_id = $1 AND store_id = $2
	`, orderID, storeID).Scan(&c.ID, &c.OrderID, &c.StoreID, &c.TotalPrice, &c.TaxAmount,
		&c.PaymentMethod, &c.PaymentStatus, &c.Reference, &c.Notes, &c.CashAmount,
		&c.CardAmount, &c.UPIAmount, &c.OtherAmount, &c.CustomerName, &c.CustomerPhone,
		&c.DeliveryAddress, &c.DiscountAmount, &c.DiscountReason, &c.ServiceCharge, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// Saved-items audit trail

func (s *Store) CreateSavedItemsLog(ctx context.Context, entry domain.SavedItemsLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("saved")
	}
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_items_logs (id, order_id, store_id, saved_by, items_count, total_amount, notes, saved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.OrderID, entry.StoreID, entry.SavedBy, entry.ItemsCount, entry.TotalAmount, entry.Notes, entry.SavedAt)
	return err
}

func (s *Store) ListSavedItemsLogs(ctx context.Context, storeID string, orderID string) ([]domain.SavedItemsLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, store_id, saved_by, items_count, total_amount, notes, saved_at
		FROM saved_items_logs
		WHERE store_id = $1 AND ($2 = '' OR order_id = $2)
		ORDER BY saved_at
	`, storeID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.SavedItemsLog, 0, 8)
	for rows.Next() {
		var entry domain.SavedItemsLog
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.StoreID, &entry.SavedBy,
			&entry.ItemsCount, &entry.TotalAmount, &entry.Notes, &entry.SavedAt); err != nil {
			return nil, err
		}
		entry.SavedAt = entry.SavedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// helpers

func findItem(o *domain.Order, itemID string) *domain.OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

func marshalIDLists(taxIDs []string, modifierIDs []string) ([]byte, []byte, error) {
	if taxIDs == nil {
		taxIDs = []string{}
	}
	if modifierIDs == nil {
		modifierIDs = []string{}
	}
	taxJSON, err := json.Marshal(taxIDs)
	if err != nil {
		return nil, nil, err
	}
	modJSON, err := json.Marshal(modifierIDs)
	if err != nil {
		return nil, nil, err
	}
	return taxJSON, modJSON, nil
}

func unmarshalIDLists(rawTaxIDs []byte, rawModIDs []byte, taxIDs *[]string, modifierIDs *[]string) error {
	if err := json.Unmarshal(rawTaxIDs, taxIDs); err != nil {
		return err
	}
	return json.Unmarshal(rawModIDs, modifierIDs)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isSerializationFailure reports SQLSTATE 40001. Serializable transactions
// that race on the same order abort with it instead of a unique violation.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
