// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package catalog implements the product catalog: product records, inventory
// counts, the public browsing API and the internal lookup RPCs.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopmesh/shopmesh/internal/money"
)

// ErrNotFound is returned for missing products.
var ErrNotFound = errors.New("product not found")

// PageSize is the fixed page size for product listings.
const PageSize = 20

// Product is a catalog entry. Price is fixed-point minor units in memory
// and a two-decimal string on the wire.
type Product struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       money.Amount `json:"price"`
	Inventory   int32        `json:"inventory_count"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	price        INTEGER NOT NULL CHECK (price >= 0),
	inventory    INTEGER NOT NULL DEFAULT 0 CHECK (inventory >= 0),
	is_active    INTEGER NOT NULL DEFAULT 1,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_active ON products(is_active);
`

// Store persists products.
type Store struct {
	db *sql.DB
}

// NewStore bootstraps the schema and returns a Store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("bootstrap catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

const productColumns = `id, name, description, price, inventory, is_active, created_at, updated_at`

func scanProduct(scan func(...interface{}) error) (*Product, error) {
	var p Product
	var price, createdAt, updatedAt int64
	err := scan(&p.ID, &p.Name, &p.Description, &price, &p.Inventory, &p.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Price = money.FromMinor(price)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

// Create inserts a product.
func (s *Store) Create(ctx context.Context, name, description string, price money.Amount, inventory int32) (*Product, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, description, price, inventory, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, description, price.Minor(), inventory, now, now)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create product id: %w", err)
	}
	return s.ByID(ctx, id)
}

// ByID fetches one product, active or not.
func (s *Store) ByID(ctx context.Context, id int64) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row.Scan)
}

// Update replaces the mutable fields of a product.
func (s *Store) Update(ctx context.Context, id int64, name, description string, price money.Amount, inventory int32, isActive bool) (*Product, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products
		 SET name = ?, description = ?, price = ?, inventory = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		name, description, price.Minor(), inventory, isActive, time.Now().UTC().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.ByID(ctx, id)
}

// Deactivate soft-deletes a product; it disappears from listings and order
// flows but keeps its row for existing order lines.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("deactivate product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate product: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of active products, optionally filtered by a
// case-insensitive substring match on name or description.
func (s *Store) List(ctx context.Context, query string, page int) ([]Product, int, error) {
	if page < 1 {
		page = 1
	}
	like := "%" + query + "%"

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products
		 WHERE is_active = 1 AND (name LIKE ? OR description LIKE ?)`,
		like, like).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE is_active = 1 AND (name LIKE ? OR description LIKE ?)
		 ORDER BY id LIMIT ? OFFSET ?`,
		like, like, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, PageSize)
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

// Ping verifies database liveness for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
