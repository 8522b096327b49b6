// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopmesh/shopmesh/internal/money"
)

// Store errors.
var (
	ErrNotFound    = errors.New("order not found")
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// PageSize is the fixed page size for order listings.
const PageSize = 20

// Line is one order line with the price captured at purchase time.
type Line struct {
	ProductID       int64        `json:"product_id"`
	ProductName     string       `json:"product_name"`
	Quantity        int32        `json:"quantity"`
	PriceAtPurchase money.Amount `json:"price_at_purchase"`
}

// StoredOrder is an order row as persisted: the owner exists only as an
// AES-GCM ciphertext plus a keyed lookup digest.
type StoredOrder struct {
	ID          int64
	OwnerCipher []byte
	OwnerHash   string
	Total       money.Amount
	Status      Status
	Lines       []Line
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_cipher  BLOB NOT NULL,
	owner_hash    TEXT NOT NULL,
	total         INTEGER NOT NULL,
	status        TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_owner_hash ON orders(owner_hash);

CREATE TABLE IF NOT EXISTS order_lines (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id      INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id    INTEGER NOT NULL,
	product_name  TEXT NOT NULL,
	quantity      INTEGER NOT NULL CHECK (quantity >= 1),
	price         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id);
`

// Store persists orders and their lines.
type Store struct {
	db *sql.DB
}

// NewStore bootstraps the schema and returns a Store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("bootstrap orders schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateOrder persists the order and all lines in one transaction. Nothing
// is written unless everything is.
func (s *Store) CreateOrder(ctx context.Context, ownerCipher []byte, ownerHash string, total money.Amount, lines []Line) (*StoredOrder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (owner_cipher, owner_hash, total, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ownerCipher, ownerHash, total.Minor(), string(StatusPending), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, product_id, product_name, quantity, price)
			 VALUES (?, ?, ?, ?, ?)`,
			orderID, line.ProductID, line.ProductName, line.Quantity, line.PriceAtPurchase.Minor()); err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return s.OrderByID(ctx, orderID)
}

const orderColumns = `id, owner_cipher, owner_hash, total, status, created_at, updated_at`

func scanOrder(scan func(...interface{}) error) (*StoredOrder, error) {
	var o StoredOrder
	var total, createdAt, updatedAt int64
	var status string
	err := scan(&o.ID, &o.OwnerCipher, &o.OwnerHash, &total, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Total = money.FromMinor(total)
	o.Status = Status(status)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

func (s *Store) loadLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, product_name, quantity, price FROM order_lines
		 WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		var price int64
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.PriceAtPurchase = money.FromMinor(price)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// OrderByID fetches one order with its lines.
func (s *Store) OrderByID(ctx context.Context, id int64) (*StoredOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row.Scan)
	if err != nil {
		return nil, err
	}
	order.Lines, err = s.loadLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) listWhere(ctx context.Context, where string, args []interface{}, page int) ([]StoredOrder, int, error) {
	if page < 1 {
		page = 1
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	listArgs := append(append([]interface{}{}, args...), PageSize, (page-1)*PageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []StoredOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		if orders[i].Lines, err = s.loadLines(ctx, orders[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// OrdersByOwnerHash pages through one owner's orders, newest first.
func (s *Store) OrdersByOwnerHash(ctx context.Context, ownerHash string, page int) ([]StoredOrder, int, error) {
	return s.listWhere(ctx, `WHERE owner_hash = ?`, []interface{}{ownerHash}, page)
}

// AllOrders pages through every order, newest first.
func (s *Store) AllOrders(ctx context.Context, page int) ([]StoredOrder, int, error) {
	return s.listWhere(ctx, ``, nil, page)
}

// SetStatus transitions an order, guarded by the expected current status so
// concurrent transitions cannot race past the state machine.
func (s *Store) SetStatus(ctx context.Context, id int64, from, to Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC().Unix(), id, string(from))
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// Ping verifies database liveness for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
