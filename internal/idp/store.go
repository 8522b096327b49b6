// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package idp implements the identity provider: accounts, password login,
// the TOTP second factor with recovery codes, and token issuance.
package idp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Account is a stored user account.
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	IsAdmin      bool
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SecondFactor is a stored TOTP enrollment. LastStep records the most recent
// accepted time step so the same code cannot authenticate twice.
type SecondFactor struct {
	AccountID int64
	Secret    string
	Confirmed bool
	LastStep  uint64
}

// RecoveryCode is one single-use backup credential, stored hashed.
type RecoveryCode struct {
	ID        int64
	AccountID int64
	CodeHash  string
	Used      bool
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	username       TEXT NOT NULL UNIQUE COLLATE NOCASE,
	email          TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash  TEXT NOT NULL,
	is_active      INTEGER NOT NULL DEFAULT 1,
	is_admin       INTEGER NOT NULL DEFAULT 0,
	token_version  INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS second_factors (
	account_id  INTEGER PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
	secret      TEXT NOT NULL,
	confirmed   INTEGER NOT NULL DEFAULT 0,
	last_step   INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS recovery_codes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	code_hash   TEXT NOT NULL,
	used        INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recovery_codes_account ON recovery_codes(account_id);
`

// Store persists accounts and second-factor state.
type Store struct {
	db *sql.DB
}

// NewStore bootstraps the schema and returns a Store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("bootstrap idp schema: %w", err)
	}
	return &Store{db: db}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const accountColumns = `id, username, email, password_hash, is_active, is_admin, token_version, created_at, updated_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var createdAt, updatedAt int64
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash,
		&a.IsActive, &a.IsAdmin, &a.TokenVersion, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

// CreateAccount inserts a new account. Username and email collisions return
// ErrDuplicate.
func (s *Store) CreateAccount(ctx context.Context, username, email, passwordHash string) (*Account, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		username, email, passwordHash, now, now)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create account id: %w", err)
	}
	return s.AccountByID(ctx, id)
}

// AccountByID fetches one account.
func (s *Store) AccountByID(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

// AccountByUsername fetches one account by username, case-insensitively.
func (s *Store) AccountByUsername(ctx context.Context, username string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
}

// UpdateEmail changes the account's email address.
func (s *Store) UpdateEmail(ctx context.Context, id int64, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, updated_at = ? WHERE id = ?`,
		email, time.Now().UTC().Unix(), id)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return nil
}

// SetPassword stores a new password hash and bumps the token version,
// invalidating every outstanding token for the account.
func (s *Store) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET password_hash = ?, token_version = token_version + 1, updated_at = ?
		 WHERE id = ?`,
		passwordHash, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// UpsertSecondFactor stores a fresh, unconfirmed TOTP enrollment, replacing
// any previous unconfirmed one. A confirmed factor is never overwritten.
func (s *Store) UpsertSecondFactor(ctx context.Context, accountID int64, secret string) error {
	existing, err := s.SecondFactorByAccount(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.Confirmed {
		return ErrDuplicate
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO second_factors (account_id, secret, confirmed, last_step, created_at)
		 VALUES (?, ?, 0, 0, ?)
		 ON CONFLICT(account_id) DO UPDATE SET secret = excluded.secret, confirmed = 0, last_step = 0`,
		accountID, secret, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("upsert second factor: %w", err)
	}
	return nil
}

// SecondFactorByAccount fetches the TOTP enrollment for an account.
func (s *Store) SecondFactorByAccount(ctx context.Context, accountID int64) (*SecondFactor, error) {
	var f SecondFactor
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, secret, confirmed, last_step FROM second_factors WHERE account_id = ?`,
		accountID).Scan(&f.AccountID, &f.Secret, &f.Confirmed, &f.LastStep)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan second factor: %w", err)
	}
	return &f, nil
}

// ConfirmSecondFactor marks the enrollment confirmed and records the step of
// the confirming code so it cannot be replayed at login.
func (s *Store) ConfirmSecondFactor(ctx context.Context, accountID int64, step uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE second_factors SET confirmed = 1, last_step = ? WHERE account_id = ?`,
		step, accountID)
	if err != nil {
		return fmt.Errorf("confirm second factor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm second factor: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceLastStep records a successful TOTP login at step. It returns false
// when the step has already been used, which rejects same-step replays.
func (s *Store) AdvanceLastStep(ctx context.Context, accountID int64, step uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE second_factors SET last_step = ? WHERE account_id = ? AND last_step < ?`,
		step, accountID, step)
	if err != nil {
		return false, fmt.Errorf("advance totp step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance totp step: %w", err)
	}
	return n > 0, nil
}

// DeleteSecondFactor removes the enrollment and all recovery codes.
func (s *Store) DeleteSecondFactor(ctx context.Context, accountID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete second factor: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM second_factors WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete second factor: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return tx.Commit()
}

// ReplaceRecoveryCodes atomically swaps the account's recovery code batch.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, accountID int64, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace recovery codes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("clear recovery codes: %w", err)
	}
	now := time.Now().UTC().Unix()
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recovery_codes (account_id, code_hash, created_at) VALUES (?, ?, ?)`,
			accountID, hash, now); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}
	return tx.Commit()
}

// UnusedRecoveryCodes lists the account's remaining codes.
func (s *Store) UnusedRecoveryCodes(ctx context.Context, accountID int64) ([]RecoveryCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, code_hash, used FROM recovery_codes
		 WHERE account_id = ? AND used = 0 ORDER BY id`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []RecoveryCode
	for rows.Next() {
		var c RecoveryCode
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CodeHash, &c.Used); err != nil {
			return nil, fmt.Errorf("scan recovery code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// MarkRecoveryCodeUsed consumes one code. Returns false when the code was
// already spent, enforcing single use under concurrency.
func (s *Store) MarkRecoveryCodeUsed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recovery_codes SET used = 1 WHERE id = ? AND used = 0`, id)
	if err != nil {
		return false, fmt.Errorf("mark recovery code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark recovery code used: %w", err)
	}
	return n > 0, nil
}

// Ping verifies database liveness for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
