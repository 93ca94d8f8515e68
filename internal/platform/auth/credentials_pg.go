package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgConn is the minimal database interface required by PGCredentialStore.
// Both *pgxpool.Pool (via a thin adapter) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Exec(ctx context.Context, sql string, args ...any) error
}

// PGCredentialStore keeps accounts in the users table. Uniqueness of the
// username is enforced by the primary key, which serializes concurrent
// registrations of the same name.
type PGCredentialStore struct {
	db     pgConn
	hasher *PasswordHasher
}

// NewPGCredentialStore creates a PG-backed store. Use
// NewPGCredentialStoreFromPool for a real pool, or pass a mock in tests.
func NewPGCredentialStore(db pgConn, hasher *PasswordHasher) *PGCredentialStore {
	return &PGCredentialStore{db: db, hasher: hasher}
}

// NewPGCredentialStoreFromPool creates a PG-backed store directly from a
// *pgxpool.Pool.
func NewPGCredentialStoreFromPool(pool *pgxpool.Pool, hasher *PasswordHasher) *PGCredentialStore {
	return NewPGCredentialStore(&pgxPoolWrapper{pool: pool}, hasher)
}

func (s *PGCredentialStore) Register(ctx context.Context, username, password string) error {
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		if isPasswordTooLong(err) {
			return ErrPasswordTooLong
		}
		return err
	}

	const query = `INSERT INTO users (username, password_hash) VALUES ($1, $2)`
	if err := s.db.Exec(ctx, query, username, hashed); err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (s *PGCredentialStore) Verify(ctx context.Context, username, password string) (*User, error) {
	u, err := s.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.CheckMissing(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Check(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *PGCredentialStore) Lookup(ctx context.Context, username string) (*User, error) {
	const query = `SELECT username, password_hash, created_at FROM users WHERE username = $1`

	var u User
	if err := s.db.QueryRow(ctx, query, username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lookup %q: %w", username, ErrUserNotFound)
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// isNoRows returns true when the error represents a "no rows" condition.
// It works with both pgx (pgx.ErrNoRows) and the mock used in tests.
func isNoRows(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no rows")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// pgxPoolWrapper adapts *pgxpool.Pool to pgConn; pool.Exec returns a
// CommandTag that the store never needs.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}
