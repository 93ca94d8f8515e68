package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordTooLong    = errors.New("password must not exceed 72 bytes")
)

// User is a registered account. The password hash never leaves the server.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserLookup resolves a username to its account.
type UserLookup interface {
	Lookup(ctx context.Context, username string) (*User, error)
}

// CredentialStore holds username -> password hash. Accounts are immutable
// once created; there is no update or delete path.
type CredentialStore interface {
	UserLookup
	Register(ctx context.Context, username, password string) error
	Verify(ctx context.Context, username, password string) (*User, error)
}

// MemoryCredentialStore keeps accounts in a process-local map for the
// lifetime of the server.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	hasher *PasswordHasher
	now    func() time.Time
}

// NewMemoryCredentialStore returns an empty in-memory store.
func NewMemoryCredentialStore(hasher *PasswordHasher) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		users:  make(map[string]*User),
		hasher: hasher,
		now:    time.Now,
	}
}

// Register hashes the password outside the lock, then checks and inserts
// under a single write lock so two concurrent signups for the same name
// cannot both succeed.
func (s *MemoryCredentialStore) Register(_ context.Context, username, password string) error {
	s.mu.RLock()
	_, exists := s.users[username]
	s.mu.RUnlock()
	if exists {
		return ErrUserExists
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		if isPasswordTooLong(err) {
			return ErrPasswordTooLong
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUserExists
	}
	s.users[username] = &User{Username: username, PasswordHash: hashed, CreatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryCredentialStore) Verify(ctx context.Context, username, password string) (*User, error) {
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

func (s *MemoryCredentialStore) Lookup(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", username, ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

// Count returns the number of registered accounts.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
