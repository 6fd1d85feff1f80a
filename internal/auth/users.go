package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already exists")
)

// User is an account identity. The core treats it as read-only except
// for the last-login touch on successful authentication.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"is_active"`
	Role         string     `json:"role"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserStore is the external user record store.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error
	TouchLastLogin(ctx context.Context, id int64) error
}

// MemoryUserStore is an in-memory UserStore for tests and development.
type MemoryUserStore struct {
	mu     sync.Mutex
	users  map[int64]*User
	nextID int64
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int64]*User)}
}

func (m *MemoryUserStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return nil, ErrDuplicateUsername
		}
	}
	m.nextID++
	u := &User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Active:       true,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *MemoryUserStore) UserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUserStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryUserStore) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *MemoryUserStore) UpdateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	for _, other := range m.users {
		if other.ID != u.ID && other.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	cp := *u
	cp.CreatedAt = cur.CreatedAt
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryUserStore) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryUserStore) TouchLastLogin(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now().UTC()
	u.LastLogin = &now
	return nil
}
