package rbac

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// GrantSource returns the role names granted to a user.
type GrantSource interface {
	Roles(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// MemoryGrants is an in-memory GrantSource.
type MemoryGrants struct {
	mu     sync.RWMutex
	grants map[uuid.UUID][]string
}

func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{grants: make(map[uuid.UUID][]string)}
}

// Grant adds roles to a user.
func (m *MemoryGrants) Grant(userID uuid.UUID, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := append(m.grants[userID], roles...)
	slices.Sort(merged)
	m.grants[userID] = slices.Compact(merged)
}

// Revoke removes every role of a user.
func (m *MemoryGrants) Revoke(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, userID)
}

func (m *MemoryGrants) Roles(_ context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.grants[userID]), nil
}
