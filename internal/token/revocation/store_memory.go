package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryList is an in-memory revocation list for single-instance deployments
// and tests. Expired entries are pruned lazily on lookup.
type MemoryList struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryList returns an empty in-memory revocation list.
func NewMemoryList() *MemoryList {
	return &MemoryList{revoked: make(map[string]time.Time)}
}

// IsRevoked implements List.
func (m *MemoryList) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	expiry, ok := m.revoked[jti]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		m.mu.Lock()
		delete(m.revoked, jti)
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Revoke implements List.
func (m *MemoryList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	m.revoked[jti] = time.Now().Add(ttl)
	m.mu.Unlock()
	return nil
}
