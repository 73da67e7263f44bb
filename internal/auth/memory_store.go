package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRefreshStore keeps refresh tokens in-memory. It is safe for
// concurrent use and primarily intended for development or single-instance
// deployments.
type MemoryRefreshStore struct {
	mu     sync.RWMutex
	tokens map[string]RefreshRecord
}

// NewMemoryRefreshStore constructs an in-memory store implementation.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]RefreshRecord)}
}

// Save records the refresh token for the provided account.
func (s *MemoryRefreshStore) Save(tokenHash, accountID string, expiresAt time.Time) error {
	s.mu.Lock()
	s.tokens[tokenHash] = RefreshRecord{TokenHash: tokenHash, AccountID: accountID, ExpiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Get retrieves the record for the provided token hash.
func (s *MemoryRefreshStore) Get(tokenHash string) (RefreshRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.tokens[tokenHash]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the token hash from the store.
func (s *MemoryRefreshStore) Delete(tokenHash string) error {
	s.mu.Lock()
	delete(s.tokens, tokenHash)
	s.mu.Unlock()
	return nil
}

// DeleteByAccount removes every token belonging to the account.
func (s *MemoryRefreshStore) DeleteByAccount(accountID string) error {
	s.mu.Lock()
	for hash, record := range s.tokens {
		if record.AccountID == accountID {
			delete(s.tokens, hash)
		}
	}
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired tokens from the store.
func (s *MemoryRefreshStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for hash, record := range s.tokens {
		if now.After(record.ExpiresAt) {
			delete(s.tokens, hash)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory refresh store.
func (s *MemoryRefreshStore) Ping(context.Context) error {
	return nil
}

var _ RefreshStore = (*MemoryRefreshStore)(nil)
