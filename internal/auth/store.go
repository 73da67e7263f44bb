package auth

import "time"

// RefreshStore defines the persistence contract for refresh tokens. Tokens
// are stored by their SHA-256 hash so a leaked store cannot be replayed.
type RefreshStore interface {
	Save(tokenHash, accountID string, expiresAt time.Time) error
	Get(tokenHash string) (RefreshRecord, bool, error)
	Delete(tokenHash string) error
	DeleteByAccount(accountID string) error
	PurgeExpired(now time.Time) error
}

// RefreshRecord captures a refresh-token row from the backing store.
type RefreshRecord struct {
	TokenHash string
	AccountID string
	ExpiresAt time.Time
}
