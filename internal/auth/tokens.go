// Package auth issues and validates the two token kinds the API uses:
// short-lived JWT access tokens and opaque, rotating refresh tokens held
// in a backing store.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that are malformed, expired,
// revoked, or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidAccountID is returned when issuing tokens without an account.
var ErrInvalidAccountID = errors.New("account id is required")

// TokenPair is one complete credential set handed to a client.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenOption configures a TokenManager instance.
type TokenOption func(*TokenManager)

// WithRefreshStore injects a custom RefreshStore implementation.
func WithRefreshStore(store RefreshStore) TokenOption {
	return func(m *TokenManager) {
		m.store = store
	}
}

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// TokenManager signs access tokens and coordinates refresh-token rotation
// against a backing store.
type TokenManager struct {
	secret     []byte
	store      RefreshStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager constructs a TokenManager signing with the provided
// secret. It defaults to 15-minute access tokens, 30-day refresh tokens,
// and an in-memory refresh store for local development.
func NewTokenManager(secret []byte, opts ...TokenOption) *TokenManager {
	manager := &TokenManager{
		secret:     secret,
		accessTTL:  15 * time.Minute,
		refreshTTL: 30 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryRefreshStore()
	}
	return manager
}

// Issue creates a fresh token pair for the account.
func (m *TokenManager) Issue(accountID string) (TokenPair, error) {
	if accountID == "" {
		return TokenPair{}, ErrInvalidAccountID
	}
	now := m.now()
	accessExpiry := now.Add(m.accessTTL)

	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExpiry),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, hashed, err := generateHashedToken(refreshTokenLength)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiry := now.Add(m.refreshTTL).UTC()
	if err := m.store.Save(hashed, accountID, refreshExpiry); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry.UTC(),
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// ValidateAccess verifies an access token and returns the account id it was
// issued to.
func (m *TokenManager) ValidateAccess(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Refresh exchanges a valid refresh token for a new pair. The presented
// token is consumed: a second exchange with it fails.
func (m *TokenManager) Refresh(refreshToken string) (TokenPair, error) {
	hashed, err := hashToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	record, ok, err := m.store.Get(hashed)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if !ok {
		return TokenPair{}, ErrInvalidToken
	}
	if m.now().After(record.ExpiresAt) {
		_ = m.store.Delete(hashed)
		return TokenPair{}, ErrInvalidToken
	}
	if err := m.store.Delete(hashed); err != nil {
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return m.Issue(record.AccountID)
}

// Revoke consumes one refresh token, e.g. on logout. Unknown tokens are
// not an error.
func (m *TokenManager) Revoke(refreshToken string) error {
	hashed, err := hashToken(refreshToken)
	if err != nil {
		return nil
	}
	return m.store.Delete(hashed)
}

// RevokeAccount invalidates every refresh token the account holds. Password
// changes call this so stolen sessions die with the old password.
func (m *TokenManager) RevokeAccount(accountID string) error {
	return m.store.DeleteByAccount(accountID)
}

// PurgeExpired removes refresh tokens past their expiry from the store.
func (m *TokenManager) PurgeExpired() error {
	return m.store.PurgeExpired(m.now())
}
