package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidateAccess(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"))

	pair, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens populated")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatal("expected refresh token to outlive access token")
	}

	accountID, err := manager.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if accountID != "account-1" {
		t.Fatalf("expected account-1, got %q", accountID)
	}
}

func TestValidateAccessRejectsForgedTokens(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"))
	other := NewTokenManager([]byte("different-secret"))

	pair, err := other.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := manager.ValidateAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := manager.ValidateAccess("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
	if _, err := manager.ValidateAccess(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"))

	pair, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, err := manager.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if accountID, err := manager.ValidateAccess(next.AccessToken); err != nil || accountID != "account-1" {
		t.Fatalf("expected refreshed access token valid, got %q, %v", accountID, err)
	}

	// The presented token was consumed by the rotation.
	if _, err := manager.Refresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected consumed token rejected, got %v", err)
	}
}

func TestRefreshRejectsExpiredTokens(t *testing.T) {
	store := NewMemoryRefreshStore()
	manager := NewTokenManager([]byte("test-secret"), WithRefreshStore(store))

	pair, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	hashed, err := hashToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("hashToken: %v", err)
	}
	if err := store.Save(hashed, "account-1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := manager.Refresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	if _, ok, _ := store.Get(hashed); ok {
		t.Fatal("expected expired token removed from the store")
	}
}

func TestRevokeAccountInvalidatesAllSessions(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"))

	first, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	untouched, err := manager.Issue("account-2")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := manager.RevokeAccount("account-1"); err != nil {
		t.Fatalf("RevokeAccount: %v", err)
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := manager.Refresh(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected revoked token rejected, got %v", err)
		}
	}
	if _, err := manager.Refresh(untouched.RefreshToken); err != nil {
		t.Fatalf("expected other account unaffected, got %v", err)
	}
}

func TestRevokeConsumesToken(t *testing.T) {
	manager := NewTokenManager([]byte("test-secret"))

	pair, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := manager.Revoke(pair.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := manager.Refresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
	if err := manager.Revoke("unknown-token"); err != nil {
		t.Fatalf("expected unknown token revoke to be a no-op, got %v", err)
	}
}

func TestPurgeExpiredRemovesStaleTokens(t *testing.T) {
	store := NewMemoryRefreshStore()
	manager := NewTokenManager([]byte("test-secret"), WithRefreshStore(store))

	pair, err := manager.Issue("account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	hashed, err := hashToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("hashToken: %v", err)
	}
	if err := store.Save(hashed, "account-1", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := manager.PurgeExpired(); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if _, ok, _ := store.Get(hashed); ok {
		t.Fatal("expected stale token purged")
	}
}
