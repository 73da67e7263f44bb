package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"mixroom/internal/models"
)

type contextKey string

const accountContextKey contextKey = "authenticatedAccount"

// ContextWithAccount stores the authenticated account in the provided context.
func ContextWithAccount(ctx context.Context, account models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext retrieves the authenticated account from context if present.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(models.Account)
	return account, ok
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AuthenticateRequest validates the access token on the request and returns
// the account it belongs to.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.Account, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.Account{}, fmt.Errorf("missing access token")
	}
	accountID, err := h.Tokens.ValidateAccess(token)
	if err != nil {
		return models.Account{}, fmt.Errorf("invalid or expired access token")
	}
	account, exists := h.Store.GetAccount(accountID)
	if !exists {
		return models.Account{}, fmt.Errorf("account not found")
	}
	return account, nil
}

func (h *Handler) requireAuthenticatedAccount(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.Account{}, false
	}
	return account, true
}
