package storage

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"mixroom/internal/models"
)

// Account operations

func (s *Storage) CreateAccount(params CreateAccountParams) (models.Account, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.Account{}, errors.New("email is required")
	}
	if _, err := mail.ParseAddress(normalizedEmail); err != nil {
		return models.Account{}, errors.New("email is invalid")
	}
	username := models.NormalizeUsername(params.Username)
	if !models.ValidUsername(username) {
		return models.Account{}, errors.New("username is invalid")
	}
	if len(params.Password) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.data.Accounts {
		if account.Email == normalizedEmail {
			return models.Account{}, ErrEmailTaken
		}
		if account.Username == username {
			return models.Account{}, ErrUsernameTaken
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Account{}, err
	}

	account := models.Account{
		ID:           id,
		Email:        normalizedEmail,
		Username:     username,
		PasswordHash: hashed,
		Rank:         params.Rank,
		CreatedAt:    time.Now().UTC(),
	}

	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		delete(s.data.Accounts, id)
		return models.Account{}, err
	}

	return account, nil
}

// AuthenticateAccount verifies credentials and returns the matching account.
func (s *Storage) AuthenticateAccount(email, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, errors.New("password is required")
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))

	s.mu.RLock()
	var match models.Account
	found := false
	for _, account := range s.data.Accounts {
		if account.Email == normalizedEmail {
			match = cloneAccount(account)
			found = true
			break
		}
	}
	s.mu.RUnlock()

	if !found {
		return models.Account{}, ErrInvalidCredentials
	}
	if err := verifyPassword(match.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	return match, nil
}

// VerifyAccountPassword re-checks the password for an already authenticated
// account, used to confirm destructive operations.
func (s *Storage) VerifyAccountPassword(id, password string) error {
	s.mu.RLock()
	account, ok := s.data.Accounts[id]
	s.mu.RUnlock()
	if !ok {
		return ErrAccountNotFound
	}
	return verifyPassword(account.PasswordHash, password)
}

func (s *Storage) GetAccount(id string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, false
	}
	return cloneAccount(account), true
}

func (s *Storage) GetAccountByUsername(username string) (models.Account, bool) {
	normalized := models.NormalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.data.Accounts {
		if account.Username == normalized {
			return cloneAccount(account), true
		}
	}
	return models.Account{}, false
}

// UpdateUsername changes an account's username after validation and a
// uniqueness check. Cooldown enforcement lives in the API layer.
func (s *Storage) UpdateUsername(id, username string) (models.Account, error) {
	normalized := models.NormalizeUsername(username)
	if !models.ValidUsername(normalized) {
		return models.Account{}, errors.New("username is invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	if account.Username == normalized {
		return cloneAccount(account), nil
	}
	for otherID, other := range s.data.Accounts {
		if otherID != id && other.Username == normalized {
			return models.Account{}, ErrUsernameTaken
		}
	}

	previous := account.Username
	account.Username = normalized
	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		account.Username = previous
		s.data.Accounts[id] = account
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}

// UpdatePassword replaces the stored hash after verifying the current
// password.
func (s *Storage) UpdatePassword(id, current, next string) (models.Account, error) {
	if len(next) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(next)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	if err := verifyPassword(account.PasswordHash, current); err != nil {
		return models.Account{}, err
	}

	previous := account.PasswordHash
	account.PasswordHash = hashed
	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		account.PasswordHash = previous
		s.data.Accounts[id] = account
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}

// SetProfileImage records the object key of the account's avatar; a nil key
// clears it.
func (s *Storage) SetProfileImage(id string, key *string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}

	previous := account.ProfileImage
	if key != nil {
		value := *key
		account.ProfileImage = &value
	} else {
		account.ProfileImage = nil
	}
	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		account.ProfileImage = previous
		s.data.Accounts[id] = account
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}

// EnrollTwoFactor stores the TOTP secret and flips enrollment on. An empty
// secret disables two-factor.
func (s *Storage) EnrollTwoFactor(id, secret string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}

	previousSecret := account.TwoFactorSecret
	previousEnabled := account.TwoFactorEnabled
	account.TwoFactorSecret = secret
	account.TwoFactorEnabled = secret != ""
	s.data.Accounts[id] = account
	if err := s.persist(); err != nil {
		account.TwoFactorSecret = previousSecret
		account.TwoFactorEnabled = previousEnabled
		s.data.Accounts[id] = account
		return models.Account{}, err
	}
	return cloneAccount(account), nil
}
