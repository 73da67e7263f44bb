package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

const refreshTokenLength = 32

var errTokenRequired = errors.New("token required")

func hashToken(token string) (string, error) {
	if token == "" {
		return "", errTokenRequired
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:]), nil
}

func generateHashedToken(length int) (string, string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(bytes)
	hashed, err := hashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hashed, nil
}
