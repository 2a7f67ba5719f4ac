package core

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrMissingAuth   = errors.New("missing Authorization header")
	ErrAuthFormat    = errors.New("invalid Authorization header format")
	ErrInvalidBearer = errors.New("invalid bearer token")
)

var weakTokens = []string{
	"password", "secret", "token", "admin", "test", "default",
	"12345", "123456", "password123", "secret123", "admin123",
}

// ValidateAuthToken rejects empty, short and obviously guessable tokens at
// startup.
func ValidateAuthToken(token string) error {
	if token == "" {
		return NewError(ErrInvalidInput, "authentication token cannot be empty")
	}
	if len(token) < 16 {
		return NewError(ErrInvalidInput, "authentication token is too short").
			WithGuidance("Use a token with at least 16 characters.")
	}

	lower := strings.ToLower(token)
	for _, weak := range weakTokens {
		if strings.Contains(lower, weak) {
			return NewError(ErrInvalidInput, "authentication token appears to be weak").
				WithGuidance("Use a randomly generated token.")
		}
	}
	return nil
}

// CheckBearer validates an Authorization header of the form
// "Bearer <token>". The token comparison is constant time.
func CheckBearer(header, expected string) error {
	if header == "" {
		return ErrMissingAuth
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return ErrAuthFormat
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrInvalidBearer
	}
	return nil
}
