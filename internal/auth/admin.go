package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid admin token")
)

// AdminVerifier checks bearer tokens against the single configured operator token.
type AdminVerifier struct {
	token []byte
}

func NewAdminVerifier(token string) *AdminVerifier {
	return &AdminVerifier{token: []byte(strings.TrimSpace(token))}
}

func (v *AdminVerifier) Verify(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	if len(v.token) == 0 || subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}
