package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrInvalidToken indicates a bearer token failed validation.
	ErrInvalidToken = errors.New("invalid token")
)
