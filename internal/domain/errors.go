package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a scoped row does not exist
	ErrNotFound = errors.New("not found")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	// ErrInvalidToken covers malformed, expired, revoked or misused tokens
	ErrInvalidToken = errors.New("invalid or expired token")
)
