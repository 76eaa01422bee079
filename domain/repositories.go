package domain

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

// UserRepository reads local user records.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// SessionRepository reads login sessions by their cookie token.
type SessionRepository interface {
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
}
