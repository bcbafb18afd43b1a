package devserver

import "errors"

var (
	ErrUsernameTaken = errors.New("username already registered")
	ErrNotFound      = errors.New("not found")
	ErrInvalidToken  = errors.New("invalid token")
)
