package store

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailExists   = errors.New("email already registered")
	ErrPayeeExists   = errors.New("payee already added")
	ErrPayeeNotFound = errors.New("payee not found")
)
