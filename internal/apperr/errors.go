package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidPatch  = errors.New("invalid patch")
	ErrInvalidInput  = errors.New("invalid input")
)
