package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrStatusConflict     = errors.New("job status changed concurrently")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrActiveJobExists    = errors.New("owner already has an active job")
)
