package repository

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyScanned    = errors.New("ticket already scanned")
	ErrOrderProcessed    = errors.New("order already processed")
)
