package admin

import "errors"

var (
	ErrEventNotFound  = errors.New("event not found")
	ErrTicketConflict = errors.New("conflict creating tickets")
	ErrTicketNotFound = errors.New("ticket not found")
)
