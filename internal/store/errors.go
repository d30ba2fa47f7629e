package store

import "errors"

var (
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountInactive      = errors.New("account inactive")
	ErrLocationInactive     = errors.New("location inactive")
	ErrLocationUnassigned   = errors.New("location unassigned")
	ErrLocationNotFound     = errors.New("location not found")
	ErrDeskNotFound         = errors.New("desk not found")
	ErrDeskInactive         = errors.New("desk inactive")
	ErrDeskNumberTaken      = errors.New("desk number already used in location")
	ErrDeskHasActiveTickets = errors.New("desk has active tickets")
	ErrUserNotFound         = errors.New("user not found")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrSessionNotFound      = errors.New("session not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInvalidState         = errors.New("invalid ticket state")
	ErrEventChainBroken     = errors.New("ticket event chain broken")
)
