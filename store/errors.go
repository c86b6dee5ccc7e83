package store

import "errors"

var (
	// ErrDuplicateRound indicates a round with the same id already exists.
	ErrDuplicateRound = errors.New("store: duplicate round")

	// ErrRoundNotFound indicates the requested round does not exist.
	ErrRoundNotFound = errors.New("store: round not found")

	// ErrTicketNotFound indicates the requested ticket does not exist.
	ErrTicketNotFound = errors.New("store: ticket not found")

	// ErrForeignTicket indicates a ticket was written under another round's update.
	ErrForeignTicket = errors.New("store: ticket belongs to another round")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("store: nil parameter")
)
