package round

import "errors"

var (
	// ErrBadStatus indicates the round is not in the state the operation requires.
	ErrBadStatus = errors.New("round: bad status for operation")

	// ErrNotOpen indicates a claim against a round that is not open.
	ErrNotOpen = errors.New("round: not open")

	// ErrWindow indicates a claim outside the round's time window.
	ErrWindow = errors.New("round: outside claim window")

	// ErrAlreadyClaimed indicates the participant already holds a claimed ticket.
	ErrAlreadyClaimed = errors.New("round: already claimed")

	// ErrAlreadyWithdrawn indicates the ticket was already paid out.
	ErrAlreadyWithdrawn = errors.New("round: already withdrawn")

	// ErrNotClaimed indicates a withdrawal on a ticket that was never registered.
	ErrNotClaimed = errors.New("round: not claimed")

	// ErrNoClaimers indicates finalize on a round with zero registered tickets.
	ErrNoClaimers = errors.New("round: no claimers")

	// ErrNotFinalized indicates a withdrawal before finalize fixed the per-share amount.
	ErrNotFinalized = errors.New("round: not finalized")

	// ErrMathOverflow indicates a counter or share computation would overflow.
	ErrMathOverflow = errors.New("round: math overflow")

	// ErrUnauthorized indicates the requester is not the ticket's claimer.
	ErrUnauthorized = errors.New("round: requester is not the ticket claimer")

	// ErrTicketMismatch indicates the ticket belongs to another round.
	ErrTicketMismatch = errors.New("round: ticket does not belong to round")

	// ErrInvalidWindow indicates opens_at is after closes_at.
	ErrInvalidWindow = errors.New("round: opens_at after closes_at")

	// ErrConservationViolation indicates per_share * claimers does not bound the pool.
	ErrConservationViolation = errors.New("round: share conservation violated")

	// ErrInvalidRoundData indicates an encoded round is malformed.
	ErrInvalidRoundData = errors.New("round: invalid round data")

	// ErrInvalidTicketData indicates an encoded ticket is malformed.
	ErrInvalidTicketData = errors.New("round: invalid ticket data")

	// ErrInvalidAddress indicates a malformed participant or escrow address.
	ErrInvalidAddress = errors.New("round: invalid address")

	// ErrInvalidAsset indicates a malformed asset identifier.
	ErrInvalidAsset = errors.New("round: invalid asset id")
)
