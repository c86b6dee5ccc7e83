package round

import (
	"fmt"
	"math"
)

// NewTicket returns an unclaimed ticket for claimer in round roundID.
// Storage layers hand one out when no ticket exists yet (get-or-create).
func NewTicket(roundID uint64, claimer Address) *Ticket {
	return &Ticket{RoundID: roundID, Claimer: claimer}
}

// Claim registers claimer on the round using ticket t, which must be either a
// fresh ticket from NewTicket or the participant's stored one.
//
// Checks run in order: status, window, prior claim, counter overflow. Nothing
// is mutated unless every check passes.
func (r *Round) Claim(t *Ticket, claimer Address, now int64) error {
	if r.Status != StatusOpen {
		return fmt.Errorf("%w: round %d is %s", ErrNotOpen, r.ID, r.Status)
	}
	if !r.InWindow(now) {
		return fmt.Errorf("%w: now=%d window=[%d,%d]", ErrWindow, now, r.OpensAt, r.ClosesAt)
	}
	if t.RoundID != r.ID || t.Claimer != claimer {
		return ErrTicketMismatch
	}
	if t.Claimed {
		return fmt.Errorf("%w: %s in round %d", ErrAlreadyClaimed, claimer, r.ID)
	}
	if r.TotalClaimers == math.MaxUint64 {
		return fmt.Errorf("%w: total_claimers", ErrMathOverflow)
	}

	t.Claimed = true
	t.Withdrawn = false
	r.TotalClaimers++
	return nil
}

// CheckWithdraw verifies that requester may withdraw against ticket t.
// It does not mutate anything; the caller flips the ticket with
// MarkWithdrawn only after the transfer is confirmed.
func (r *Round) CheckWithdraw(t *Ticket, requester Address) error {
	if r.Status != StatusFinalized || r.PerShare == 0 {
		return fmt.Errorf("%w: round %d is %s with per_share=%d", ErrNotFinalized, r.ID, r.Status, r.PerShare)
	}
	if t == nil || !t.Claimed {
		return fmt.Errorf("%w: %s in round %d", ErrNotClaimed, requester, r.ID)
	}
	if t.RoundID != r.ID {
		return ErrTicketMismatch
	}
	if t.Withdrawn {
		return fmt.Errorf("%w: %s in round %d", ErrAlreadyWithdrawn, t.Claimer, r.ID)
	}
	if t.Claimer != requester {
		return fmt.Errorf("%w: ticket %s, requester %s", ErrUnauthorized, t.Claimer, requester)
	}
	return nil
}

// MarkWithdrawn flips the ticket to withdrawn. It fails if the flag is already set.
func (t *Ticket) MarkWithdrawn() error {
	if t.Withdrawn {
		return fmt.Errorf("%w: %s in round %d", ErrAlreadyWithdrawn, t.Claimer, t.RoundID)
	}
	t.Withdrawn = true
	return nil
}
