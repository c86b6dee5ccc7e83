package round

import "fmt"

// NewRound returns a Draft round with zeroed counters.
//
// The window is not validated here: administrators are trusted to pass
// opensAt <= closesAt. Use ValidateWindow for the strict variant.
func NewRound(id uint64, opensAt, closesAt int64, asset AssetID) *Round {
	return &Round{
		ID:       id,
		OpensAt:  opensAt,
		ClosesAt: closesAt,
		Asset:    asset,
		Status:   StatusDraft,
	}
}

// ValidateWindow checks that opensAt does not come after closesAt.
func ValidateWindow(opensAt, closesAt int64) error {
	if opensAt > closesAt {
		return fmt.Errorf("%w: opens_at=%d closes_at=%d", ErrInvalidWindow, opensAt, closesAt)
	}
	return nil
}

// Open moves a Draft round to Open. The window is checked at claim time, not here.
func (r *Round) Open() error {
	if r.Status != StatusDraft {
		return fmt.Errorf("%w: open requires %s, round %d is %s", ErrBadStatus, StatusDraft, r.ID, r.Status)
	}
	r.Status = StatusOpen
	return nil
}

// Close moves an Open round to Closed. It does not consult the clock.
func (r *Round) Close() error {
	if r.Status != StatusOpen {
		return fmt.Errorf("%w: close requires %s, round %d is %s", ErrBadStatus, StatusOpen, r.ID, r.Status)
	}
	r.Status = StatusClosed
	return nil
}

// Finalize snapshots the escrow balance as the pool amount and fixes the
// per-share payout. It is the only write of PoolAmount and PerShare; once the
// round is Finalized the status guard rejects any further call.
func (r *Round) Finalize(escrowBalance uint64) error {
	if r.Status != StatusClosed {
		return fmt.Errorf("%w: finalize requires %s, round %d is %s", ErrBadStatus, StatusClosed, r.ID, r.Status)
	}
	if r.TotalClaimers == 0 {
		return fmt.Errorf("%w: round %d", ErrNoClaimers, r.ID)
	}
	perShare, err := PerShare(escrowBalance, r.TotalClaimers)
	if err != nil {
		return err
	}
	r.PoolAmount = escrowBalance
	r.PerShare = perShare
	r.Status = StatusFinalized
	return nil
}
