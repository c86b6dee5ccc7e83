package round

import (
	"fmt"
	"math/bits"
)

// PerShare returns floor(pool / claimers). The remainder stays in escrow.
func PerShare(pool, claimers uint64) (uint64, error) {
	if claimers == 0 {
		return 0, ErrNoClaimers
	}
	return pool / claimers, nil
}

// Dust returns the part of pool that floor division leaves unclaimed.
func Dust(pool, claimers uint64) (uint64, error) {
	if claimers == 0 {
		return 0, ErrNoClaimers
	}
	return pool % claimers, nil
}

// ValidateConservation checks per_share*claimers <= pool < (per_share+1)*claimers
// for a finalized round, i.e. that per_share is exactly the floor quotient.
// The products are computed in 128 bits.
func ValidateConservation(r *Round) error {
	if r.Status != StatusFinalized {
		return fmt.Errorf("%w: round %d is %s", ErrNotFinalized, r.ID, r.Status)
	}
	if r.TotalClaimers == 0 {
		return ErrNoClaimers
	}

	hi, lo := bits.Mul64(r.PerShare, r.TotalClaimers)
	if hi != 0 || lo > r.PoolAmount {
		return fmt.Errorf("%w: per_share=%d claimers=%d exceeds pool=%d",
			ErrConservationViolation, r.PerShare, r.TotalClaimers, r.PoolAmount)
	}

	// (per_share+1)*claimers = lo + claimers; a carry means it exceeds any pool.
	upperLo, carry := bits.Add64(lo, r.TotalClaimers, 0)
	if carry == 0 && r.PoolAmount >= upperLo {
		return fmt.Errorf("%w: pool=%d leaves a full share undistributed (per_share=%d claimers=%d)",
			ErrConservationViolation, r.PoolAmount, r.PerShare, r.TotalClaimers)
	}
	return nil
}
