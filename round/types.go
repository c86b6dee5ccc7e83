// Package round implements the lifecycle of a claim round and its claim
// tickets: the state machine, the per-share arithmetic and the fixed-width
// binary encoding used for persistence.
//
// Lifecycle: Draft -> Open -> Closed -> Finalized. No transition leaves
// Finalized and no transition re-enters an earlier state.
package round

import (
	"encoding/hex"
	"fmt"
)

// Address identifies a participant or an escrow account.
// It is the Hash160 of a compressed secp256k1 public key.
type Address [20]byte

// String returns the hex encoding of the address.
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// ParseAddress decodes a 40-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AssetID identifies the fungible asset a round distributes.
type AssetID [32]byte

// String returns the hex encoding of the asset identifier.
func (a AssetID) String() string { return hex.EncodeToString(a[:]) }

// ParseAssetID decodes a 64-character hex string into an AssetID.
func ParseAssetID(s string) (AssetID, error) {
	var a AssetID
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAsset, len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Status is the lifecycle state of a round.
type Status uint8

const (
	StatusDraft     Status = 0
	StatusOpen      Status = 1
	StatusClosed    Status = 2
	StatusFinalized Status = 3
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Round is one distribution event.
type Round struct {
	ID            uint64  // administrator-chosen, immutable
	OpensAt       int64   // inclusive, seconds since epoch
	ClosesAt      int64   // inclusive, seconds since epoch
	Asset         AssetID // immutable
	PoolAmount    uint64  // 0 until finalize, then frozen
	TotalClaimers uint64  // frozen once finalized
	PerShare      uint64  // PoolAmount / TotalClaimers, set at finalize
	Status        Status
}

// Clone returns a copy of the round.
func (r *Round) Clone() *Round {
	c := *r
	return &c
}

// InWindow reports whether now lies inside [OpensAt, ClosesAt].
func (r *Round) InWindow(now int64) bool {
	return r.OpensAt <= now && now <= r.ClosesAt
}

// Ticket is a participant's registration for one round.
type Ticket struct {
	RoundID   uint64
	Claimer   Address
	Claimed   bool // set once, at registration
	Withdrawn bool // set once, after a confirmed payout
}

// Clone returns a copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	c := *t
	return &c
}
