// Package ledger defines the funding ledger and transfer subsystem the claim
// service relies on, with in-memory and bbolt implementations.
//
// The ledger owns escrow balances. The claim service only reads an escrow
// balance (at finalize) and presents signed capabilities to move funds out.
package ledger

import (
	"context"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/round"
)

// Ledger is the external funding ledger and transfer subsystem.
type Ledger interface {
	// Balance returns the current balance of escrow in asset.
	Balance(ctx context.Context, escrow round.Address, asset round.AssetID) (uint64, error)

	// Transfer moves c.Amount of asset from c.Escrow to c.Recipient. It either
	// fully applies or has no effect. A repeated transferID carrying the same
	// capability terms is a successful no-op.
	Transfer(ctx context.Context, c *authority.Capability, asset round.AssetID, transferID string) error
}

// Depositor is implemented by ledgers that accept direct deposits.
type Depositor interface {
	Deposit(ctx context.Context, escrow round.Address, asset round.AssetID, amount uint64) error
}
