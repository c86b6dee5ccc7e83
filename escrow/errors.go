package escrow

import "errors"

var (
	// ErrTransferFailed indicates the ledger rejected a payout transfer.
	// The ticket is left unwithdrawn.
	ErrTransferFailed = errors.New("escrow: payout transfer failed")

	// ErrCommitAfterTransfer indicates the payout transfer succeeded but the
	// withdrawn flag could not be persisted. Retrying is safe: the transfer id
	// is deterministic and the ledger treats it idempotently.
	ErrCommitAfterTransfer = errors.New("escrow: transfer applied but ticket not updated")
)
