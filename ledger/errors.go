package ledger

import "errors"

var (
	// ErrInsufficientFunds indicates the escrow holds less than the transfer amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient escrow balance")

	// ErrTransferConflict indicates a transfer id was reused with different terms.
	ErrTransferConflict = errors.New("ledger: transfer id reused with different terms")

	// ErrBalanceOverflow indicates a credit would overflow the balance.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")

	// ErrZeroAmount indicates a deposit or transfer of zero.
	ErrZeroAmount = errors.New("ledger: zero amount")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("ledger: nil parameter")
)
