package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/round"
)

type balanceKey struct {
	account round.Address
	asset   round.AssetID
}

type transferRecord struct {
	escrow    round.Address
	recipient round.Address
	asset     round.AssetID
	amount    uint64
}

// MemLedger is an in-memory Ledger. Every capability is checked by the
// configured Verifier before any balance moves.
type MemLedger struct {
	mu        sync.Mutex
	verifier  authority.Verifier
	balances  map[balanceKey]uint64
	transfers map[string]transferRecord
}

// Compile-time interface checks.
var (
	_ Ledger    = (*MemLedger)(nil)
	_ Depositor = (*MemLedger)(nil)
)

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger(verifier authority.Verifier) *MemLedger {
	return &MemLedger{
		verifier:  verifier,
		balances:  make(map[balanceKey]uint64),
		transfers: make(map[string]transferRecord),
	}
}

// Deposit credits amount of asset to escrow. Any party may deposit.
func (l *MemLedger) Deposit(_ context.Context, escrow round.Address, asset round.AssetID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{escrow, asset}
	if l.balances[k] > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, escrow)
	}
	l.balances[k] += amount
	return nil
}

// Balance returns the balance of escrow in asset.
func (l *MemLedger) Balance(_ context.Context, escrow round.Address, asset round.AssetID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{escrow, asset}], nil
}

// Transfer applies a capability-authorized transfer.
func (l *MemLedger) Transfer(_ context.Context, c *authority.Capability, asset round.AssetID, transferID string) error {
	if c == nil {
		return fmt.Errorf("%w: capability", ErrNilParam)
	}
	if c.Amount == 0 {
		return ErrZeroAmount
	}
	if err := l.verifier.VerifyCapability(c); err != nil {
		return err
	}

	rec := transferRecord{escrow: c.Escrow, recipient: c.Recipient, asset: asset, amount: c.Amount}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.transfers[transferID]; ok {
		if prev != rec {
			return fmt.Errorf("%w: %s", ErrTransferConflict, transferID)
		}
		return nil
	}

	from := balanceKey{c.Escrow, asset}
	to := balanceKey{c.Recipient, asset}
	if l.balances[from] < c.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, l.balances[from], c.Amount)
	}
	if l.balances[to] > math.MaxUint64-c.Amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, c.Recipient)
	}

	l.balances[from] -= c.Amount
	l.balances[to] += c.Amount
	l.transfers[transferID] = rec
	return nil
}
