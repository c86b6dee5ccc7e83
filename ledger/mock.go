package ledger

import (
	"context"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/round"
)

// MockLedger is a test double for Ledger.
// All function fields must be set before the corresponding method is called.
type MockLedger struct {
	BalanceFn  func(ctx context.Context, escrow round.Address, asset round.AssetID) (uint64, error)
	TransferFn func(ctx context.Context, c *authority.Capability, asset round.AssetID, transferID string) error
}

func (m *MockLedger) Balance(ctx context.Context, escrow round.Address, asset round.AssetID) (uint64, error) {
	return m.BalanceFn(ctx, escrow, asset)
}
func (m *MockLedger) Transfer(ctx context.Context, c *authority.Capability, asset round.AssetID, transferID string) error {
	return m.TransferFn(ctx, c, asset, transferID)
}
