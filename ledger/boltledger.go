package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/round"
)

var (
	bucketBalances  = []byte("balances")
	bucketTransfers = []byte("transfers")
)

// transferRecordLen is escrow(20) + recipient(20) + asset(32) + amount(8).
const transferRecordLen = 80

// BoltLedger is a Ledger persisted in bbolt. It shares the database handle
// with the round store so balances and transfer ids survive a restart
// together with the rounds that reference them.
type BoltLedger struct {
	db       *bbolt.DB
	verifier authority.Verifier
}

// Compile-time interface checks.
var (
	_ Ledger    = (*BoltLedger)(nil)
	_ Depositor = (*BoltLedger)(nil)
)

// NewBoltLedger creates the ledger buckets in db if they do not exist.
// The caller owns db and closes it.
func NewBoltLedger(db *bbolt.DB, verifier authority.Verifier) (*BoltLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db", ErrNilParam)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier", ErrNilParam)
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBalances, bucketTransfers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltledger: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}
	return &BoltLedger{db: db, verifier: verifier}, nil
}

// Deposit credits amount of asset to escrow. Any party may deposit.
func (l *BoltLedger) Deposit(_ context.Context, escrow round.Address, asset round.AssetID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBalances)
		key := balanceKeyBytes(escrow, asset)
		bal := getBalance(b, key)
		if bal > math.MaxUint64-amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, escrow)
		}
		return putBalance(b, key, bal+amount)
	})
}

// Balance returns the balance of escrow in asset.
func (l *BoltLedger) Balance(_ context.Context, escrow round.Address, asset round.AssetID) (uint64, error) {
	var bal uint64
	err := l.db.View(func(tx *bbolt.Tx) error {
		bal = getBalance(tx.Bucket(bucketBalances), balanceKeyBytes(escrow, asset))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltledger: read balance: %w", err)
	}
	return bal, nil
}

// Transfer applies a capability-authorized transfer. The balance move and
// the transfer id record commit in one bbolt transaction.
func (l *BoltLedger) Transfer(_ context.Context, c *authority.Capability, asset round.AssetID, transferID string) error {
	if c == nil {
		return fmt.Errorf("%w: capability", ErrNilParam)
	}
	if c.Amount == 0 {
		return ErrZeroAmount
	}
	if err := l.verifier.VerifyCapability(c); err != nil {
		return err
	}

	rec := encodeTransferRecord(transferRecord{escrow: c.Escrow, recipient: c.Recipient, asset: asset, amount: c.Amount})

	return l.db.Update(func(tx *bbolt.Tx) error {
		transfers := tx.Bucket(bucketTransfers)
		if prev := transfers.Get([]byte(transferID)); prev != nil {
			if !bytes.Equal(prev, rec) {
				return fmt.Errorf("%w: %s", ErrTransferConflict, transferID)
			}
			return nil
		}

		balances := tx.Bucket(bucketBalances)
		fromKey := balanceKeyBytes(c.Escrow, asset)
		toKey := balanceKeyBytes(c.Recipient, asset)
		from := getBalance(balances, fromKey)
		if from < c.Amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from, c.Amount)
		}
		if err := putBalance(balances, fromKey, from-c.Amount); err != nil {
			return err
		}
		to := getBalance(balances, toKey)
		if to > math.MaxUint64-c.Amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, c.Recipient)
		}
		if err := putBalance(balances, toKey, to+c.Amount); err != nil {
			return err
		}
		if err := transfers.Put([]byte(transferID), rec); err != nil {
			return fmt.Errorf("boltledger: put transfer: %w", err)
		}
		return nil
	})
}

func balanceKeyBytes(account round.Address, asset round.AssetID) []byte {
	key := make([]byte, 0, len(account)+len(asset))
	key = append(key, account[:]...)
	return append(key, asset[:]...)
}

func getBalance(b *bbolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putBalance(b *bbolt.Bucket, key []byte, bal uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bal)
	if err := b.Put(key, buf[:]); err != nil {
		return fmt.Errorf("boltledger: put balance: %w", err)
	}
	return nil
}

func encodeTransferRecord(r transferRecord) []byte {
	buf := make([]byte, 0, transferRecordLen)
	buf = append(buf, r.escrow[:]...)
	buf = append(buf, r.recipient[:]...)
	buf = append(buf, r.asset[:]...)
	return binary.BigEndian.AppendUint64(buf, r.amount)
}
