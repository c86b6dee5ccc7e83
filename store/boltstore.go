package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libclaim-go/round"
)

var (
	bucketRounds  = []byte("rounds")
	bucketTickets = []byte("tickets")
)

// BoltStore persists rounds and tickets in bbolt. bbolt allows a single
// writer at a time, so Update transactions are serializable.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRounds, bucketTickets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// DB returns the underlying database so other components can keep their
// buckets in the same file. bbolt holds an exclusive file lock, so the file
// cannot be opened a second time.
func (s *BoltStore) DB() *bbolt.DB { return s.db }

// CreateRound stores a new round. Returns ErrDuplicateRound if the id exists.
func (s *BoltStore) CreateRound(r *round.Round) error {
	if r == nil {
		return fmt.Errorf("%w: round", ErrNilParam)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRounds)
		key := roundKey(r.ID)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %d", ErrDuplicateRound, r.ID)
		}
		if err := b.Put(key, round.SerializeRound(r)); err != nil {
			return fmt.Errorf("boltstore: put round: %w", err)
		}
		return nil
	})
}

// GetRound retrieves a round by id.
func (s *BoltStore) GetRound(id uint64) (*round.Round, error) {
	var r *round.Round
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, err = loadRound(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetTicket retrieves the ticket of claimer in round id.
func (s *BoltStore) GetTicket(id uint64, claimer round.Address) (*round.Ticket, error) {
	var t *round.Ticket
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		t, err = loadTicket(tx, id, claimer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListRounds returns all rounds ordered by id.
func (s *BoltStore) ListRounds() ([]*round.Round, error) {
	var rounds []*round.Round
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRounds).ForEach(func(_, v []byte) error {
			r, err := round.DeserializeRound(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode round in list: %w", err)
			}
			rounds = append(rounds, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list rounds: %w", err)
	}
	return rounds, nil
}

// ListTickets returns all tickets of round id, ordered by claimer.
func (s *BoltStore) ListTickets(id uint64) ([]*round.Ticket, error) {
	var tickets []*round.Ticket
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRounds).Get(roundKey(id)) == nil {
			return fmt.Errorf("%w: %d", ErrRoundNotFound, id)
		}
		prefix := roundKey(id)
		c := tx.Bucket(bucketTickets).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			t, err := round.DeserializeTicket(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode ticket in list: %w", err)
			}
			tickets = append(tickets, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// Update runs fn inside a bbolt read-write transaction. Any error from fn
// rolls back every write it made.
func (s *BoltStore) Update(id uint64, fn func(txn Txn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := loadRound(tx, id)
		if err != nil {
			return err
		}
		if err := fn(&boltTxn{tx: tx, round: r}); err != nil {
			return err
		}
		if r.ID != id {
			return fmt.Errorf("store: round id changed from %d to %d during update", id, r.ID)
		}
		if err := tx.Bucket(bucketRounds).Put(roundKey(id), round.SerializeRound(r)); err != nil {
			return fmt.Errorf("boltstore: put round: %w", err)
		}
		return nil
	})
}

type boltTxn struct {
	tx    *bbolt.Tx
	round *round.Round
}

func (t *boltTxn) Round() *round.Round { return t.round }

func (t *boltTxn) Ticket(claimer round.Address) (*round.Ticket, error) {
	return loadTicket(t.tx, t.round.ID, claimer)
}

func (t *boltTxn) PutTicket(tk *round.Ticket) error {
	if err := checkTicket(t.round.ID, tk); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketTickets).Put(ticketKey(tk.RoundID, tk.Claimer), round.SerializeTicket(tk)); err != nil {
		return fmt.Errorf("boltstore: put ticket: %w", err)
	}
	return nil
}

func loadRound(tx *bbolt.Tx, id uint64) (*round.Round, error) {
	data := tx.Bucket(bucketRounds).Get(roundKey(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	r, err := round.DeserializeRound(data)
	if err != nil {
		return nil, fmt.Errorf("boltstore: decode round: %w", err)
	}
	return r, nil
}

func loadTicket(tx *bbolt.Tx, id uint64, claimer round.Address) (*round.Ticket, error) {
	data := tx.Bucket(bucketTickets).Get(ticketKey(id, claimer))
	if data == nil {
		return nil, fmt.Errorf("%w: %s in round %d", ErrTicketNotFound, claimer, id)
	}
	t, err := round.DeserializeTicket(data)
	if err != nil {
		return nil, fmt.Errorf("boltstore: decode ticket: %w", err)
	}
	return t, nil
}
