// Package store persists rounds and claim tickets.
//
// Rounds are keyed by id; tickets by (round id, claimer). All state changes go
// through Update, which gives a serializable read-modify-write over one round
// and its tickets: the callback's writes commit together or not at all.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bitfsorg/libclaim-go/round"
)

// Store persists rounds and their claim tickets.
type Store interface {
	// CreateRound stores a new round. Returns ErrDuplicateRound if the id exists.
	CreateRound(r *round.Round) error

	// GetRound retrieves a round by id.
	GetRound(id uint64) (*round.Round, error)

	// GetTicket retrieves the ticket of claimer in round id.
	GetTicket(id uint64, claimer round.Address) (*round.Ticket, error)

	// ListRounds returns all rounds ordered by id.
	ListRounds() ([]*round.Round, error)

	// ListTickets returns all tickets of round id.
	ListTickets(id uint64) ([]*round.Ticket, error)

	// Update runs fn against round id inside a single transaction.
	Update(id uint64, fn func(txn Txn) error) error
}

// Txn is the view of one round handed to an Update callback.
// Mutations of the returned Round are persisted when the callback succeeds.
type Txn interface {
	// Round returns the round under update.
	Round() *round.Round

	// Ticket returns the stored ticket of claimer, or ErrTicketNotFound.
	Ticket(claimer round.Address) (*round.Ticket, error)

	// PutTicket stages a ticket write.
	PutTicket(t *round.Ticket) error
}

// TicketOrNew returns the stored ticket of claimer, or a fresh unclaimed one
// that only persists if the caller puts it.
func TicketOrNew(txn Txn, claimer round.Address) (*round.Ticket, error) {
	t, err := txn.Ticket(claimer)
	if errors.Is(err, ErrTicketNotFound) {
		return round.NewTicket(txn.Round().ID, claimer), nil
	}
	return t, err
}

// roundKey encodes a round id as an 8-byte big-endian key for sorted storage.
func roundKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// ticketKey is round_id_be || claimer, so a round's tickets share a prefix.
func ticketKey(id uint64, claimer round.Address) []byte {
	k := make([]byte, 8+len(claimer))
	binary.BigEndian.PutUint64(k, id)
	copy(k[8:], claimer[:])
	return k
}

func checkTicket(id uint64, t *round.Ticket) error {
	if t == nil {
		return fmt.Errorf("%w: ticket", ErrNilParam)
	}
	if t.RoundID != id {
		return fmt.Errorf("%w: ticket for round %d written under round %d", ErrForeignTicket, t.RoundID, id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// MemStore
// ---------------------------------------------------------------------------

type memTicketKey struct {
	round   uint64
	claimer round.Address
}

// MemStore is an in-memory Store for tests and ephemeral deployments.
type MemStore struct {
	mu      sync.RWMutex
	rounds  map[uint64]*round.Round
	tickets map[memTicketKey]*round.Ticket
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rounds:  make(map[uint64]*round.Round),
		tickets: make(map[memTicketKey]*round.Ticket),
	}
}

// CreateRound stores a new round.
func (s *MemStore) CreateRound(r *round.Round) error {
	if r == nil {
		return fmt.Errorf("%w: round", ErrNilParam)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateRound, r.ID)
	}
	s.rounds[r.ID] = r.Clone()
	return nil
}

// GetRound retrieves a round by id.
func (s *MemStore) GetRound(id uint64) (*round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return r.Clone(), nil
}

// GetTicket retrieves the ticket of claimer in round id.
func (s *MemStore) GetTicket(id uint64, claimer round.Address) (*round.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[memTicketKey{id, claimer}]
	if !ok {
		return nil, fmt.Errorf("%w: %s in round %d", ErrTicketNotFound, claimer, id)
	}
	return t.Clone(), nil
}

// ListRounds returns all rounds ordered by id.
func (s *MemStore) ListRounds() ([]*round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*round.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListTickets returns all tickets of round id.
func (s *MemStore) ListTickets(id uint64) ([]*round.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rounds[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	var result []*round.Ticket
	for k, t := range s.tickets {
		if k.round == id {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return string(result[i].Claimer[:]) < string(result[j].Claimer[:])
	})
	return result, nil
}

// Update runs fn with the store write-locked. Writes are staged on copies and
// applied only if fn returns nil.
func (s *MemStore) Update(id uint64, fn func(txn Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	txn := &memTxn{store: s, round: r.Clone(), staged: make(map[round.Address]*round.Ticket)}
	if err := fn(txn); err != nil {
		return err
	}
	if txn.round.ID != id {
		return fmt.Errorf("store: round id changed from %d to %d during update", id, txn.round.ID)
	}

	s.rounds[id] = txn.round.Clone()
	for claimer, t := range txn.staged {
		s.tickets[memTicketKey{id, claimer}] = t.Clone()
	}
	return nil
}

type memTxn struct {
	store  *MemStore
	round  *round.Round
	staged map[round.Address]*round.Ticket
}

func (t *memTxn) Round() *round.Round { return t.round }

func (t *memTxn) Ticket(claimer round.Address) (*round.Ticket, error) {
	if tk, ok := t.staged[claimer]; ok {
		return tk.Clone(), nil
	}
	tk, ok := t.store.tickets[memTicketKey{t.round.ID, claimer}]
	if !ok {
		return nil, fmt.Errorf("%w: %s in round %d", ErrTicketNotFound, claimer, t.round.ID)
	}
	return tk.Clone(), nil
}

func (t *memTxn) PutTicket(tk *round.Ticket) error {
	if err := checkTicket(t.round.ID, tk); err != nil {
		return err
	}
	t.staged[tk.Claimer] = tk.Clone()
	return nil
}
