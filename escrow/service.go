// Package escrow runs claim rounds end to end: lifecycle transitions, claim
// registration, finalize against the real escrow balance, and exactly-once
// payouts.
//
// Every operation either applies its whole state transition or has no effect.
// State changes go through store.Update; finalize and withdraw additionally
// hold a per-round lock so the ledger call and the state write it depends on
// cannot interleave with another finalize or withdraw of the same round.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/ledger"
	"github.com/bitfsorg/libclaim-go/round"
	"github.com/bitfsorg/libclaim-go/store"
)

// Service is the claim round engine.
type Service struct {
	store        store.Store
	ledger       ledger.Ledger
	auth         authority.RoundAuthority
	clock        Clock
	log          zerolog.Logger
	metrics      *Metrics
	strictWindow bool

	locks [lockStripes]sync.Mutex
}

// lockStripes is the number of mutexes shared by all round ids.
const lockStripes = 64

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics collectors. Defaults to unregistered collectors.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithStrictWindow makes CreateRound reject opens_at > closes_at.
func WithStrictWindow(strict bool) Option { return func(s *Service) { s.strictWindow = strict } }

// New creates a Service.
func New(st store.Store, l ledger.Ledger, a authority.RoundAuthority, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ledger: l,
		auth:   a,
		clock:  SystemClock{},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// lockRound acquires the stripe mutex of round id and returns its release
// func. Rounds sharing a stripe serialize; at most one stripe is held at a time.
func (s *Service) lockRound(id uint64) func() {
	m := &s.locks[id%lockStripes]
	m.Lock()
	return m.Unlock
}

// Payout describes a completed withdrawal.
type Payout struct {
	RoundID    uint64
	Claimer    round.Address
	Recipient  round.Address
	Amount     uint64
	TransferID string
}

// ---------------------------------------------------------------------------
// Round lifecycle
// ---------------------------------------------------------------------------

// CreateRound stores a new Draft round.
func (s *Service) CreateRound(ctx context.Context, id uint64, opensAt, closesAt int64, asset round.AssetID) (r *round.Round, err error) {
	defer func() { s.metrics.observe("create", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.strictWindow {
		if err := round.ValidateWindow(opensAt, closesAt); err != nil {
			return nil, err
		}
	}

	r = round.NewRound(id, opensAt, closesAt, asset)
	if err := s.store.CreateRound(r); err != nil {
		return nil, err
	}
	s.log.Info().Uint64("round", id).Int64("opens_at", opensAt).Int64("closes_at", closesAt).
		Str("asset", asset.String()).Str("escrow", s.auth.EscrowAddress(id).String()).
		Msg("round created")
	return r, nil
}

// OpenRound moves a round from Draft to Open.
func (s *Service) OpenRound(ctx context.Context, id uint64) (*round.Round, error) {
	r, err := s.transition(ctx, id, "open", (*round.Round).Open)
	s.metrics.observe("open", err)
	return r, err
}

// CloseRound moves a round from Open to Closed.
func (s *Service) CloseRound(ctx context.Context, id uint64) (*round.Round, error) {
	r, err := s.transition(ctx, id, "close", (*round.Round).Close)
	s.metrics.observe("close", err)
	return r, err
}

func (s *Service) transition(ctx context.Context, id uint64, name string, step func(*round.Round) error) (*round.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *round.Round
	err := s.store.Update(id, func(txn store.Txn) error {
		r := txn.Round()
		if err := step(r); err != nil {
			return err
		}
		out = r.Clone()
		return nil
	})
	if err != nil {
		s.log.Debug().Err(err).Uint64("round", id).Str("op", name).Msg("transition rejected")
		return nil, err
	}
	s.log.Info().Uint64("round", id).Str("status", out.Status.String()).Msg("round " + name)
	return out, nil
}

// RecordFunding is a bookkeeping no-op: deposits land on the ledger directly
// and are only read at finalize. It returns the escrow balance currently
// observed, for information.
func (s *Service) RecordFunding(ctx context.Context, id uint64) (balance uint64, err error) {
	defer func() { s.metrics.observe("record_funding", err) }()
	r, err := s.store.GetRound(id)
	if err != nil {
		return 0, err
	}
	balance, err = s.ledger.Balance(ctx, s.auth.EscrowAddress(id), r.Asset)
	if err != nil {
		return 0, fmt.Errorf("escrow: read balance: %w", err)
	}
	s.log.Debug().Uint64("round", id).Uint64("observed_balance", balance).Msg("funding observed")
	return balance, nil
}

// Finalize snapshots the escrow balance and fixes the per-share payout.
func (s *Service) Finalize(ctx context.Context, id uint64) (r *round.Round, err error) {
	defer func() { s.metrics.observe("finalize", err) }()
	unlock := s.lockRound(id)
	defer unlock()

	current, err := s.store.GetRound(id)
	if err != nil {
		return nil, err
	}
	// Status guard before the ledger read; Round.Finalize re-checks under Update.
	if current.Status != round.StatusClosed {
		return nil, fmt.Errorf("%w: finalize requires %s, round %d is %s",
			round.ErrBadStatus, round.StatusClosed, id, current.Status)
	}

	balance, err := s.ledger.Balance(ctx, s.auth.EscrowAddress(id), current.Asset)
	if err != nil {
		return nil, fmt.Errorf("escrow: read balance: %w", err)
	}

	err = s.store.Update(id, func(txn store.Txn) error {
		rr := txn.Round()
		if err := rr.Finalize(balance); err != nil {
			return err
		}
		r = rr.Clone()
		return nil
	})
	if err != nil {
		s.log.Debug().Err(err).Uint64("round", id).Msg("finalize rejected")
		return nil, err
	}

	dust := r.PoolAmount % r.TotalClaimers
	s.log.Info().Uint64("round", id).Uint64("pool", r.PoolAmount).Uint64("claimers", r.TotalClaimers).
		Uint64("per_share", r.PerShare).Uint64("dust", dust).Msg("round finalized")
	return r, nil
}

// ---------------------------------------------------------------------------
// Claim registration
// ---------------------------------------------------------------------------

// Claim registers claimer on round id at the current clock time.
func (s *Service) Claim(ctx context.Context, id uint64, claimer round.Address) (t *round.Ticket, err error) {
	defer func() { s.metrics.observe("claim", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()

	var claimers uint64
	err = s.store.Update(id, func(txn store.Txn) error {
		tk, err := store.TicketOrNew(txn, claimer)
		if err != nil {
			return err
		}
		r := txn.Round()
		if err := r.Claim(tk, claimer, now); err != nil {
			return err
		}
		if err := txn.PutTicket(tk); err != nil {
			return err
		}
		t = tk.Clone()
		claimers = r.TotalClaimers
		return nil
	})
	if err != nil {
		s.log.Debug().Err(err).Uint64("round", id).Str("claimer", claimer.String()).Msg("claim rejected")
		return nil, err
	}

	s.metrics.claimers.WithLabelValues(strconv.FormatUint(id, 10)).Set(float64(claimers))
	s.log.Info().Uint64("round", id).Str("claimer", claimer.String()).Uint64("total_claimers", claimers).
		Msg("claim registered")
	return t, nil
}

// ---------------------------------------------------------------------------
// Distribution
// ---------------------------------------------------------------------------

// TransferID returns the deterministic ledger transfer id of a payout.
func TransferID(roundID uint64, claimer round.Address) string {
	return strconv.FormatUint(roundID, 10) + "/" + claimer.String()
}

// Withdraw pays requester's share of round id to recipient.
//
// The transfer is issued first and the ticket flips to withdrawn only after
// the ledger confirms it. A failed transfer leaves the ticket untouched.
func (s *Service) Withdraw(ctx context.Context, id uint64, requester, recipient round.Address) (p *Payout, err error) {
	defer func() { s.metrics.observe("withdraw", err) }()
	unlock := s.lockRound(id)
	defer unlock()

	r, err := s.store.GetRound(id)
	if err != nil {
		return nil, err
	}
	tk, err := s.store.GetTicket(id, requester)
	if err != nil && !errors.Is(err, store.ErrTicketNotFound) {
		return nil, err
	}
	if err := r.CheckWithdraw(tk, requester); err != nil {
		s.log.Debug().Err(err).Uint64("round", id).Str("claimer", requester.String()).Msg("withdraw rejected")
		return nil, err
	}

	capability, err := s.auth.AuthorizeTransfer(id, recipient, r.PerShare)
	if err != nil {
		return nil, err
	}
	transferID := TransferID(id, requester)
	if err := s.ledger.Transfer(ctx, capability, r.Asset, transferID); err != nil {
		s.log.Warn().Err(err).Uint64("round", id).Str("claimer", requester.String()).Msg("payout transfer failed")
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	err = s.store.Update(id, func(txn store.Txn) error {
		stored, err := txn.Ticket(requester)
		if err != nil {
			return err
		}
		if err := txn.Round().CheckWithdraw(stored, requester); err != nil {
			return err
		}
		if err := stored.MarkWithdrawn(); err != nil {
			return err
		}
		return txn.PutTicket(stored)
	})
	if err != nil {
		s.log.Error().Err(err).Uint64("round", id).Str("claimer", requester.String()).
			Str("transfer_id", transferID).Msg("payout applied but ticket not updated")
		return nil, fmt.Errorf("%w: %w", ErrCommitAfterTransfer, err)
	}

	s.metrics.payouts.WithLabelValues(r.Asset.String()).Add(float64(r.PerShare))
	s.log.Info().Uint64("round", id).Str("claimer", requester.String()).Str("recipient", recipient.String()).
		Uint64("amount", r.PerShare).Msg("payout completed")
	return &Payout{
		RoundID:    id,
		Claimer:    requester,
		Recipient:  recipient,
		Amount:     r.PerShare,
		TransferID: transferID,
	}, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Round returns round id.
func (s *Service) Round(_ context.Context, id uint64) (*round.Round, error) {
	return s.store.GetRound(id)
}

// Rounds returns all rounds ordered by id.
func (s *Service) Rounds(_ context.Context) ([]*round.Round, error) {
	return s.store.ListRounds()
}

// Ticket returns claimer's ticket in round id.
func (s *Service) Ticket(_ context.Context, id uint64, claimer round.Address) (*round.Ticket, error) {
	return s.store.GetTicket(id, claimer)
}

// Tickets returns all tickets of round id.
func (s *Service) Tickets(_ context.Context, id uint64) ([]*round.Ticket, error) {
	return s.store.ListTickets(id)
}

// EscrowAddress returns the escrow address of round id.
func (s *Service) EscrowAddress(id uint64) round.Address {
	return s.auth.EscrowAddress(id)
}
