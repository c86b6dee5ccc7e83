package escrow

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/ledger"
	"github.com/bitfsorg/libclaim-go/round"
	"github.com/bitfsorg/libclaim-go/store"
)

var testAsset = round.AssetID{0xA5}

type harness struct {
	svc    *Service
	ledger *ledger.MemLedger
	auth   *authority.Authority
	clock  *FixedClock
	store  store.Store
}

func newHarness(t *testing.T, st store.Store, opts ...Option) *harness {
	t.Helper()
	auth, err := authority.New("claim-test", bytes.Repeat([]byte{0x33}, authority.MinSecretLen))
	require.NoError(t, err)
	l := ledger.NewMemLedger(auth)
	clock := NewFixedClock(150)
	opts = append([]Option{WithClock(clock)}, opts...)
	return &harness{
		svc:    New(st, l, auth, opts...),
		ledger: l,
		auth:   auth,
		clock:  clock,
		store:  st,
	}
}

func newMemHarness(t *testing.T, opts ...Option) *harness {
	return newHarness(t, store.NewMemStore(), opts...)
}

func participant(t *testing.T) round.Address {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return authority.AddressFromPubKey(priv.PubKey())
}

func (h *harness) fund(t *testing.T, id, amount uint64) {
	t.Helper()
	require.NoError(t, h.ledger.Deposit(context.Background(), h.auth.EscrowAddress(id), testAsset, amount))
}

func (h *harness) openRound(t *testing.T, id uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.CreateRound(ctx, id, 100, 200, testAsset)
	require.NoError(t, err)
	_, err = h.svc.OpenRound(ctx, id)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, a round.Address) uint64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), a, testAsset)
	require.NoError(t, err)
	return b
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenario_ThreeClaimersFloorSplit(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store func(t *testing.T) store.Store
	}{
		{"mem", func(*testing.T) store.Store { return store.NewMemStore() }},
		{"bolt", func(t *testing.T) store.Store {
			s, err := store.OpenBoltStore(filepath.Join(t.TempDir(), "claim.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tc.store(t))
			h.openRound(t, 1)

			claimers := []round.Address{participant(t), participant(t), participant(t)}
			for _, c := range claimers {
				_, err := h.svc.Claim(ctx, 1, c)
				require.NoError(t, err)
			}

			h.fund(t, 1, 1000)
			_, err := h.svc.CloseRound(ctx, 1)
			require.NoError(t, err)

			r, err := h.svc.Finalize(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), r.PoolAmount)
			assert.Equal(t, uint64(3), r.TotalClaimers)
			assert.Equal(t, uint64(333), r.PerShare)
			assert.Equal(t, round.StatusFinalized, r.Status)
			require.NoError(t, round.ValidateConservation(r))

			for _, c := range claimers {
				p, err := h.svc.Withdraw(ctx, 1, c, c)
				require.NoError(t, err)
				assert.Equal(t, uint64(333), p.Amount)
				assert.Equal(t, uint64(333), h.balance(t, c))

				tk, err := h.svc.Ticket(ctx, 1, c)
				require.NoError(t, err)
				assert.True(t, tk.Withdrawn)
			}
			assert.Equal(t, uint64(1), h.balance(t, h.svc.EscrowAddress(1)), "dust stays in escrow")

			stranger := participant(t)
			_, err = h.svc.Withdraw(ctx, 1, stranger, stranger)
			assert.ErrorIs(t, err, round.ErrNotClaimed)
			assert.Zero(t, h.balance(t, stranger))
		})
	}
}

func TestScenario_FinalizeWithoutClaimers(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	h.fund(t, 1, 500)
	_, err := h.svc.CloseRound(ctx, 1)
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, 1)
	assert.ErrorIs(t, err, round.ErrNoClaimers)

	r, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, round.StatusClosed, r.Status)
	assert.Zero(t, r.PoolAmount)
}

func TestScenario_ConcurrentSameParticipantClaims(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	c := participant(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Claim(ctx, 1, c)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, round.ErrAlreadyClaimed):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	r, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.TotalClaimers)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestCreateRound_Duplicate(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	_, err := h.svc.CreateRound(ctx, 1, 100, 200, testAsset)
	require.NoError(t, err)
	_, err = h.svc.CreateRound(ctx, 1, 100, 200, testAsset)
	assert.ErrorIs(t, err, store.ErrDuplicateRound)
}

func TestCreateRound_WindowTrust(t *testing.T) {
	ctx := context.Background()

	loose := newMemHarness(t)
	_, err := loose.svc.CreateRound(ctx, 1, 300, 200, testAsset)
	assert.NoError(t, err, "default mode trusts the administrator")

	strict := newMemHarness(t, WithStrictWindow(true))
	_, err = strict.svc.CreateRound(ctx, 1, 300, 200, testAsset)
	assert.ErrorIs(t, err, round.ErrInvalidWindow)
	_, err = strict.svc.Round(ctx, 1)
	assert.ErrorIs(t, err, store.ErrRoundNotFound)
}

func TestLifecycle_BadStatus(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	_, err := h.svc.CreateRound(ctx, 1, 100, 200, testAsset)
	require.NoError(t, err)

	_, err = h.svc.CloseRound(ctx, 1)
	assert.ErrorIs(t, err, round.ErrBadStatus)
	_, err = h.svc.Finalize(ctx, 1)
	assert.ErrorIs(t, err, round.ErrBadStatus)

	_, err = h.svc.OpenRound(ctx, 1)
	require.NoError(t, err)
	_, err = h.svc.OpenRound(ctx, 1)
	assert.ErrorIs(t, err, round.ErrBadStatus)

	_, err = h.svc.OpenRound(ctx, 42)
	assert.ErrorIs(t, err, store.ErrRoundNotFound)
}

func TestFinalize_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	_, err := h.svc.Claim(ctx, 1, participant(t))
	require.NoError(t, err)
	h.fund(t, 1, 100)
	_, err = h.svc.CloseRound(ctx, 1)
	require.NoError(t, err)
	_, err = h.svc.Finalize(ctx, 1)
	require.NoError(t, err)

	h.fund(t, 1, 900)
	_, err = h.svc.Finalize(ctx, 1)
	assert.ErrorIs(t, err, round.ErrBadStatus)

	r, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.PoolAmount, "late deposits do not change a finalized pool")
}

func TestFinalize_ReadsBalanceAtCallTime(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	_, err := h.svc.Claim(ctx, 1, participant(t))
	require.NoError(t, err)
	_, err = h.svc.Claim(ctx, 1, participant(t))
	require.NoError(t, err)

	h.fund(t, 1, 10)
	bal, err := h.svc.RecordFunding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)

	_, err = h.svc.CloseRound(ctx, 1)
	require.NoError(t, err)
	h.fund(t, 1, 91) // after close, before finalize

	r, err := h.svc.Finalize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), r.PoolAmount)
	assert.Equal(t, uint64(50), r.PerShare)
}

func TestRecordFunding_NoBookkeeping(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	h.fund(t, 1, 77)

	before, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	_, err = h.svc.RecordFunding(ctx, 1)
	require.NoError(t, err)
	after, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = h.svc.RecordFunding(ctx, 9)
	assert.ErrorIs(t, err, store.ErrRoundNotFound)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func TestClaim_Window(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)

	for _, now := range []int64{99, 201} {
		h.clock.Set(now)
		_, err := h.svc.Claim(ctx, 1, participant(t))
		assert.ErrorIs(t, err, round.ErrWindow, "now=%d", now)
	}
	h.clock.Set(100)
	_, err := h.svc.Claim(ctx, 1, participant(t))
	assert.NoError(t, err)
	h.clock.Set(200)
	_, err = h.svc.Claim(ctx, 1, participant(t))
	assert.NoError(t, err)

	r, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.TotalClaimers)
}

func TestClaim_NotOpen(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	_, err := h.svc.CreateRound(ctx, 1, 100, 200, testAsset)
	require.NoError(t, err)

	_, err = h.svc.Claim(ctx, 1, participant(t))
	assert.ErrorIs(t, err, round.ErrNotOpen)

	_, err = h.svc.Claim(ctx, 2, participant(t))
	assert.ErrorIs(t, err, store.ErrRoundNotFound)
}

func TestClaim_SecondClaimRejected(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	c := participant(t)

	tk, err := h.svc.Claim(ctx, 1, c)
	require.NoError(t, err)
	assert.True(t, tk.Claimed)
	assert.False(t, tk.Withdrawn)

	_, err = h.svc.Claim(ctx, 1, c)
	assert.ErrorIs(t, err, round.ErrAlreadyClaimed)

	tickets, err := h.svc.Tickets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}

func TestClaim_CanceledContext(t *testing.T) {
	h := newMemHarness(t)
	h.openRound(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Claim(ctx, 1, participant(t))
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Withdrawals
// ---------------------------------------------------------------------------

// finalized sets up round 1 finalized with the given claimers and pool.
func finalized(t *testing.T, h *harness, pool uint64, claimers ...round.Address) {
	t.Helper()
	ctx := context.Background()
	h.openRound(t, 1)
	for _, c := range claimers {
		_, err := h.svc.Claim(ctx, 1, c)
		require.NoError(t, err)
	}
	if pool > 0 {
		h.fund(t, 1, pool)
	}
	_, err := h.svc.CloseRound(ctx, 1)
	require.NoError(t, err)
	_, err = h.svc.Finalize(ctx, 1)
	require.NoError(t, err)
}

func TestWithdraw_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	c := participant(t)
	finalized(t, h, 90, c, participant(t))

	_, err := h.svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	_, err = h.svc.Withdraw(ctx, 1, c, c)
	assert.ErrorIs(t, err, round.ErrAlreadyWithdrawn)
	assert.Equal(t, uint64(45), h.balance(t, c))
}

func TestWithdraw_ConcurrentSameTicket(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	c := participant(t)
	finalized(t, h, 1000, c, participant(t))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		payouts  int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Withdraw(ctx, 1, c, c)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				payouts++
			} else if errors.Is(err, round.ErrAlreadyWithdrawn) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, payouts)
	assert.Equal(t, 9, rejected)
	assert.Equal(t, uint64(500), h.balance(t, c))
	assert.Equal(t, uint64(500), h.balance(t, h.svc.EscrowAddress(1)))
}

func TestWithdraw_NotFinalized(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	h.openRound(t, 1)
	c := participant(t)
	_, err := h.svc.Claim(ctx, 1, c)
	require.NoError(t, err)

	_, err = h.svc.Withdraw(ctx, 1, c, c)
	assert.ErrorIs(t, err, round.ErrNotFinalized)
}

func TestWithdraw_ZeroPerShare(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	c := participant(t)
	finalized(t, h, 1, c, participant(t))

	_, err := h.svc.Withdraw(ctx, 1, c, c)
	assert.ErrorIs(t, err, round.ErrNotFinalized)
}

func TestWithdraw_OtherClaimerTicket(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	alice, bob := participant(t), participant(t)
	finalized(t, h, 100, alice, bob)

	// Bob withdrawing to Alice's address pays Bob's own share only.
	p, err := h.svc.Withdraw(ctx, 1, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, bob, p.Claimer)
	assert.Equal(t, alice, p.Recipient)

	tk, err := h.svc.Ticket(ctx, 1, alice)
	require.NoError(t, err)
	assert.False(t, tk.Withdrawn)
}

func TestWithdraw_TransferFailureLeavesTicket(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	h := newHarness(t, st)
	c := participant(t)
	finalized(t, h, 100, c)

	failing := &ledger.MockLedger{
		BalanceFn: h.ledger.Balance,
		TransferFn: func(context.Context, *authority.Capability, round.AssetID, string) error {
			return ledger.ErrInsufficientFunds
		},
	}
	svc := New(st, failing, h.auth, WithClock(h.clock))

	_, err := svc.Withdraw(ctx, 1, c, c)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	tk, err := svc.Ticket(ctx, 1, c)
	require.NoError(t, err)
	assert.False(t, tk.Withdrawn)

	// The real ledger still pays once the transfer succeeds.
	_, err = h.svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.balance(t, c))
}

func TestWithdraw_CapabilityScopedToPerShare(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	h := newHarness(t, st)
	c := participant(t)
	finalized(t, h, 1000, c, participant(t), participant(t))

	var seen *authority.Capability
	var seenID string
	spy := &ledger.MockLedger{
		BalanceFn: h.ledger.Balance,
		TransferFn: func(ctx context.Context, c *authority.Capability, asset round.AssetID, id string) error {
			seen, seenID = c, id
			return h.ledger.Transfer(ctx, c, asset, id)
		},
	}
	svc := New(st, spy, h.auth, WithClock(h.clock))

	_, err := svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, uint64(333), seen.Amount)
	assert.Equal(t, h.auth.EscrowAddress(1), seen.Escrow)
	assert.Equal(t, TransferID(1, c), seenID)
	assert.NoError(t, h.auth.VerifyCapability(seen))
}

func TestWithdraw_RetryAfterCommitFailureIsIdempotent(t *testing.T) {
	// Simulates the ledger having applied the transfer before the ticket
	// write failed: a retry re-presents the same transfer id and pays nothing extra.
	ctx := context.Background()
	h := newMemHarness(t)
	c := participant(t)
	finalized(t, h, 100, c, participant(t))

	capability, err := h.auth.AuthorizeTransfer(1, c, 50)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Transfer(ctx, capability, testAsset, TransferID(1, c)))

	_, err = h.svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), h.balance(t, c))
	assert.Equal(t, uint64(50), h.balance(t, h.svc.EscrowAddress(1)))
}

func TestWithdraw_AfterRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "claim.db")
	auth, err := authority.New("claim-test", bytes.Repeat([]byte{0x33}, authority.MinSecretLen))
	require.NoError(t, err)

	open := func() (*Service, *store.BoltStore, *ledger.BoltLedger) {
		st, err := store.OpenBoltStore(dbPath)
		require.NoError(t, err)
		l, err := ledger.NewBoltLedger(st.DB(), auth)
		require.NoError(t, err)
		return New(st, l, auth, WithClock(NewFixedClock(150))), st, l
	}

	svc, st, l := open()
	c := participant(t)
	_, err = svc.CreateRound(ctx, 1, 100, 200, testAsset)
	require.NoError(t, err)
	_, err = svc.OpenRound(ctx, 1)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, 1, c)
	require.NoError(t, err)
	require.NoError(t, l.Deposit(ctx, auth.EscrowAddress(1), testAsset, 1000))
	_, err = svc.CloseRound(ctx, 1)
	require.NoError(t, err)
	r, err := svc.Finalize(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), r.PerShare)
	require.NoError(t, st.Close())

	svc, st, l = open()
	defer st.Close()

	p, err := svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p.Amount)

	// A retry of the same transfer id after restart pays nothing extra.
	capability, err := auth.AuthorizeTransfer(1, c, 1000)
	require.NoError(t, err)
	require.NoError(t, l.Transfer(ctx, capability, testAsset, TransferID(1, c)))

	got, err := l.Balance(ctx, c, testAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got)
	escrowBal, err := l.Balance(ctx, auth.EscrowAddress(1), testAsset)
	require.NoError(t, err)
	assert.Zero(t, escrowBal)
}

func TestWithdraw_ManyRoundsConcurrently(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	const rounds = 3 * lockStripes

	claimers := make([]round.Address, rounds)
	for i := range claimers {
		id := uint64(i + 1)
		claimers[i] = participant(t)
		h.openRound(t, id)
		_, err := h.svc.Claim(ctx, id, claimers[i])
		require.NoError(t, err)
		h.fund(t, id, 10)
		_, err = h.svc.CloseRound(ctx, id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, rounds)
	for i := range claimers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uint64(i + 1)
			if _, err := h.svc.Finalize(ctx, id); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = h.svc.Withdraw(ctx, id, claimers[i], claimers[i])
		}(i)
	}
	wg.Wait()

	for i, c := range claimers {
		require.NoError(t, errs[i], "round %d", i+1)
		assert.Equal(t, uint64(10), h.balance(t, c))
	}
}

func TestFinalize_LogsDust(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	h := newMemHarness(t, WithLogger(zerolog.New(&buf)))
	finalized(t, h, 1000, participant(t), participant(t), participant(t))

	assert.Contains(t, buf.String(), `"per_share":333`)
	assert.Contains(t, buf.String(), `"dust":1`)

	r, err := h.svc.Round(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, round.ValidateConservation(r))
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestMetrics_Recorded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newMemHarness(t, WithMetrics(m))
	c := participant(t)
	finalized(t, h, 10, c)

	_, err := h.svc.Withdraw(ctx, 1, c, c)
	require.NoError(t, err)
	_, err = h.svc.Withdraw(ctx, 1, c, c)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("claim", "ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.payouts.WithLabelValues(testAsset.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimers.WithLabelValues("1")))
}
