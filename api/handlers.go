// Package api exposes the claim round service over HTTP with JSON bodies.
package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/escrow"
	"github.com/bitfsorg/libclaim-go/ledger"
	"github.com/bitfsorg/libclaim-go/round"
)

// RoundService is the subset of escrow.Service the handlers use.
type RoundService interface {
	CreateRound(ctx context.Context, id uint64, opensAt, closesAt int64, asset round.AssetID) (*round.Round, error)
	OpenRound(ctx context.Context, id uint64) (*round.Round, error)
	CloseRound(ctx context.Context, id uint64) (*round.Round, error)
	RecordFunding(ctx context.Context, id uint64) (uint64, error)
	Finalize(ctx context.Context, id uint64) (*round.Round, error)
	Claim(ctx context.Context, id uint64, claimer round.Address) (*round.Ticket, error)
	Withdraw(ctx context.Context, id uint64, requester, recipient round.Address) (*escrow.Payout, error)
	Round(ctx context.Context, id uint64) (*round.Round, error)
	Rounds(ctx context.Context) ([]*round.Round, error)
	Ticket(ctx context.Context, id uint64, claimer round.Address) (*round.Ticket, error)
	EscrowAddress(id uint64) round.Address
}

var _ RoundService = (*escrow.Service)(nil)

// Handler holds the round service that handlers will interact with.
type Handler struct {
	service   RoundService
	programID string
	depositor ledger.Depositor
	log       zerolog.Logger
}

// NewHandler creates a new Handler. programID scopes participant request
// signatures. depositor may be nil, in which case the deposit route is not
// mounted.
func NewHandler(service RoundService, programID string, depositor ledger.Depositor, log zerolog.Logger) *Handler {
	return &Handler{service: service, programID: programID, depositor: depositor, log: log}
}

// fail writes err as a JSON error with the mapped status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	ev := h.log.Debug()
	if code >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	respondWithError(w, code, err.Error())
}

func roundIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: round id %q", errBadRequest, raw)
	}
	return id, nil
}

// verifyParticipant checks the request signature and returns the signer's address.
func (h *Handler) verifyParticipant(req SignedRequest, op string, roundID uint64, payload []byte) (round.Address, error) {
	pub, err := hex.DecodeString(req.PubKey)
	if err != nil {
		return round.Address{}, fmt.Errorf("%w: pubkey: %w", errBadRequest, err)
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return round.Address{}, fmt.Errorf("%w: signature: %w", errBadRequest, err)
	}
	return authority.VerifyRequest(pub, sig, h.programID, op, roundID, payload)
}

// ---------------------------------------------------------------------------
// Lifecycle routes
// ---------------------------------------------------------------------------

func (h *Handler) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	asset, err := round.ParseAssetID(req.Asset)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rd, err := h.service.CreateRound(r.Context(), req.ID, req.OpensAt, req.ClosesAt, asset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newRoundResponse(rd, h.service.EscrowAddress(rd.ID)))
}

// roundStep adapts a round-returning service call to a handler.
func (h *Handler) roundStep(step func(context.Context, uint64) (*round.Round, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := roundIDParam(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		rd, err := step(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, newRoundResponse(rd, h.service.EscrowAddress(id)))
	}
}

func (h *Handler) handleRecordFunding(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.RecordFunding(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, FundingResponse{
		RoundID: id,
		Escrow:  h.service.EscrowAddress(id).String(),
		Balance: balance,
	})
}

// ---------------------------------------------------------------------------
// Participant routes
// ---------------------------------------------------------------------------

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claimer, err := h.verifyParticipant(req.SignedRequest, authority.OpClaim, id, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.service.Claim(r.Context(), id, claimer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newTicketResponse(t))
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req WithdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	pub, err := hex.DecodeString(req.PubKey)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: pubkey: %w", errBadRequest, err))
		return
	}
	var recipient round.Address
	if req.Recipient == "" {
		recipient, err = authority.AddressFromPubKeyBytes(pub)
	} else {
		recipient, err = round.ParseAddress(req.Recipient)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	requester, err := h.verifyParticipant(req.SignedRequest, authority.OpWithdraw, id, recipient[:])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.service.Withdraw(r.Context(), id, requester, recipient)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newPayoutResponse(p))
}

// handleDeposit credits the round escrow on a ledger that accepts direct deposits.
func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req DepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rd, err := h.service.Round(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	escrowAddr := h.service.EscrowAddress(id)
	if err := h.depositor.Deposit(r.Context(), escrowAddr, rd.Asset, req.Amount); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Uint64("round", id).Uint64("amount", req.Amount).Str("escrow", escrowAddr.String()).Msg("deposit")

	balance, err := h.service.RecordFunding(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, FundingResponse{RoundID: id, Escrow: escrowAddr.String(), Balance: balance})
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (h *Handler) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.service.Rounds(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]RoundResponse, 0, len(rounds))
	for _, rd := range rounds {
		out = append(out, newRoundResponse(rd, h.service.EscrowAddress(rd.ID)))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	h.roundStep(h.service.Round)(w, r)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	claimer, err := round.ParseAddress(chi.URLParam(r, "claimer"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.service.Ticket(r.Context(), id, claimer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newTicketResponse(t))
}
