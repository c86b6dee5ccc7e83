package api

import (
	"github.com/bitfsorg/libclaim-go/escrow"
	"github.com/bitfsorg/libclaim-go/round"
)

// CreateRoundRequest is the body of POST /rounds.
type CreateRoundRequest struct {
	ID       uint64 `json:"id"`
	OpensAt  int64  `json:"opens_at"`
	ClosesAt int64  `json:"closes_at"`
	Asset    string `json:"asset"`
}

// SignedRequest carries a participant's identity proof. Signature is a hex DER
// signature over authority.RequestDigest for the operation being requested.
type SignedRequest struct {
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// ClaimRequest is the body of POST /rounds/{id}/claim. The signed payload is empty.
type ClaimRequest struct {
	SignedRequest
}

// WithdrawRequest is the body of POST /rounds/{id}/withdraw. The signed
// payload is the 20 recipient address bytes. An empty recipient pays the
// claimer's own address.
type WithdrawRequest struct {
	SignedRequest
	Recipient string `json:"recipient,omitempty"`
}

// DepositRequest is the body of POST /rounds/{id}/deposit.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// RoundResponse is the JSON view of a round.
type RoundResponse struct {
	ID            uint64 `json:"id"`
	OpensAt       int64  `json:"opens_at"`
	ClosesAt      int64  `json:"closes_at"`
	Asset         string `json:"asset"`
	Escrow        string `json:"escrow"`
	PoolAmount    uint64 `json:"pool_amount"`
	TotalClaimers uint64 `json:"total_claimers"`
	PerShare      uint64 `json:"per_share"`
	Status        string `json:"status"`
}

// TicketResponse is the JSON view of a claim ticket.
type TicketResponse struct {
	RoundID   uint64 `json:"round_id"`
	Claimer   string `json:"claimer"`
	Claimed   bool   `json:"claimed"`
	Withdrawn bool   `json:"withdrawn"`
}

// PayoutResponse reports a completed withdrawal.
type PayoutResponse struct {
	RoundID    uint64 `json:"round_id"`
	Claimer    string `json:"claimer"`
	Recipient  string `json:"recipient"`
	Amount     uint64 `json:"amount"`
	TransferID string `json:"transfer_id"`
}

// FundingResponse reports the escrow balance observed for a round.
type FundingResponse struct {
	RoundID uint64 `json:"round_id"`
	Escrow  string `json:"escrow"`
	Balance uint64 `json:"balance"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newRoundResponse(r *round.Round, escrowAddr round.Address) RoundResponse {
	return RoundResponse{
		ID:            r.ID,
		OpensAt:       r.OpensAt,
		ClosesAt:      r.ClosesAt,
		Asset:         r.Asset.String(),
		Escrow:        escrowAddr.String(),
		PoolAmount:    r.PoolAmount,
		TotalClaimers: r.TotalClaimers,
		PerShare:      r.PerShare,
		Status:        r.Status.String(),
	}
}

func newTicketResponse(t *round.Ticket) TicketResponse {
	return TicketResponse{
		RoundID:   t.RoundID,
		Claimer:   t.Claimer.String(),
		Claimed:   t.Claimed,
		Withdrawn: t.Withdrawn,
	}
}

func newPayoutResponse(p *escrow.Payout) PayoutResponse {
	return PayoutResponse{
		RoundID:    p.RoundID,
		Claimer:    p.Claimer.String(),
		Recipient:  p.Recipient.String(),
		Amount:     p.Amount,
		TransferID: p.TransferID,
	}
}
