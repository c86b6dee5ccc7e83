package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitfsorg/libclaim-go/authority"
	"github.com/bitfsorg/libclaim-go/escrow"
	"github.com/bitfsorg/libclaim-go/ledger"
	"github.com/bitfsorg/libclaim-go/round"
	"github.com/bitfsorg/libclaim-go/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("api: bad request")

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	// Payout failures wrap ledger and verifier errors; classify them first.
	case errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, escrow.ErrCommitAfterTransfer):
		return http.StatusInternalServerError

	case errors.Is(err, errBadRequest),
		errors.Is(err, round.ErrInvalidWindow),
		errors.Is(err, round.ErrInvalidAddress),
		errors.Is(err, round.ErrInvalidAsset),
		errors.Is(err, ledger.ErrZeroAmount):
		return http.StatusBadRequest

	case errors.Is(err, authority.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, round.ErrNotClaimed),
		errors.Is(err, round.ErrTicketMismatch),
		errors.Is(err, round.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, store.ErrRoundNotFound),
		errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound

	case errors.Is(err, round.ErrBadStatus),
		errors.Is(err, round.ErrNotOpen),
		errors.Is(err, round.ErrWindow),
		errors.Is(err, round.ErrAlreadyClaimed),
		errors.Is(err, round.ErrAlreadyWithdrawn),
		errors.Is(err, round.ErrNoClaimers),
		errors.Is(err, round.ErrNotFinalized),
		errors.Is(err, round.ErrMathOverflow),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, store.ErrDuplicateRound):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, ErrorResponse{Error: msg})
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
