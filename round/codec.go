package round

import (
	"encoding/binary"
	"fmt"
)

const (
	roundSize  = 81 // id(8) + opens_at(8) + closes_at(8) + asset(32) + pool(8) + claimers(8) + per_share(8) + status(1)
	ticketSize = 30 // round_id(8) + claimer(20) + claimed(1) + withdrawn(1)
)

// SerializeRound encodes a Round to its fixed-width binary form.
func SerializeRound(r *Round) []byte {
	buf := make([]byte, roundSize)
	binary.BigEndian.PutUint64(buf[0:8], r.ID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.OpensAt))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.ClosesAt))
	copy(buf[24:56], r.Asset[:])
	binary.BigEndian.PutUint64(buf[56:64], r.PoolAmount)
	binary.BigEndian.PutUint64(buf[64:72], r.TotalClaimers)
	binary.BigEndian.PutUint64(buf[72:80], r.PerShare)
	buf[80] = byte(r.Status)
	return buf
}

// DeserializeRound decodes binary data into a Round.
func DeserializeRound(data []byte) (*Round, error) {
	if len(data) != roundSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidRoundData, roundSize, len(data))
	}
	r := &Round{}
	r.ID = binary.BigEndian.Uint64(data[0:8])
	r.OpensAt = int64(binary.BigEndian.Uint64(data[8:16]))
	r.ClosesAt = int64(binary.BigEndian.Uint64(data[16:24]))
	copy(r.Asset[:], data[24:56])
	r.PoolAmount = binary.BigEndian.Uint64(data[56:64])
	r.TotalClaimers = binary.BigEndian.Uint64(data[64:72])
	r.PerShare = binary.BigEndian.Uint64(data[72:80])
	r.Status = Status(data[80])
	if r.Status > StatusFinalized {
		return nil, fmt.Errorf("%w: unknown status %d", ErrInvalidRoundData, data[80])
	}
	return r, nil
}

// SerializeTicket encodes a Ticket to its fixed-width binary form.
func SerializeTicket(t *Ticket) []byte {
	buf := make([]byte, ticketSize)
	binary.BigEndian.PutUint64(buf[0:8], t.RoundID)
	copy(buf[8:28], t.Claimer[:])
	buf[28] = boolByte(t.Claimed)
	buf[29] = boolByte(t.Withdrawn)
	return buf
}

// DeserializeTicket decodes binary data into a Ticket.
func DeserializeTicket(data []byte) (*Ticket, error) {
	if len(data) != ticketSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidTicketData, ticketSize, len(data))
	}
	if data[28] > 1 || data[29] > 1 {
		return nil, fmt.Errorf("%w: flag bytes must be 0 or 1", ErrInvalidTicketData)
	}
	t := &Ticket{}
	t.RoundID = binary.BigEndian.Uint64(data[0:8])
	copy(t.Claimer[:], data[8:28])
	t.Claimed = data[28] == 1
	t.Withdrawn = data[29] == 1
	return t, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
