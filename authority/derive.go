// Package authority derives the per-round escrow authority and verifies
// participant identities.
//
// Every round owns an escrow account whose address is a public function of
// the program identifier and the round id:
//
//	escrow = HASH160(program_id || "escrow_auth" || round_id_be)
//
// Anyone can recompute it. Transfers out of that escrow are authorized by a
// Capability signed with a key derived from the service secret:
//
//	d_round = HKDF-SHA256(secret, program_id, "escrow_auth" || round_id_be)
//
// A capability is bound to one round, one escrow, one recipient and one amount.
package authority

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"golang.org/x/crypto/hkdf"

	"github.com/bitfsorg/libclaim-go/round"
)

const (
	// EscrowLabel is the fixed seed label for the escrow authority.
	EscrowLabel = "escrow_auth"

	// PoolLabel is the fixed seed label for the pool record address.
	PoolLabel = "pool"

	// MinSecretLen is the minimum accepted authority secret length in bytes.
	MinSecretLen = 32

	roundKeyLen = 32
)

// seed builds label || round_id_be.
func seed(label string, roundID uint64) []byte {
	buf := make([]byte, len(label)+8)
	copy(buf, label)
	binary.BigEndian.PutUint64(buf[len(label):], roundID)
	return buf
}

// EscrowAddress returns the deterministic escrow address of a round.
func EscrowAddress(programID string, roundID uint64) round.Address {
	return labelAddress(programID, EscrowLabel, roundID)
}

// PoolAddress returns the deterministic address of a round's pool record.
// The pool address is derived from the escrow address, mirroring the
// seed chain escrow -> pool.
func PoolAddress(programID string, roundID uint64) round.Address {
	escrow := EscrowAddress(programID, roundID)
	data := make([]byte, 0, len(programID)+len(PoolLabel)+len(escrow))
	data = append(data, programID...)
	data = append(data, PoolLabel...)
	data = append(data, escrow[:]...)
	var addr round.Address
	copy(addr[:], bsvhash.Hash160(data))
	return addr
}

func labelAddress(programID, label string, roundID uint64) round.Address {
	data := append([]byte(programID), seed(label, roundID)...)
	var addr round.Address
	copy(addr[:], bsvhash.Hash160(data))
	return addr
}

// AddressFromPubKey returns HASH160 of the compressed public key.
func AddressFromPubKey(pub *ec.PublicKey) round.Address {
	var addr round.Address
	copy(addr[:], bsvhash.Hash160(pub.Compressed()))
	return addr
}

// AddressFromPubKeyBytes parses a serialized public key and returns its address.
func AddressFromPubKeyBytes(pubKey []byte) (round.Address, error) {
	pub, err := ec.PublicKeyFromBytes(pubKey)
	if err != nil {
		return round.Address{}, fmt.Errorf("%w: public key: %w", ErrUnauthorized, err)
	}
	return AddressFromPubKey(pub), nil
}

// deriveRoundKey derives the signing key of a round's escrow authority.
func deriveRoundKey(secret []byte, programID string, roundID uint64) (*ec.PrivateKey, error) {
	r := hkdf.New(sha256.New, secret, []byte(programID), seed(EscrowLabel, roundID))
	key := make([]byte, roundKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	priv, _ := ec.PrivateKeyFromBytes(key)
	if priv == nil {
		return nil, fmt.Errorf("%w: round %d", ErrDerivationFailed, roundID)
	}
	return priv, nil
}
