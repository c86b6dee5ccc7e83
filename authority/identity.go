package authority

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libclaim-go/round"
)

const requestDomain = "claim-request"

// Operation names bound into participant request signatures.
const (
	OpClaim    = "claim"
	OpWithdraw = "withdraw"
)

// RequestDigest returns
// SHA256(domain || program_id || 0x00 || op || 0x00 || round_id_be || payload).
func RequestDigest(programID, op string, roundID uint64, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(requestDomain))
	h.Write([]byte(programID))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], roundID)
	h.Write(id[:])
	h.Write(payload)
	return h.Sum(nil)
}

// SignRequest signs a participant request with priv and returns the DER signature.
func SignRequest(priv *ec.PrivateKey, programID, op string, roundID uint64, payload []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	sig, err := priv.Sign(RequestDigest(programID, op, roundID, payload))
	if err != nil {
		return nil, fmt.Errorf("authority: sign request: %w", err)
	}
	return sig.Serialize(), nil
}

// VerifyRequest checks a participant signature and returns the participant's
// address. pubKey is a compressed or uncompressed secp256k1 public key.
// A signature made for another program id does not verify.
func VerifyRequest(pubKey, signature []byte, programID, op string, roundID uint64, payload []byte) (round.Address, error) {
	var zero round.Address
	pub, err := ec.PublicKeyFromBytes(pubKey)
	if err != nil {
		return zero, fmt.Errorf("%w: public key: %w", ErrUnauthorized, err)
	}
	sig, err := ec.ParseDERSignature(signature)
	if err != nil {
		return zero, fmt.Errorf("%w: signature: %w", ErrUnauthorized, err)
	}
	if !sig.Verify(RequestDigest(programID, op, roundID, payload), pub) {
		return zero, fmt.Errorf("%w: %s signature mismatch", ErrUnauthorized, op)
	}
	return AddressFromPubKey(pub), nil
}
