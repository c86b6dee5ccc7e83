package authority

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libclaim-go/round"
)

const capabilityDomain = "claim-transfer-capability"

// RoundAuthority issues transfer capabilities for a round's escrow.
type RoundAuthority interface {
	// AuthorizeTransfer returns a capability to move amount out of the
	// round's escrow to recipient.
	AuthorizeTransfer(roundID uint64, recipient round.Address, amount uint64) (*Capability, error)

	// EscrowAddress returns the escrow controlled by the round's authority.
	EscrowAddress(roundID uint64) round.Address
}

// Verifier checks capabilities presented to the transfer subsystem.
type Verifier interface {
	VerifyCapability(c *Capability) error
}

// Capability authorizes exactly one transfer out of one round's escrow.
type Capability struct {
	RoundID   uint64
	Escrow    round.Address
	Recipient round.Address
	Amount    uint64
	Signature []byte // DER-encoded ECDSA signature over Digest()
}

// Digest returns SHA256(domain || round_id || escrow || recipient || amount).
func (c *Capability) Digest() []byte {
	var buf bytes.Buffer
	buf.WriteString(capabilityDomain)
	_ = binary.Write(&buf, binary.BigEndian, c.RoundID)
	buf.Write(c.Escrow[:])
	buf.Write(c.Recipient[:])
	_ = binary.Write(&buf, binary.BigEndian, c.Amount)
	sum := sha256.Sum256(buf.Bytes())
	return sum[:]
}

// Authority is the service-held RoundAuthority. Round keys are derived on
// demand and never stored.
type Authority struct {
	programID string
	secret    []byte
}

// Compile-time interface checks.
var (
	_ RoundAuthority = (*Authority)(nil)
	_ Verifier       = (*Authority)(nil)
)

// New creates an Authority for programID from secret.
func New(programID string, secret []byte) (*Authority, error) {
	if programID == "" {
		return nil, ErrEmptyProgramID
	}
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: got %d", ErrWeakSecret, len(secret))
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Authority{programID: programID, secret: s}, nil
}

// ProgramID returns the program identifier addresses are derived under.
func (a *Authority) ProgramID() string { return a.programID }

// EscrowAddress returns the escrow address of roundID.
func (a *Authority) EscrowAddress(roundID uint64) round.Address {
	return EscrowAddress(a.programID, roundID)
}

// PublicKey returns the public key of roundID's escrow authority.
func (a *Authority) PublicKey(roundID uint64) (*ec.PublicKey, error) {
	priv, err := deriveRoundKey(a.secret, a.programID, roundID)
	if err != nil {
		return nil, err
	}
	return priv.PubKey(), nil
}

// AuthorizeTransfer signs a capability for amount from roundID's escrow to recipient.
func (a *Authority) AuthorizeTransfer(roundID uint64, recipient round.Address, amount uint64) (*Capability, error) {
	priv, err := deriveRoundKey(a.secret, a.programID, roundID)
	if err != nil {
		return nil, err
	}
	c := &Capability{
		RoundID:   roundID,
		Escrow:    a.EscrowAddress(roundID),
		Recipient: recipient,
		Amount:    amount,
	}
	sig, err := priv.Sign(c.Digest())
	if err != nil {
		return nil, fmt.Errorf("authority: sign capability: %w", err)
	}
	c.Signature = sig.Serialize()
	return c, nil
}

// VerifyCapability checks that c names its round's own escrow and carries a
// valid signature from that round's authority.
func (a *Authority) VerifyCapability(c *Capability) error {
	if c == nil {
		return fmt.Errorf("%w: capability", ErrNilParam)
	}
	if c.Escrow != a.EscrowAddress(c.RoundID) {
		return fmt.Errorf("%w: escrow %s is not round %d's escrow", ErrInvalidCapability, c.Escrow, c.RoundID)
	}
	sig, err := ec.ParseDERSignature(c.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCapability, err)
	}
	pub, err := a.PublicKey(c.RoundID)
	if err != nil {
		return err
	}
	if !sig.Verify(c.Digest(), pub) {
		return fmt.Errorf("%w: signature mismatch for round %d", ErrInvalidCapability, c.RoundID)
	}
	return nil
}
