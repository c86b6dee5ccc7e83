package authority

import "errors"

var (
	// ErrWeakSecret indicates the authority secret is too short.
	ErrWeakSecret = errors.New("authority: secret must be at least 32 bytes")

	// ErrEmptyProgramID indicates no program identifier was supplied.
	ErrEmptyProgramID = errors.New("authority: program id must not be empty")

	// ErrDerivationFailed indicates the round key could not be derived.
	ErrDerivationFailed = errors.New("authority: round key derivation failed")

	// ErrInvalidCapability indicates a transfer capability failed verification.
	ErrInvalidCapability = errors.New("authority: invalid transfer capability")

	// ErrUnauthorized indicates a participant request signature did not verify.
	ErrUnauthorized = errors.New("authority: request not authorized")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("authority: nil parameter")
)
