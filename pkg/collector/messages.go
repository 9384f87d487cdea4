package collector

import (
	"github.com/google/uuid"

	"veriballot/pkg/ballot"
	"veriballot/pkg/registrar"
)

// AuthChallenge is issued to a voter at session start.
type AuthChallenge struct {
	VoterID uint64
	Token   uuid.UUID
	Counter uint64 // zero in token mode
	Tick    uint64
}

// AuthResponse is the voter's signature over the challenge under the auth
// domain tag.
type AuthResponse struct {
	VoterID   uint64
	Token     uuid.UUID
	Signature []byte
}

// Submission carries one ballot for an authenticated session.
type Submission struct {
	VoterID uint64
	Token   uuid.UUID
	Ballot  *ballot.Ballot
}

// Confirmation is returned to the voter after a successful storage commit.
// Together with the encryption randomness the voter's device already holds,
// it is everything needed to derive a verification code.
type Confirmation struct {
	SessionToken uuid.UUID
	VID          uuid.UUID
	Receipt      *registrar.Receipt
}
