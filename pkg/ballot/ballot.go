// Package ballot defines the ballot artifact and the byte payloads voters
// sign. A ballot is immutable once constructed: the ciphertext, the voter's
// signature binding it to the session, and an optional knowledge proof.
package ballot

import (
	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"

	"veriballot/pkg/crypto"
	"veriballot/pkg/serialization"
)

// Domain tags keep the authentication and vote signatures from ever being
// valid for one another.
const (
	TagAuth = "auth"
	TagVote = "vote"
)

// Ballot is the artifact a voter submits: an encrypted vote, the voter's
// signature over it, and an optional proof of knowledge of the plaintext
// randomness.
type Ballot struct {
	Ciphertext *crypto.ElGamalCiphertext
	Signature  *crypto.SchnorrSignature
	Proof      []byte // empty unless the election requires knowledge proofs
}

// Digest returns the canonical hash of the ballot's ciphertext.
func (b *Ballot) Digest() ([]byte, error) {
	return crypto.BallotDigest(b.Ciphertext)
}

// VotePayload is the byte string a voter signs when casting: the ciphertext
// under the vote domain tag, bound to the session that submits it. Counter is
// zero in single-use-token mode.
func VotePayload(ct *crypto.ElGamalCiphertext, token uuid.UUID, counter uint64) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteKyber(ct.C1, ct.C2)
	s.Write([]byte(TagVote))
	s.WriteUUID(token)
	s.WriteUint64(counter)
	return s.Bytes()
}

// AuthPayload is the byte string a voter signs to answer a session challenge.
func AuthPayload(voterID uint64, token uuid.UUID, counter uint64, tick uint64) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUint64(voterID)
	s.WriteUUID(token)
	s.WriteUint64(counter)
	s.WriteUint64(tick)
	s.Write([]byte(TagAuth))
	return s.Bytes()
}

// VerificationCode is what the voter's device derives after a successful
// commit: the identifier of the stored record and the encryption randomness.
// Presenting it later redeems individual verification.
type VerificationCode struct {
	VID        uuid.UUID
	Randomness kyber.Scalar
}

// Encode serializes the code for out-of-band transport.
func (c *VerificationCode) Encode() ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUUID(c.VID)
	s.WriteKyber(c.Randomness)
	return s.Bytes()
}

// DecodeVerificationCode parses a transported code back into its fields.
func DecodeVerificationCode(data []byte) (*VerificationCode, error) {
	d := serialization.NewDeserializer(data)
	vid := d.ReadUUID()
	r := crypto.Suite.Scalar()
	d.ReadKyber(r)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return &VerificationCode{VID: vid, Randomness: r}, nil
}
