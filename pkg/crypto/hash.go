package crypto

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// BallotDigest hashes the canonical bytes of a ciphertext. This digest is what
// the collector signs in a registration request.
func BallotDigest(ct *ElGamalCiphertext) ([]byte, error) {
	b, err := ct.Bytes()
	if err != nil {
		return nil, err
	}
	sum := sha3.Sum256(b)
	return sum[:], nil
}

// RegistrationDigest binds an identifier to a ballot digest. The registrar's
// receipt is a signature over exactly this value, so a receipt can never be
// detached from the (identifier, ballot) pair it was issued for.
func RegistrationDigest(vid uuid.UUID, ballotDigest []byte) []byte {
	h := sha3.New256()
	h.Write(vid[:])
	h.Write(ballotDigest)
	return h.Sum(nil)
}
