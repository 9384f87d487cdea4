// Package election implements the one-time election setup: the election
// encryption key (held in trustee shares), the published candidate list, and
// the roll of registered eligible voters.
package election

import (
	"sync"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/crypto"
	"veriballot/pkg/identity"
)

// Setup holds the election-wide public material. Exactly one encryption
// keypair exists per election; it is generated once, in the constructor.
type Setup struct {
	shares     []*crypto.DKGShare
	publicKey  kyber.Point
	candidates []string

	mu   sync.RWMutex
	roll map[uint64]struct{}
}

// NewSetup generates the election key from numTrustees shares and publishes
// the candidate list.
func NewSetup(numTrustees uint64, candidates []string) (*Setup, error) {
	if numTrustees < 1 {
		return nil, xerrors.New("number of trustees must be at least 1")
	}
	if len(candidates) < 2 {
		return nil, xerrors.New("an election needs at least two candidates")
	}

	shares, publicKey := crypto.NewDKG(numTrustees)
	return &Setup{
		shares:     shares,
		publicKey:  publicKey,
		candidates: candidates,
		roll:       make(map[uint64]struct{}),
	}, nil
}

// PublicKey returns the single published election encryption key.
func (s *Setup) PublicKey() kyber.Point {
	return s.publicKey
}

// Shares returns the trustee key shares. In a deployment these never leave
// the trustees; the simulation uses them to stand in for the external
// decryption collaborator.
func (s *Setup) Shares() []*crypto.DKGShare {
	return s.shares
}

// Candidates returns the published candidate list.
func (s *Setup) Candidates() []string {
	return s.candidates
}

// Register adds an identity to the roll of eligible voters.
func (s *Setup) Register(ident *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll[ident.ID] = struct{}{}
}

// Eligible reports whether a voter id is on the roll.
func (s *Setup) Eligible(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roll[id]
	return ok
}

// CandidatePoint maps a candidate index to its group element: index i encodes
// as i*G, so candidate 0 is the null point and the encoding is trivially
// invertible over the small candidate set.
func (s *Setup) CandidatePoint(index uint64) (kyber.Point, error) {
	if index >= uint64(len(s.candidates)) {
		return nil, xerrors.Errorf("candidate index %d out of range", index)
	}
	return crypto.Suite.Point().Mul(crypto.Suite.Scalar().SetInt64(int64(index)), nil), nil
}

// CandidateIndex inverts CandidatePoint by table lookup over the candidate set.
func (s *Setup) CandidateIndex(M kyber.Point) (uint64, error) {
	for i := range s.candidates {
		p := crypto.Suite.Point().Mul(crypto.Suite.Scalar().SetInt64(int64(i)), nil)
		if p.Equal(M) {
			return uint64(i), nil
		}
	}
	return 0, xerrors.New("decrypted point does not encode a candidate")
}
