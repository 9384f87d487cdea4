// Package registrar implements the registration service: an independent
// auditor that counter-signs each accepted ballot. A receipt binds the
// registrar to exactly one (identifier, ballot-digest) pair; the collector
// may not commit storage without one.
package registrar

import (
	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/crypto"
	"veriballot/pkg/log"
	"veriballot/pkg/serialization"
)

// ErrRegistrationDenied is returned when the collector's signature on a
// registration request does not verify. No receipt is ever emitted for a
// denied request.
var ErrRegistrationDenied = xerrors.New("registration denied")

// Request is what the collector sends for each accepted ballot.
type Request struct {
	VID          uuid.UUID
	BallotDigest []byte
	CollectorSig *crypto.SchnorrSignature
}

// RequestPayload is the byte string the collector signs.
func RequestPayload(vid uuid.UUID, ballotDigest []byte) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUUID(vid)
	s.WriteByteSlice(ballotDigest)
	return s.Bytes()
}

// Receipt is the registrar's signature over the registration digest of the
// exact (identifier, ballot-digest) pair it was issued for.
type Receipt struct {
	Sig *crypto.SchnorrSignature
}

// Verify checks the receipt against a claimed pair under the registrar's key.
func (r *Receipt) Verify(registrarPK kyber.Point, vid uuid.UUID, ballotDigest []byte) error {
	if r == nil || r.Sig == nil {
		return xerrors.New("missing receipt")
	}
	if !r.Sig.Pk.Equal(registrarPK) {
		return xerrors.New("receipt was not signed by the known registrar")
	}
	return r.Sig.Verify(crypto.RegistrationDigest(vid, ballotDigest))
}

// Service is the registration service.
type Service struct {
	cred        *crypto.SignAsymmetricCredential
	collectorPK kyber.Point
}

// NewService creates a registrar that accepts requests signed by collectorPK.
func NewService(collectorPK kyber.Point) (*Service, error) {
	cred, err := crypto.NewSignAsymmetricCredential()
	if err != nil {
		return nil, xerrors.Errorf("failed to create registrar credential: %w", err)
	}
	return &Service{cred: cred, collectorPK: collectorPK}, nil
}

// PublicKey returns the key receipts verify under.
func (s *Service) PublicKey() kyber.Point {
	return s.cred.PublicKey()
}

// Register verifies the collector's signature on the request and, on success,
// returns a receipt. On failure it returns nothing: the attempt is abandoned,
// never retried here.
func (s *Service) Register(req *Request) (*Receipt, error) {
	msg, err := RequestPayload(req.VID, req.BallotDigest)
	if err != nil {
		return nil, err
	}
	if req.CollectorSig == nil || !req.CollectorSig.Pk.Equal(s.collectorPK) {
		log.Debug("Registrar: request for %s not signed by the known collector", req.VID)
		return nil, ErrRegistrationDenied
	}
	if err := req.CollectorSig.Verify(msg); err != nil {
		log.Debug("Registrar: bad collector signature for %s: %v", req.VID, err)
		return nil, ErrRegistrationDenied
	}

	sig, err := s.cred.Sign(crypto.RegistrationDigest(req.VID, req.BallotDigest))
	if err != nil {
		return nil, xerrors.Errorf("failed to sign receipt: %w", err)
	}
	return &Receipt{Sig: sig}, nil
}
