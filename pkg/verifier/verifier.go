// Package verifier implements the individual-verification read path: a voter
// redeems a verification code against the stored record while its window is
// open. The service and its client both re-check the stored certificate
// chain, so a collector that skips checks cannot forge a passing
// verification on its own.
package verifier

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/config"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/log"
	"veriballot/pkg/registrar"
)

// ErrVerificationDenied covers a closed window, a superseded record, a
// signature or receipt mismatch, a ciphertext mismatch, and an exceeded
// redemption count.
var ErrVerificationDenied = xerrors.New("verification denied")

// Capabilities lists the service-side checks. A corrupted collector running
// the read path may drop the window and finality checks; integrity survives
// because the tally re-checks the chain regardless.
type Capabilities struct {
	WindowCheck bool
	FinalCheck  bool
}

// FullCapabilities is an honest verification service.
func FullCapabilities() Capabilities {
	return Capabilities{WindowCheck: true, FinalCheck: true}
}

// Reply is the record material returned for a redeemed code.
type Reply struct {
	Ballot       *ballot.Ballot
	StoreTick    uint64
	Receipt      *registrar.Receipt
	SessionToken uuid.UUID
	Counter      uint64
}

// Service is the server side of the read path. It has read-only access to
// the ledger.
type Service struct {
	mu sync.Mutex

	store  *ledger.Store
	creds  *identity.Store
	setup  *election.Setup
	oracle *clock.Oracle

	registrarPK kyber.Point
	windowTicks uint64
	limit       int
	notify      bool // notify-stored variant: finality is not required
	caps        Capabilities

	redemptions map[uuid.UUID]int
}

// NewService creates a verification service with full capabilities.
func NewService(cfg *config.Config, store *ledger.Store, creds *identity.Store,
	setup *election.Setup, oracle *clock.Oracle, registrarPK kyber.Point) *Service {

	return &Service{
		store:       store,
		creds:       creds,
		setup:       setup,
		oracle:      oracle,
		registrarPK: registrarPK,
		windowTicks: cfg.WindowTicks,
		limit:       cfg.RedemptionLimit,
		notify:      cfg.NotifyStored,
		caps:        FullCapabilities(),
		redemptions: make(map[uuid.UUID]int),
	}
}

// SetCapabilities reconfigures which checks run (corruption model).
func (s *Service) SetCapabilities(caps Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
}

// Redeem resolves a verification code and claimed vote against the stored
// record, performing the checks in order: window, finality, certificate
// chain, ciphertext recomputation. Every attempt on an identifier counts
// against its redemption bound.
func (s *Service) Redeem(code *ballot.VerificationCode, claimedCandidate uint64) (*Reply, error) {
	rec, ok := s.store.ByVID(code.VID)
	if !ok {
		return nil, xerrors.Errorf("%w: unknown identifier", ErrVerificationDenied)
	}

	s.mu.Lock()
	s.redemptions[code.VID]++
	attempts := s.redemptions[code.VID]
	caps := s.caps
	s.mu.Unlock()

	if attempts > s.limit {
		log.Debug("Verifier: identifier %s exceeded its %d redemptions", code.VID, s.limit)
		return nil, xerrors.Errorf("%w: redemption count exceeded", ErrVerificationDenied)
	}

	// (1) The window opens at store time and closes a fixed number of ticks
	// later; comparisons are against the most recently announced tick.
	if caps.WindowCheck {
		now := s.oracle.Current()
		if now < rec.StoreTick || now > rec.StoreTick+s.windowTicks {
			return nil, xerrors.Errorf("%w: verification window closed", ErrVerificationDenied)
		}
	}

	// (2) In the base design the queried record must still be the voter's
	// final one. The notify-stored variant informs the voter out of band as
	// soon as a record is durable and drops this check.
	if caps.FinalCheck && !s.notify {
		if final, ok := s.store.FinalRecord(rec.VoterID); !ok || final.VID != rec.VID {
			return nil, xerrors.Errorf("%w: record superseded", ErrVerificationDenied)
		}
	}

	// (3) Re-verify the stored voter signature and the registration receipt.
	ident, ok := s.creds.Lookup(rec.VoterID)
	if !ok {
		return nil, xerrors.Errorf("%w: no credential for stored voter", ErrVerificationDenied)
	}
	if err := rec.VerifyVoterSignature(ident.PublicKey); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrVerificationDenied, err)
	}
	if err := rec.VerifyReceipt(s.registrarPK); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrVerificationDenied, err)
	}

	// (4) Recompute the ciphertext from the claimed vote and the code's
	// randomness; require byte equality with what is stored.
	if err := RecomputeAndCompare(s.setup, rec.Ballot, claimedCandidate, code.Randomness); err != nil {
		return nil, err
	}

	return &Reply{
		Ballot:       rec.Ballot,
		StoreTick:    rec.StoreTick,
		Receipt:      rec.Receipt,
		SessionToken: rec.SessionToken,
		Counter:      rec.Counter,
	}, nil
}

// RecomputeAndCompare re-encrypts the claimed candidate with the supplied
// randomness and requires byte equality with the stored ciphertext.
func RecomputeAndCompare(setup *election.Setup, b *ballot.Ballot, claimedCandidate uint64, randomness kyber.Scalar) error {
	M, err := setup.CandidatePoint(claimedCandidate)
	if err != nil {
		return xerrors.Errorf("%w: %v", ErrVerificationDenied, err)
	}
	expected := crypto.ElGamalEncryptPointWith(setup.PublicKey(), M, randomness)

	expectedBytes, err := expected.Bytes()
	if err != nil {
		return err
	}
	storedBytes, err := b.Ciphertext.Bytes()
	if err != nil {
		return err
	}
	if !bytes.Equal(expectedBytes, storedBytes) {
		return xerrors.Errorf("%w: recomputed ciphertext does not match stored ciphertext", ErrVerificationDenied)
	}
	return nil
}

// Client is the voter-side half of the read path. It re-performs the
// signature, receipt and recomputation checks on the reply instead of
// trusting the service's word.
type Client struct {
	creds       *identity.Store
	setup       *election.Setup
	registrarPK kyber.Point
}

// NewClient creates a verification client.
func NewClient(creds *identity.Store, setup *election.Setup, registrarPK kyber.Point) *Client {
	return &Client{creds: creds, setup: setup, registrarPK: registrarPK}
}

// Verify redeems the code against the service and independently re-checks
// the returned material for voterID's claimed candidate.
func (c *Client) Verify(svc *Service, voterID uint64, code *ballot.VerificationCode, claimedCandidate uint64) error {
	reply, err := svc.Redeem(code, claimedCandidate)
	if err != nil {
		return err
	}

	ident, ok := c.creds.Lookup(voterID)
	if !ok {
		return xerrors.Errorf("%w: no credential for voter %d", ErrVerificationDenied, voterID)
	}
	msg, err := ballot.VotePayload(reply.Ballot.Ciphertext, reply.SessionToken, reply.Counter)
	if err != nil {
		return err
	}
	if err := crypto.VerifyWithKey(ident.PublicKey, msg, reply.Ballot.Signature.Sig); err != nil {
		return xerrors.Errorf("%w: returned vote signature does not verify: %v", ErrVerificationDenied, err)
	}

	digest, err := reply.Ballot.Digest()
	if err != nil {
		return err
	}
	if err := reply.Receipt.Verify(c.registrarPK, code.VID, digest); err != nil {
		return xerrors.Errorf("%w: %v", ErrVerificationDenied, err)
	}

	return RecomputeAndCompare(c.setup, reply.Ballot, claimedCandidate, code.Randomness)
}
