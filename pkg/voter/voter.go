// Package voter implements the voter-side device: answering session
// challenges, building ballots, and keeping the encryption randomness needed
// to derive verification codes later.
package voter

import (
	"sync"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/ballot"
	"veriballot/pkg/collector"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
)

// Voter holds the private credential issued to one identity and the
// per-session encryption randomness the device retains between casting and
// verifying.
type Voter struct {
	id     uint64
	cred   *crypto.SignAsymmetricCredential
	setup  *election.Setup
	prover crypto.BallotProver

	mu         sync.Mutex
	randomness map[uuid.UUID]kyber.Scalar // session token -> ephemeral scalar
}

// NewVoter wraps an issued credential into a casting device.
func NewVoter(id uint64, cred *crypto.SignAsymmetricCredential, setup *election.Setup) *Voter {
	return &Voter{
		id:         id,
		cred:       cred,
		setup:      setup,
		prover:     crypto.SchnorrBallotProver{},
		randomness: make(map[uuid.UUID]kyber.Scalar),
	}
}

// ID returns the voter's identity.
func (v *Voter) ID() uint64 { return v.id }

// Respond answers an authentication challenge by signing it under the auth
// domain tag.
func (v *Voter) Respond(ch *collector.AuthChallenge) (*collector.AuthResponse, error) {
	msg, err := ballot.AuthPayload(ch.VoterID, ch.Token, ch.Counter, ch.Tick)
	if err != nil {
		return nil, err
	}
	sig, err := v.cred.Sign(msg)
	if err != nil {
		return nil, xerrors.Errorf("failed to sign challenge: %w", err)
	}
	return &collector.AuthResponse{VoterID: v.id, Token: ch.Token, Signature: sig.Sig}, nil
}

// BuildBallot encrypts the chosen candidate for the session and signs the
// result under the vote domain tag. The ephemeral scalar stays on the device,
// keyed by the session token, until a confirmation redeems it.
func (v *Voter) BuildBallot(ch *collector.AuthChallenge, candidate uint64, withProof bool) (*ballot.Ballot, error) {
	M, err := v.setup.CandidatePoint(candidate)
	if err != nil {
		return nil, err
	}
	ct, x := crypto.ElGamalEncryptPoint(v.setup.PublicKey(), M)

	msg, err := ballot.VotePayload(ct, ch.Token, ch.Counter)
	if err != nil {
		return nil, err
	}
	sig, err := v.cred.Sign(msg)
	if err != nil {
		return nil, xerrors.Errorf("failed to sign ballot: %w", err)
	}

	b := &ballot.Ballot{Ciphertext: ct, Signature: sig}
	if withProof {
		b.Proof, err = v.prover.Prove(ct, x)
		if err != nil {
			return nil, err
		}
	}

	v.mu.Lock()
	v.randomness[ch.Token] = x
	v.mu.Unlock()

	return b, nil
}

// DeriveCode turns a storage confirmation into a verification code by pairing
// the confirmed identifier with the randomness retained for its session. The
// randomness is consumed; a session yields at most one code.
func (v *Voter) DeriveCode(conf *collector.Confirmation) (*ballot.VerificationCode, error) {
	v.mu.Lock()
	x, ok := v.randomness[conf.SessionToken]
	if ok {
		delete(v.randomness, conf.SessionToken)
	}
	v.mu.Unlock()

	if !ok {
		return nil, xerrors.Errorf("no retained randomness for session %s", conf.SessionToken)
	}
	return &ballot.VerificationCode{VID: conf.VID, Randomness: x}, nil
}

// Forget drops the randomness retained for a session, as when an attempt is
// abandoned before confirmation.
func (v *Voter) Forget(token uuid.UUID) {
	v.mu.Lock()
	delete(v.randomness, token)
	v.mu.Unlock()
}
