// Package collector implements the vote collector: per-session
// authentication, ballot validation and weeding, the two-phase registration
// commit, and ordered storage with finality bookkeeping.
package collector

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/config"
	"veriballot/pkg/context"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/log"
	"veriballot/pkg/metrics"
	"veriballot/pkg/registrar"
)

var (
	// ErrAuthenticationFailed covers a bad or missing challenge-response signature.
	ErrAuthenticationFailed = xerrors.New("authentication failed")
	// ErrBallotRejected covers a duplicate ciphertext, a bad vote signature,
	// or an invalid knowledge proof.
	ErrBallotRejected = xerrors.New("ballot rejected")
	// ErrStorageAborted covers a stale acceptance or a missing/invalid receipt.
	ErrStorageAborted = xerrors.New("storage aborted")
)

// Capabilities lists the internal checks this collector performs. A corrupted
// collector is modeled by switching checks off, never by a separate code path.
type Capabilities struct {
	WeedingCheck       bool
	VoteSignatureCheck bool
	ProofCheck         bool
	FreshnessCheck     bool
	ReceiptCheck       bool
}

// FullCapabilities is an honest collector.
func FullCapabilities() Capabilities {
	return Capabilities{
		WeedingCheck:       true,
		VoteSignatureCheck: true,
		ProofCheck:         true,
		FreshnessCheck:     true,
		ReceiptCheck:       true,
	}
}

// StoredNotifier is called after a durable commit in the notify-stored
// variant, standing in for the out-of-band channel to the voter.
type StoredNotifier func(voterID uint64, vid uuid.UUID)

// RegistrationService is the collector's view of the registrar: one
// synchronous counter-signing round trip plus the key receipts verify under.
// The round trip crosses a trust boundary and may stall arbitrarily.
type RegistrationService interface {
	Register(req *registrar.Request) (*registrar.Receipt, error)
	PublicKey() kyber.Point
}

// Collector authenticates voters, validates and stores ballots, and drives
// the registration commit. It is the only writer of the ledger.
type Collector struct {
	mu sync.Mutex

	cred      *crypto.SignAsymmetricCredential
	creds     *identity.Store
	setup     *election.Setup
	oracle    *clock.Oracle
	store     *ledger.Store
	registrar RegistrationService

	caps          Capabilities
	mode          config.ChallengeMode
	freshness     uint64
	requireProof  bool
	proofVerifier crypto.BallotVerifier
	onStored      StoredNotifier

	sessions    map[uuid.UUID]*Session // by token, in-flight only
	inFlight    map[uint64]uuid.UUID   // voter id -> active session token
	lastCounter map[uint64]uint64      // per-voter session counter high-water mark
	accepted    map[string]struct{}    // weeding set over ciphertext digests
}

// NewCollector creates a collector with full capabilities. The registrar is
// attached afterwards because it is keyed to this collector's public key.
func NewCollector(cfg *config.Config, creds *identity.Store, setup *election.Setup,
	oracle *clock.Oracle, store *ledger.Store) (*Collector, error) {

	cred, err := crypto.NewSignAsymmetricCredential()
	if err != nil {
		return nil, xerrors.Errorf("failed to create collector credential: %w", err)
	}
	return &Collector{
		cred:          cred,
		creds:         creds,
		setup:         setup,
		oracle:        oracle,
		store:         store,
		caps:          FullCapabilities(),
		mode:          cfg.Challenge,
		freshness:     cfg.FreshnessTicks,
		requireProof:  cfg.RequireProof,
		proofVerifier: crypto.SchnorrBallotVerifier{},
		sessions:      make(map[uuid.UUID]*Session),
		inFlight:      make(map[uint64]uuid.UUID),
		lastCounter:   make(map[uint64]uint64),
		accepted:      make(map[string]struct{}),
	}, nil
}

// PublicKey returns the key the collector signs registration requests with.
func (c *Collector) PublicKey() kyber.Point {
	return c.cred.PublicKey()
}

// SetRegistrar attaches the registration service.
func (c *Collector) SetRegistrar(r RegistrationService) {
	c.registrar = r
}

// SetCapabilities reconfigures which internal checks run (corruption model).
func (c *Collector) SetCapabilities(caps Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = caps
}

// SetStoredNotifier enables the notify-stored variant's out-of-band signal.
func (c *Collector) SetStoredNotifier(fn StoredNotifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStored = fn
}

// Challenge opens a session for a voter: Idle -> ChallengeIssued. A voter's
// timeline is strictly sequential, so a new session is refused while another
// attempt by the same voter is in flight.
func (c *Collector) Challenge(voterID uint64) (*AuthChallenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.setup.Eligible(voterID) {
		return nil, xerrors.Errorf("%w: voter %d is not on the roll", ErrAuthenticationFailed, voterID)
	}
	if _, ok := c.creds.Lookup(voterID); !ok {
		return nil, xerrors.Errorf("%w: voter %d has no issued credential", ErrAuthenticationFailed, voterID)
	}
	if token, busy := c.inFlight[voterID]; busy {
		return nil, xerrors.Errorf("%w: voter %d already has session %s in flight",
			ErrAuthenticationFailed, voterID, token)
	}

	sess := &Session{
		Token:      uuid.New(),
		VoterID:    voterID,
		IssuedTick: c.oracle.Current(),
		State:      SessionChallengeIssued,
	}
	if c.mode == config.ChallengeCounter {
		sess.Counter = c.lastCounter[voterID] + 1
	}
	c.sessions[sess.Token] = sess
	c.inFlight[voterID] = sess.Token

	log.Trace("Collector: issued %s", sess)
	return &AuthChallenge{
		VoterID: voterID,
		Token:   sess.Token,
		Counter: sess.Counter,
		Tick:    sess.IssuedTick,
	}, nil
}

// Authenticate verifies the challenge response: ChallengeIssued -> Authenticated.
// A failed response abandons the attempt; the voter must request a new challenge.
func (c *Collector) Authenticate(resp *AuthResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[resp.Token]
	if !ok || sess.VoterID != resp.VoterID || sess.State != SessionChallengeIssued {
		return xerrors.Errorf("%w: no open challenge for this response", ErrAuthenticationFailed)
	}

	ident, ok := c.creds.Lookup(resp.VoterID)
	if !ok {
		c.abandonLocked(sess)
		return xerrors.Errorf("%w: unknown voter %d", ErrAuthenticationFailed, resp.VoterID)
	}

	msg, err := ballot.AuthPayload(sess.VoterID, sess.Token, sess.Counter, sess.IssuedTick)
	if err != nil {
		c.abandonLocked(sess)
		return err
	}
	if err := crypto.VerifyWithKey(ident.PublicKey, msg, resp.Signature); err != nil {
		c.abandonLocked(sess)
		log.Debug("Collector: auth signature for voter %d failed: %v", resp.VoterID, err)
		return xerrors.Errorf("%w: bad challenge-response signature", ErrAuthenticationFailed)
	}

	if c.mode == config.ChallengeCounter {
		// The counter must strictly increase across the voter's sessions.
		if sess.Counter <= c.lastCounter[sess.VoterID] {
			c.abandonLocked(sess)
			return xerrors.Errorf("%w: session counter did not increase", ErrAuthenticationFailed)
		}
		c.lastCounter[sess.VoterID] = sess.Counter
	}

	sess.State = SessionAuthenticated
	return nil
}

// Submit validates a ballot for an authenticated session and, on acceptance,
// runs the two-phase registration commit: Authenticated -> Accepted ->
// (receipt + freshness) -> stored. Any failed check drops the submission with
// nothing stored and no confirmation.
func (c *Collector) Submit(ctx *context.OperationContext, sub *Submission) (*Confirmation, error) {
	c.mu.Lock()

	sess, ok := c.sessions[sub.Token]
	if !ok || sess.VoterID != sub.VoterID || sess.State != SessionAuthenticated {
		c.mu.Unlock()
		return nil, xerrors.Errorf("%w: no authenticated session for this submission", ErrBallotRejected)
	}

	digest, err := sub.Ballot.Digest()
	if err != nil {
		c.abandonLocked(sess)
		c.mu.Unlock()
		return nil, err
	}
	weedKey := hex.EncodeToString(digest)

	// Weeding: a ciphertext is accepted for storage by at most one session,
	// across all voters.
	if c.caps.WeedingCheck {
		if _, dup := c.accepted[weedKey]; dup {
			c.abandonLocked(sess)
			c.mu.Unlock()
			log.Debug("Collector: duplicate ciphertext from voter %d weeded", sub.VoterID)
			return nil, xerrors.Errorf("%w: duplicate ciphertext", ErrBallotRejected)
		}
	}

	if c.caps.VoteSignatureCheck {
		ident, _ := c.creds.Lookup(sub.VoterID)
		msg, err := ballot.VotePayload(sub.Ballot.Ciphertext, sess.Token, sess.Counter)
		if err != nil {
			c.abandonLocked(sess)
			c.mu.Unlock()
			return nil, err
		}
		if err := crypto.VerifyWithKey(ident.PublicKey, msg, sub.Ballot.Signature.Sig); err != nil {
			c.abandonLocked(sess)
			c.mu.Unlock()
			log.Debug("Collector: vote signature for voter %d failed: %v", sub.VoterID, err)
			return nil, xerrors.Errorf("%w: bad vote signature", ErrBallotRejected)
		}
	}

	if c.requireProof && c.caps.ProofCheck {
		if err := c.proofVerifier.Verify(sub.Ballot.Ciphertext, sub.Ballot.Proof); err != nil {
			c.abandonLocked(sess)
			c.mu.Unlock()
			return nil, xerrors.Errorf("%w: %v", ErrBallotRejected, err)
		}
	}

	// Accepted. The ciphertext is wed from this point on, even if the commit
	// below aborts: acceptance, not storage, is what the anti-collision
	// invariant counts.
	sess.State = SessionAccepted
	sess.AcceptTick = c.oracle.Current()
	c.accepted[weedKey] = struct{}{}
	vid := uuid.New()
	c.mu.Unlock()

	// Phase one: the registration round trip, synchronous per ballot.
	reqMsg, err := registrar.RequestPayload(vid, digest)
	if err != nil {
		c.abandon(sess)
		return nil, err
	}
	reqSig, err := c.cred.Sign(reqMsg)
	if err != nil {
		c.abandon(sess)
		return nil, err
	}

	var receipt *registrar.Receipt
	err = ctx.Recorder.Record("RegistrarRoundTrip", metrics.MRegistrarRoundTrip, func() error {
		var rerr error
		receipt, rerr = c.registrar.Register(&registrar.Request{
			VID:          vid,
			BallotDigest: digest,
			CollectorSig: reqSig,
		})
		return rerr
	})
	if err != nil {
		c.abandon(sess)
		return nil, xerrors.Errorf("%w: registration round trip failed: %v", ErrStorageAborted, err)
	}

	// Phase two: commit only while the acceptance is still fresh and the
	// receipt verifies against the exact pair it was requested for.
	if c.caps.FreshnessCheck {
		if now := c.oracle.Current(); now-sess.AcceptTick > c.freshness {
			c.abandon(sess)
			return nil, xerrors.Errorf("%w: acceptance at tick %d is stale at tick %d",
				ErrStorageAborted, sess.AcceptTick, now)
		}
	}
	if c.caps.ReceiptCheck {
		if err := receipt.Verify(c.registrar.PublicKey(), vid, digest); err != nil {
			c.abandon(sess)
			return nil, xerrors.Errorf("%w: %v", ErrStorageAborted, err)
		}
	}

	rec := &ledger.StoredBallotRecord{
		VoterID:      sub.VoterID,
		VID:          vid,
		SessionToken: sess.Token,
		Counter:      sess.Counter,
		Ballot:       sub.Ballot,
		StoreTick:    c.oracle.Current(),
		Receipt:      receipt,
		RequestSig:   reqSig,
	}
	err = ctx.Recorder.Record("LedgerAppend", metrics.MLedgerWrite, func() error {
		return c.store.Append(rec)
	})
	if err != nil {
		c.abandon(sess)
		return nil, xerrors.Errorf("%w: %v", ErrStorageAborted, err)
	}

	c.mu.Lock()
	c.clearLocked(sess)
	notify := c.onStored
	c.mu.Unlock()

	if notify != nil {
		notify(sub.VoterID, vid)
	}

	return &Confirmation{SessionToken: sess.Token, VID: vid, Receipt: receipt}, nil
}

// Abandon drops an in-flight session without storing anything, as when a
// voter walks away or a round trip is lost.
func (c *Collector) Abandon(token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[token]; ok {
		c.abandonLocked(sess)
	}
}

func (c *Collector) abandon(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked(sess)
}

func (c *Collector) abandonLocked(sess *Session) {
	log.Trace("Collector: abandoned %s", sess)
	c.clearLocked(sess)
}

func (c *Collector) clearLocked(sess *Session) {
	delete(c.sessions, sess.Token)
	if c.inFlight[sess.VoterID] == sess.Token {
		delete(c.inFlight, sess.VoterID)
	}
}
