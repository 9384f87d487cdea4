package collector

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/config"
	"veriballot/pkg/context"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/metrics"
	"veriballot/pkg/registrar"
)

type testEnv struct {
	cfg    *config.Config
	ctx    *context.OperationContext
	oracle *clock.Oracle
	store  *ledger.Store
	creds  *identity.Store
	setup  *election.Setup
	col    *Collector
	reg    *registrar.Service

	voterCreds map[uint64]*crypto.SignAsymmetricCredential
}

func newTestEnv(t *testing.T, voters uint64, mutate func(*config.Config)) *testEnv {
	t.Helper()
	crypto.InitCryptoParams("veriballot")

	cfg := &config.Config{
		Voters:          voters,
		Trustees:        2,
		Candidates:      2,
		WindowTicks:     10,
		FreshnessTicks:  2,
		RedemptionLimit: 3,
		Challenge:       config.ChallengeToken,
		Cores:           1,
	}
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		cfg:        cfg,
		oracle:     clock.NewOracle(),
		store:      ledger.NewStore(),
		creds:      identity.NewStore(),
		voterCreds: make(map[uint64]*crypto.SignAsymmetricCredential),
	}
	env.ctx = context.NewContext(cfg, metrics.NewRecorder())

	issuer, err := identity.NewIssuer(env.creds)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	env.setup, err = election.NewSetup(cfg.Trustees, []string{"Candidate-0", "Candidate-1"})
	if err != nil {
		t.Fatalf("NewSetup() error = %v", err)
	}
	for i := uint64(0); i < voters; i++ {
		cred, ident, err := issuer.Issue(i)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		env.setup.Register(ident)
		env.voterCreds[i] = cred
	}

	env.col, err = NewCollector(cfg, env.creds, env.setup, env.oracle, env.store)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	env.reg, err = registrar.NewService(env.col.PublicKey())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.col.SetRegistrar(env.reg)
	return env
}

// respond signs the challenge the way a voter's device would.
func (e *testEnv) respond(t *testing.T, ch *AuthChallenge) *AuthResponse {
	t.Helper()
	msg, err := ballot.AuthPayload(ch.VoterID, ch.Token, ch.Counter, ch.Tick)
	if err != nil {
		t.Fatalf("AuthPayload() error = %v", err)
	}
	sig, err := e.voterCreds[ch.VoterID].Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return &AuthResponse{VoterID: ch.VoterID, Token: ch.Token, Signature: sig.Sig}
}

// buildBallot encrypts the candidate and signs the vote payload for the session.
func (e *testEnv) buildBallot(t *testing.T, ch *AuthChallenge, candidate uint64) *ballot.Ballot {
	t.Helper()
	M, err := e.setup.CandidatePoint(candidate)
	if err != nil {
		t.Fatalf("CandidatePoint() error = %v", err)
	}
	ct, x := crypto.ElGamalEncryptPoint(e.setup.PublicKey(), M)
	msg, err := ballot.VotePayload(ct, ch.Token, ch.Counter)
	if err != nil {
		t.Fatalf("VotePayload() error = %v", err)
	}
	sig, err := e.voterCreds[ch.VoterID].Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	b := &ballot.Ballot{Ciphertext: ct, Signature: sig}
	if e.cfg.RequireProof {
		b.Proof, err = crypto.SchnorrBallotProver{}.Prove(ct, x)
		if err != nil {
			t.Fatalf("Prove() error = %v", err)
		}
	}
	return b
}

// cast runs one complete session for a voter and returns the confirmation.
func (e *testEnv) cast(t *testing.T, voterID, candidate uint64) *Confirmation {
	t.Helper()
	ch, err := e.col.Challenge(voterID)
	if err != nil {
		t.Fatalf("Challenge() error = %v", err)
	}
	if err := e.col.Authenticate(e.respond(t, ch)); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	conf, err := e.col.Submit(e.ctx, &Submission{
		VoterID: voterID,
		Token:   ch.Token,
		Ballot:  e.buildBallot(t, ch, candidate),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return conf
}

// stallingRegistrar delegates to the real service but advances the clock
// before answering, standing in for a registration round trip that stalls.
type stallingRegistrar struct {
	inner  *registrar.Service
	oracle *clock.Oracle
	ticks  uint64
}

func (r *stallingRegistrar) Register(req *registrar.Request) (*registrar.Receipt, error) {
	r.oracle.AdvanceBy(r.ticks)
	return r.inner.Register(req)
}

func (r *stallingRegistrar) PublicKey() kyber.Point {
	return r.inner.PublicKey()
}

func TestCollector(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		conf := env.cast(t, 0, 1)

		rec, ok := env.store.ByVID(conf.VID)
		if !ok {
			t.Fatalf("confirmed ballot not found in the ledger")
		}
		if !rec.Final || rec.Seq != 0 {
			t.Errorf("stored record = %s, want seq 0 and final", rec)
		}
		ident, _ := env.creds.Lookup(0)
		if err := rec.VerifyChain(ident.PublicKey, env.reg.PublicKey(), env.col.PublicKey()); err != nil {
			t.Errorf("stored record fails its certificate chain: %v", err)
		}
	})

	t.Run("RevoteSupersedes", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		first := env.cast(t, 0, 0)
		second := env.cast(t, 0, 1)

		r1, _ := env.store.ByVID(first.VID)
		r2, _ := env.store.ByVID(second.VID)
		if r1.Final {
			t.Errorf("superseded record still flagged final")
		}
		if !r2.Final || r2.Seq != 1 {
			t.Errorf("revote record = %s, want seq 1 and final", r2)
		}
	})

	t.Run("IneligibleVoter", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		if _, err := env.col.Challenge(42); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("Challenge() error = %v, want ErrAuthenticationFailed", err)
		}
	})

	t.Run("OneSessionInFlight", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if _, err := env.col.Challenge(0); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("second Challenge() error = %v, want ErrAuthenticationFailed", err)
		}
		// Abandoning the open session frees the voter for a new attempt.
		env.col.Abandon(ch.Token)
		if _, err := env.col.Challenge(0); err != nil {
			t.Errorf("Challenge() after abandon error = %v", err)
		}
	})

	t.Run("BadAuthSignatureAbandons", func(t *testing.T) {
		env := newTestEnv(t, 2, nil)
		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		// Sign with the wrong voter's credential.
		msg, _ := ballot.AuthPayload(ch.VoterID, ch.Token, ch.Counter, ch.Tick)
		sig, _ := env.voterCreds[1].Sign(msg)
		err = env.col.Authenticate(&AuthResponse{VoterID: 0, Token: ch.Token, Signature: sig.Sig})
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Authenticate() error = %v, want ErrAuthenticationFailed", err)
		}
		// The attempt is gone; the session token cannot be reused.
		_, err = env.col.Submit(env.ctx, &Submission{VoterID: 0, Token: ch.Token, Ballot: env.buildBallot(t, ch, 0)})
		if !errors.Is(err, ErrBallotRejected) {
			t.Errorf("Submit() after failed auth error = %v, want ErrBallotRejected", err)
		}
	})

	t.Run("SubmitWithoutAuthentication", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		_, err = env.col.Submit(env.ctx, &Submission{VoterID: 0, Token: ch.Token, Ballot: env.buildBallot(t, ch, 0)})
		if !errors.Is(err, ErrBallotRejected) {
			t.Errorf("Submit() error = %v, want ErrBallotRejected", err)
		}
	})

	t.Run("DuplicateCiphertextWeeded", func(t *testing.T) {
		env := newTestEnv(t, 2, nil)
		conf := env.cast(t, 0, 1)
		stored, _ := env.store.ByVID(conf.VID)

		// A second voter replays the stored ciphertext under their own valid
		// session and signature. Weeding is global, so it is rejected.
		ch, err := env.col.Challenge(1)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		msg, _ := ballot.VotePayload(stored.Ballot.Ciphertext, ch.Token, ch.Counter)
		sig, _ := env.voterCreds[1].Sign(msg)
		_, err = env.col.Submit(env.ctx, &Submission{
			VoterID: 1,
			Token:   ch.Token,
			Ballot:  &ballot.Ballot{Ciphertext: stored.Ballot.Ciphertext, Signature: sig},
		})
		if !errors.Is(err, ErrBallotRejected) {
			t.Errorf("Submit() error = %v, want ErrBallotRejected", err)
		}
	})

	t.Run("CorruptedCollectorSkipsWeeding", func(t *testing.T) {
		env := newTestEnv(t, 2, nil)
		caps := FullCapabilities()
		caps.WeedingCheck = false
		env.col.SetCapabilities(caps)

		conf := env.cast(t, 0, 1)
		stored, _ := env.store.ByVID(conf.VID)

		ch, err := env.col.Challenge(1)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		msg, _ := ballot.VotePayload(stored.Ballot.Ciphertext, ch.Token, ch.Counter)
		sig, _ := env.voterCreds[1].Sign(msg)
		if _, err = env.col.Submit(env.ctx, &Submission{
			VoterID: 1,
			Token:   ch.Token,
			Ballot:  &ballot.Ballot{Ciphertext: stored.Ballot.Ciphertext, Signature: sig},
		}); err != nil {
			t.Errorf("Submit() with weeding off error = %v", err)
		}
	})

	t.Run("StaleAcceptanceAborts", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.col.SetRegistrar(&stallingRegistrar{
			inner:  env.reg,
			oracle: env.oracle,
			ticks:  env.cfg.FreshnessTicks + 1,
		})

		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		_, err = env.col.Submit(env.ctx, &Submission{
			VoterID: 0,
			Token:   ch.Token,
			Ballot:  env.buildBallot(t, ch, 0),
		})
		if !errors.Is(err, ErrStorageAborted) {
			t.Fatalf("Submit() error = %v, want ErrStorageAborted", err)
		}
		if got := env.store.Len(); got != 0 {
			t.Errorf("ledger holds %d records after an aborted commit, want 0", got)
		}
	})

	t.Run("FreshRoundTripCommits", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		// A stall within the freshness bound still commits.
		env.col.SetRegistrar(&stallingRegistrar{
			inner:  env.reg,
			oracle: env.oracle,
			ticks:  env.cfg.FreshnessTicks,
		})
		env.cast(t, 0, 0)
		if got := env.store.Len(); got != 1 {
			t.Errorf("ledger holds %d records, want 1", got)
		}
	})

	t.Run("BadVoteSignature", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		b := env.buildBallot(t, ch, 0)
		b.Signature.Sig[0] ^= 0xff
		_, err = env.col.Submit(env.ctx, &Submission{VoterID: 0, Token: ch.Token, Ballot: b})
		if !errors.Is(err, ErrBallotRejected) {
			t.Errorf("Submit() error = %v, want ErrBallotRejected", err)
		}
	})

	t.Run("CounterModeStrictlyIncreases", func(t *testing.T) {
		env := newTestEnv(t, 1, func(cfg *config.Config) {
			cfg.Challenge = config.ChallengeCounter
		})

		var counters []uint64
		for i := 0; i < 3; i++ {
			ch, err := env.col.Challenge(0)
			if err != nil {
				t.Fatalf("Challenge() error = %v", err)
			}
			counters = append(counters, ch.Counter)
			if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if _, err := env.col.Submit(env.ctx, &Submission{
				VoterID: 0,
				Token:   ch.Token,
				Ballot:  env.buildBallot(t, ch, 0),
			}); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
		for i, c := range counters {
			if c != uint64(i)+1 {
				t.Errorf("counters = %v, want strictly increasing from 1", counters)
				break
			}
		}
	})

	t.Run("RequireProof", func(t *testing.T) {
		env := newTestEnv(t, 1, func(cfg *config.Config) {
			cfg.RequireProof = true
		})

		// Without a proof the ballot is rejected.
		ch, err := env.col.Challenge(0)
		if err != nil {
			t.Fatalf("Challenge() error = %v", err)
		}
		if err := env.col.Authenticate(env.respond(t, ch)); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		b := env.buildBallot(t, ch, 0)
		b.Proof = nil
		if _, err = env.col.Submit(env.ctx, &Submission{VoterID: 0, Token: ch.Token, Ballot: b}); !errors.Is(err, ErrBallotRejected) {
			t.Fatalf("Submit() without proof error = %v, want ErrBallotRejected", err)
		}

		// With the proof attached the cast goes through.
		env.cast(t, 0, 0)
	})

	t.Run("NotifyStored", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		var notified []string
		env.col.SetStoredNotifier(func(voterID uint64, vid uuid.UUID) {
			notified = append(notified, fmt.Sprintf("%d:%s", voterID, vid))
		})
		conf := env.cast(t, 0, 0)
		if len(notified) != 1 || notified[0] != fmt.Sprintf("0:%s", conf.VID) {
			t.Errorf("notifier calls = %v, want one for the stored ballot", notified)
		}
	})
}
