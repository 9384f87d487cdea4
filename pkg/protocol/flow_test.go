package protocol

import (
	"testing"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/collector"
	"veriballot/pkg/config"
	"veriballot/pkg/context"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/metrics"
	"veriballot/pkg/registrar"
	"veriballot/pkg/tally"
	"veriballot/pkg/verifier"
	"veriballot/pkg/voter"
)

type testElection struct {
	cfg    *config.Config
	ctx    *context.OperationContext
	flow   *Flow
	setup  *election.Setup
	store  *ledger.Store
	voters []*voter.Voter
}

func newTestElection(t *testing.T, voters uint64, mutate func(*config.Config)) *testElection {
	t.Helper()
	crypto.InitCryptoParams("veriballot")

	cfg := &config.Config{
		Voters:          voters,
		Trustees:        3,
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

	e := &testElection{cfg: cfg}
	e.ctx = context.NewContext(cfg, metrics.NewRecorder())

	creds := identity.NewStore()
	issuer, err := identity.NewIssuer(creds)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	e.setup, err = election.NewSetup(cfg.Trustees, []string{"Candidate-0", "Candidate-1"})
	if err != nil {
		t.Fatalf("NewSetup() error = %v", err)
	}
	for i := uint64(0); i < voters; i++ {
		cred, ident, err := issuer.Issue(i)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		e.setup.Register(ident)
		e.voters = append(e.voters, voter.NewVoter(i, cred, e.setup))
	}

	oracle := clock.NewOracle()
	e.store = ledger.NewStore()

	col, err := collector.NewCollector(cfg, creds, e.setup, oracle, e.store)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	reg, err := registrar.NewService(col.PublicKey())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	col.SetRegistrar(reg)

	svc := verifier.NewService(cfg, e.store, creds, e.setup, oracle, reg.PublicKey())
	client := verifier.NewClient(creds, e.setup, reg.PublicKey())
	proc := tally.NewProcessor(e.store, creds, e.setup, oracle, reg.PublicKey(), col.PublicKey())

	e.flow = NewFlow(e.ctx, oracle, col, svc, client, proc, e.store)
	return e
}

func TestFlowEndToEnd(t *testing.T) {
	e := newTestElection(t, 3, nil)

	// Every voter casts, voter 0 revotes. Final votes: 1, 0, 1.
	finalVotes := map[uint64]uint64{0: 1, 1: 0, 2: 1}
	codes := make(map[uint64]*ballot.VerificationCode)

	if _, code, err := e.flow.CastBallot(e.voters[0], 0); err != nil {
		t.Fatalf("CastBallot() error = %v", err)
	} else {
		codes[0] = code
	}
	for id, candidate := range finalVotes {
		_, code, err := e.flow.CastBallot(e.voters[id], candidate)
		if err != nil {
			t.Fatalf("CastBallot() error = %v", err)
		}
		codes[id] = code
	}

	// Everyone verifies while the window is open.
	for id, candidate := range finalVotes {
		if err := e.flow.VerifyBallot(e.voters[id], codes[id], candidate); err != nil {
			t.Errorf("VerifyBallot() for voter %d error = %v", id, err)
		}
	}

	checkpoint, err := e.flow.CloseElection()
	if err != nil {
		t.Fatalf("CloseElection() error = %v", err)
	}
	entries, err := e.flow.RunTally(checkpoint)
	if err != nil {
		t.Fatalf("RunTally() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("RunTally() returned %d entries, want 3", len(entries))
	}

	// Decrypt with the trustee shares and compare against the final votes.
	counts := make([]uint64, e.cfg.Candidates)
	for _, entry := range entries {
		M, proofs, err := entry.Ciphertext.MultiKeyDecryptWithProof(e.setup.Shares())
		if err != nil {
			t.Fatalf("MultiKeyDecryptWithProof() error = %v", err)
		}
		for _, p := range proofs {
			if err := p.Verify(); err != nil {
				t.Errorf("decryption proof failed: %v", err)
			}
		}
		idx, err := e.setup.CandidateIndex(M)
		if err != nil {
			t.Fatalf("CandidateIndex() error = %v", err)
		}
		if idx != finalVotes[entry.VoterID] {
			t.Errorf("voter %d counted for candidate %d, want %d", entry.VoterID, idx, finalVotes[entry.VoterID])
		}
		counts[idx]++
	}
	if counts[0] != 1 || counts[1] != 2 {
		t.Errorf("counts = %v, want [1 2]", counts)
	}
}

func TestFlowWithProofsAndCounterMode(t *testing.T) {
	e := newTestElection(t, 2, func(cfg *config.Config) {
		cfg.RequireProof = true
		cfg.Challenge = config.ChallengeCounter
	})

	for _, v := range e.voters {
		if _, _, err := e.flow.CastBallot(v, v.ID()%e.cfg.Candidates); err != nil {
			t.Fatalf("CastBallot() error = %v", err)
		}
	}

	checkpoint, err := e.flow.CloseElection()
	if err != nil {
		t.Fatalf("CloseElection() error = %v", err)
	}
	entries, err := e.flow.RunTally(checkpoint)
	if err != nil {
		t.Fatalf("RunTally() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("RunTally() returned %d entries, want 2", len(entries))
	}
}

func TestFlowCastFailureStoresNothing(t *testing.T) {
	e := newTestElection(t, 1, nil)

	// A device holding a credential for an id that is not on the roll.
	cred, err := crypto.NewSignAsymmetricCredential()
	if err != nil {
		t.Fatalf("NewSignAsymmetricCredential() error = %v", err)
	}
	stranger := voter.NewVoter(99, cred, e.setup)

	if _, _, err := e.flow.CastBallot(stranger, 0); err == nil {
		t.Fatalf("expected casting by an unregistered voter to fail")
	}
	if got := e.store.Len(); got != 0 {
		t.Errorf("ledger holds %d records after a failed cast, want 0", got)
	}
}
