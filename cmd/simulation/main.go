package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/collector"
	"veriballot/pkg/concurrency"
	"veriballot/pkg/config"
	"veriballot/pkg/context"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/log"
	"veriballot/pkg/metrics"
	"veriballot/pkg/protocol"
	"veriballot/pkg/registrar"
	"veriballot/pkg/result"
	"veriballot/pkg/tally"
	"veriballot/pkg/verifier"
	"veriballot/pkg/voter"
)

// Simulation orchestrates one full election run: setup, casting with
// revotes, individual verification, close, tally, and decryption.
type Simulation struct {
	config  *config.Config
	metrics *metrics.Recorder

	oracle    *clock.Oracle
	credStore *identity.Store
	issuer    *identity.Issuer
	setup     *election.Setup
	store     *ledger.Store
	collector *collector.Collector
	registrar *registrar.Service
	service   *verifier.Service
	client    *verifier.Client
	processor *tally.Processor

	voters []*voter.Voter
	codes  []*ballot.VerificationCode // latest verification code per voter
}

func main() {
	// 1. Load configuration from flags.
	cfg := config.NewConfig()

	analyzer := metrics.NewAnalyzer()

	for run := uint64(0); run < cfg.Runs; run++ {
		log.Info("----- Starting run %d of %d -----", run+1, cfg.Runs)

		rec := metrics.NewRecorder()

		sim, err := NewSimulation(cfg, rec)
		if err != nil {
			log.Fatalf("Failed to initialize simulation: %v", err)
		}

		if err = sim.metrics.Record("Simulation", metrics.MLogic, func() error {
			return sim.Run()
		}); err != nil {
			log.Fatalf("Failed to run simulation: %v", err)
		}

		if cfg.PrintMetrics {
			rec.PrintTree(os.Stdout, cfg.MaxDepth, cfg.MaxChildren)
		}

		analyzer.Add(rec)
	}

	finalAnalysis := analyzer.Analyze()

	resultsWriter := result.NewWriter(cfg.ResultsPath, cfg.Runs, cfg.Voters)
	if err := resultsWriter.WriteAllResults(finalAnalysis); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	printConsoleSummary(finalAnalysis)
}

func printConsoleSummary(result metrics.AnalysisResult) {
	fmt.Println("\n-------------------------------------------------")
	fmt.Printf("--- Median Phase Times (Per Simulation Run) ---\n")
	fmt.Println("-------------------------------------------------")

	printPhase := func(phase string) {
		if comp, ok := result.Components[phase]; ok {
			if summary, ok := comp.Summaries["WallClock"]; ok {
				fmt.Printf("Median %-18s Time: %s\n", phase, summary.WallClock.P50)
			}
		}
	}

	printPhase("Simulation")
	fmt.Println("-------------------------------------------------")
	for _, phase := range []string{"Voting", "Verification", "Tally", "Decryption"} {
		printPhase(phase)
	}
	fmt.Println("-------------------------------------------------")
}

// NewSimulation creates and initializes all parties required for a run.
func NewSimulation(cfg *config.Config, rec *metrics.Recorder) (*Simulation, error) {
	log.Debug("Initializing crypto parameters and protocol parties")

	crypto.InitCryptoParams(cfg.Seed)

	sim := &Simulation{config: cfg, metrics: rec}
	var err error

	sim.credStore = identity.NewStore()
	sim.issuer, err = identity.NewIssuer(sim.credStore)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, cfg.Candidates)
	for i := range candidates {
		candidates[i] = fmt.Sprintf("Candidate-%d", i)
	}
	sim.setup, err = election.NewSetup(cfg.Trustees, candidates)
	if err != nil {
		return nil, err
	}

	// Issue one credential per voter and place everyone on the roll.
	sim.voters = make([]*voter.Voter, cfg.Voters)
	for i := uint64(0); i < cfg.Voters; i++ {
		cred, ident, err := sim.issuer.Issue(i)
		if err != nil {
			return nil, err
		}
		sim.setup.Register(ident)
		sim.voters[i] = voter.NewVoter(i, cred, sim.setup)
	}
	sim.codes = make([]*ballot.VerificationCode, cfg.Voters)

	sim.oracle = clock.NewOracle()
	sim.store = ledger.NewStore()

	sim.collector, err = collector.NewCollector(cfg, sim.credStore, sim.setup, sim.oracle, sim.store)
	if err != nil {
		return nil, err
	}
	sim.registrar, err = registrar.NewService(sim.collector.PublicKey())
	if err != nil {
		return nil, err
	}
	sim.collector.SetRegistrar(sim.registrar)

	// Corruption toggles map directly onto capabilities.
	colCaps := collector.FullCapabilities()
	colCaps.WeedingCheck = !cfg.CollectorSkipsWeeding
	colCaps.VoteSignatureCheck = !cfg.CollectorSkipsVoteSig
	sim.collector.SetCapabilities(colCaps)

	if cfg.NotifyStored {
		sim.collector.SetStoredNotifier(func(voterID uint64, vid uuid.UUID) {
			log.Debug("Notify: voter %d ballot %s is durable", voterID, vid)
		})
	}

	sim.service = verifier.NewService(cfg, sim.store, sim.credStore, sim.setup,
		sim.oracle, sim.registrar.PublicKey())
	svcCaps := verifier.FullCapabilities()
	svcCaps.WindowCheck = !cfg.VerifierSkipsWindow
	svcCaps.FinalCheck = !cfg.VerifierSkipsFinal
	sim.service.SetCapabilities(svcCaps)

	sim.client = verifier.NewClient(sim.credStore, sim.setup, sim.registrar.PublicKey())

	sim.processor = tally.NewProcessor(sim.store, sim.credStore, sim.setup, sim.oracle,
		sim.registrar.PublicKey(), sim.collector.PublicKey())

	return sim, nil
}

// Run runs one election end to end.
func (s *Simulation) Run() error {
	log.Info("Starting simulation with %d voters, %d revotes each...", s.config.Voters, s.config.Revotes)

	runCtx := context.NewContext(s.config, s.metrics)
	flow := protocol.NewFlow(runCtx, s.oracle, s.collector, s.service, s.client, s.processor, s.store)

	// --- Voting Phase ---
	// Each voter casts an initial ballot and then revotes. Only the last
	// ballot counts; its candidate is deterministic in the voter id so the
	// tally below can be checked by eye.
	if err := s.metrics.Record("Voting", metrics.MLogic, func() error {
		for round := uint64(0); round <= s.config.Revotes; round++ {
			for _, v := range s.voters {
				candidate := (v.ID() + round) % s.config.Candidates
				_, code, err := flow.CastBallot(v, candidate)
				if err != nil {
					return err
				}
				s.codes[v.ID()] = code
			}
			s.oracle.Advance()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed during voting phase: %w", err)
	}

	// --- Verification Phase ---
	// Every voter verifies their latest ballot while the window is open.
	log.Info("--- Starting Verification Phase ---")
	if err := s.metrics.Record("Verification", metrics.MLogic, func() error {
		for _, v := range s.voters {
			claimed := (v.ID() + s.config.Revotes) % s.config.Candidates
			if err := flow.VerifyBallot(v, s.codes[v.ID()], claimed); err != nil {
				return fmt.Errorf("verification failed for voter %d: %w", v.ID(), err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed during verification phase: %w", err)
	}

	// --- Close and Tally ---
	log.Info("--- Closing Election and Tallying ---")
	checkpoint, err := flow.CloseElection()
	if err != nil {
		return fmt.Errorf("failed to close the election: %w", err)
	}

	entries, err := flow.RunTally(checkpoint)
	if err != nil {
		return fmt.Errorf("failed during tallying phase: %w", err)
	}
	log.Info("Tally selected %d ballots from %d stored records", len(entries), s.store.Len())

	// --- Decryption Phase ---
	// The trustees jointly decrypt the selected ciphertexts, each share
	// contributing a partial decryption with a correctness proof.
	if err := s.metrics.Record("Decryption", metrics.MLogic, func() error {
		plaintexts, err := concurrency.Map(runCtx, entries, func(entry *tally.Entry) (uint64, error) {
			M, proofs, err := entry.Ciphertext.MultiKeyDecryptWithProof(s.setup.Shares())
			if err != nil {
				return 0, fmt.Errorf("decryption failed for voter %d: %w", entry.VoterID, err)
			}
			for _, p := range proofs {
				if err := p.Verify(); err != nil {
					return 0, fmt.Errorf("decryption proof failed for voter %d: %w", entry.VoterID, err)
				}
			}
			idx, err := s.setup.CandidateIndex(M)
			if err != nil {
				return 0, fmt.Errorf("plaintext for voter %d: %w", entry.VoterID, err)
			}
			return idx, nil
		})
		if err != nil {
			return err
		}
		counts := make([]uint64, s.config.Candidates)
		for _, idx := range plaintexts {
			counts[idx]++
		}
		for i, n := range counts {
			log.Info("Result: %s received %d votes", s.setup.Candidates()[i], n)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed during decryption phase: %w", err)
	}

	return nil
}
