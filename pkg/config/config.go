package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"veriballot/pkg/log"
)

// ChallengeMode selects how the collector challenges a voter at session start.
type ChallengeMode string

const (
	// ChallengeToken issues a fresh single-use session token per attempt.
	ChallengeToken ChallengeMode = "token"
	// ChallengeCounter binds each session to a strictly increasing per-voter
	// counter and a fresh tick, so a corrupted collector cannot replay or
	// reorder a voter's own sessions.
	ChallengeCounter ChallengeMode = "counter"
)

// Config holds all parameters for a simulation instance.
type Config struct {
	Voters     uint64
	Revotes    uint64 // additional ballots cast per voter after the first
	Trustees   uint64
	Candidates uint64

	// Protocol timing, in logical ticks of the time oracle.
	WindowTicks    uint64 // verification window length after storage
	FreshnessTicks uint64 // max age of an acceptance when the commit lands

	RedemptionLimit int           // verification redemptions allowed per identifier
	Challenge       ChallengeMode // "token" or "counter"
	NotifyStored    bool          // extended variant: drop the must-be-final check
	RequireProof    bool          // ballots must carry a knowledge proof

	// Corruption toggles. A corrupted role is the same code with checks
	// switched off, never a separate code path.
	CollectorSkipsWeeding bool
	CollectorSkipsVoteSig bool
	VerifierSkipsWindow   bool
	VerifierSkipsFinal    bool

	Runs        uint64
	Cores       int
	Seed        string
	ResultsPath string

	LogLevel     log.LogLevel
	PrintMetrics bool
	MaxDepth     int
	MaxChildren  int
}

// NewConfig creates a new Config by parsing command-line flags.
func NewConfig() *Config {
	log.Debug("Parsing command-line flags...")
	voters := flag.Uint64("voters", 100, "Number of voters.")
	revotes := flag.Uint64("revotes", 1, "Number of additional ballots each voter casts after the first.")
	trustees := flag.Uint64("trustees", 4, "Number of election authority trustees.")
	candidates := flag.Uint64("candidates", 2, "Number of candidates on the ballot.")
	windowTicks := flag.Uint64("window-ticks", 10, "Verification window length in clock ticks.")
	freshnessTicks := flag.Uint64("freshness-ticks", 2, "Max ticks between acceptance and storage commit.")
	redemptions := flag.Int("redemptions", 3, "Verification redemptions allowed per identifier.")
	challenge := flag.String("challenge", "token", "Session challenge mode (token, counter).")
	notifyStored := flag.Bool("notify-stored", false, "Notify the voter on storage and drop the final-record check.")
	requireProof := flag.Bool("require-proof", false, "Require a knowledge proof on every ballot.")
	skipsWeeding := flag.Bool("collector-skips-weeding", false, "Corrupted collector: accept duplicate ciphertexts.")
	skipsVoteSig := flag.Bool("collector-skips-vote-sig", false, "Corrupted collector: skip the vote signature check.")
	skipsWindow := flag.Bool("verifier-skips-window", false, "Corrupted verifier: answer outside the verification window.")
	skipsFinal := flag.Bool("verifier-skips-final", false, "Corrupted verifier: answer for superseded records.")
	runs := flag.Uint64("runs", 1, "Number of simulation runs.")
	cores := flag.Int("cores", 1, "Worker count for bulk re-verification.")
	seed := flag.String("seed", "veriballot", "Seed value for all randomly generated values.")
	resultsPath := flag.String("results", "output/results/", "Path for storing simulation results.")
	logLevel := flag.String("log-level", "info", "Set log level (trace, debug, info, error).")
	printMetrics := flag.Bool("print-metrics", false, "Whether to print the measurement tree after each run.")
	maxDepth := flag.Int("max-depth", 3, "Max depth of the printed measurement tree (-1 for all).")
	maxChildren := flag.Int("max-children", 25, "Max children per node of the printed measurement tree (-1 for all).")

	flag.Parse()

	setLogLevel(*logLevel)

	config := &Config{
		Voters:          *voters,
		Revotes:         *revotes,
		Trustees:        *trustees,
		Candidates:      *candidates,
		WindowTicks:     *windowTicks,
		FreshnessTicks:  *freshnessTicks,
		RedemptionLimit: *redemptions,
		Challenge:       ChallengeMode(*challenge),
		NotifyStored:    *notifyStored,
		RequireProof:    *requireProof,

		CollectorSkipsWeeding: *skipsWeeding,
		CollectorSkipsVoteSig: *skipsVoteSig,
		VerifierSkipsWindow:   *skipsWindow,
		VerifierSkipsFinal:    *skipsFinal,

		Runs:            *runs,
		Cores:           *cores,
		Seed:            *seed,
		ResultsPath:     cleanAndCreateDirectory(*resultsPath),
		PrintMetrics:    *printMetrics,
		MaxDepth:        *maxDepth,
		MaxChildren:     *maxChildren,
	}
	if config.Challenge != ChallengeToken && config.Challenge != ChallengeCounter {
		log.Fatalf("Unknown challenge mode %q (want token or counter)", *challenge)
	}
	log.Debug("Config: %s", config)
	return config
}

// String returns a string representation of the Config instance
func (c *Config) String() string {
	return fmt.Sprintf("Config{Voters:%d Revotes:%d Trustees:%d Candidates:%d "+
		"Window:%d Freshness:%d Redemptions:%d Challenge:%s NotifyStored:%t "+
		"RequireProof:%t Runs:%d Cores:%d Seeded:%s}",
		c.Voters, c.Revotes, c.Trustees, c.Candidates, c.WindowTicks,
		c.FreshnessTicks, c.RedemptionLimit, c.Challenge, c.NotifyStored,
		c.RequireProof, c.Runs, c.Cores, c.Seed)
}

// --- Config Helpers ---

// cleanAndCreateDirectory ensures the specified directory exists by creating it if necessary.
// It returns the filepath.
func cleanAndCreateDirectory(path string) string {
	path = filepath.Clean(path)
	if err := os.MkdirAll(path, 0755); err != nil {
		log.Fatalf("Failed to create directory %s: %v", path, err)
	}
	return path
}

// setLogLevel sets the global log level to one of "trace", "debug", "info", or "error".
// Defaults to "info" on invalid input.
func setLogLevel(logLevel string) {
	switch logLevel {
	case "trace":
		log.SetLevel(log.LevelTrace)
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "info":
		log.SetLevel(log.LevelInfo)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		log.Info("Unknown log level '%s', defaulting to 'info'", logLevel)
		log.SetLevel(log.LevelInfo)
	}
}
