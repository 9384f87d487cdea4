// Package protocol orchestrates the end-to-end voting flows: casting a ballot
// through a full session, redeeming individual verification, and running the
// post-close tally. Each flow is instrumented as one measurement tree.
package protocol

import (
	"golang.org/x/xerrors"

	"veriballot/pkg/ballot"
	"veriballot/pkg/clock"
	"veriballot/pkg/collector"
	"veriballot/pkg/context"
	"veriballot/pkg/ledger"
	"veriballot/pkg/log"
	"veriballot/pkg/metrics"
	"veriballot/pkg/tally"
	"veriballot/pkg/verifier"
	"veriballot/pkg/voter"
)

// Flow wires the protocol parties together for one simulation run.
type Flow struct {
	ctx       *context.OperationContext
	oracle    *clock.Oracle
	collector *collector.Collector
	service   *verifier.Service
	client    *verifier.Client
	processor *tally.Processor
	store     *ledger.Store
}

// NewFlow creates a flow over already-constructed parties.
func NewFlow(ctx *context.OperationContext, oracle *clock.Oracle, c *collector.Collector,
	svc *verifier.Service, client *verifier.Client, proc *tally.Processor, store *ledger.Store) *Flow {

	return &Flow{
		ctx:       ctx,
		oracle:    oracle,
		collector: c,
		service:   svc,
		client:    client,
		processor: proc,
		store:     store,
	}
}

// CastBallot runs one complete casting session for a voter: challenge,
// authentication, ballot construction, submission with its registration
// commit, and derivation of the verification code. Any failure leaves
// nothing stored for this attempt.
func (f *Flow) CastBallot(v *voter.Voter, candidate uint64) (*collector.Confirmation, *ballot.VerificationCode, error) {
	var conf *collector.Confirmation
	var code *ballot.VerificationCode

	err := f.ctx.Recorder.Record("CastBallot", metrics.MLogic, func() error {
		ch, err := f.collector.Challenge(v.ID())
		if err != nil {
			return err
		}

		resp, err := v.Respond(ch)
		if err != nil {
			f.collector.Abandon(ch.Token)
			return err
		}
		if err := f.collector.Authenticate(resp); err != nil {
			return err
		}

		b, err := v.BuildBallot(ch, candidate, f.ctx.Config.RequireProof)
		if err != nil {
			f.collector.Abandon(ch.Token)
			return err
		}

		conf, err = f.collector.Submit(f.ctx, &collector.Submission{
			VoterID: v.ID(),
			Token:   ch.Token,
			Ballot:  b,
		})
		if err != nil {
			v.Forget(ch.Token)
			return err
		}

		code, err = v.DeriveCode(conf)
		return err
	})
	if err != nil {
		return nil, nil, xerrors.Errorf("casting failed for voter %d: %w", v.ID(), err)
	}

	log.Trace("Protocol: voter %d stored ballot %s", v.ID(), conf.VID)
	return conf, code, nil
}

// VerifyBallot redeems a verification code through the client, which
// re-checks the returned record against the claimed candidate.
func (f *Flow) VerifyBallot(v *voter.Voter, code *ballot.VerificationCode, claimedCandidate uint64) error {
	return f.ctx.Recorder.Record("VerifyBallot", metrics.MLedgerRead, func() error {
		return f.client.Verify(f.service, v.ID(), code, claimedCandidate)
	})
}

// CloseElection announces the close signal and takes the ledger checkpoint
// the tally will be held against.
func (f *Flow) CloseElection() ([]byte, error) {
	f.oracle.Close()

	var root []byte
	err := f.ctx.Recorder.Record("CloseCheckpoint", metrics.MLedgerRead, func() error {
		var cerr error
		root, cerr = f.store.Checkpoint()
		return cerr
	})
	if err != nil {
		return nil, err
	}
	log.Info("Protocol: close checkpoint %x", root[:8])
	return root, nil
}

// RunTally re-verifies the whole ledger and selects one ballot per voter.
func (f *Flow) RunTally(closeCheckpoint []byte) ([]*tally.Entry, error) {
	var entries []*tally.Entry
	err := f.ctx.Recorder.Record("Tally", metrics.MLogic, func() error {
		var terr error
		entries, terr = f.processor.Tally(f.ctx, closeCheckpoint)
		return terr
	})
	return entries, err
}
