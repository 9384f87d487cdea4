// Package tally implements the post-close counting pass. The processor never
// trusts the collector's checks: it re-verifies the full certificate chain of
// every stored record and re-derives each voter's counted ballot from the
// stored sequence alone.
package tally

import (
	"bytes"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/clock"
	"veriballot/pkg/concurrency"
	"veriballot/pkg/context"
	"veriballot/pkg/crypto"
	"veriballot/pkg/election"
	"veriballot/pkg/identity"
	"veriballot/pkg/ledger"
	"veriballot/pkg/log"
)

// ErrTallyFault flags a voter whose stored sequence cannot yield exactly one
// countable ballot: no record passes the chain checks, or the final flags
// disagree with the re-derived selection. Faults abort the count; they are
// never silently skipped.
var ErrTallyFault = xerrors.New("tally fault")

// Entry is one counted ballot: the voter it was counted for and the
// ciphertext handed to the decryption trustees. The plaintext never appears
// here.
type Entry struct {
	VoterID    uint64
	Ciphertext *crypto.ElGamalCiphertext
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{Voter:%d}", e.VoterID)
}

// Processor selects the countable ballots after the election closes.
type Processor struct {
	store  *ledger.Store
	creds  *identity.Store
	setup  *election.Setup
	oracle *clock.Oracle

	registrarPK kyber.Point
	collectorPK kyber.Point
}

// NewProcessor creates a tally processor with read-only access to the ledger.
func NewProcessor(store *ledger.Store, creds *identity.Store, setup *election.Setup,
	oracle *clock.Oracle, registrarPK, collectorPK kyber.Point) *Processor {

	return &Processor{
		store:       store,
		creds:       creds,
		setup:       setup,
		oracle:      oracle,
		registrarPK: registrarPK,
		collectorPK: collectorPK,
	}
}

// Tally selects one ballot per voter from the stored sequences. It refuses to
// run before the close signal, recomputes the ledger checkpoint against the
// root taken at close, and then, per voter, re-verifies every record's chain
// and counts the passing record with the greatest sequence number.
func (p *Processor) Tally(ctx *context.OperationContext, closeCheckpoint []byte) ([]*Entry, error) {
	if !p.oracle.Closed() {
		return nil, xerrors.New("tally requested before the election closed")
	}

	root, err := p.store.Checkpoint()
	if err != nil {
		return nil, xerrors.Errorf("failed to recompute ledger checkpoint: %w", err)
	}
	if !bytes.Equal(root, closeCheckpoint) {
		return nil, xerrors.Errorf("%w: ledger checkpoint diverged since close", ErrTallyFault)
	}

	voters := p.store.Voters()
	entries := make([]*Entry, len(voters))

	err = concurrency.ForEach(ctx, voters, func(i int, voterID uint64) error {
		entry, err := p.selectForVoter(voterID)
		if err != nil {
			return err
		}
		entries[i] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("Tally: selected %d ballots from %d stored records", len(entries), p.store.Len())
	return entries, nil
}

// selectForVoter re-derives the countable ballot for one voter. Selection is
// deterministic: the chain-passing record with the greatest sequence number
// wins, and the stored final flags must agree with it.
func (p *Processor) selectForVoter(voterID uint64) (*Entry, error) {
	ident, ok := p.creds.Lookup(voterID)
	if !ok {
		return nil, xerrors.Errorf("%w: voter %d has stored records but no credential", ErrTallyFault, voterID)
	}

	recs := p.store.Records(voterID)
	var selected *ledger.StoredBallotRecord
	finals := 0
	for _, rec := range recs {
		if rec.Final {
			finals++
		}
		if err := rec.VerifyChain(ident.PublicKey, p.registrarPK, p.collectorPK); err != nil {
			log.Debug("Tally: voter %d record seq %d failed its chain: %v", voterID, rec.Seq, err)
			continue
		}
		if selected == nil || rec.Seq > selected.Seq {
			selected = rec
		}
	}

	if selected == nil {
		return nil, xerrors.Errorf("%w: no record of voter %d passes verification", ErrTallyFault, voterID)
	}
	if finals != 1 {
		return nil, xerrors.Errorf("%w: voter %d carries %d final flags", ErrTallyFault, voterID, finals)
	}
	if !selected.Final {
		return nil, xerrors.Errorf("%w: voter %d final flag marks seq %d but selection is seq %d",
			ErrTallyFault, voterID, finalSeq(recs), selected.Seq)
	}

	return &Entry{VoterID: voterID, Ciphertext: selected.Ballot.Ciphertext}, nil
}

func finalSeq(recs []*ledger.StoredBallotRecord) uint64 {
	for _, rec := range recs {
		if rec.Final {
			return rec.Seq
		}
	}
	return 0
}
