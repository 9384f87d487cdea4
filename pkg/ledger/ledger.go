// Package ledger implements the ordered, append-only per-voter ballot store.
// Only the vote collector appends; the verification service and the tally
// processor hold read-only views. Superseding a ballot flips a flag, never
// removes a record.
package ledger

import (
	"sort"
	"sync"

	"github.com/cbergoon/merkletree"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"veriballot/pkg/log"
)

// Store is the stored-ballot sequence, keyed by voter id.
type Store struct {
	mu        sync.RWMutex
	byVoter   map[uint64][]*StoredBallotRecord
	byVID     map[uuid.UUID]*StoredBallotRecord
	appendLog []*StoredBallotRecord // global append order, drives checkpoints
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byVoter: make(map[uint64][]*StoredBallotRecord),
		byVID:   make(map[uuid.UUID]*StoredBallotRecord),
	}
}

// Append commits a record for its voter. The store assigns the next per-voter
// sequence number, marks the record final, and clears the final flag on the
// voter's previous record. Append order is acceptance order; there is no way
// to insert a record anywhere else.
func (s *Store) Append(rec *StoredBallotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byVID[rec.VID]; dup {
		return xerrors.Errorf("identifier %s already stored", rec.VID)
	}

	seq := s.byVoter[rec.VoterID]
	rec.Seq = uint64(len(seq))
	rec.Final = true
	if len(seq) > 0 {
		seq[len(seq)-1].Final = false
	}

	s.byVoter[rec.VoterID] = append(seq, rec)
	s.byVID[rec.VID] = rec
	s.appendLog = append(s.appendLog, rec)

	log.Trace("Ledger: stored %s", rec)
	return nil
}

// Records returns the voter's stored sequence in acceptance order.
func (s *Store) Records(voterID uint64) []*StoredBallotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byVoter[voterID]
	out := make([]*StoredBallotRecord, len(recs))
	copy(out, recs)
	return out
}

// ByVID looks a record up by its identifier.
func (s *Store) ByVID(vid uuid.UUID) (*StoredBallotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byVID[vid]
	return rec, ok
}

// FinalRecord re-derives the voter's final record from the stored sequence:
// the record with the greatest sequence number. Re-deriving is deterministic
// and idempotent; ties cannot occur because sequence numbers are unique per
// voter (store ticks are advisory only).
func (s *Store) FinalRecord(voterID uint64) (*StoredBallotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byVoter[voterID]
	if len(recs) == 0 {
		return nil, false
	}
	return recs[len(recs)-1], true
}

// Voters returns all voter ids with at least one stored record, sorted.
func (s *Store) Voters() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.byVoter))
	for id := range s.byVoter {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.appendLog)
}

// Checkpoint computes a merkle root over every stored record in global append
// order. The root covers only immutable fields, so it can be recomputed at
// tally time and compared against a root taken at close.
func (s *Store) Checkpoint() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.appendLog) == 0 {
		return nil, xerrors.New("cannot checkpoint an empty ledger")
	}
	contents := make([]merkletree.Content, len(s.appendLog))
	for i, rec := range s.appendLog {
		contents[i] = rec
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, xerrors.Errorf("failed to build checkpoint tree: %w", err)
	}
	return tree.MerkleRoot(), nil
}
