package ledger

import (
	"bytes"
	"fmt"

	"github.com/cbergoon/merkletree"
	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"

	"veriballot/pkg/ballot"
	"veriballot/pkg/crypto"
	"veriballot/pkg/registrar"
	"veriballot/pkg/serialization"
)

// StoredBallotRecord is one entry of a voter's append-only sequence. Records
// are never deleted; a newer record for the same voter clears the older
// record's final flag.
type StoredBallotRecord struct {
	VoterID      uint64
	Seq          uint64 // per-voter acceptance order, assigned by the store
	VID          uuid.UUID
	SessionToken uuid.UUID
	Counter      uint64 // per-voter session counter (zero in token mode)
	Ballot       *ballot.Ballot
	StoreTick    uint64
	Receipt      *registrar.Receipt
	RequestSig   *crypto.SchnorrSignature // the collector's original registration-request signature
	Final        bool
}

// VerifyVoterSignature re-checks the stored vote signature under the voter's
// registered key, not the key embedded in the record.
func (r *StoredBallotRecord) VerifyVoterSignature(voterPK kyber.Point) error {
	msg, err := ballot.VotePayload(r.Ballot.Ciphertext, r.SessionToken, r.Counter)
	if err != nil {
		return err
	}
	if err := crypto.VerifyWithKey(voterPK, msg, r.Ballot.Signature.Sig); err != nil {
		return xerrors.Errorf("stored vote signature does not verify: %w", err)
	}
	return nil
}

// VerifyReceipt re-checks the registration receipt against this exact record.
func (r *StoredBallotRecord) VerifyReceipt(registrarPK kyber.Point) error {
	digest, err := r.Ballot.Digest()
	if err != nil {
		return err
	}
	if err := r.Receipt.Verify(registrarPK, r.VID, digest); err != nil {
		return xerrors.Errorf("stored receipt does not verify: %w", err)
	}
	return nil
}

// VerifyRequestSignature re-checks the collector's registration-request
// signature that the registrar originally accepted.
func (r *StoredBallotRecord) VerifyRequestSignature(collectorPK kyber.Point) error {
	digest, err := r.Ballot.Digest()
	if err != nil {
		return err
	}
	msg, err := registrar.RequestPayload(r.VID, digest)
	if err != nil {
		return err
	}
	if err := crypto.VerifyWithKey(collectorPK, msg, r.RequestSig.Sig); err != nil {
		return xerrors.Errorf("stored registration-request signature does not verify: %w", err)
	}
	return nil
}

// VerifyChain re-performs the full certificate chain for the record: voter
// signature, registration receipt, and the collector's request signature.
// Every downstream reader runs this independently of whatever the collector
// claims to have checked.
func (r *StoredBallotRecord) VerifyChain(voterPK, registrarPK, collectorPK kyber.Point) error {
	if err := r.VerifyVoterSignature(voterPK); err != nil {
		return err
	}
	if err := r.VerifyReceipt(registrarPK); err != nil {
		return err
	}
	return r.VerifyRequestSignature(collectorPK)
}

func (r *StoredBallotRecord) String() string {
	return fmt.Sprintf("StoredBallotRecord{Voter:%d Seq:%d VID:%s Tick:%d Final:%t}",
		r.VoterID, r.Seq, r.VID, r.StoreTick, r.Final)
}

// --- Merkle checkpoint content ---

// CalculateHash implements merkletree.Content over the record's immutable
// fields. The final flag is deliberately excluded: superseding flips it, and
// a checkpoint must only ever grow by appended leaves.
func (r *StoredBallotRecord) CalculateHash() ([]byte, error) {
	digest, err := r.Ballot.Digest()
	if err != nil {
		return nil, err
	}
	s := serialization.NewSerializer()
	s.WriteUint64(r.VoterID)
	s.WriteUint64(r.Seq)
	s.WriteUUID(r.VID)
	s.WriteUUID(r.SessionToken)
	s.WriteUint64(r.Counter)
	s.WriteUint64(r.StoreTick)
	s.WriteByteSlice(digest)
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	sum := sha3.Sum256(b)
	return sum[:], nil
}

// Equals implements merkletree.Content.
func (r *StoredBallotRecord) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(*StoredBallotRecord)
	if !ok {
		return false, xerrors.New("content is not a StoredBallotRecord")
	}
	return r.VoterID == o.VoterID && r.Seq == o.Seq && bytes.Equal(r.VID[:], o.VID[:]), nil
}
