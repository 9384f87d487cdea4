package crypto

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/proof"
	"golang.org/x/xerrors"
)

// ElGamalProof represents a proof associated with the decryption of an ElGamal ciphertext.
type ElGamalProof struct {
	predicate proof.Predicate
	points    map[string]kyber.Point
	Proof     []byte
}

// NewElGamalProof generates a non-interactive zero-knowledge proof for a given predicate, secrets, and choice mapping.
func NewElGamalProof(predicate proof.Predicate, points map[string]kyber.Point, secrets map[string]kyber.Scalar, choice map[proof.Predicate]int) (*ElGamalProof, error) {
	prover := predicate.Prover(Suite, secrets, points, choice)
	p, err := proof.HashProve(Suite, "", prover) // Make non-interactive
	if err != nil {
		return nil, fmt.Errorf("ZKP Proof Generation Failed: %w", err)
	}

	return &ElGamalProof{
		predicate: predicate,
		points:    points, // Store the original points for verification.
		Proof:     p,
	}, nil
}

// Verify validates the zero-knowledge proof for the associated ElGamal ciphertext decryption.
func (p *ElGamalProof) Verify() error {
	verifier := p.predicate.Verifier(Suite, p.points)
	if err := proof.HashVerify(Suite, "", verifier, p.Proof); err != nil {
		return fmt.Errorf("ZKP Verification Failed: %w", err)
	}
	return nil
}

// --- Ballot knowledge proofs ---

// BallotProver produces a proof of knowledge of the randomness used to encrypt
// a ballot. The proof system is swappable without touching protocol logic.
type BallotProver interface {
	Prove(ct *ElGamalCiphertext, x kyber.Scalar) ([]byte, error)
}

// BallotVerifier checks a proof produced by a matching BallotProver.
type BallotVerifier interface {
	Verify(ct *ElGamalCiphertext, proofBytes []byte) error
}

const ballotProofContext = "ballot-pok"

// SchnorrBallotProver proves knowledge of the ephemeral scalar x with C1 = x*G,
// using the suite's hash-based non-interactive sigma protocol.
type SchnorrBallotProver struct{}

func (SchnorrBallotProver) Prove(ct *ElGamalCiphertext, x kyber.Scalar) ([]byte, error) {
	pred := proof.Rep("C1", "x", "G")
	secrets := map[string]kyber.Scalar{"x": x}
	public := map[string]kyber.Point{"C1": ct.C1, "G": G}
	prover := pred.Prover(Suite, secrets, public, nil)
	proofBytes, err := proof.HashProve(Suite, ballotProofContext, prover)
	if err != nil {
		return nil, xerrors.Errorf("ballot proof generation failed: %w", err)
	}
	return proofBytes, nil
}

// SchnorrBallotVerifier is the verifying counterpart of SchnorrBallotProver.
type SchnorrBallotVerifier struct{}

func (SchnorrBallotVerifier) Verify(ct *ElGamalCiphertext, proofBytes []byte) error {
	pred := proof.Rep("C1", "x", "G")
	public := map[string]kyber.Point{"C1": ct.C1, "G": G}
	verifier := pred.Verifier(Suite, public)
	if err := proof.HashVerify(Suite, ballotProofContext, verifier, proofBytes); err != nil {
		return xerrors.Errorf("ballot proof verification failed: %w", err)
	}
	return nil
}
