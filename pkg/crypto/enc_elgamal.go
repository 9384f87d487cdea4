package crypto

import (
	"fmt"
	"io"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/proof"
)

// ElGamalCiphertext holds the public components of an ElGamal encryption.
type ElGamalCiphertext struct {
	C1 kyber.Point // Ephemeral part: x * G
	C2 kyber.Point // Blinded message: m + x * Pk
}

// ElGamalEncryptPoint encrypts a kyber.Point using the specified public key Pk.
// The ephemeral scalar x is returned so the encrypting party can later prove
// or re-derive the encryption (individual verification re-runs it byte for byte).
func ElGamalEncryptPoint(Pk, M kyber.Point) (ciphertext *ElGamalCiphertext, x kyber.Scalar) {
	x = Suite.Scalar().Pick(RandomStream)
	return ElGamalEncryptPointWith(Pk, M, x), x
}

// ElGamalEncryptPointWith encrypts M under Pk with caller-supplied randomness.
// Encryption is deterministic in (Pk, M, x), which is what lets a verifier
// recompute a stored ciphertext from a claimed vote and a verification code.
func ElGamalEncryptPointWith(Pk, M kyber.Point, x kyber.Scalar) *ElGamalCiphertext {
	X := Suite.Point().Mul(x, Pk)
	return &ElGamalCiphertext{
		C1: Suite.Point().Mul(x, G),
		C2: Suite.Point().Add(M, X),
	}
}

// Decrypt decrypts an ElGamal ciphertext using the provided private key.
func (ct *ElGamalCiphertext) Decrypt(sk kyber.Scalar) (kyber.Point, kyber.Point, error) {
	if ct == nil || ct.C1 == nil || ct.C2 == nil || sk == nil {
		return nil, nil, fmt.Errorf("crypto: decrypting uninitialized ElGamal ciphertext or private key")
	}

	X := Suite.Point().Mul(sk, ct.C1) // regenerate shared secret
	M := Suite.Point().Sub(ct.C2, X)  // use to un-blind the message

	return M, X, nil
}

// DecryptWithProof decrypts an ElGamal ciphertext and generates a zero-knowledge proof of a correct decryption process.
func (ct *ElGamalCiphertext) DecryptWithProof(Pk kyber.Point, sk kyber.Scalar) (kyber.Point, *ElGamalProof, error) {
	M, X, err := ct.Decrypt(sk)
	if err != nil {
		return nil, nil, fmt.Errorf("decryption failed: %w", err)
	}

	predicate := proof.And(proof.Rep("X", "sk", "C1"), proof.Rep("Pk", "sk", "G"))
	points := map[string]kyber.Point{"X": X, "C1": ct.C1, "Pk": Pk, "G": G}
	secrets := map[string]kyber.Scalar{"sk": sk}
	decProof, err := NewElGamalProof(predicate, points, secrets, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ZKP Proof Generation Failed: %w", err)
	}

	return M, decProof, nil
}

// MultiKeyDecryptWithProof decrypts an ElGamal ciphertext using multiple trustee shares
// and generates a zero-knowledge proof per share. It combines the partial decryptions
// to compute the final decrypted value.
func (ct *ElGamalCiphertext) MultiKeyDecryptWithProof(shares []*DKGShare) (kyber.Point, []*ElGamalProof, error) {
	decProofs := make([]*ElGamalProof, len(shares))

	partialDec := &ElGamalCiphertext{
		C1: ct.C1,
		C2: ct.C2,
	}
	var err error
	for i := 0; i < len(shares); i++ {
		partialDec.C2, decProofs[i], err = partialDec.DecryptWithProof(shares[i].Pk, shares[i].Sk)
		if err != nil {
			return nil, nil, fmt.Errorf("decryption failed at share %d: %w", i, err)
		}
	}

	return partialDec.C2, decProofs, nil
}

// Equal compares two ElGamalCiphertext instances component-wise.
func (ct *ElGamalCiphertext) Equal(ct2 *ElGamalCiphertext) bool {
	return ct.C1.Equal(ct2.C1) && ct.C2.Equal(ct2.C2)
}

// Bytes returns the canonical serialization of the ciphertext. Byte-equality of
// two ciphertexts is defined as equality of these bytes.
func (ct *ElGamalCiphertext) Bytes() ([]byte, error) {
	if ct == nil || ct.C1 == nil || ct.C2 == nil {
		return nil, fmt.Errorf("crypto: serializing uninitialized ElGamal ciphertext")
	}
	b1, err := ct.C1.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b2, err := ct.C2.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(b1, b2...), nil
}

// WriteTo serializes the ciphertext to a writer.
func (ct *ElGamalCiphertext) WriteTo(w io.Writer) (int64, error) {
	if ct.C1 == nil || ct.C2 == nil {
		return 0, fmt.Errorf("crypto: writing uninitialized ElGamal ciphertext")
	}

	n1, err := ct.C1.MarshalTo(w)
	if err != nil {
		return int64(n1), err
	}
	n2, err := ct.C2.MarshalTo(w)
	return int64(n1) + int64(n2), err
}

// String returns a formatted string representation of the ElGamalCiphertext.
func (ct *ElGamalCiphertext) String() string {
	return fmt.Sprintf("C1: %s, C2: %s", ct.C1, ct.C2)
}
