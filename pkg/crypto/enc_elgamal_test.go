package crypto

import (
	"bytes"
	"testing"

	"go.dedis.ch/kyber/v3"
)

func TestElGamal(t *testing.T) {
	t.Run("ElGamalEncryptPoint", func(t *testing.T) {
		InitCryptoParams("veriballot") // Reset the random stream for this subtest

		sk := Suite.Scalar().Pick(RandomStream)
		pk := Suite.Point().Mul(sk, G)
		m := Suite.Point().Pick(RandomStream)

		ciphertext, x := ElGamalEncryptPoint(pk, m)
		if !ciphertext.C1.Equal(Suite.Point().Mul(x, G)) {
			t.Errorf("invalid C1 value")
		}
		recovered, _, err := ciphertext.Decrypt(sk)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !recovered.Equal(m) {
			t.Errorf("expected %v, got %v", m, recovered)
		}
	})

	t.Run("ElGamalEncryptPointWith_Deterministic", func(t *testing.T) {
		InitCryptoParams("veriballot")

		pk := Suite.Point().Pick(RandomStream)
		m := Suite.Point().Pick(RandomStream)

		ciphertext, x := ElGamalEncryptPoint(pk, m)
		recomputed := ElGamalEncryptPointWith(pk, m, x)

		b1, err := ciphertext.Bytes()
		if err != nil {
			t.Fatalf("Bytes() error = %v", err)
		}
		b2, err := recomputed.Bytes()
		if err != nil {
			t.Fatalf("Bytes() error = %v", err)
		}
		if !bytes.Equal(b1, b2) {
			t.Errorf("re-encryption with the same randomness is not byte-identical")
		}

		other := ElGamalEncryptPointWith(pk, Suite.Point().Pick(RandomStream), x)
		b3, _ := other.Bytes()
		if bytes.Equal(b1, b3) {
			t.Errorf("different plaintexts must not produce identical bytes")
		}
	})

	t.Run("ElGamalCiphertext_Decrypt", func(t *testing.T) {
		InitCryptoParams("veriballot")

		sk := Suite.Scalar().Pick(RandomStream)
		Pk := Suite.Point().Mul(sk, G)
		M := Suite.Point().Pick(RandomStream)
		x := Suite.Scalar().Pick(RandomStream)

		ciphertext := &ElGamalCiphertext{
			C1: Suite.Point().Mul(x, G),
			C2: Suite.Point().Add(M, Suite.Point().Mul(x, Pk)),
		}

		tests := []struct {
			name     string
			cipher   *ElGamalCiphertext
			privKey  kyber.Scalar
			expected kyber.Point
			wantErr  bool
		}{
			{"valid", ciphertext, sk, M, false},
			{"nil key", ciphertext, nil, nil, true},
			{"nil ciphertext", nil, sk, nil, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, _, err := tt.cipher.Decrypt(tt.privKey)
				if (err != nil) != tt.wantErr {
					t.Errorf("Decrypt() error = %v, wantErr %v", err, tt.wantErr)
					return
				}
				if !tt.wantErr && !result.Equal(tt.expected) {
					t.Errorf("expected %v, got %v", tt.expected, result)
				}
			})
		}
	})

	t.Run("ElGamalCiphertext_DecryptWithProof", func(t *testing.T) {
		InitCryptoParams("veriballot")

		privateKey := Suite.Scalar().Pick(RandomStream)
		publicKey := Suite.Point().Mul(privateKey, G)
		plaintext := Suite.Point().Pick(RandomStream)

		ciphertext, _ := ElGamalEncryptPoint(publicKey, plaintext)

		t.Run("valid", func(t *testing.T) {
			decryptedPlaintext, decProof, err := ciphertext.DecryptWithProof(publicKey, privateKey)
			if err != nil {
				t.Fatalf("DecryptWithProof() error = %v", err)
			}
			if !decryptedPlaintext.Equal(plaintext) {
				t.Errorf("decrypted plaintext does not match original. Got %v, want %v", decryptedPlaintext, plaintext)
			}
			if err := decProof.Verify(); err != nil {
				t.Errorf("proof verification failed: %v", err)
			}
		})
	})

	t.Run("ElGamalCiphertext_MultiKeyDecryptWithProof", func(t *testing.T) {
		InitCryptoParams("veriballot")

		shares, publicKey := NewDKG(2)
		M := Suite.Point().Pick(RandomStream)

		ciphertext, _ := ElGamalEncryptPoint(publicKey, M)

		t.Run("valid", func(t *testing.T) {
			result, proofs, err := ciphertext.MultiKeyDecryptWithProof(shares)
			if err != nil {
				t.Fatalf("MultiKeyDecryptWithProof() error = %v", err)
			}
			for i, p := range proofs {
				if err := p.Verify(); err != nil {
					t.Errorf("proof %d verification failed: %v", i, err)
				}
			}
			if !result.Equal(M) {
				t.Errorf("expected %v, got %v", M, result)
			}
		})
	})

	t.Run("ElGamalCiphertext_Equal", func(t *testing.T) {
		InitCryptoParams("veriballot")

		c1 := Suite.Point().Pick(RandomStream)
		c2 := Suite.Point().Pick(RandomStream)

		tests := []struct {
			name     string
			cipher1  *ElGamalCiphertext
			cipher2  *ElGamalCiphertext
			expected bool
		}{
			{"equal", &ElGamalCiphertext{C1: c1, C2: c2}, &ElGamalCiphertext{C1: c1, C2: c2}, true},
			{"different", &ElGamalCiphertext{C1: c1, C2: c2}, &ElGamalCiphertext{C1: c2, C2: c1}, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if result := tt.cipher1.Equal(tt.cipher2); result != tt.expected {
					t.Errorf("expected %v, got %v", tt.expected, result)
				}
			})
		}
	})

	t.Run("ElGamalCiphertext_WriteTo", func(t *testing.T) {
		InitCryptoParams("veriballot")

		ciphertext := &ElGamalCiphertext{
			C1: Suite.Point().Pick(RandomStream),
			C2: Suite.Point().Pick(RandomStream),
		}

		var buf bytes.Buffer
		n, err := ciphertext.WriteTo(&buf)
		if err != nil {
			t.Fatalf("WriteTo() error = %v", err)
		}
		if n <= 0 {
			t.Errorf("expected written bytes > 0, got %d", n)
		}
		b, err := ciphertext.Bytes()
		if err != nil {
			t.Fatalf("Bytes() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), b) {
			t.Errorf("WriteTo and Bytes disagree on the canonical serialization")
		}
	})
}
