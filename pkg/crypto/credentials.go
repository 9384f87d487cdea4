package crypto

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
)

// SignAsymmetricCredential represents an asymmetric key pair used for signing operations.
type SignAsymmetricCredential struct {
	private kyber.Scalar
	public  kyber.Point
}

func NewSignAsymmetricCredential() (*SignAsymmetricCredential, error) {
	private := Suite.Scalar().Pick(RandomStream)
	public := Suite.Point().Mul(private, nil)
	return &SignAsymmetricCredential{private: private, public: public}, nil
}

func (c *SignAsymmetricCredential) PrivateKey() kyber.Scalar { return c.private }
func (c *SignAsymmetricCredential) PublicKey() kyber.Point   { return c.public }

// Sign produces a Schnorr signature over msg under this credential.
func (c *SignAsymmetricCredential) Sign(msg []byte) (*SchnorrSignature, error) {
	return NewSchnorrSignature(c.private, c.public, msg)
}

func (c *SignAsymmetricCredential) String() string {
	return fmt.Sprintf("SignAsymmetricCredential{Pk: %s}", c.public)
}
