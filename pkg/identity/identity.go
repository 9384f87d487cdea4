// Package identity implements the identity issuer and the credential store.
// The issuer hands each eligible identity a signing keypair and a certificate
// binding the identity to its public key; exactly one certificate is ever
// issued per identity.
package identity

import (
	"sync"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"veriballot/pkg/crypto"
	"veriballot/pkg/serialization"
)

// Identity is the public view of an issued credential.
type Identity struct {
	ID          uint64
	PublicKey   kyber.Point
	Certificate *crypto.SchnorrSignature
}

// certificatePayload is the byte string the issuer signs.
func certificatePayload(id uint64, pk kyber.Point) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUint64(id)
	s.WriteKyber(pk)
	s.Write([]byte("cert"))
	return s.Bytes()
}

// VerifyCertificate checks the issuer's signature binding ID to PublicKey.
func (i *Identity) VerifyCertificate(issuerPK kyber.Point) error {
	msg, err := certificatePayload(i.ID, i.PublicKey)
	if err != nil {
		return err
	}
	if !i.Certificate.Pk.Equal(issuerPK) {
		return xerrors.New("certificate was not signed by the known issuer")
	}
	return i.Certificate.Verify(msg)
}

// Issuer issues signing keypairs and certificates.
type Issuer struct {
	cred  *crypto.SignAsymmetricCredential
	store *Store
}

// NewIssuer creates an issuer publishing into the given store.
func NewIssuer(store *Store) (*Issuer, error) {
	cred, err := crypto.NewSignAsymmetricCredential()
	if err != nil {
		return nil, xerrors.Errorf("failed to create issuer credential: %w", err)
	}
	return &Issuer{cred: cred, store: store}, nil
}

// PublicKey returns the issuer's certificate-signing key.
func (is *Issuer) PublicKey() kyber.Point {
	return is.cred.PublicKey()
}

// Issue creates a fresh signing keypair and certificate for id, publishes the
// public half to the store, and returns the private credential to the caller.
// A second issuance for the same id fails.
func (is *Issuer) Issue(id uint64) (*crypto.SignAsymmetricCredential, *Identity, error) {
	cred, err := crypto.NewSignAsymmetricCredential()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to create credential for %d: %w", id, err)
	}

	msg, err := certificatePayload(id, cred.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	cert, err := is.cred.Sign(msg)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to sign certificate for %d: %w", id, err)
	}

	ident := &Identity{ID: id, PublicKey: cred.PublicKey(), Certificate: cert}
	if err := is.store.add(ident); err != nil {
		return nil, nil, err
	}
	return cred, ident, nil
}

// Store is the credential store collaborators use to look up public keys and
// certificates by identity.
type Store struct {
	mu   sync.RWMutex
	byID map[uint64]*Identity
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{byID: make(map[uint64]*Identity)}
}

func (s *Store) add(ident *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ident.ID]; ok {
		return xerrors.Errorf("identity %d already has a certificate", ident.ID)
	}
	s.byID[ident.ID] = ident
	return nil
}

// Lookup returns the identity record for id, if issued.
func (s *Store) Lookup(id uint64) (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[id]
	return ident, ok
}
