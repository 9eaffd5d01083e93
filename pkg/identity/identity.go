// Package identity defines the two system-recognized principal fact
// types (spec.md §6: Jinaga.User, Jinaga.Device), PEM encoding for the
// Ed25519 public keys they carry, and a bearer-token authenticator that
// binds a request to a caller's public key. It is grounded on the
// teacher's pkg/identity (Principal/KeySet/TokenManager), narrowed from
// HELM's multi-tenant claim set (tenant, roles, delegator, scopes) down
// to the single claim the distribution engine actually needs: which
// public key is making the request.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/jinaga/factengine/pkg/fact"
)

// User is the system-recognized principal fact for a human or service
// account (spec.md §6). Its hash over canonical form identifies the
// principal.
type User struct {
	PublicKey string `fact:"field"`
}

func (u *User) FactType() string { return "Jinaga.User" }

// Device is the system-recognized principal fact for a single
// credentialed device belonging to a User (spec.md §6).
type Device struct {
	PublicKey string `fact:"field"`
}

func (d *Device) FactType() string { return "Jinaga.Device" }

const pemBlockType = "PUBLIC KEY"

// EncodePublicKeyPEM renders an Ed25519 public key as a PEM-encoded
// SubjectPublicKeyInfo block, the representation spec.md §6 requires for
// a principal fact's publicKey field.
func EncodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	block := &pem.Block{Type: pemBlockType, Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePublicKeyPEM parses a PEM-encoded Ed25519 public key produced by
// EncodePublicKeyPEM.
func DecodePublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("identity: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: key is not Ed25519")
	}
	return pub, nil
}

// GenerateKeyPair produces a fresh Ed25519 key pair, for tests and
// reference CLI tooling (spec.md names keystores as an out-of-scope
// external collaborator; this is the minimal stand-in the module's own
// tests and cmd/factctl use).
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return pub, priv, nil
}

// AsUser builds the canonical User fact and reference for a PEM-encoded
// public key, for callers constructing a principal's own identity fact
// (e.g. to satisfy a distribution rule's user specification).
func AsUser(publicKeyPEM string) (fact.Record, fact.Reference, error) {
	records, ref, err := fact.Dehydrate(&User{PublicKey: publicKeyPEM})
	if err != nil {
		return fact.Record{}, fact.Reference{}, err
	}
	return records[0], ref, nil
}
