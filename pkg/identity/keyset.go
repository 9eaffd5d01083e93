package identity

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jinaga/factengine/pkg/fact"
)

// KeySet manages active bearer-token signing keys and verification of past
// ones, supporting rotation without downtime. A bare signing oracle would
// key its rotation history by an arbitrary counter; this one keys it by the
// content hash of the Jinaga.Device fact that attests to each key's public
// half (spec.md §6), so a verified token's "kid" is a fact.Reference the
// distribution engine (C9) can resolve directly against the saved fact
// graph instead of an opaque string meaningful only inside this package.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
	// Current returns the Device fact reference naming the active
	// signing key's public half.
	Current() (fact.Reference, error)
}

type keyEntry struct {
	priv   ed25519.PrivateKey
	device fact.Reference
}

// InMemoryKeySet holds Ed25519 signing keys in memory, keyed by the hash of
// the Device fact attesting to each key's public half. Not durable — a
// reference implementation, since spec.md names keystores as an
// out-of-scope external collaborator.
type InMemoryKeySet struct {
	mu      sync.RWMutex
	current string // fact.Reference.Hash of the active entry
	keys    map[string]keyEntry
}

func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]keyEntry)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a new signing key, wraps its public half in a
// Jinaga.Device fact, and makes that fact's hash the active kid. Prior
// keys stay in the set so tokens already issued keep verifying; the set is
// capped at 10 keys, evicting an arbitrary non-current one past that.
func (ks *InMemoryKeySet) Rotate() error {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("identity: rotate key: %w", err)
	}
	pemStr, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return fmt.Errorf("identity: rotate key: %w", err)
	}
	_, ref, err := fact.Dehydrate(&Device{PublicKey: pemStr})
	if err != nil {
		return fmt.Errorf("identity: rotate key: hash device fact: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.keys[ref.Hash] = keyEntry{priv: priv, device: ref}
	ks.current = ref.Hash

	if len(ks.keys) > 10 {
		for k := range ks.keys {
			if k != ref.Hash {
				delete(ks.keys, k)
				break
			}
		}
	}
	return nil
}

// Current returns the Device fact reference for the active signing key.
func (ks *InMemoryKeySet) Current() (fact.Reference, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	entry, ok := ks.keys[ks.current]
	if !ok {
		return fact.Reference{}, fmt.Errorf("identity: no active signing key")
	}
	return entry.device, nil
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	entry, ok := ks.keys[ks.current]
	ks.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("identity: no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = entry.device.Hash
	return token.SignedString(entry.priv)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("identity: missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		entry, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("identity: key not found: %s", kid)
		}
		return entry.priv.Public(), nil
	}
}
