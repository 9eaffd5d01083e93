package fact

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/jinaga/factengine/pkg/engineerr"
)

// Sign produces an Envelope for fact with a single signature from the
// given Ed25519 private key. Grounded on the teacher's
// Ed25519Signer.Sign (pkg/crypto/signer.go), adapted to sign the fact's
// canonical bytes rather than an arbitrary payload.
func Sign(priv ed25519.PrivateKey, r *Record) (Envelope, error) {
	canonical, err := Canonicalize(r)
	if err != nil {
		return Envelope{}, err
	}
	sig := ed25519.Sign(priv, canonical)
	pub := priv.Public().(ed25519.PublicKey)
	return Envelope{
		Fact: *r,
		Signatures: []Signature{{
			PublicKey: hex.EncodeToString(pub),
			Signature: hex.EncodeToString(sig),
		}},
	}, nil
}

// AddSignature appends an additional signature to an existing envelope,
// re-using its fact's canonical bytes.
func AddSignature(env Envelope, priv ed25519.PrivateKey) (Envelope, error) {
	canonical, err := Canonicalize(&env.Fact)
	if err != nil {
		return Envelope{}, err
	}
	sig := ed25519.Sign(priv, canonical)
	pub := priv.Public().(ed25519.PublicKey)
	env.Signatures = append(env.Signatures, Signature{
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(sig),
	})
	return env, nil
}

// Verify returns true iff the fact's stored hash matches its canonical
// form AND every signature on the envelope verifies against that same
// canonical form under its claimed public key.
func Verify(env Envelope) (bool, error) {
	if err := Validate(&env.Fact); err != nil {
		return false, err
	}
	canonical, err := Canonicalize(&env.Fact)
	if err != nil {
		return false, err
	}
	for _, sig := range env.Signatures {
		pubBytes, err := hex.DecodeString(sig.PublicKey)
		if err != nil {
			return false, fmt.Errorf("fact: invalid public key hex: %w", err)
		}
		if len(pubBytes) != ed25519.PublicKeySize {
			return false, fmt.Errorf("fact: invalid public key size %d", len(pubBytes))
		}
		sigBytes, err := hex.DecodeString(sig.Signature)
		if err != nil {
			return false, fmt.Errorf("fact: invalid signature hex: %w", err)
		}
		if !ed25519.Verify(ed25519.PublicKey(pubBytes), canonical, sigBytes) {
			return false, nil
		}
	}
	return true, nil
}

// VerifyOrError is Verify, but returns an *engineerr.InvalidFact instead of
// (false, nil) when verification fails, for callers on a fail-closed path.
func VerifyOrError(env Envelope) error {
	ok, err := Verify(env)
	if err != nil {
		return err
	}
	if !ok {
		return &engineerr.InvalidFact{
			Type:   env.Fact.Type,
			Hash:   env.Fact.Hash,
			Reason: "signature verification failed",
		}
	}
	return nil
}
