package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jinaga/factengine/pkg/fact"
)

// Claims is the bearer token's claim set: standard registered claims plus
// the one fact-engine-specific claim the distribution engine (C9) and
// network manager (C12) need — which public key is requesting the feed.
// Grounded on the teacher's IdentityClaims, narrowed from HELM's
// tenant/roles/delegator/scopes fields down to this single claim.
type Claims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"publicKey"`
}

// TokenManager issues and authenticates bearer tokens that bind a
// request to a caller's public key. Grounded on the teacher's
// TokenManager (GenerateToken/ValidateToken), renamed to
// IssueToken/Authenticate.
type TokenManager struct {
	keySet KeySet
	issuer string
}

func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks, issuer: "factengine"}
}

// IssueToken signs a bearer token asserting publicKeyPEM as the caller's
// identity, valid for duration.
func (tm *TokenManager) IssueToken(publicKeyPEM string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicKeyPEM,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    tm.issuer,
		},
		PublicKey: publicKeyPEM,
	}
	return tm.keySet.Sign(context.Background(), claims)
}

// Authenticate parses and validates tokenString, returning the caller's
// PEM-encoded public key on success.
func (tm *TokenManager) Authenticate(tokenString string) (string, error) {
	publicKey, _, err := tm.AuthenticateDevice(tokenString)
	return publicKey, err
}

// AuthenticateDevice parses and validates tokenString like Authenticate,
// additionally returning the Jinaga.Device fact reference for the signing
// key named in the token's "kid" header (see KeySet). Callers that need to
// resolve the issuing device against the saved fact graph — e.g. the
// distribution engine checking a device predecessor against a
// specification — use this instead of re-deriving the device fact
// themselves.
func (tm *TokenManager) AuthenticateDevice(tokenString string) (string, fact.Reference, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keySet.KeyFunc())
	if err != nil {
		return "", fact.Reference{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fact.Reference{}, jwt.ErrTokenSignatureInvalid
	}
	if claims.PublicKey == "" {
		return "", fact.Reference{}, fmt.Errorf("identity: token carries no public key claim")
	}
	kid, _ := token.Header["kid"].(string)
	device := fact.Reference{Type: "Jinaga.Device", Hash: kid}
	return claims.PublicKey, device, nil
}
