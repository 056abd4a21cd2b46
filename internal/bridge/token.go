package bridge

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// tokenIssuer marks tokens minted for the bridge, so API tokens signed
	// with the same secret are not accepted here.
	tokenIssuer = "hivelink-bridge"

	// roleBridge is the only role the gateway admits.
	roleBridge = "bridge"

	defaultTokenTTL = time.Hour
)

// Claims are carried by a bridge token. Subject is the node id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// tokenParser checks algorithm, issuer and the presence of exp.
var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(tokenIssuer),
	jwt.WithExpirationRequired(),
	jwt.WithIssuedAt(),
)

// IssueToken signs an HS256 bridge token for nodeID. A non-positive ttl
// means one hour.
func IssueToken(nodeID, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: roleBridge,
	}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing bridge token for %s: %w", nodeID, err)
	}
	return signed, nil
}

// ParseToken verifies a bridge token and returns its claims. Every
// rejection wraps ErrTokenInvalid.
func ParseToken(raw, secret string) (*Claims, error) {
	var claims Claims
	keyFn := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	if _, err := tokenParser.ParseWithClaims(raw, &claims, keyFn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	switch {
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	case claims.Role != roleBridge:
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}
	return &claims, nil
}
