package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentialToken indicates the credential is malformed or its signature failed.
	ErrInvalidCredentialToken = errors.New("invalid credential")
	// ErrExpiredCredentialToken indicates the credential has expired.
	ErrExpiredCredentialToken = errors.New("credential expired")
)

// CredentialClaims carry the principal identity inside the signed credential.
type CredentialClaims struct {
	PrincipalID   string `json:"pid"`
	PrincipalKind string `json:"kind"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs and parses the opaque credential returned on login.
type CredentialIssuer struct {
	keyProvider KeyProvider
	kid         string
	issuer      string
	ttl         time.Duration
}

// NewCredentialIssuer constructs an issuer bound to a signing key id.
func NewCredentialIssuer(keyProvider KeyProvider, kid, issuer string, ttl time.Duration) (*CredentialIssuer, error) {
	if keyProvider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CredentialIssuer{
		keyProvider: keyProvider,
		kid:         kid,
		issuer:      issuer,
		ttl:         ttl,
	}, nil
}

// Issue signs a credential for the principal.
func (i *CredentialIssuer) Issue(principalID, kind string, at time.Time) (string, error) {
	if principalID == "" {
		return "", fmt.Errorf("principal id is required")
	}

	now := at.UTC()
	claims := CredentialClaims{
		PrincipalID:   principalID,
		PrincipalKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid

	signingKey, err := i.keyProvider.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("get signing key: %w", err)
	}

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}

	return signed, nil
}

// Parse validates a credential and returns its claims.
func (i *CredentialIssuer) Parse(token string) (*CredentialClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("credential is required")
	}

	claims := &CredentialClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found")
		}

		return i.keyProvider.GetVerificationKey(kid)
	}, jwt.WithIssuer(i.issuer), jwt.WithAudience(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredentialToken
		}
		return nil, ErrInvalidCredentialToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidCredentialToken
	}
	if strings.TrimSpace(claims.PrincipalID) == "" {
		return nil, ErrInvalidCredentialToken
	}

	return claims, nil
}
