package api

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"solana-token-vesting/internal/solana"
)

type contextKey string

// WalletKey holds the authenticated wallet in the request context.
const WalletKey contextKey = "wallet"

// Authentication errors.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrTokenTooOld  = errors.New("bearer token too old")
)

// Authenticator verifies wallet-signed bearer tokens. A token is a JWT signed
// with EdDSA by the wallet's own ed25519 key; sub carries the wallet address,
// so the verification key is recovered from the claim being verified.
type Authenticator struct {
	maxAge   time.Duration
	audience string
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. Tokens issued more than maxAge
// ago are rejected; a non-empty audience must match the aud claim.
func NewAuthenticator(maxAge time.Duration, audience string) *Authenticator {
	return &Authenticator{maxAge: maxAge, audience: audience, now: time.Now}
}

// Verify parses token and returns the wallet that signed it.
func (a *Authenticator) Verify(token string) (solana.PublicKey, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var wallet solana.PublicKey
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		wallet, err = solana.ParsePublicKey(sub)
		if err != nil {
			return nil, fmt.Errorf("subject: %w", err)
		}
		return wallet.Ed25519(), nil
	}, opts...)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.IssuedAt == nil {
		return solana.PublicKey{}, fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}
	if a.now().Sub(claims.IssuedAt.Time) > a.maxAge {
		return solana.PublicKey{}, ErrTokenTooOld
	}
	return wallet, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated wallet in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeJSONError(w, r, http.StatusUnauthorized, ErrMissingToken.Error(), "auth")
			return
		}

		wallet, err := a.Verify(parts[1])
		if err != nil {
			writeJSONError(w, r, http.StatusUnauthorized, err.Error(), "auth")
			return
		}

		ctx := context.WithValue(r.Context(), WalletKey, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WalletFromContext returns the authenticated wallet.
func WalletFromContext(ctx context.Context) (solana.PublicKey, bool) {
	wallet, ok := ctx.Value(WalletKey).(solana.PublicKey)
	return wallet, ok
}

// SignToken issues a bearer token for the wallet owning key, valid for ttl.
func SignToken(key ed25519.PrivateKey, audience string, ttl time.Duration, now time.Time) (string, error) {
	wallet, err := solana.PublicKeyFromEd25519(key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{
		Subject:   wallet.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}
