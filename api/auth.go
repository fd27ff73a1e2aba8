package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "sealedvwap"

// Claims identify the caller. Subject is the caller's asset-ledger account.
type Claims struct {
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 bearer tokens.
type JWT struct {
	Secret   []byte
	TokenTTL time.Duration
}

// Sign issues a token for account.
func (j JWT) Sign(account string) (token string, expiresAt time.Time, err error) {
	if account == "" {
		return "", time.Time{}, errors.New("account is required")
	}
	now := time.Now().UTC()
	expiresAt = now.Add(j.TokenTTL)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   account,
		Issuer:    defaultIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses token and returns its claims.
func (j JWT) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	}, jwt.WithIssuer(defaultIssuer))
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return Claims{}, errors.New("invalid token")
	}
	return *c, nil
}

type ctxKey int

const accountKey ctxKey = 1

// AccountFromContext returns the authenticated caller.
func AccountFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(accountKey).(string)
	return a, ok
}

// Authenticate rejects requests without a valid bearer token and stores the caller's
// account in the request context.
func Authenticate(j JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r.Header.Get("Authorization"))
			if tok == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			claims, err := j.Verify(tok)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(v string) string {
	parts := strings.SplitN(strings.TrimSpace(v), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
