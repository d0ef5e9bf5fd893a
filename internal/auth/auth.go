// Package auth issues and verifies operator tokens for the admin surfaces.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/callrelay/internal/errs"
)

// Audience is the aud claim every operator token carries.
const Audience = "callrelay-admin"

// DefaultTTL is the lifetime of issued operator tokens.
const DefaultTTL = time.Hour

// Tokens signs and verifies HS256 operator tokens. A Tokens with an empty
// key rejects everything.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens constructs Tokens. ttl <= 0 selects DefaultTTL.
func NewTokens(key []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{key: append([]byte(nil), key...), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing key is configured.
func (t *Tokens) Enabled() bool { return len(t.key) > 0 }

// Issue creates a signed token for subject.
func (t *Tokens) Issue(subject string) (string, time.Time, error) {
	if !t.Enabled() {
		return "", time.Time{}, errors.New("no admin key configured")
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.key)
	return signed, exp, err
}

// Verify checks signature, audience and validity window and returns the subject.
func (t *Tokens) Verify(token string) (string, error) {
	if !t.Enabled() {
		return "", fmt.Errorf("admin disabled: %w", errs.ErrUnauthorized)
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tk *jwt.Token) (any, error) {
		if tk.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.key, nil
	},
		jwt.WithAudience(Audience),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("empty subject: %w", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <JWT>" value.
func BearerToken(header string) (string, bool) {
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		tok := strings.TrimSpace(header[7:])
		return tok, tok != ""
	}
	return "", false
}

// BearerFromMD extracts the bearer token from incoming gRPC metadata.
func BearerFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("no metadata: %w", errs.ErrUnauthorized)
	}
	for _, v := range md.Get("authorization") {
		if tok, ok := BearerToken(v); ok {
			return tok, nil
		}
	}
	return "", fmt.Errorf("no bearer token: %w", errs.ErrUnauthorized)
}

type ctxKey string

const subjectKey ctxKey = "callrelay.operator"

// WithSubject stores the authenticated operator in context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromCtx fetches the authenticated operator from context.
func SubjectFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok && v != ""
}
