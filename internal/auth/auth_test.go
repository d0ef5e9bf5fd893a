package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/callrelay/internal/errs"
)

func TestTokens_IssueVerify(t *testing.T) {
	t.Parallel()

	tk := NewTokens([]byte("secret"), time.Minute)
	tok, exp, err := tk.Issue("ops")
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	sub, err := tk.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "ops", sub)

	other := NewTokens([]byte("other"), time.Minute)
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestTokens_Expired(t *testing.T) {
	t.Parallel()

	tk := NewTokens([]byte("secret"), time.Minute)
	tk.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := tk.Issue("ops")
	require.NoError(t, err)

	tk.now = time.Now
	_, err = tk.Verify(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestTokens_WrongAudienceAndMethod(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	tk := NewTokens(key, time.Minute)

	noAud := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	s, err := noAud.SignedString(key)
	require.NoError(t, err)
	_, err = tk.Verify(s)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{Audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	s, err = hs512.SignedString(key)
	require.NoError(t, err)
	_, err = tk.Verify(s)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestTokens_Disabled(t *testing.T) {
	t.Parallel()

	tk := NewTokens(nil, 0)
	require.False(t, tk.Enabled())
	_, _, err := tk.Issue("ops")
	require.Error(t, err)
	_, err = tk.Verify("anything")
	require.True(t, errors.Is(err, errs.ErrUnauthorized))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := BearerToken(c.in)
		require.Equal(t, c.ok, ok, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestBearerFromMD(t *testing.T) {
	t.Parallel()

	_, err := BearerFromMD(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic x"))
	_, err = BearerFromMD(ctx)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer tok"))
	tok, err := BearerFromMD(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
}

func TestSubjectCtx(t *testing.T) {
	t.Parallel()

	_, ok := SubjectFromCtx(context.Background())
	require.False(t, ok)

	sub, ok := SubjectFromCtx(WithSubject(context.Background(), "ops"))
	require.True(t, ok)
	require.Equal(t, "ops", sub)

	_, ok = SubjectFromCtx(WithSubject(context.Background(), ""))
	require.False(t, ok)
}
