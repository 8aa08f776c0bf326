package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	a, err := s.Register(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	b, err := s.Register(ctx, "Ada L.", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "email match wins over name")

	c, err := s.Register(ctx, "local", "")
	require.NoError(t, err)
	d, err := s.Register(ctx, "local", "")
	require.NoError(t, err)
	assert.Equal(t, c.ID, d.ID)
	assert.NotEqual(t, a.ID, c.ID)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSessionSignInOut(t *testing.T) {
	ctx := context.Background()
	sess := NewSession(NewMemStore())

	var seen []*User
	stop := sess.OnAuthChanged(func(u *User) { seen = append(seen, u) })
	require.Len(t, seen, 1)
	assert.Nil(t, seen[0], "initial state is signed out")

	u, err := sess.SignIn(ctx, "", "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, "grace", u.Name)
	require.NotNil(t, sess.CurrentUser())
	assert.Equal(t, u.ID, sess.CurrentUser().ID)

	require.NoError(t, sess.SignOut(ctx))
	assert.Nil(t, sess.CurrentUser())

	require.Len(t, seen, 3)
	assert.Equal(t, u.ID, seen[1].ID)
	assert.Nil(t, seen[2])

	stop()
	stop()
	sess.Restore(u)
	assert.Len(t, seen, 3, "removed listeners are not called")
	assert.Equal(t, u.ID, sess.CurrentUser().ID)
}

func TestSessionSignInRequiresIdentity(t *testing.T) {
	_, err := NewSession(NewMemStore()).SignIn(context.Background(), " ", "")
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestIssuerRoundTrip(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	u := &User{ID: "u1", Email: "a@b.c"}

	tok, err := iss.Issue(u)
	require.NoError(t, err)

	claims, err := iss.Parse("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Empty(t, claims.TZ)

	tok, err = iss.IssueZoned(u, "Asia/Tokyo")
	require.NoError(t, err)
	claims, err = iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", claims.TZ)
}

func TestIssuerRejects(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	u := &User{ID: "u1"}

	other, err := NewIssuer("other", time.Hour).Issue(u)
	require.NoError(t, err)

	expiredIss := NewIssuer("secret", time.Hour)
	expiredIss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIss.Issue(u)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": other,
		"expired":      expired,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Parse(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
