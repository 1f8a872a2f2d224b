package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func validClaims(exp time.Time) Claims {
	return Claims{
		ID:    "farmer-1",
		Email: "farmer@example.com",
		Roles: jwt.ClaimStrings{"FARMER"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

type fakeUsers struct {
	token  string
	err    error
	signIn []backend.Credentials
	signUp []backend.Registration
}

func (f *fakeUsers) SignIn(_ context.Context, creds backend.Credentials) (string, error) {
	f.signIn = append(f.signIn, creds)
	return f.token, f.err
}

func (f *fakeUsers) SignUp(_ context.Context, reg backend.Registration) (string, error) {
	f.signUp = append(f.signUp, reg)
	return f.token, f.err
}

func newTestManager(t *testing.T, users Authenticator, storeOpts ...store.Option) (*Manager, *store.Store) {
	t.Helper()
	opts := append([]store.Option{store.WithClock(func() time.Time { return testNow })}, storeOpts...)
	st := store.New(opts...)
	t.Cleanup(st.Close)
	return NewManager(st, users, WithClock(func() time.Time { return testNow })), st
}

func TestParse(t *testing.T) {
	t.Parallel()

	token := signToken(t, validClaims(testNow.Add(time.Hour)))
	sess, err := Parse(token)
	require.NoError(t, err)

	assert.Equal(t, "farmer-1", sess.FarmerID())
	assert.Equal(t, "farmer@example.com", sess.Claims.Email)
	assert.Equal(t, []string{"FARMER"}, sess.Farmer().Roles)
	assert.False(t, sess.Expired(testNow))
	assert.True(t, sess.Expired(testNow.Add(time.Hour)))
}

func TestParseFallsBackToSubject(t *testing.T) {
	t.Parallel()

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "farmer-9"}}
	sess, err := Parse(signToken(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "farmer-9", sess.FarmerID())
	assert.False(t, sess.Expired(testNow.Add(1000*time.Hour)), "token without exp never expires")
}

func TestParseAcceptsNumericID(t *testing.T) {
	t.Parallel()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    42,
		"email": "farmer@example.com",
		"exp":   testNow.Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	sess, err := Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "42", sess.FarmerID())
	assert.Equal(t, entities.ID("42"), sess.Farmer().ID)
	assert.False(t, sess.Expired(testNow))
}

func TestParseRejectsBadTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"no user id", signToken(t, Claims{Email: "x@example.com"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.token)
			require.Error(t, err)
			assert.True(t, errors.IsAuthentication(err))
		})
	}
}

func TestLoginStoresToken(t *testing.T) {
	t.Parallel()

	token := signToken(t, validClaims(testNow.Add(time.Hour)))
	users := &fakeUsers{token: token}
	m, st := newTestManager(t, users)

	st.SetCrops([]entities.Crop{{ID: "stale-crop"}})

	sess, err := m.Login(t.Context(), backend.Credentials{Email: "farmer@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "farmer-1", sess.FarmerID())
	assert.Equal(t, token, st.Token())
	assert.Empty(t, st.Crops(), "previous session data must be dropped")
	require.Len(t, users.signIn, 1)

	current, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, sess.FarmerID(), current.FarmerID())
}

func TestLoginValidation(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	m, _ := newTestManager(t, users)

	_, err := m.Login(t.Context(), backend.Credentials{Email: "farmer@example.com"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Empty(t, users.signIn, "no request without credentials")
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{token: signToken(t, validClaims(testNow.Add(-time.Minute)))}
	m, st := newTestManager(t, users)

	_, err := m.Login(t.Context(), backend.Credentials{Email: "a@b.c", Password: "pw"})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Empty(t, st.Token())
}

func TestLoginPropagatesBackendError(t *testing.T) {
	t.Parallel()

	backendErr := &backend.HTTPError{StatusCode: 401, Message: "bad credentials"}
	users := &fakeUsers{err: backendErr}
	m, st := newTestManager(t, users)

	_, err := m.Login(t.Context(), backend.Credentials{Email: "a@b.c", Password: "pw"})
	require.Error(t, err)
	assert.Empty(t, st.Token())
}

func TestRegister(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{token: signToken(t, validClaims(testNow.Add(time.Hour)))}
	m, st := newTestManager(t, users)

	_, err := m.Register(t.Context(), backend.Registration{Email: "new@example.com", Password: "pw", FirstName: "Ada"})
	require.NoError(t, err)
	require.Len(t, users.signUp, 1)
	assert.Equal(t, "Ada", users.signUp[0].FirstName)
	assert.NotEmpty(t, st.Token())
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	m, st := newTestManager(t, &fakeUsers{})

	_, err := m.Current()
	require.ErrorIs(t, err, ErrNoSession)

	st.SetToken(signToken(t, validClaims(testNow.Add(-time.Second))))
	_, err = m.Current()
	require.Error(t, err)
	assert.True(t, errors.IsAuthentication(err))
}

func TestLogoutPurgesSnapshot(t *testing.T) {
	t.Parallel()

	persister := snapshot.NewMemoryStore()
	users := &fakeUsers{token: signToken(t, validClaims(testNow.Add(time.Hour)))}
	m, st := newTestManager(t, users, store.WithPersister(persister))

	_, err := m.Login(t.Context(), backend.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	st.SetCrops([]entities.Crop{{ID: "c1"}})
	require.NoError(t, st.Flush(t.Context()))

	saved, err := persister.Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, saved)

	require.NoError(t, m.Logout(t.Context()))
	assert.Empty(t, st.Token())
	assert.Empty(t, st.Crops())

	saved, err = persister.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, saved)
}
