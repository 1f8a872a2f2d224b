package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/store"
)

// Authenticator issues tokens. *backend.UserClient implements it.
type Authenticator interface {
	SignIn(ctx context.Context, creds backend.Credentials) (string, error)
	SignUp(ctx context.Context, reg backend.Registration) (string, error)
}

// Manager ties the session to the store: the token lives in the store (and
// therefore in the persisted snapshot), and logging out clears both.
type Manager struct {
	store  *store.Store
	users  Authenticator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager.
func NewManager(st *store.Store, users Authenticator, opts ...Option) *Manager {
	m := &Manager{store: st, users: users, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.ForService("auth")
	}
	return m
}

// Login signs in and starts a fresh session. Any previously cached data is dropped.
func (m *Manager) Login(ctx context.Context, creds backend.Credentials) (*Session, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, errors.ValidationError("email and password are required")
	}
	token, err := m.users.SignIn(ctx, creds)
	if err != nil {
		return nil, err
	}
	return m.start(token)
}

// Register creates an account and starts a session for it.
func (m *Manager) Register(ctx context.Context, reg backend.Registration) (*Session, error) {
	if reg.Email == "" || reg.Password == "" {
		return nil, errors.ValidationError("email and password are required")
	}
	token, err := m.users.SignUp(ctx, reg)
	if err != nil {
		return nil, err
	}
	return m.start(token)
}

func (m *Manager) start(token string) (*Session, error) {
	sess, err := Parse(token)
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionExpired
	}

	m.store.ClearAll()
	m.store.SetToken(token)

	m.logger.Info("session started",
		"farmer_id", sess.FarmerID(),
		"roles", []string(sess.Claims.Roles))
	return sess, nil
}

// Current returns the active session. It fails with ErrNoSession when logged
// out and ErrSessionExpired when the token has expired.
func (m *Manager) Current() (*Session, error) {
	sess, err := Parse(m.store.Token())
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Logout clears the store and the persisted snapshot.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Purge(ctx); err != nil {
		m.logger.Warn("failed to remove persisted session", "error", err)
		return err
	}
	m.logger.Info("session ended")
	return nil
}

// Token returns the stored token. It is suitable as a backend.TokenFunc.
func (m *Manager) Token() string {
	return m.store.Token()
}
