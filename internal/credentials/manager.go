package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// defaultSkew is how long before expiry a token is treated as stale.
const defaultSkew = 60 * time.Second

// Session is a signed-in user pool session.
type Session struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	// Expiry is when IDToken stops being accepted.
	Expiry time.Time
}

// Credential is what every API request is signed with: the bearer ID token
// plus the temporary AWS key triple issued for it.
type Credential struct {
	IDToken       string
	IDTokenExpiry time.Time
	AWS           aws.Credentials
	// Generation increases by one each time IDToken changes.
	Generation uint64
}

// Provider performs the remote identity operations.
type Provider interface {
	// SignIn authenticates a user and returns a new session.
	SignIn(ctx context.Context, username, password string) (Session, error)
	// Refresh obtains a new ID token using the session's refresh token.
	Refresh(ctx context.Context, s Session) (Session, error)
	// Exchange trades an ID token for temporary AWS credentials.
	Exchange(ctx context.Context, idToken string) (aws.Credentials, error)
}

// Verifier validates an ID token before it is used.
type Verifier interface {
	Verify(ctx context.Context, idToken string) error
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Provider performs sign-in, refresh and exchange. Required.
	Provider Provider
	// Verifier optionally checks each new ID token.
	Verifier Verifier
	// Skew is subtracted from expiry times. Default: 60s.
	Skew time.Duration
	// OnTokenChange is called, outside any lock, after the ID token changed.
	OnTokenChange func(Credential)
	Logger        Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager is the single source of truth for the current credential.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Remote calls are serialised.
type Manager struct {
	provider Provider
	verifier Verifier
	skew     time.Duration
	onChange func(Credential)
	logger   Logger
	now      func() time.Time

	mu       sync.Mutex
	session  *Session
	username string
	password string
	cred     Credential
	haveCred bool
}

// NewManager creates a Manager. No remote calls are made until Authenticate.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	m := &Manager{
		provider: opts.Provider,
		verifier: opts.Verifier,
		skew:     opts.Skew,
		onChange: opts.OnTokenChange,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if m.skew <= 0 {
		m.skew = defaultSkew
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// SetOnTokenChange replaces the token change hook.
func (m *Manager) SetOnTokenChange(fn func(Credential)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Authenticate signs in and stores the session for future refreshes.
//
// It does not exchange for AWS credentials; the next EnsureToken does that.
// On failure the previous session, if any, is kept.
//
// Returns:
//   - bool: true when the sign-in succeeded
//   - error: wraps ErrAuth for rejected credentials, ErrTransient otherwise
func (m *Manager) Authenticate(ctx context.Context, username, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.provider.SignIn(ctx, username, password)
	if err != nil {
		m.logger.Error("pentair cloud sign-in failed", "username", username, "error", err)
		return false, fmt.Errorf("signing in: %w", err)
	}
	fillExpiry(&s)

	m.session = &s
	m.username = username
	m.password = password
	m.logger.Info("pentair cloud sign-in succeeded", "username", username, "expires", s.Expiry)
	return true, nil
}

// Reauthenticate repeats Authenticate with the stored username and password.
func (m *Manager) Reauthenticate(ctx context.Context) error {
	m.mu.Lock()
	username, password := m.username, m.password
	m.mu.Unlock()

	if username == "" {
		return ErrNotAuthenticated
	}
	if _, err := m.Authenticate(ctx, username, password); err != nil {
		return err
	}
	return nil
}

// Authenticated reports whether a session exists.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Current returns the last credential without contacting the provider.
func (m *Manager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, m.haveCred
}

// EnsureToken returns a credential fit for signing the next request.
//
// The ID token is refreshed when it is within the skew of expiry. When the
// ID token differs from the one last exchanged, or the AWS credentials have
// expired, the identity pool exchange runs again. A refresh or exchange
// failure is logged and the previous credential is returned unchanged.
//
// Returns:
//   - Credential: current credential
//   - error: only when no credential could be produced at all
func (m *Manager) EnsureToken(ctx context.Context) (Credential, error) {
	cred, changed, hook, err := m.ensure(ctx)
	if err != nil {
		return Credential{}, err
	}
	if changed && hook != nil {
		hook(cred)
	}
	return cred, nil
}

func (m *Manager) ensure(ctx context.Context) (Credential, bool, func(Credential), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		if m.haveCred {
			return m.cred, false, nil, nil
		}
		return Credential{}, false, nil, ErrNotAuthenticated
	}

	now := m.now()

	if m.expired(m.session.Expiry, now) {
		s, err := m.provider.Refresh(ctx, *m.session)
		if err != nil {
			m.logger.Error("id token refresh failed", "error", err)
			return m.fallback(fmt.Errorf("refreshing id token: %w", err))
		}
		fillExpiry(&s)
		if s.RefreshToken == "" {
			s.RefreshToken = m.session.RefreshToken
		}
		m.session = &s
		m.logger.Debug("id token refreshed", "expires", s.Expiry)
	}

	changed := !m.haveCred || m.session.IDToken != m.cred.IDToken
	if !changed && !(m.cred.AWS.CanExpire && m.expired(m.cred.AWS.Expires, now)) {
		return m.cred, false, nil, nil
	}

	if changed && m.verifier != nil {
		if err := m.verifier.Verify(ctx, m.session.IDToken); err != nil {
			m.logger.Error("id token verification failed", "error", err)
			return m.fallback(fmt.Errorf("verifying id token: %w", err))
		}
	}

	awsCreds, err := m.provider.Exchange(ctx, m.session.IDToken)
	if err != nil {
		m.logger.Error("identity pool exchange failed", "error", err)
		return m.fallback(fmt.Errorf("exchanging id token: %w", err))
	}

	generation := m.cred.Generation
	if changed {
		generation++
	}
	m.cred = Credential{
		IDToken:       m.session.IDToken,
		IDTokenExpiry: m.session.Expiry,
		AWS:           awsCreds,
		Generation:    generation,
	}
	m.haveCred = true

	if changed {
		m.logger.Info("pentair cloud token changed", "generation", generation)
		return m.cred, true, m.onChange, nil
	}
	m.logger.Debug("aws credentials renewed", "expires", awsCreds.Expires)
	return m.cred, false, nil, nil
}

// fallback keeps the previous credential when one exists.
func (m *Manager) fallback(err error) (Credential, bool, func(Credential), error) {
	if m.haveCred {
		return m.cred, false, nil, nil
	}
	return Credential{}, false, nil, err
}

func (m *Manager) expired(at time.Time, now time.Time) bool {
	if at.IsZero() {
		return false
	}
	return !now.Add(m.skew).Before(at)
}

// fillExpiry derives the session expiry from the ID token when the provider
// did not report one.
func fillExpiry(s *Session) {
	if !s.Expiry.IsZero() || s.IDToken == "" {
		return
	}
	if exp, err := TokenExpiry(s.IDToken); err == nil {
		s.Expiry = exp
	}
}
