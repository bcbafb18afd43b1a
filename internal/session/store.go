package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medivault/internal/apiclient"
	"medivault/internal/util"
	"medivault/pkg/domain"
)

// MaxPasswordBytes is the longest password the backend's hash accepts.
const MaxPasswordBytes = 72

// State is the session lifecycle.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Snapshot is a point-in-time copy of the session. Identity is nil unless
// State is StateAuthenticated.
type Snapshot struct {
	State    State
	Identity *domain.Identity
}

// Loading reports whether the authentication state is not yet known.
func (s Snapshot) Loading() bool {
	return s.State == StateUninitialized || s.State == StateLoading
}

func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Identity != nil
}

// AuthAPI is the subset of the backend used by the Store.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (apiclient.TokenResponse, error)
	Register(ctx context.Context, payload apiclient.RegisterRequest) (domain.Profile, error)
	Me(ctx context.Context, token string) (domain.Profile, error)
}

// Config wires the Store's collaborators.
type Config struct {
	API    AuthAPI
	Tokens TokenStore
	// Now defaults to time.Now; tests override it to age tokens.
	Now func() time.Time
}

// Store is the single source of truth for who is logged in. Every component
// that issues authenticated requests receives the same *Store and goes
// through Do.
type Store struct {
	api    AuthAPI
	tokens TokenStore
	now    func() time.Time

	initOnce sync.Once

	mu        sync.Mutex
	state     State
	identity  *domain.Identity
	pending   domain.Status
	listeners map[int]func(Snapshot)
	nextID    int
}

// New constructs an uninitialized Store.
func New(cfg Config) (*Store, error) {
	if cfg.API == nil {
		return nil, errors.New("session: auth API is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("session: token store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		api:       cfg.API,
		tokens:    cfg.Tokens,
		now:       now,
		state:     StateUninitialized,
		pending:   domain.Idle(),
		listeners: make(map[int]func(Snapshot)),
	}, nil
}

// Initialize restores the session from the persisted token without any
// network validation. Only the first call has an effect.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		s.commit(StateLoading, nil, func(cur State) bool { return cur == StateUninitialized })
		logger := util.LoggerFromContext(ctx)

		token, err := s.tokens.Load(ctx)
		if err != nil {
			logger.Warn("session_restore_failed", "err", err)
			s.commit(StateUnauthenticated, nil, onlyWhileLoading)
			return
		}
		if token == "" {
			s.commit(StateUnauthenticated, nil, onlyWhileLoading)
			return
		}
		identity, err := identityFromToken(token, s.now())
		if err != nil {
			logger.Info("session_token_discarded", "err", err)
			if clearErr := s.tokens.Clear(ctx); clearErr != nil {
				logger.Warn("session_token_clear_failed", "err", clearErr)
			}
			s.commit(StateUnauthenticated, nil, onlyWhileLoading)
			return
		}
		s.commit(StateAuthenticated, &identity, onlyWhileLoading)
		logger.Debug("session_restored", "username", identity.Username)
	})
}

// Login authenticates against the backend, persists the token and sets the
// Identity. On any failure nothing is committed.
func (s *Store) Login(ctx context.Context, username, password string) (domain.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Identity{}, &AuthenticationError{Reason: "username and password are required"}
	}
	if !s.begin() {
		return domain.Identity{}, ErrBusy
	}
	identity, err := s.login(ctx, username, password)
	s.end(err)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("login_failed", "username", username, "err", err)
		return domain.Identity{}, err
	}
	s.commit(StateAuthenticated, &identity, nil)
	util.LoggerFromContext(ctx).Info("login_succeeded", "username", identity.Username)
	return identity, nil
}

func (s *Store) login(ctx context.Context, username, password string) (domain.Identity, error) {
	resp, err := s.api.Login(ctx, username, password)
	if err != nil {
		reason := "login request failed"
		if apiclient.IsUnauthorized(err) {
			reason = "invalid credentials"
		}
		return domain.Identity{}, &AuthenticationError{Reason: reason, Err: err}
	}
	token := strings.TrimSpace(resp.AccessToken)
	if token == "" {
		return domain.Identity{}, &AuthenticationError{Reason: "login response missing token"}
	}
	profile, err := s.api.Me(ctx, token)
	if err != nil {
		return domain.Identity{}, &AuthenticationError{Reason: "fetch profile", Err: err}
	}
	identity := domain.Identity{
		Username:    strings.TrimSpace(profile.Username),
		DisplayName: strings.TrimSpace(profile.FullName),
		Token:       token,
	}
	if identity.Username == "" {
		identity.Username = username
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.Username
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		return domain.Identity{}, &AuthenticationError{Reason: "persist token", Err: err}
	}
	return identity, nil
}

// Register creates an account. It never establishes a session; the caller
// logs in afterwards.
func (s *Store) Register(ctx context.Context, username, password, fullName string) (err error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return newRegistrationError("Username and password are required", nil)
	}
	if len(password) > MaxPasswordBytes {
		return newRegistrationError(fmt.Sprintf("Password must be at most %d characters", MaxPasswordBytes), nil)
	}
	if !s.begin() {
		return ErrBusy
	}
	defer func() { s.end(err) }()

	_, err = s.api.Register(ctx, apiclient.RegisterRequest{
		Username: username,
		Password: password,
		FullName: strings.TrimSpace(fullName),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("register_failed", "username", username, "err", err)
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			return newRegistrationError(apiErr.Message, err)
		}
		return newRegistrationError("", err)
	}
	util.LoggerFromContext(ctx).Info("register_succeeded", "username", username)
	return nil
}

// Logout clears the Identity and erases the persisted token. Calling it
// while logged out is harmless. The in-memory session is cleared even if
// erasing the token fails.
func (s *Store) Logout(ctx context.Context) error {
	s.commit(StateUnauthenticated, nil, func(cur State) bool { return cur != StateUnauthenticated })
	if err := s.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("erase token: %w", err)
	}
	return nil
}

// Do runs fn with the current token. A 401 from fn forces a logout.
func (s *Store) Do(ctx context.Context, fn func(token string) error) error {
	identity, ok := s.Identity()
	if !ok {
		return &AuthenticationError{Reason: "no active session", Err: ErrNotAuthenticated}
	}
	err := fn(identity.Token)
	if err == nil || !apiclient.IsUnauthorized(err) {
		return err
	}
	s.expire(ctx, identity.Token)
	return &AuthenticationError{Reason: "session rejected by server", Err: errors.Join(ErrSessionExpired, err)}
}

// expire clears the session only if token is still the live one, so a
// stale 401 cannot log out a newer login.
func (s *Store) expire(ctx context.Context, token string) {
	cleared := s.commit(StateUnauthenticated, nil, func(State) bool {
		return s.identity != nil && s.identity.Token == token
	})
	if !cleared {
		return
	}
	logger := util.LoggerFromContext(ctx)
	logger.Warn("session_expired", "reason", "unauthorized response")
	if err := s.tokens.Clear(ctx); err != nil {
		logger.Warn("session_token_clear_failed", "err", err)
	}
}

// Identity returns the live identity, if any.
func (s *Store) Identity() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AuthStatus reports the state of the last login or registration request.
// A failed request leaves PhaseError until the next one starts.
func (s *Store) AuthStatus() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Subscribe registers fn to be called after every state or identity change.
// The returned func removes the listener.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.Busy() {
		return false
	}
	s.pending = domain.Busy()
	return true
}

func (s *Store) end(err error) {
	s.mu.Lock()
	s.pending = domain.Failed(err)
	s.mu.Unlock()
}

func onlyWhileLoading(cur State) bool { return cur == StateLoading }

// commit applies a transition when guard (evaluated under the lock) allows
// it, then notifies listeners outside the lock.
func (s *Store) commit(state State, identity *domain.Identity, guard func(State) bool) bool {
	s.mu.Lock()
	if guard != nil && !guard(s.state) {
		s.mu.Unlock()
		return false
	}
	s.state = state
	if identity != nil {
		copied := *identity
		s.identity = &copied
	} else {
		s.identity = nil
	}
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.identity != nil {
		copied := *s.identity
		snap.Identity = &copied
	}
	return snap
}
