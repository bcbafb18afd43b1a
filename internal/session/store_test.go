package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"medivault/internal/apiclient"
	"medivault/pkg/domain"
)

func signToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// newAuthBackend serves /auth/login, /auth/me and /auth/register for alice/secret.
func newAuthBackend(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = r.ParseForm()
			if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token, "token_type": "bearer"})
		case "/auth/me":
			if r.Header.Get("Authorization") != "Bearer "+token {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "username": "alice", "full_name": "Alice Liddell"})
		case "/auth/register":
			var body apiclient.RegisterRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			switch body.Username {
			case "taken":
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Username already registered"})
			case "silent":
				w.WriteHeader(http.StatusInternalServerError)
			default:
				_ = json.NewEncoder(w).Encode(map[string]any{"id": 2, "username": body.Username, "full_name": body.FullName})
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(t *testing.T, baseURL string, tokens TokenStore) *Store {
	t.Helper()
	store, err := New(Config{API: apiclient.NewClient(baseURL, nil), Tokens: tokens})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Tokens: NewMemoryTokenStore()}); err == nil {
		t.Fatal("expected missing API to fail")
	}
	if _, err := New(Config{API: apiclient.NewClient("http://x", nil)}); err == nil {
		t.Fatal("expected missing token store to fail")
	}
}

func TestInitializeWithoutTokenIsUnauthenticated(t *testing.T) {
	store := newStore(t, "http://unused", NewMemoryTokenStore())
	if snap := store.Snapshot(); snap.State != StateUninitialized || !snap.Loading() {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	store.Initialize(context.Background())
	snap := store.Snapshot()
	if snap.State != StateUnauthenticated || snap.Identity != nil || snap.Loading() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestInitializeRestoresIdentityFromPersistedToken(t *testing.T) {
	tokens := NewMemoryTokenStore()
	token := signToken(t, "alice", time.Now().Add(time.Hour))
	_ = tokens.Save(context.Background(), token)

	store := newStore(t, "http://unused", tokens)
	var states []State
	store.Subscribe(func(s Snapshot) { states = append(states, s.State) })
	store.Initialize(context.Background())

	identity, ok := store.Identity()
	if !ok || identity.Username != "alice" || identity.DisplayName != "alice" || identity.Token != token {
		t.Fatalf("unexpected identity: %+v ok=%v", identity, ok)
	}
	if len(states) != 2 || states[0] != StateLoading || states[1] != StateAuthenticated {
		t.Fatalf("unexpected transitions: %v", states)
	}

	// Second initialize is a no-op even if the persisted token changes.
	_ = tokens.Clear(context.Background())
	store.Initialize(context.Background())
	if _, ok := store.Identity(); !ok {
		t.Fatal("initialize must run only once")
	}
}

type countingTokenStore struct {
	TokenStore
	loads atomic.Int32
}

func (c *countingTokenStore) Load(ctx context.Context) (string, error) {
	c.loads.Add(1)
	return c.TokenStore.Load(ctx)
}

func TestInitializeRunsOnce(t *testing.T) {
	tokens := &countingTokenStore{TokenStore: NewMemoryTokenStore()}
	store := newStore(t, "http://unused", tokens)
	var transitions atomic.Int32
	store.Subscribe(func(Snapshot) { transitions.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Initialize(context.Background())
		}()
	}
	wg.Wait()
	store.Initialize(context.Background())

	if got := tokens.loads.Load(); got != 1 {
		t.Fatalf("token loads = %d, want 1", got)
	}
	if got := transitions.Load(); got != 2 {
		t.Fatalf("transitions = %d, want 2", got)
	}
	if snap := store.Snapshot(); snap.State != StateUnauthenticated {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestInitializeDiscardsUnusableTokens(t *testing.T) {
	tests := map[string]string{
		"garbage":    "not-a-jwt",
		"expired":    signToken(t, "alice", time.Now().Add(-time.Minute)),
		"no subject": signToken(t, "", time.Now().Add(time.Hour)),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			tokens := NewMemoryTokenStore()
			_ = tokens.Save(context.Background(), token)
			store := newStore(t, "http://unused", tokens)
			store.Initialize(context.Background())
			if snap := store.Snapshot(); snap.State != StateUnauthenticated {
				t.Fatalf("state = %s, want unauthenticated", snap.State)
			}
			if got, _ := tokens.Load(context.Background()); got != "" {
				t.Fatalf("unusable token should be erased, still have %q", got)
			}
		})
	}
}

func TestLoginSetsIdentityAndPersistsToken(t *testing.T) {
	token := signToken(t, "alice", time.Now().Add(time.Hour))
	srv := newAuthBackend(t, token)
	tokens := NewMemoryTokenStore()
	store := newStore(t, srv.URL, tokens)
	store.Initialize(context.Background())

	identity, err := store.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if identity.Username != "alice" || identity.DisplayName != "Alice Liddell" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !store.Snapshot().Authenticated() {
		t.Fatal("expected authenticated snapshot")
	}
	if got, _ := tokens.Load(context.Background()); got != token {
		t.Fatal("token was not persisted")
	}
	if store.AuthStatus().Busy() {
		t.Fatal("auth status should be idle after login")
	}
}

func TestLoginWithInvalidCredentialsCommitsNothing(t *testing.T) {
	srv := newAuthBackend(t, signToken(t, "alice", time.Now().Add(time.Hour)))
	tokens := NewMemoryTokenStore()
	store := newStore(t, srv.URL, tokens)
	store.Initialize(context.Background())

	_, err := store.Login(context.Background(), "alice", "wrong")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if authErr.Reason != "invalid credentials" {
		t.Fatalf("reason = %q", authErr.Reason)
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("identity must remain unset")
	}
	if got, _ := tokens.Load(context.Background()); got != "" {
		t.Fatal("no token should be persisted")
	}

	if _, err := store.Login(context.Background(), "  ", "x"); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError for blank username, got %v", err)
	}
}

func TestAuthStatusRecordsLastFailure(t *testing.T) {
	srv := newAuthBackend(t, signToken(t, "alice", time.Now().Add(time.Hour)))
	store := newStore(t, srv.URL, NewMemoryTokenStore())
	ctx := context.Background()
	store.Initialize(ctx)

	_, loginErr := store.Login(ctx, "alice", "wrong")
	status := store.AuthStatus()
	var authErr *AuthenticationError
	if status.Phase() != domain.PhaseError || !errors.As(status.Err(), &authErr) || status.Err() != loginErr {
		t.Fatalf("after failed login: phase=%s err=%v", status.Phase(), status.Err())
	}

	if _, err := store.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if status := store.AuthStatus(); status.Phase() != domain.PhaseIdle || status.Err() != nil {
		t.Fatalf("after login: phase=%s err=%v", status.Phase(), status.Err())
	}

	var regErr *RegistrationError
	_ = store.Register(ctx, "taken", "pw", "")
	if status := store.AuthStatus(); status.Phase() != domain.PhaseError || !errors.As(status.Err(), &regErr) {
		t.Fatalf("after failed register: phase=%s err=%v", status.Phase(), status.Err())
	}
	if err := store.Register(ctx, "dora", "pw", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if status := store.AuthStatus(); status.Phase() != domain.PhaseIdle {
		t.Fatalf("after register: phase=%s", status.Phase())
	}
}

func TestLoginNetworkFailureIsAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	store := newStore(t, srv.URL, NewMemoryTokenStore())
	_, err := store.Login(context.Background(), "alice", "secret")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || authErr.Reason != "login request failed" {
		t.Fatalf("expected login request failure, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	srv := newAuthBackend(t, "unused")
	store := newStore(t, srv.URL, NewMemoryTokenStore())
	ctx := context.Background()

	if err := store.Register(ctx, "bob", "pw", "Bob"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("register must not establish a session")
	}

	var regErr *RegistrationError
	if err := store.Register(ctx, "taken", "pw", ""); !errors.As(err, &regErr) || regErr.Message != "Username already registered" {
		t.Fatalf("expected server message, got %v", err)
	}
	if err := store.Register(ctx, "silent", "pw", ""); !errors.As(err, &regErr) || regErr.Message != GenericRegistrationMessage {
		t.Fatalf("expected generic message, got %v", err)
	}
	if err := store.Register(ctx, "", "pw", ""); !errors.As(err, &regErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := store.Register(ctx, "long", strings.Repeat("x", MaxPasswordBytes+1), ""); !errors.As(err, &regErr) {
		t.Fatalf("expected password length error, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	tokens := NewMemoryTokenStore()
	_ = tokens.Save(context.Background(), signToken(t, "alice", time.Now().Add(time.Hour)))
	store := newStore(t, "http://unused", tokens)
	store.Initialize(context.Background())

	for i := 0; i < 2; i++ {
		if err := store.Logout(context.Background()); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
		if snap := store.Snapshot(); snap.State != StateUnauthenticated || snap.Identity != nil {
			t.Fatalf("unexpected snapshot after logout: %+v", snap)
		}
	}
	if got, _ := tokens.Load(context.Background()); got != "" {
		t.Fatal("token should be erased")
	}
}

func TestDoForcesLogoutOnUnauthorized(t *testing.T) {
	tokens := NewMemoryTokenStore()
	token := signToken(t, "alice", time.Now().Add(time.Hour))
	_ = tokens.Save(context.Background(), token)
	store := newStore(t, "http://unused", tokens)
	store.Initialize(context.Background())

	var calls int32
	err := store.Do(context.Background(), func(got string) error {
		atomic.AddInt32(&calls, 1)
		if got != token {
			t.Errorf("token = %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	err = store.Do(context.Background(), func(string) error {
		return &apiclient.APIError{Status: http.StatusUnauthorized, Message: "Could not validate credentials"}
	})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired error, got %v", err)
	}
	if !apiclient.IsUnauthorized(err) {
		t.Fatal("underlying api error should stay reachable")
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("identity should be cleared by 401")
	}
	if got, _ := tokens.Load(context.Background()); got != "" {
		t.Fatal("token should be erased by 401")
	}

	err = store.Do(context.Background(), func(string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatal("fn must not run without a session")
	}
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	tokens := NewMemoryTokenStore()
	_ = tokens.Save(context.Background(), signToken(t, "alice", time.Now().Add(time.Hour)))
	store := newStore(t, "http://unused", tokens)
	store.Initialize(context.Background())

	boom := &apiclient.APIError{Status: http.StatusInternalServerError}
	if err := store.Do(context.Background(), func(string) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected pass-through, got %v", err)
	}
	if _, ok := store.Identity(); !ok {
		t.Fatal("non-auth failures must not clear the session")
	}
}
