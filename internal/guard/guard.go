// Package guard decides which view a route may show given the session state.
package guard

import (
	"strings"

	"medivault/internal/session"
)

const (
	RouteHome     = "/"
	RouteChat     = "/chat"
	RouteLogin    = "/login"
	RouteRegister = "/register"
)

// Outcome is the result of resolving a route.
type Outcome int

const (
	// Pending means the session is still loading; show a neutral indicator.
	Pending Outcome = iota
	Allow
	Redirect
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Decision is the guard's verdict for Path. Target is set only for Redirect.
type Decision struct {
	Outcome Outcome
	Path    string
	Target  string
}

// SessionView is the read side of the session store.
type SessionView interface {
	Snapshot() session.Snapshot
}

type access int

const (
	accessProtected access = iota
	accessPublicAuth
)

var routes = map[string]access{
	RouteHome:     accessProtected,
	RouteChat:     accessProtected,
	RouteLogin:    accessPublicAuth,
	RouteRegister: accessPublicAuth,
}

// Guard holds no state of its own; every call reads a fresh snapshot.
type Guard struct {
	session SessionView
}

func New(view SessionView) *Guard {
	return &Guard{session: view}
}

// Resolve decides what the view at path may show right now.
func (g *Guard) Resolve(path string) Decision {
	path = normalize(path)
	kind, ok := routes[path]
	if !ok {
		return Decision{Outcome: NotFound, Path: path}
	}
	snap := g.session.Snapshot()
	switch kind {
	case accessProtected:
		switch {
		case snap.Loading():
			return Decision{Outcome: Pending, Path: path}
		case snap.Authenticated():
			return Decision{Outcome: Allow, Path: path}
		default:
			return Decision{Outcome: Redirect, Path: path, Target: RouteLogin}
		}
	default:
		if snap.Authenticated() {
			return Decision{Outcome: Redirect, Path: path, Target: RouteHome}
		}
		return Decision{Outcome: Allow, Path: path}
	}
}

// AfterLogin is where a successful login lands.
func (g *Guard) AfterLogin() string {
	return RouteHome
}

// Protected reports whether path requires an identity.
func Protected(path string) bool {
	kind, ok := routes[normalize(path)]
	return ok && kind == accessProtected
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return RouteHome
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = RouteHome
		}
	}
	return path
}
