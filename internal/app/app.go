// Package app wires the client components together for one user profile.
package app

import (
	"context"
	"fmt"
	"io"

	"medivault/internal/apiclient"
	"medivault/internal/chat"
	"medivault/internal/config"
	"medivault/internal/documents"
	"medivault/internal/guard"
	"medivault/internal/session"
	"medivault/internal/util"
)

// App owns the shared Session Store and the components built on it.
type App struct {
	cfg       config.FileConfig
	api       *apiclient.Client
	tokens    session.TokenStore
	session   *session.Store
	guard     *guard.Guard
	documents *documents.Synchronizer
}

// New builds the client stack described by cfg. The session is not restored
// until Initialize is called.
func New(cfg config.FileConfig) (*App, error) {
	timeout, err := config.ParseRequestTimeout(cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	api := apiclient.NewClient(cfg.APIBaseURL, util.NewHTTPClient(timeout))

	tokens, err := newTokenStore(cfg)
	if err != nil {
		return nil, err
	}

	store, err := session.New(session.Config{API: api, Tokens: tokens})
	if err != nil {
		closeTokens(tokens)
		return nil, err
	}
	docs, err := documents.New(documents.Config{
		API:               api,
		Session:           store,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	})
	if err != nil {
		closeTokens(tokens)
		return nil, err
	}
	return &App{
		cfg:       cfg,
		api:       api,
		tokens:    tokens,
		session:   store,
		guard:     guard.New(store),
		documents: docs,
	}, nil
}

func newTokenStore(cfg config.FileConfig) (session.TokenStore, error) {
	switch cfg.TokenStore {
	case config.TokenStoreMemory:
		return session.NewMemoryTokenStore(), nil
	case config.TokenStoreRedis:
		store, err := session.NewRedisTokenStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKey, 0)
		if err != nil {
			return nil, fmt.Errorf("init redis token store: %w", err)
		}
		return store, nil
	case config.TokenStoreFile, "":
		store, err := session.NewFileTokenStore(cfg.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("init file token store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
}

// Initialize restores a persisted session.
func (a *App) Initialize(ctx context.Context) {
	a.session.Initialize(ctx)
}

func (a *App) Session() *session.Store { return a.session }

func (a *App) Guard() *guard.Guard { return a.guard }

func (a *App) Documents() *documents.Synchronizer { return a.documents }

// NewChat starts a fresh conversation. Each chat view gets its own.
func (a *App) NewChat() (*chat.Session, error) {
	return chat.New(chat.Config{
		API:      a.api,
		Session:  a.session,
		Greeting: a.cfg.ChatGreeting,
	})
}

// Close stops document work still in flight and releases the token store.
func (a *App) Close() error {
	a.documents.Close()
	if closer, ok := a.tokens.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func closeTokens(tokens session.TokenStore) {
	if closer, ok := tokens.(io.Closer); ok {
		_ = closer.Close()
	}
}
