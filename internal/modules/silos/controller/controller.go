// Package controller serves the silos module over HTTP: the table API other
// clients sync against, the dashboard API and pages backed by the in-process
// registry, and the session and credential endpoints.
package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/registry"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
	"github.com/guruprasath0306/Silo-Monitor/internal/tableclient"
)

// TableService is the remote-store side: writes that publish change events.
type TableService interface {
	List(ctx context.Context) ([]types.Row, error)
	Insert(ctx context.Context, row types.Row) (types.Row, error)
	InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error)
	Update(ctx context.Context, id string, patch types.Patch) (types.Row, error)
	Delete(ctx context.Context, id string) error
	InsertAction(ctx context.Context, action types.Action) (types.Action, error)
	ListActions(ctx context.Context, siloID string, limit int) ([]types.Action, error)
}

// SiloRegistry is the dashboard's working collection.
type SiloRegistry interface {
	Snapshot(ctx context.Context) ([]types.Silo, error)
	Get(ctx context.Context, id string) (types.Silo, error)
	Err(ctx context.Context) error
	Pending() []registry.Write
	Create(ctx context.Context, d types.Draft) (types.Silo, error)
	Update(ctx context.Context, id string, p types.Patch) (types.Silo, error)
	Delete(ctx context.Context, id string) error
	LogAction(id string, kind types.ActionKind)
}

type CredentialStore interface {
	Get(ctx context.Context, role auth.Role) (auth.Credential, error)
	Update(ctx context.Context, role auth.Role, email, password string) (auth.Credential, error)
	Reset(ctx context.Context) error
}

type SiloController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type Options struct {
	Logger *slog.Logger
	// APIKey guards the table API; empty leaves it open.
	APIKey string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

type siloControllerImpl struct {
	table       TableService
	registry    SiloRegistry
	codec       *auth.TokenCodec
	credentials CredentialStore
	logger      *slog.Logger
	apiKey      string
	secure      bool
}

func NewSiloController(table TableService, reg SiloRegistry, codec *auth.TokenCodec, credentials CredentialStore, opts Options) SiloController {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &siloControllerImpl{
		table:       table,
		registry:    reg,
		codec:       codec,
		credentials: credentials,
		logger:      opts.Logger,
		apiKey:      opts.APIKey,
		secure:      opts.SecureCookies,
	}
}

func (c *siloControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	table := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAPIKey(c.apiKey, tableclient.APIKeyHeader, h)
	}
	mux.Handle("GET /api/v1/tables/silos", table(c.handleTableList))
	mux.Handle("POST /api/v1/tables/silos", table(c.handleTableInsert))
	mux.Handle("PATCH /api/v1/tables/silos/{id}", table(c.handleTableUpdate))
	mux.Handle("DELETE /api/v1/tables/silos/{id}", table(c.handleTableDelete))
	mux.Handle("GET /api/v1/tables/silo_actions", table(c.handleTableListActions))
	mux.Handle("POST /api/v1/tables/silo_actions", table(c.handleTableInsertAction))

	mux.HandleFunc("GET /api/v1/silos", auth.Require(nil, c.handleListSilos))
	mux.HandleFunc("GET /api/v1/silos/{id}", auth.Require(nil, c.handleGetSilo))
	mux.HandleFunc("POST /api/v1/silos", auth.Require(auth.Session.CanManage, c.handleCreateSilo))
	mux.HandleFunc("PATCH /api/v1/silos/{id}", auth.Require(auth.Session.CanManage, c.handleUpdateSilo))
	mux.HandleFunc("DELETE /api/v1/silos/{id}", auth.Require(auth.Session.CanDelete, c.handleDeleteSilo))
	mux.HandleFunc("POST /api/v1/silos/{id}/actions", auth.Require(nil, c.handleLogAction))

	mux.HandleFunc("POST /api/v1/session", c.handleLogin)
	mux.HandleFunc("GET /api/v1/session", auth.Require(nil, c.handleGetSession))
	mux.HandleFunc("DELETE /api/v1/session", c.handleLogout)
	mux.HandleFunc("GET /api/v1/credentials/{role}", auth.Require(auth.Session.IsAdmin, c.handleGetCredentials))
	mux.HandleFunc("PUT /api/v1/credentials/{role}", auth.Require(auth.Session.IsAdmin, c.handleUpdateCredentials))
	mux.HandleFunc("DELETE /api/v1/credentials", auth.Require(auth.Session.IsAdmin, c.handleResetCredentials))

	mux.HandleFunc("GET /{$}", c.handleDashboardPage)
	mux.HandleFunc("GET /partials/silos", c.handleSiloListPartial)
	mux.HandleFunc("GET /login", c.handleLoginPage)
	mux.HandleFunc("POST /login", c.handleLoginForm)
	mux.HandleFunc("POST /logout", c.handleLogoutForm)
}
