package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/transfer"
)

// Deps are the services the API is glue for.
type Deps struct {
	DB     *db.DB
	Ledger *ledger.Ledger
	Engine *transfer.Engine
	Tokens *auth.Tokens
	Log    *zap.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, Tokens: d.Tokens, Log: log}
	usersHandler := &UsersHandler{DB: d.DB, Log: log}
	locationsHandler := &LocationsHandler{DB: d.DB, Ledger: d.Ledger, Log: log}
	variantsHandler := &VariantsHandler{DB: d.DB, Ledger: d.Ledger, Log: log}
	inventoryHandler := &InventoryHandler{DB: d.DB, Ledger: d.Ledger, Log: log}
	transfersHandler := &TransfersHandler{Engine: d.Engine, Log: log}

	authMW := AuthMiddleware(d.Tokens, d.DB, log)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	manager := func(h http.HandlerFunc) http.Handler { return authMW(requireManager(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// Locations: read (all roles), write (manager+).
	mux.Handle("GET /api/locations", authed(locationsHandler.List))
	mux.Handle("POST /api/locations", manager(locationsHandler.Create))
	mux.Handle("GET /api/locations/{id}", authed(locationsHandler.Get))
	mux.Handle("PUT /api/locations/{id}", manager(locationsHandler.Update))
	mux.Handle("DELETE /api/locations/{id}", manager(locationsHandler.Delete))
	mux.Handle("PUT /api/locations/{id}/default", manager(locationsHandler.SetDefault))
	mux.Handle("GET /api/locations/{id}/inventory", authed(locationsHandler.Inventory))

	// Variants: read (all roles), write (manager+).
	mux.Handle("GET /api/variants", authed(variantsHandler.List))
	mux.Handle("POST /api/variants", manager(variantsHandler.Create))
	mux.Handle("GET /api/variants/{id}", authed(variantsHandler.Get))
	mux.Handle("PUT /api/variants/{id}", manager(variantsHandler.Update))
	mux.Handle("GET /api/variants/{id}/stock", authed(variantsHandler.Stock))

	// Inventory: read (all), write (manager+).
	mux.Handle("GET /api/inventory", authed(inventoryHandler.List))
	mux.Handle("POST /api/inventory/adjust", manager(inventoryHandler.Adjust))
	mux.Handle("POST /api/inventory/set", manager(inventoryHandler.Set))
	mux.Handle("GET /api/inventory/movements", authed(inventoryHandler.Movements))

	// Transfers (all roles).
	mux.Handle("GET /api/transfers", authed(transfersHandler.List))
	mux.Handle("POST /api/transfers", authed(transfersHandler.Create))
	mux.Handle("GET /api/transfers/shortfalls", authed(transfersHandler.Shortfalls))
	mux.Handle("GET /api/transfers/{id}", authed(transfersHandler.Get))
	mux.Handle("POST /api/transfers/{id}/ship", authed(transfersHandler.Ship))
	mux.Handle("POST /api/transfers/{id}/receive", authed(transfersHandler.Receive))
	mux.Handle("POST /api/transfers/{id}/cancel", authed(transfersHandler.Cancel))
	mux.Handle("GET /api/transfers/{id}/history", authed(transfersHandler.History))

	return TracingMiddleware(LoggingMiddleware(log)(mux))
}
