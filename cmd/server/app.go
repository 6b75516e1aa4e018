package main

import (
	"context"
	"net/http"

	"github.com/diewo77/go-factures/internal/auth"
	"github.com/diewo77/go-factures/internal/config"
	"github.com/diewo77/go-factures/internal/handlers"
	"github.com/diewo77/go-factures/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux      *http.ServeMux
	sessions *auth.SessionManager
	bearer   func(http.Handler) http.Handler
}

// NewApp creates a new application with all routes configured.
func NewApp(db *gorm.DB, cfg *config.Config, log *zap.Logger) *App {
	svc := services.NewInvoiceService(db, log.Named("invoices"))

	sessions := auth.NewSessionManager(cfg.App.SessionSecret)
	bearer := auth.Bearer(cfg.App.IdentitySecret, func(ctx context.Context, email, name string) (uint, error) {
		user, err := svc.CheckAndAddUser(ctx, email, name)
		if err != nil {
			return 0, err
		}
		if user == nil {
			return 0, services.ErrNotFound
		}
		return user.ID, nil
	})

	app := &App{
		mux:      http.NewServeMux(),
		sessions: sessions,
		bearer:   bearer,
	}

	ah := handlers.NewAuthHandler(db, sessions)
	ih := handlers.NewInvoiceHandler(db, svc, log.Named("handlers"))
	app.setupRoutes(ah, ih)
	return app
}

// ServeHTTP implements http.Handler. Global middleware: session cookie
// first, identity-provider bearer token as the fallback.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.sessions.Middleware(a.bearer(a.mux)).ServeHTTP(w, r)
}

func (a *App) setupRoutes(ah *handlers.AuthHandler, ih *handlers.InvoiceHandler) {
	// Public routes
	a.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.mux.HandleFunc("POST /signup", ah.Signup)
	a.mux.HandleFunc("POST /login", ah.Login)
	a.mux.HandleFunc("POST /logout", ah.Logout)

	// Invoice routes (require an authenticated user)
	a.mux.Handle("GET /invoices", auth.RequireAuth(http.HandlerFunc(ih.List)))
	a.mux.Handle("POST /invoices", auth.RequireAuth(http.HandlerFunc(ih.Create)))
	a.mux.Handle("GET /invoices/{id}", auth.RequireAuth(http.HandlerFunc(ih.View)))
	a.mux.Handle("PUT /invoices/{id}", auth.RequireAuth(http.HandlerFunc(ih.Update)))
	a.mux.Handle("DELETE /invoices/{id}", auth.RequireAuth(http.HandlerFunc(ih.Delete)))
	a.mux.Handle("GET /invoices/{id}/pdf", auth.RequireAuth(http.HandlerFunc(ih.PDF)))
}
