// Package auth is the thin identity boundary: Google OAuth via goth,
// session cookies, and the middleware that resolves a session to a
// users row id. Everything downstream sees a plain uint user id.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"github.com/healthpilot/healthpilot/internal/config"
)

// InitProviders configures the goth Google provider and gothic's own
// cookie store. Gothic uses a gorilla/sessions store separate from the
// gin-contrib one; its default has Secure=true which breaks localhost.
func InitProviders(cfg *config.Config, logger *slog.Logger) {
	gothStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	gothStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.Env == "production",
		SameSite: http.SameSiteLaxMode,
	}
	gothic.Store = gothStore

	if cfg.GoogleClientID == "" {
		logger.Warn("GOOGLE_CLIENT_ID not set, OAuth login disabled until credentials are configured")
		return
	}

	goth.UseProviders(
		google.New(
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.GoogleCallbackURL,
			"email",
			"profile",
		),
	)

	logger.Info("goth providers initialized", "providers", "google")
}
