package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Gate decides whether protected operations may proceed. It fails closed:
// a provider that errors or does not answer within the timeout counts as
// unauthenticated.
type Gate struct {
	provider  IdentityProvider
	timeout   time.Duration
	loginPath string
	logger    *slog.Logger
}

// GateConfig groups Gate settings.
type GateConfig struct {
	Timeout   time.Duration
	LoginPath string
	Logger    *slog.Logger
}

// NewGate constructs Gate.
func NewGate(provider IdentityProvider, cfg GateConfig) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{provider: provider, timeout: cfg.Timeout, loginPath: cfg.LoginPath, logger: cfg.Logger}
}

// Authorize reports whether the current principal is authenticated. The
// cached state is checked first and then confirmed with the provider.
func (g *Gate) Authorize(ctx context.Context) bool {
	if g == nil || g.provider == nil || !g.provider.CurrentAuthState(ctx) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		principal Principal
		err       error
	}
	done := make(chan result, 1)
	go func() {
		p, err := g.provider.Authenticate(ctx)
		done <- result{principal: p, err: err}
	}()
	select {
	case <-ctx.Done():
		g.logger.Warn("identity provider timed out", slog.Duration("timeout", g.timeout))
		return false
	case res := <-done:
		if res.err != nil {
			g.logger.Info("authentication refused", slog.Any("error", res.err))
			return false
		}
		return res.principal.UserID != 0
	}
}

// Login triggers the provider's login flow towards target.
func (g *Gate) Login(ctx context.Context, target string) {
	if g == nil || g.provider == nil {
		return
	}
	g.provider.Login(ctx, target)
}

// Principal names the cached principal.
func (g *Gate) Principal(ctx context.Context) string {
	if g == nil || g.provider == nil {
		return ""
	}
	return g.provider.CurrentPrincipal(ctx)
}

// RequireOrRedirect authorizes and, when refused, starts login for target.
func (g *Gate) RequireOrRedirect(ctx context.Context, target string) bool {
	if g.Authorize(ctx) {
		return true
	}
	g.Login(ctx, target)
	return false
}

// LoginURL is where the operator is sent to sign in before returning to target.
func (g *Gate) LoginURL(target string) string {
	if target == "" {
		return g.loginPath
	}
	return g.loginPath + "?next=" + url.QueryEscape(target)
}

// Middleware guards a protected route, redirecting to login when refused.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.RequestURI()
		if !g.RequireOrRedirect(r.Context(), target) {
			http.Redirect(w, r, g.LoginURL(target), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
