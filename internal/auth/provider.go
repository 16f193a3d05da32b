package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/odyssey-erp/receiving/internal/shared"
)

// IdentityProvider authenticates the principal behind a request.
type IdentityProvider interface {
	// CurrentAuthState is the cached authentication flag; it does not block.
	CurrentAuthState(ctx context.Context) bool
	// Authenticate confirms the principal with the backing store.
	Authenticate(ctx context.Context) (Principal, error)
	// Login starts the login flow that returns to redirectTarget.
	Login(ctx context.Context, redirectTarget string)
	// CurrentPrincipal names the cached principal, empty when anonymous.
	CurrentPrincipal(ctx context.Context) string
}

// ErrUnauthenticated is returned when no principal is bound to the request.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// SessionProvider is an IdentityProvider backed by the Redis session and the
// users table.
type SessionProvider struct {
	service *Service
}

// NewSessionProvider constructs SessionProvider.
func NewSessionProvider(service *Service) *SessionProvider {
	return &SessionProvider{service: service}
}

// CurrentAuthState reports whether the session carries a user.
func (p *SessionProvider) CurrentAuthState(ctx context.Context) bool {
	_, ok := sessionUserID(ctx)
	return ok
}

// CurrentPrincipal returns the session user ID.
func (p *SessionProvider) CurrentPrincipal(ctx context.Context) string {
	if sess := shared.SessionFromContext(ctx); sess != nil {
		return sess.User()
	}
	return ""
}

// Authenticate resolves the session user and checks it is still active.
func (p *SessionProvider) Authenticate(ctx context.Context) (Principal, error) {
	id, ok := sessionUserID(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	user, err := p.service.Resolve(ctx, id)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: user.ID, Email: user.Email}, nil
}

// Login remembers the redirect target so a successful login returns there.
func (p *SessionProvider) Login(ctx context.Context, redirectTarget string) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		return
	}
	sess.Set(shared.LoginRedirectKey, redirectTarget)
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Sign in to continue"})
}

func sessionUserID(ctx context.Context) (int64, bool) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

var _ IdentityProvider = (*SessionProvider)(nil)
