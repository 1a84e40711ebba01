package session

import (
	"context"
	"time"
)

// Credentials are what a user submits on the login form.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
}

// Registration is the payload for creating a new account.
type Registration struct {
	Email    string
	Password string
	Username string
}

// Grant is the backend's answer to a successful credential exchange: the
// token pair plus the profile it belongs to.
type Grant struct {
	AccessToken  string
	RefreshToken string
	User         User
}

// NewFromGrant validates a backend grant and stamps it into a storable
// session. Grants missing either token or the user identity are rejected
// with ErrInvalidGrant before anything touches the store.
func NewFromGrant(grant *Grant, now time.Time) (*Session, error) {
	if grant == nil || grant.AccessToken == "" || grant.RefreshToken == "" || grant.User.ID == "" {
		return nil, ErrInvalidGrant
	}
	return &Session{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		User:         grant.User,
		IssuedAt:     now,
		DemoMode:     classifyDemo(grant.User),
	}, nil
}

// AuthAPI is the slice of the backend the lifecycle consumes. The api
// package provides the production implementation; tests substitute fakes.
//
// Every method takes its credential explicitly rather than reading the
// store, so the lifecycle stays the single owner of what is persisted.
type AuthAPI interface {
	Login(ctx context.Context, creds Credentials) (*Grant, error)
	Register(ctx context.Context, reg Registration) (*Grant, error)
	Me(ctx context.Context, accessToken string) (*User, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, accessToken string) error
}

// AutoLogin is the Telegram Mini App collaborator. When the app runs inside
// a Mini App host, Attempt exchanges the host's init data for a session and
// writes it to the shared store itself.
//
// The collaborator runs on its own at startup; Initialize only waits a grace
// window for its write to land. After a teardown the manager calls Attempt
// directly so Mini App users get a fresh session instead of a login screen.
type AutoLogin interface {
	// Available reports whether the app is running inside a Mini App host.
	Available() bool

	// Attempt performs the init-data exchange and persists the resulting
	// session. It returns the session it stored.
	Attempt(ctx context.Context) (*Session, error)
}
