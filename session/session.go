// Package session manages the client-side authentication lifecycle for the
// ChannelPulse backend: persisting the token pair, verifying it at startup,
// exchanging credentials for new sessions, refreshing the access token in the
// background and tearing everything down on logout or backend rejection.
package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents the access level the backend granted a user.
type Role string

const (
	RoleAdmin  Role = "admin"  // Full control, admin surfaces included
	RoleOwner  Role = "owner"  // Owns one or more channels
	RoleMember Role = "member" // Regular team member
	RoleViewer Role = "viewer" // Read-only access
)

// User is the profile the backend returns alongside a session grant.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role,omitempty"`
	IsDemo   bool   `json:"is_demo,omitempty"` // Authoritative demo marker set by the backend
}

// Session is the unit of authentication state persisted on the client. The
// token pair always travels together: a stored session either has both tokens
// or does not exist at all.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         User      `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
	DemoMode     bool      `json:"demo_mode,omitempty"`
}

// Valid reports whether the session carries everything a usable session
// needs. Repos reject Save calls for invalid sessions and report invalid
// stored blobs as absent.
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" && s.RefreshToken != "" && s.User.ID != ""
}

// Age returns how long ago the session was issued, relative to now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}

// AccessTokenExpiry reports the exp claim of the access token, when present.
// The token is decoded without signature verification: the client holds no
// verification key, and expiry is only used to time refreshes, never to grant
// access.
func (s *Session) AccessTokenExpiry() (time.Time, bool) {
	return tokenExpiry(s.AccessToken)
}

func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

// legacyDemoPatterns match the demo accounts that predate the backend's
// is_demo flag. The flag is authoritative; these only catch old accounts.
var legacyDemoPatterns = []string{"demo@", "+demo@"}

func classifyDemo(u User) bool {
	if u.IsDemo {
		return true
	}
	email := strings.ToLower(u.Email)
	for _, pattern := range legacyDemoPatterns {
		if strings.Contains(email, pattern) {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of the managed session.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"   // Initialize has not run yet
	StatusVerifying       Status = "verifying"       // Startup verification round trip in flight
	StatusTrusted         Status = "trusted"         // Session adopted, tokens believed good
	StatusDegraded        Status = "degraded"        // Session adopted without verification after a transient startup failure
	StatusUnauthenticated Status = "unauthenticated" // No session
)

// Ready reports whether startup reached a terminal state. Callers gate
// protected work on Ready rather than on Authenticated so that the
// unauthenticated outcome also unblocks them.
func (s Status) Ready() bool {
	switch s {
	case StatusTrusted, StatusDegraded, StatusUnauthenticated:
		return true
	}
	return false
}

// Authenticated reports whether a session is currently adopted.
func (s Status) Authenticated() bool {
	return s == StatusTrusted || s == StatusDegraded
}

// Snapshot is a point-in-time view of the lifecycle, handed to subscribers
// and returned by State. User is nil unless Authenticated.
type Snapshot struct {
	Status Status
	User   *User
}

// Ready reports whether startup reached a terminal state.
func (s Snapshot) Ready() bool { return s.Status.Ready() }

// Authenticated reports whether a session is currently adopted.
func (s Snapshot) Authenticated() bool { return s.Status.Authenticated() }

// Event identifies a lifecycle transition for subscribers.
type Event string

const (
	EventInitialized   Event = "initialized"    // Startup resolution finished, whatever the outcome
	EventLogin         Event = "login"          // Credential or registration grant adopted
	EventAutoLogin     Event = "auto_login"     // Mini App collaborator produced a session
	EventLogout        Event = "logout"         // Deliberate teardown completed
	EventRefreshed     Event = "refreshed"      // Access token rotated in place
	EventRefreshFailed Event = "refresh_failed" // A refresh attempt failed (transient or terminal)
	EventForcedLogout  Event = "forced_logout"  // Backend invalidated the session, teardown completed
)
