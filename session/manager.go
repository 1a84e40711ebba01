package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Trust-window and refresh policy defaults.
const (
	DefaultFreshWindow     = 5 * time.Second        // Sessions younger than this are adopted without any checks
	DefaultStaleWindow     = 5 * time.Minute        // Sessions younger than this skip the verification round trip
	DefaultGraceWindow     = 300 * time.Millisecond // How long Initialize waits for the auto-login collaborator
	DefaultRefreshInterval = 25 * time.Minute       // Fallback cadence when the access token carries no exp claim
	DefaultRefreshLead     = 5 * time.Minute        // How far before expiry a refresh is scheduled
	DefaultRetryInterval   = 5 * time.Minute        // Retry cadence after a transient refresh failure

	gracePollInterval = 50 * time.Millisecond
	minRefreshDelay   = 10 * time.Second
	refreshTimeout    = 30 * time.Second
	logoutTimeout     = 5 * time.Second
)

// Manager owns the client-side session lifecycle. It is the only writer of
// lifecycle state; the store itself stays last-write-wins so the auto-login
// collaborator can also land sessions into it.
type Manager struct {
	repo      Repo
	api       AuthAPI
	autoLogin AutoLogin

	freshWindow     time.Duration
	staleWindow     time.Duration
	graceWindow     time.Duration
	refreshInterval time.Duration
	refreshLead     time.Duration
	retryInterval   time.Duration
	allowedRoles    map[Role]struct{} // nil allows any authenticated role
	nowTime         func() time.Time  // nowTime function (injectable for testing)
	log             zerolog.Logger

	mu          sync.Mutex
	snap        Snapshot
	initialized bool
	generation  int64         // bumped whenever a session is adopted or torn down
	stopSched   chan struct{} // non-nil while the refresh scheduler runs

	tearingDown atomic.Bool // collapses concurrent teardown triggers into one

	listenerMu  sync.Mutex
	listeners   map[int]func(Event, Snapshot)
	listenerSeq int
}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

// WithFreshWindow sets how young a stored session must be to be adopted
// without any verification. Protects a just-written login from a redundant
// round trip when the app restarts immediately.
func WithFreshWindow(d time.Duration) Option {
	return func(m *Manager) { m.freshWindow = d }
}

// WithStaleWindow sets the age under which a stored session is trusted
// without the startup verification call.
func WithStaleWindow(d time.Duration) Option {
	return func(m *Manager) { m.staleWindow = d }
}

// WithGraceWindow sets how long Initialize waits for the auto-login
// collaborator to populate an empty store before declaring unauthenticated.
func WithGraceWindow(d time.Duration) Option {
	return func(m *Manager) { m.graceWindow = d }
}

// WithRefreshInterval sets the fallback refresh cadence used when the access
// token has no readable expiry.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.refreshInterval = d }
}

// WithRefreshLead sets how far before token expiry a refresh is scheduled.
func WithRefreshLead(d time.Duration) Option {
	return func(m *Manager) { m.refreshLead = d }
}

// WithRetryInterval sets the retry cadence after a transient refresh failure.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// WithAllowedRoles restricts Login and Register to grants whose user holds
// one of the given roles. Admin surfaces pass RoleAdmin and RoleOwner; the
// default admits any authenticated role.
func WithAllowedRoles(roles ...Role) Option {
	return func(m *Manager) {
		m.allowedRoles = make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			m.allowedRoles[r] = struct{}{}
		}
	}
}

// WithAutoLogin attaches the Mini App collaborator.
func WithAutoLogin(al AutoLogin) Option {
	return func(m *Manager) { m.autoLogin = al }
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(m *Manager) { m.nowTime = nowFunc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager initializes a Manager with its required dependencies. Optional
// configuration is provided via options.
func NewManager(repo Repo, api AuthAPI, options ...Option) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] session repo is required")
	}
	if api == nil {
		return nil, errors.New("[NewManager] auth API is required")
	}

	m := &Manager{
		repo:            repo,
		api:             api,
		freshWindow:     DefaultFreshWindow,
		staleWindow:     DefaultStaleWindow,
		graceWindow:     DefaultGraceWindow,
		refreshInterval: DefaultRefreshInterval,
		refreshLead:     DefaultRefreshLead,
		retryInterval:   DefaultRetryInterval,
		nowTime:         time.Now,
		log:             zerolog.Nop(),
		snap:            Snapshot{Status: StatusUninitialized},
		listeners:       map[int]func(Event, Snapshot){},
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// State returns the current lifecycle snapshot.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Authenticated reports whether a session is currently adopted.
func (m *Manager) Authenticated() bool {
	return m.State().Authenticated()
}

// CurrentUser returns a copy of the adopted session's user, or nil.
func (m *Manager) CurrentUser() *User {
	snap := m.State()
	if snap.User == nil {
		return nil
	}
	user := *snap.User
	return &user
}

// Subscribe registers a listener for lifecycle events. The returned cancel
// function removes it. Listeners run synchronously on the goroutine that
// caused the transition and must not block.
func (m *Manager) Subscribe(fn func(Event, Snapshot)) func() {
	m.listenerMu.Lock()
	m.listenerSeq++
	id := m.listenerSeq
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *Manager) notify(ev Event) {
	snap := m.State()
	m.listenerMu.Lock()
	fns := make([]func(Event, Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev, snap)
	}
}

// Initialize resolves the stored session into a ready lifecycle state. It
// runs the full startup sequence once; repeated calls return the current
// snapshot without re-running anything.
//
// Outcomes: a young session is adopted on trust alone, an older one is
// verified against the backend, a rejected one is refreshed inline or torn
// down, and a transient outage degrades to unverified trust rather than
// logging the user out.
func (m *Manager) Initialize(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.initialized {
		snap := m.snap
		m.mu.Unlock()
		return snap, nil
	}
	m.initialized = true
	gen := m.generation
	m.mu.Unlock()

	sess, err := m.loadWithGrace(ctx)
	if err != nil {
		m.setStatusIf(gen, StatusUnauthenticated, nil)
		m.notify(EventInitialized)
		return m.State(), errors.Wrap(err, "[Manager.Initialize] load session")
	}
	if sess == nil {
		m.setStatusIf(gen, StatusUnauthenticated, nil)
		m.notify(EventInitialized)
		return m.State(), nil
	}

	age := sess.Age(m.nowTime())
	if age < m.freshWindow || age < m.staleWindow {
		// Inside the trust windows the token pair is adopted as-is. The
		// fresh window also covers a login written moments ago by another
		// goroutine, where a verification call could race the write.
		m.adoptSessionIf(gen, sess, StatusTrusted)
		m.notify(EventInitialized)
		return m.State(), nil
	}

	m.setStatusIf(gen, StatusVerifying, nil)
	user, err := m.api.Me(ctx, sess.AccessToken)
	if err == nil && user == nil {
		err = errors.Wrap(ErrInvalidGrant, "verification returned no user")
	}
	if err == nil {
		sess.User = *user
		sess.DemoMode = classifyDemo(*user)
		if saveErr := m.repo.Save(ctx, sess); saveErr != nil {
			m.log.Warn().Err(saveErr).Msg("persisting verified profile failed")
		}
		m.adoptSessionIf(gen, sess, StatusTrusted)
		m.notify(EventInitialized)
		return m.State(), nil
	}

	m.log.Debug().Err(err).Msg("startup verification failed, attempting token refresh")

	// One inline refresh cycle decides the session's fate: success adopts
	// it, a definitive rejection tears it down (Refresh handles that), and
	// a transient failure keeps the user signed in unverified.
	switch refreshErr := m.Refresh(ctx); {
	case refreshErr == nil:
		if refreshed, loadErr := m.repo.Load(ctx); loadErr == nil && refreshed != nil {
			sess = refreshed
		}
		m.adoptSessionIf(gen, sess, StatusTrusted)
	case rejected(refreshErr), errors.Is(refreshErr, ErrNoSession):
		// Teardown already ran (and may have re-adopted via auto-login);
		// leave whatever state it produced in place.
	case errors.Is(refreshErr, ErrSessionReplaced):
		// Someone else installed a fresh session mid-startup; theirs wins.
	default:
		m.adoptSessionIf(gen, sess, StatusDegraded)
	}
	m.notify(EventInitialized)
	return m.State(), nil
}

// loadWithGrace loads the stored session. When the store is empty but the
// auto-login collaborator is available, it polls for the grace window in
// case the collaborator is still writing the session it just exchanged.
func (m *Manager) loadWithGrace(ctx context.Context) (*Session, error) {
	sess, err := m.repo.Load(ctx)
	if err != nil || sess != nil {
		return sess, err
	}
	if m.autoLogin == nil || !m.autoLogin.Available() || m.graceWindow <= 0 {
		return nil, nil
	}

	deadline := time.NewTimer(m.graceWindow)
	defer deadline.Stop()
	tick := time.NewTicker(gracePollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return m.repo.Load(ctx)
		case <-tick.C:
			sess, err := m.repo.Load(ctx)
			if err != nil || sess != nil {
				return sess, err
			}
		}
	}
}

// Login exchanges credentials for a session and adopts it. The grant is
// validated and its role checked against the allow-list before anything is
// persisted, so a rejected login leaves no stored state behind.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	grant, err := m.api.Login(ctx, creds)
	if err != nil {
		return errors.Wrap(err, "[Manager.Login] credential exchange")
	}
	if err := m.adoptGrant(ctx, grant); err != nil {
		return errors.Wrap(err, "[Manager.Login] adopt grant")
	}
	m.notify(EventLogin)
	return nil
}

// Register creates an account and adopts the session the backend returns.
// The grant contract is identical to Login.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	grant, err := m.api.Register(ctx, reg)
	if err != nil {
		return errors.Wrap(err, "[Manager.Register] registration")
	}
	if err := m.adoptGrant(ctx, grant); err != nil {
		return errors.Wrap(err, "[Manager.Register] adopt grant")
	}
	m.notify(EventLogin)
	return nil
}

func (m *Manager) adoptGrant(ctx context.Context, grant *Grant) error {
	sess, err := NewFromGrant(grant, m.nowTime())
	if err != nil {
		return err
	}
	if !m.roleAllowed(sess.User.Role) {
		return errors.Wrapf(ErrRoleNotAllowed, "role %q", sess.User.Role)
	}
	if err := m.repo.Save(ctx, sess); err != nil {
		return errors.Wrap(err, "persist session")
	}
	m.adoptSession(sess, StatusTrusted)
	return nil
}

func (m *Manager) roleAllowed(role Role) bool {
	if m.allowedRoles == nil {
		return true
	}
	_, ok := m.allowedRoles[role]
	return ok
}

// Logout tears the session down: best-effort backend notification, store
// clear, scheduler stop. It never fails; a second call, sequential or
// concurrent, lands in the same logged-out state.
func (m *Manager) Logout(ctx context.Context) {
	if !m.tearingDown.CompareAndSwap(false, true) {
		return
	}
	defer m.tearingDown.Store(false)

	m.teardown(ctx, true, EventLogout)
}

// UnauthorizedHandler returns the callback the API transport invokes when a
// business request comes back 401. Concurrent invocations collapse into a
// single teardown and a single forced-logout event.
func (m *Manager) UnauthorizedHandler() func() {
	return func() {
		m.forceLogout(context.Background(), "unauthorized api response")
	}
}

func (m *Manager) forceLogout(ctx context.Context, reason string) {
	if !m.tearingDown.CompareAndSwap(false, true) {
		return
	}
	defer m.tearingDown.Store(false)

	m.log.Warn().Str("reason", reason).Msg("session invalidated, logging out")

	// The backend already rejected this session, so the logout endpoint is
	// not called; there is nothing server-side left to revoke with it.
	m.teardown(ctx, false, EventForcedLogout)
}

// teardown clears every trace of the session, emits ev, and, when the app
// runs inside a Mini App host, immediately attempts a silent re-login so
// those users never see a login screen.
func (m *Manager) teardown(ctx context.Context, notifyBackend bool, ev Event) {
	if notifyBackend {
		if sess, err := m.repo.Load(ctx); err == nil && sess != nil {
			lctx, cancel := context.WithTimeout(ctx, logoutTimeout)
			if err := m.api.Logout(lctx, sess.AccessToken); err != nil {
				m.log.Debug().Err(err).Msg("backend logout failed")
			}
			cancel()
		}
	}

	// Clear while holding the lock Refresh persists under, so an in-flight
	// refresh cannot write the session back after the store is emptied.
	m.mu.Lock()
	if err := m.repo.Clear(ctx); err != nil {
		m.log.Error().Err(err).Msg("clearing session store failed")
	}
	m.generation++
	if m.stopSched != nil {
		close(m.stopSched)
		m.stopSched = nil
	}
	m.snap = Snapshot{Status: StatusUnauthenticated}
	m.mu.Unlock()

	m.notify(ev)

	if m.autoLogin != nil && m.autoLogin.Available() {
		sess, err := m.autoLogin.Attempt(ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("mini app re-login failed")
			return
		}
		if sess != nil {
			m.adoptSession(sess, StatusTrusted)
			m.notify(EventAutoLogin)
		}
	}
}

// Refresh rotates the access token in place. The refresh token and user
// identity are never touched. A definitive backend rejection of the refresh
// token tears the whole session down; transient failures leave everything
// stored and return an error for the scheduler to retry.
func (m *Manager) Refresh(ctx context.Context) error {
	sess, err := m.repo.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "[Manager.Refresh] load session")
	}
	if sess == nil {
		return ErrNoSession
	}

	access, err := m.api.RefreshAccessToken(ctx, sess.RefreshToken)
	if err != nil {
		m.notify(EventRefreshFailed)
		if rejected(err) {
			m.forceLogout(ctx, "refresh token rejected")
			return errors.Wrap(err, "[Manager.Refresh] refresh token rejected")
		}
		return errors.Wrap(err, "[Manager.Refresh] token exchange")
	}
	if access == "" {
		m.notify(EventRefreshFailed)
		return errors.Wrap(ErrInvalidGrant, "[Manager.Refresh] empty access token")
	}

	m.mu.Lock()
	current, loadErr := m.repo.Load(ctx)
	if loadErr != nil {
		m.mu.Unlock()
		return errors.Wrap(loadErr, "[Manager.Refresh] reload session")
	}
	if current == nil || current.RefreshToken != sess.RefreshToken {
		// A logout or a new login landed while the exchange was in flight.
		// Discard the result rather than resurrect a torn-down session.
		m.mu.Unlock()
		return ErrSessionReplaced
	}
	current.AccessToken = access
	if err := m.repo.Save(ctx, current); err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "[Manager.Refresh] persist session")
	}
	// A successful exchange proves the refresh token, so an unverified
	// session earns full trust here.
	if m.snap.Status == StatusDegraded {
		m.snap.Status = StatusTrusted
	}
	m.mu.Unlock()

	m.notify(EventRefreshed)
	return nil
}

// Close stops the background refresh scheduler without touching stored
// state. Meant for process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.stopSched != nil {
		close(m.stopSched)
		m.stopSched = nil
	}
}

// adoptSession installs sess as the live session and (re)starts the refresh
// scheduler for it.
func (m *Manager) adoptSession(sess *Session, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(sess, status)
}

// adoptSessionIf is adoptSession guarded by a generation check, used by the
// initializer so it never stomps a login or teardown that happened while it
// was off doing network calls.
func (m *Manager) adoptSessionIf(gen int64, sess *Session, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.adoptLocked(sess, status)
	return true
}

func (m *Manager) adoptLocked(sess *Session, status Status) {
	m.generation++
	user := sess.User
	m.snap = Snapshot{Status: status, User: &user}
	if m.stopSched != nil {
		close(m.stopSched)
	}
	stop := make(chan struct{})
	m.stopSched = stop
	go m.refreshLoop(m.generation, stop, sess.AccessToken)
}

func (m *Manager) setStatusIf(gen int64, status Status, user *User) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return false
	}
	m.snap = Snapshot{Status: status, User: user}
	return true
}

func (m *Manager) sameGeneration(gen int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}
