package miniapp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/channelpulse/channelpulse-go/session"
)

// GrantExchanger is the backend call that turns init data into a session
// grant. *api.Client satisfies it.
type GrantExchanger interface {
	TelegramMiniApp(ctx context.Context, initData string) (*session.Grant, error)
}

var _ session.AutoLogin = (*AutoLogin)(nil)

// AutoLogin exchanges the host's init data for a session and writes it to
// the shared store. The session manager waits a grace window for that write
// during startup and calls Attempt directly after a teardown.
type AutoLogin struct {
	exchanger GrantExchanger
	repo      session.Repo
	initData  string // raw init data from the host; empty outside a Mini App
	validator *Validator
	nowTime   func() time.Time // nowTime function (injectable for testing)
	log       zerolog.Logger
}

// AutoLoginOption defines a function type to modify the AutoLogin instance.
type AutoLoginOption func(*AutoLogin)

// WithValidator checks the init data signature locally before spending a
// round trip on data the backend would reject anyway.
func WithValidator(v *Validator) AutoLoginOption {
	return func(al *AutoLogin) { al.validator = v }
}

// WithAutoLoginNowFunc sets the now time function (primarily for testing)
func WithAutoLoginNowFunc(nowFunc func() time.Time) AutoLoginOption {
	return func(al *AutoLogin) { al.nowTime = nowFunc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) AutoLoginOption {
	return func(al *AutoLogin) { al.log = log }
}

// NewAutoLogin creates the collaborator. initData is whatever the host
// environment handed over, empty when not running inside a Mini App.
func NewAutoLogin(exchanger GrantExchanger, repo session.Repo, initData string, options ...AutoLoginOption) (*AutoLogin, error) {
	if exchanger == nil {
		return nil, errors.New("[miniapp.NewAutoLogin] grant exchanger is required")
	}
	if repo == nil {
		return nil, errors.New("[miniapp.NewAutoLogin] session repo is required")
	}

	al := &AutoLogin{
		exchanger: exchanger,
		repo:      repo,
		initData:  initData,
		nowTime:   time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(al)
	}
	return al, nil
}

// Available reports whether the app runs inside a Mini App host.
func (al *AutoLogin) Available() bool {
	return al.initData != ""
}

// Attempt exchanges the init data for a session and persists it. The stored
// session is returned so the caller can adopt it without another store read.
func (al *AutoLogin) Attempt(ctx context.Context) (*session.Session, error) {
	if !al.Available() {
		return nil, ErrNotMiniApp
	}

	if al.validator != nil {
		if _, err := al.validator.Validate(al.initData); err != nil {
			return nil, errors.Wrap(err, "[AutoLogin.Attempt] validate init data")
		}
	}

	grant, err := al.exchanger.TelegramMiniApp(ctx, al.initData)
	if err != nil {
		return nil, errors.Wrap(err, "[AutoLogin.Attempt] exchange init data")
	}

	sess, err := session.NewFromGrant(grant, al.nowTime())
	if err != nil {
		return nil, errors.Wrap(err, "[AutoLogin.Attempt] grant")
	}
	if err := al.repo.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "[AutoLogin.Attempt] persist session")
	}

	al.log.Debug().Str("user_id", sess.User.ID).Msg("mini app auto-login complete")
	return sess, nil
}
