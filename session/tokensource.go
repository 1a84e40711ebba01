package session

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// TokenSource adapts the managed session to golang.org/x/oauth2, so HTTP
// stacks built around oauth2.Transport can ride on the lifecycle. The source
// reads the store on every call and never refreshes on its own; rotation
// stays with the scheduler.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{m: m, ctx: ctx}
}

type storeTokenSource struct {
	m   *Manager
	ctx context.Context
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	sess, err := ts.m.repo.Load(ts.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[TokenSource] load session")
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	token := &oauth2.Token{
		AccessToken: sess.AccessToken,
		TokenType:   "Bearer",
	}
	if exp, ok := sess.AccessTokenExpiry(); ok {
		token.Expiry = exp
	}
	return token, nil
}
