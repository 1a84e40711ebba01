package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/channelpulse/channelpulse-go/session"
)

// Auth-flow endpoints take their credentials explicitly and never fire the
// unauthorized callback: a 401 here is the outcome of the call itself, not
// evidence that the stored session died.

type grantResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *session.User `json:"user"`
}

// grant enforces the response contract. A grant missing either token or the
// user identity is malformed; persisting it would strand a half-session.
func (g grantResponse) grant() (*session.Grant, error) {
	if g.AccessToken == "" || g.RefreshToken == "" || g.User == nil || g.User.ID == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "grant missing token pair or user")
	}
	return &session.Grant{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		User:         *g.User,
	}, nil
}

// Login exchanges credentials for a session grant.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.Grant, error) {
	payload := struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me,omitempty"`
	}{creds.Email, creds.Password, creds.RememberMe}

	var resp grantResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/login", payload: payload, out: &resp}); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	return resp.grant()
}

// Register creates an account; the backend signs the new user straight in,
// so the response contract matches Login.
func (c *Client) Register(ctx context.Context, reg session.Registration) (*session.Grant, error) {
	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username,omitempty"`
	}{reg.Email, reg.Password, reg.Username}

	var resp grantResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/register", payload: payload, out: &resp}); err != nil {
		return nil, errors.Wrap(err, "[Client.Register]")
	}
	return resp.grant()
}

// Me fetches the profile behind an access token. Used by the startup
// verification, which is why the token comes in explicitly instead of from
// the store.
func (c *Client) Me(ctx context.Context, accessToken string) (*session.User, error) {
	var user session.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/me", out: &user, bearer: accessToken}); err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	if user.ID == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "[Client.Me] user missing id")
	}
	return &user, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token. The
// refresh token itself does not rotate.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	payload := struct {
		RefreshToken string `json:"refresh_token"`
	}{refreshToken}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/refresh", payload: payload, out: &resp}); err != nil {
		return "", errors.Wrap(err, "[Client.RefreshAccessToken]")
	}
	if resp.AccessToken == "" {
		return "", errors.Wrap(ErrMalformedResponse, "[Client.RefreshAccessToken] empty access token")
	}
	return resp.AccessToken, nil
}

// Logout tells the backend to revoke the session. Best effort; the caller
// clears local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", bearer: accessToken}); err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	return nil
}

// TelegramMiniApp exchanges signed Mini App init data for a session grant.
func (c *Client) TelegramMiniApp(ctx context.Context, initData string) (*session.Grant, error) {
	payload := struct {
		InitData string `json:"init_data"`
	}{initData}

	var resp grantResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/telegram/miniapp", payload: payload, out: &resp}); err != nil {
		return nil, errors.Wrap(err, "[Client.TelegramMiniApp]")
	}
	return resp.grant()
}
