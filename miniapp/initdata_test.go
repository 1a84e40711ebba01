package miniapp_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/channelpulse/channelpulse-go/miniapp"
	"github.com/channelpulse/channelpulse-go/session"
	"github.com/channelpulse/channelpulse-go/session/repofakes"
)

const testBotToken = "7000000001:AAtest-bot-token-fixture"

func signedInitData(t *testing.T, authDate time.Time) string {
	t.Helper()

	values := url.Values{}
	values.Set("query_id", "AAE1")
	values.Set("user", `{"id":9000,"first_name":"Ana","username":"ana_tg"}`)
	values.Set("auth_date", fmt.Sprintf("%d", authDate.Unix()))
	return miniapp.SignInitData(testBotToken, values)
}

func TestValidateAcceptsSignedInitData(t *testing.T) {
	validator, err := miniapp.NewValidator(testBotToken)
	require.NoError(t, err)

	data, err := validator.Validate(signedInitData(t, time.Now()))
	require.NoError(t, err)
	require.Equal(t, "AAE1", data.QueryID)
	require.NotNil(t, data.User)
	require.Equal(t, int64(9000), data.User.ID)
	require.Equal(t, "ana_tg", data.User.Username)
}

func TestValidateRejectsTamperedData(t *testing.T) {
	validator, err := miniapp.NewValidator(testBotToken)
	require.NoError(t, err)

	raw := signedInitData(t, time.Now())
	tampered := strings.Replace(raw, "ana_tg", "eve_tg", 1)
	require.NotEqual(t, raw, tampered)

	_, err = validator.Validate(tampered)
	require.ErrorIs(t, err, miniapp.ErrHashMismatch)
}

func TestValidateRejectsWrongBotToken(t *testing.T) {
	validator, err := miniapp.NewValidator("7000000002:AAother-bot")
	require.NoError(t, err)

	_, err = validator.Validate(signedInitData(t, time.Now()))
	require.ErrorIs(t, err, miniapp.ErrHashMismatch)
}

func TestValidateRejectsMissingHash(t *testing.T) {
	validator, err := miniapp.NewValidator(testBotToken)
	require.NoError(t, err)

	_, err = validator.Validate("query_id=AAE1&auth_date=12345")
	require.ErrorIs(t, err, miniapp.ErrMissingHash)
}

func TestValidateRejectsOldAuthDate(t *testing.T) {
	now := time.Now()
	validator, err := miniapp.NewValidator(testBotToken,
		miniapp.WithMaxAge(time.Hour),
		miniapp.WithNowFunc(func() time.Time { return now }),
	)
	require.NoError(t, err)

	_, err = validator.Validate(signedInitData(t, now.Add(-2*time.Hour)))
	require.ErrorIs(t, err, miniapp.ErrExpired)

	_, err = validator.Validate(signedInitData(t, now.Add(-time.Minute)))
	require.NoError(t, err)
}

type fakeExchanger struct {
	grant *session.Grant
	err   error
	calls int
}

func (fe *fakeExchanger) TelegramMiniApp(_ context.Context, _ string) (*session.Grant, error) {
	fe.calls++
	return fe.grant, fe.err
}

func TestAutoLoginAttemptPersistsSession(t *testing.T) {
	repo := repofakes.NewFakeSessionRepo()
	exchanger := &fakeExchanger{grant: &session.Grant{
		AccessToken:  "tg-access",
		RefreshToken: "tg-refresh",
		User:         session.User{ID: "tg-9000", Username: "ana_tg", Role: session.RoleMember},
	}}

	al, err := miniapp.NewAutoLogin(exchanger, repo, signedInitData(t, time.Now()))
	require.NoError(t, err)
	require.True(t, al.Available())

	sess, err := al.Attempt(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tg-access", sess.AccessToken)

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "tg-9000", stored.User.ID)
	require.False(t, stored.IssuedAt.IsZero())
}

func TestAutoLoginUnavailableOutsideHost(t *testing.T) {
	al, err := miniapp.NewAutoLogin(&fakeExchanger{}, repofakes.NewFakeSessionRepo(), "")
	require.NoError(t, err)
	require.False(t, al.Available())

	_, err = al.Attempt(context.Background())
	require.ErrorIs(t, err, miniapp.ErrNotMiniApp)
}

func TestAutoLoginRejectsMalformedGrant(t *testing.T) {
	repo := repofakes.NewFakeSessionRepo()
	exchanger := &fakeExchanger{grant: &session.Grant{AccessToken: "tg-access"}} // no refresh token, no user

	al, err := miniapp.NewAutoLogin(exchanger, repo, signedInitData(t, time.Now()))
	require.NoError(t, err)

	_, err = al.Attempt(context.Background())
	require.ErrorIs(t, err, session.ErrInvalidGrant)

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestAutoLoginLocalValidationShortCircuits(t *testing.T) {
	validator, err := miniapp.NewValidator(testBotToken)
	require.NoError(t, err)

	exchanger := &fakeExchanger{}
	al, err := miniapp.NewAutoLogin(exchanger, repofakes.NewFakeSessionRepo(),
		"query_id=AAE1&hash=deadbeef",
		miniapp.WithValidator(validator),
	)
	require.NoError(t, err)

	_, err = al.Attempt(context.Background())
	require.ErrorIs(t, err, miniapp.ErrHashMismatch)
	require.Zero(t, exchanger.calls)
}
