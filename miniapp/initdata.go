// Package miniapp validates Telegram Mini App init data and drives the
// silent login flow used when ChannelPulse runs inside a Mini App host.
package miniapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Validation errors.
var (
	ErrMissingHash  = errors.New("init data has no hash field")
	ErrHashMismatch = errors.New("init data hash mismatch")
	ErrExpired      = errors.New("init data auth_date too old")
	ErrNotMiniApp   = errors.New("not running inside a mini app host")
)

// webAppKey is the fixed HMAC key Telegram specifies for deriving the
// per-bot secret from the bot token.
const webAppKey = "WebAppData"

// WebAppUser is the Telegram profile embedded in init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Language  string `json:"language_code,omitempty"`
}

// InitData is the validated payload handed over by the Mini App host.
type InitData struct {
	QueryID  string
	User     *WebAppUser
	AuthDate time.Time
	Raw      url.Values
}

// Validator checks init data signatures for one bot.
type Validator struct {
	secret  []byte
	maxAge  time.Duration
	nowTime func() time.Time // nowTime function (injectable for testing)
}

// ValidatorOption defines a function type to modify the Validator instance.
type ValidatorOption func(*Validator)

// WithMaxAge bounds how old auth_date may be. Zero disables the check.
func WithMaxAge(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.maxAge = d }
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ValidatorOption {
	return func(v *Validator) { v.nowTime = nowFunc }
}

// NewValidator derives the signing secret from the bot token.
func NewValidator(botToken string, options ...ValidatorOption) (*Validator, error) {
	if botToken == "" {
		return nil, errors.New("[miniapp.NewValidator] bot token is required")
	}

	mac := hmac.New(sha256.New, []byte(webAppKey))
	mac.Write([]byte(botToken))

	v := &Validator{
		secret:  mac.Sum(nil),
		maxAge:  24 * time.Hour,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate checks the signature and age of raw init data and returns the
// decoded payload.
func (v *Validator) Validate(raw string) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.Validate] parse init data")
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrMissingHash
	}

	expected := hex.EncodeToString(v.sign(values))
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, ErrHashMismatch
	}

	data := &InitData{
		QueryID: values.Get("query_id"),
		Raw:     values,
	}

	if authDate := values.Get("auth_date"); authDate != "" {
		unix, err := strconv.ParseInt(authDate, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "[Validator.Validate] parse auth_date")
		}
		data.AuthDate = time.Unix(unix, 0)
		if v.maxAge > 0 && v.nowTime().Sub(data.AuthDate) > v.maxAge {
			return nil, ErrExpired
		}
	}

	if rawUser := values.Get("user"); rawUser != "" {
		var user WebAppUser
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			return nil, errors.Wrap(err, "[Validator.Validate] parse user")
		}
		data.User = &user
	}

	return data, nil
}

// sign computes the HMAC over the data-check string: every field except
// hash, sorted by key, joined as key=value lines.
func (v *Validator) sign(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return mac.Sum(nil)
}

// SignInitData produces signed init data for the given values, the way a
// Mini App host would. Meant for tests and local development fixtures.
func SignInitData(botToken string, values url.Values) string {
	mac := hmac.New(sha256.New, []byte(webAppKey))
	mac.Write([]byte(botToken))
	v := &Validator{secret: mac.Sum(nil)}

	signed := url.Values{}
	for key, vals := range values {
		if key == "hash" {
			continue
		}
		signed[key] = vals
	}
	signed.Set("hash", hex.EncodeToString(v.sign(signed)))
	return signed.Encode()
}
