// Package redisrepo persists the session in Redis, for deployments where a
// ChannelPulse worker fleet shares one service account session.
package redisrepo

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/channelpulse/channelpulse-go/session"
)

const sessionKey = "session"

// legacyKeys are per-field keys earlier releases stored alongside the blob.
// Clear deletes them too so an upgrade never resurrects a torn-down session.
var legacyKeys = []string{"access_token", "refresh_token", "last_login_time", "demo_mode"}

var _ session.Repo = (*Repo)(nil)

// Repo stores the session as one JSON blob under <prefix>:session.
type Repo struct {
	client *redis.Client
	prefix string
}

// New creates a Repo on an existing Redis client. The prefix namespaces all
// keys, typically one prefix per service account.
func New(client *redis.Client, prefix string) (*Repo, error) {
	if client == nil {
		return nil, errors.New("[redisrepo.New] redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("[redisrepo.New] key prefix is required")
	}
	return &Repo{client: client, prefix: prefix}, nil
}

func (r *Repo) key(name string) string {
	return r.prefix + ":" + name
}

// Load reads the stored session. Missing, unparseable or incomplete blobs
// report as no session.
func (r *Repo) Load(ctx context.Context) (*session.Session, error) {
	data, err := r.client.Get(ctx, r.key(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.Load] get session")
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil
	}
	if !sess.Valid() {
		return nil, nil
	}
	return &sess, nil
}

// Save replaces the stored session in a single SET.
func (r *Repo) Save(ctx context.Context, sess *session.Session) error {
	if !sess.Valid() {
		return session.ErrPartialSession
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] marshal session")
	}
	if err := r.client.Set(ctx, r.key(sessionKey), data, 0).Err(); err != nil {
		return errors.Wrap(err, "[Repo.Save] set session")
	}
	return nil
}

// Clear deletes the session blob and every legacy key in one DEL.
func (r *Repo) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(legacyKeys)+1)
	keys = append(keys, r.key(sessionKey))
	for _, name := range legacyKeys {
		keys = append(keys, r.key(name))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "[Repo.Clear] delete session keys")
	}
	return nil
}
