// Package filerepo persists the session as a single JSON file, the way
// desktop and CLI installs of ChannelPulse store their credentials.
package filerepo

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/channelpulse/channelpulse-go/session"
)

// legacyFileNames are sibling files earlier releases wrote next to the
// session blob. Clear removes them too; stale copies used to resurrect
// logged-out sessions after an upgrade.
var legacyFileNames = []string{"session.json", "token.json", "auth_token", "demo_mode"}

var _ session.Repo = (*Repo)(nil)

// Repo stores the session at a fixed path. Writes go through a temp file
// and rename so a crash mid-write can never leave a half-written pair
// behind.
type Repo struct {
	path    string
	sealKey []byte // nil stores plaintext JSON
	lock    sync.Mutex
}

// Option defines a function type to modify the Repo instance.
type Option func(*Repo)

// WithSealKey encrypts the blob at rest with XChaCha20-Poly1305. The key
// must be chacha20poly1305.KeySize bytes.
func WithSealKey(key []byte) Option {
	return func(r *Repo) { r.sealKey = key }
}

// New creates a Repo rooted at path.
func New(path string, options ...Option) (*Repo, error) {
	if path == "" {
		return nil, errors.New("[filerepo.New] path is required")
	}

	r := &Repo{path: path}
	for _, opt := range options {
		opt(r)
	}

	if r.sealKey != nil && len(r.sealKey) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("[filerepo.New] seal key must be %d bytes", chacha20poly1305.KeySize)
	}
	return r, nil
}

// Load reads the stored session. A missing file, an unparseable blob or an
// incomplete session all report as no session. A sealed blob that fails to
// open is an error: that is a key problem, not an absent session.
func (r *Repo) Load(_ context.Context) (*session.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.Load] read session file")
	}

	if r.sealKey != nil {
		data, err = r.unseal(data)
		if err != nil {
			return nil, errors.Wrap(err, "[Repo.Load] unseal session file")
		}
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

// Save writes the session atomically with owner-only permissions.
func (r *Repo) Save(_ context.Context, sess *session.Session) error {
	if !sess.Valid() {
		return session.ErrPartialSession
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] marshal session")
	}
	if r.sealKey != nil {
		data, err = r.seal(data)
		if err != nil {
			return errors.Wrap(err, "[Repo.Save] seal session")
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrap(err, "[Repo.Save] create directory")
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "[Repo.Save] write session file")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "[Repo.Save] replace session file")
	}
	return nil
}

// Clear removes the session file, any orphaned temp file and every legacy
// sibling. Clearing an already empty directory is a no-op.
func (r *Repo) Clear(_ context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	targets := []string{r.path, r.path + ".tmp"}
	dir := filepath.Dir(r.path)
	for _, name := range legacyFileNames {
		if legacy := filepath.Join(dir, name); legacy != r.path {
			targets = append(targets, legacy)
		}
	}

	for _, target := range targets {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "[Repo.Clear] remove %s", filepath.Base(target))
		}
	}
	return nil
}
