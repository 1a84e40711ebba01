package session

import "context"

// Repo persists the session as one atomic unit. Implementations live in the
// filerepo and redisrepo subpackages; tests use repofakes.
//
// Writes are last-write-wins: overlapping Save and Clear calls may interleave
// freely and the store simply holds whichever complete state landed last.
type Repo interface {
	// Load returns the stored session, or (nil, nil) when no usable session
	// exists. A blob that is missing, unparseable or incomplete is reported
	// as absent, not as an error; errors are reserved for the store itself
	// being unreachable.
	Load(ctx context.Context) (*Session, error)

	// Save replaces the stored session. Sessions missing either token or the
	// user are rejected with ErrPartialSession so that a partial pair can
	// never be observed by a later Load.
	Save(ctx context.Context, sess *Session) error

	// Clear removes the session along with any auxiliary keys earlier
	// layouts left behind. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}
