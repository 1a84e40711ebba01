// Package repofakes provides an in-memory session.Repo for tests.
package repofakes

import (
	"context"
	"sync"

	"github.com/channelpulse/channelpulse-go/session"
)

var _ session.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	sess *session.Session
	lock sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{}
}

func (fr *FakeSessionRepo) Load(_ context.Context) (*session.Session, error) {
	fr.lock.RLock()
	defer fr.lock.RUnlock()

	if fr.sess == nil || !fr.sess.Valid() {
		return nil, nil
	}
	copied := *fr.sess
	return &copied, nil
}

func (fr *FakeSessionRepo) Save(_ context.Context, sess *session.Session) error {
	if !sess.Valid() {
		return session.ErrPartialSession
	}

	fr.lock.Lock()
	defer fr.lock.Unlock()

	copied := *sess
	fr.sess = &copied
	return nil
}

func (fr *FakeSessionRepo) Clear(_ context.Context) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	fr.sess = nil
	return nil
}
