package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// refreshLoop is the background scheduler started whenever a session is
// adopted. It sleeps until just before the access token expires, refreshes,
// and reschedules from the new token. Transient failures retry on a fixed
// cadence; terminal outcomes (teardown, replacement, rejection) end the
// loop, as does the stop channel.
func (m *Manager) refreshLoop(gen int64, stop <-chan struct{}, accessToken string) {
	timer := time.NewTimer(m.nextRefreshDelay(accessToken))
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		if !m.sameGeneration(gen) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		err := m.Refresh(ctx)
		cancel()

		switch {
		case err == nil:
			sess, loadErr := m.repo.Load(context.Background())
			if loadErr != nil || sess == nil {
				return
			}
			timer.Reset(m.nextRefreshDelay(sess.AccessToken))
		case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionReplaced):
			return
		case rejected(err):
			// Refresh already tore the session down.
			return
		default:
			m.log.Warn().Err(err).Dur("retry_in", m.retryInterval).Msg("scheduled token refresh failed")
			timer.Reset(m.retryInterval)
		}
	}
}

// nextRefreshDelay computes how long to sleep before the next refresh. With
// a readable exp claim the refresh lands refreshLead before expiry; without
// one the fixed interval applies.
func (m *Manager) nextRefreshDelay(accessToken string) time.Duration {
	exp, ok := tokenExpiry(accessToken)
	if !ok {
		return m.refreshInterval
	}
	delay := exp.Sub(m.nowTime()) - m.refreshLead
	if delay < minRefreshDelay {
		return minRefreshDelay
	}
	if delay > m.refreshInterval {
		return m.refreshInterval
	}
	return delay
}
