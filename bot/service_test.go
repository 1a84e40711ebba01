package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/channelpulse/channelpulse-go/api"
	"github.com/channelpulse/channelpulse-go/session"
	"github.com/channelpulse/channelpulse-go/telegram"
)

type sentMessage struct {
	chatID int64
	text   string
}

type pollResult struct {
	updates []telegram.Update
	err     error
}

type fakeMessenger struct {
	mu      sync.Mutex
	script  []pollResult // consumed in order; when empty, Updates blocks on ctx
	offsets []int64
	sent    []sentMessage
}

func (fm *fakeMessenger) Updates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	fm.mu.Lock()
	fm.offsets = append(fm.offsets, offset)
	if len(fm.script) == 0 {
		fm.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := fm.script[0]
	fm.script = fm.script[1:]
	fm.mu.Unlock()
	return next.updates, next.err
}

func (fm *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.sent = append(fm.sent, sentMessage{chatID, text})
	return nil
}

func (fm *fakeMessenger) sawOffset(offset int64) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, o := range fm.offsets {
		if o == offset {
			return true
		}
	}
	return false
}

func (fm *fakeMessenger) pollCount() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.offsets)
}

func (fm *fakeMessenger) sentMessages() []sentMessage {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]sentMessage(nil), fm.sent...)
}

type fakeAnalytics struct {
	channels     []api.Channel
	channelsErr  error
	overview     *api.Overview
	overviewErr  error
	alerts       []api.Alert
	alertsErr    error
	gotChannelID string
	gotPeriod    string
}

func (fa *fakeAnalytics) Channels(_ context.Context) ([]api.Channel, error) {
	return fa.channels, fa.channelsErr
}

func (fa *fakeAnalytics) ChannelOverview(_ context.Context, channelID, period string) (*api.Overview, error) {
	fa.gotChannelID = channelID
	fa.gotPeriod = period
	return fa.overview, fa.overviewErr
}

func (fa *fakeAnalytics) Alerts(_ context.Context) ([]api.Alert, error) {
	return fa.alerts, fa.alertsErr
}

type fakeSessions struct {
	snap session.Snapshot
}

func (fs fakeSessions) State() session.Snapshot { return fs.snap }

func authedSessions() fakeSessions {
	return fakeSessions{snap: session.Snapshot{
		Status: session.StatusTrusted,
		User:   &session.User{ID: "user-1", Role: session.RoleOwner},
	}}
}

func loggedOutSessions() fakeSessions {
	return fakeSessions{snap: session.Snapshot{Status: session.StatusUnauthenticated}}
}

func command(text string) *telegram.Message {
	return &telegram.Message{ID: 1, Chat: telegram.Chat{ID: 100}, Text: text}
}

func newTestService(t *testing.T, fm *fakeMessenger, sessions SessionState, analytics Analytics, options ...Option) *Service {
	t.Helper()
	svc, err := NewService(fm, analytics, sessions, options...)
	require.NoError(t, err)
	return svc
}

func TestChannelsCommand(t *testing.T) {
	analytics := &fakeAnalytics{channels: []api.Channel{
		{ID: "ch-1", Title: "Daily Pulse", Username: "dailypulse", Subscribers: 1200},
		{ID: "ch-2", Title: "Night Shift", Subscribers: 300},
	}}
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), analytics)

	reply := svc.dispatch(context.Background(), command("/channels"))
	require.Contains(t, reply, "Tracking 2 channel(s)")
	require.Contains(t, reply, "Daily Pulse (@dailypulse): 1200 subscribers")
	require.Contains(t, reply, "Night Shift: 300 subscribers")
}

func TestChannelsCommandEmpty(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), &fakeAnalytics{})
	reply := svc.dispatch(context.Background(), command("/channels"))
	require.Equal(t, "No channels tracked yet.", reply)
}

func TestCommandsRequireSession(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, loggedOutSessions(), &fakeAnalytics{})

	for _, text := range []string{"/channels", "/stats ch-1", "/alerts"} {
		reply := svc.dispatch(context.Background(), command(text))
		require.Contains(t, reply, "Not signed in", "command %q", text)
	}
}

func TestStatsCommand(t *testing.T) {
	analytics := &fakeAnalytics{overview: &api.Overview{
		ChannelID:       "ch-1",
		Period:          "30d",
		Subscribers:     1200,
		SubscriberDelta: -12,
		Views:           90000,
		Posts:           42,
		EngagementRate:  0.043,
	}}
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), analytics)

	reply := svc.dispatch(context.Background(), command("/stats ch-1 30d"))
	require.Equal(t, "ch-1", analytics.gotChannelID)
	require.Equal(t, "30d", analytics.gotPeriod)
	require.Contains(t, reply, "Subscribers: 1200 (-12)")
	require.Contains(t, reply, "Engagement: 4.3%")
}

func TestStatsCommandDefaultsPeriod(t *testing.T) {
	analytics := &fakeAnalytics{overview: &api.Overview{ChannelID: "ch-1", Period: "7d"}}
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), analytics)

	svc.dispatch(context.Background(), command("/stats ch-1"))
	require.Equal(t, "7d", analytics.gotPeriod)
}

func TestStatsCommandUsage(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), &fakeAnalytics{})
	reply := svc.dispatch(context.Background(), command("/stats"))
	require.Equal(t, "Usage: /stats <channel> [period]", reply)
}

func TestAlertsCommand(t *testing.T) {
	analytics := &fakeAnalytics{alerts: []api.Alert{
		{ID: "alert-1", ChannelID: "ch-1", Metric: "subscribers", Threshold: 1000, Direction: "below", Enabled: true},
		{ID: "alert-2", ChannelID: "ch-2", Metric: "views", Threshold: 500, Direction: "above"},
	}}
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), analytics)

	reply := svc.dispatch(context.Background(), command("/alerts"))
	require.Contains(t, reply, "subscribers below 1000 on ch-1 (enabled)")
	require.Contains(t, reply, "views above 500 on ch-2 (disabled)")
}

func TestGroupChatCommandSuffix(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), &fakeAnalytics{})
	reply := svc.dispatch(context.Background(), command("/channels@channelpulse_bot"))
	require.Equal(t, "No channels tracked yet.", reply)
}

func TestNonCommandsIgnored(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), &fakeAnalytics{})
	require.Empty(t, svc.dispatch(context.Background(), command("hello there")))
	require.Empty(t, svc.dispatch(context.Background(), &telegram.Message{Chat: telegram.Chat{ID: 100}}))
}

func TestUnknownCommand(t *testing.T) {
	svc := newTestService(t, &fakeMessenger{}, authedSessions(), &fakeAnalytics{})
	reply := svc.dispatch(context.Background(), command("/frobnicate"))
	require.Contains(t, reply, "Unknown command")
}

func TestRunHandlesUpdatesAndAdvancesOffset(t *testing.T) {
	fm := &fakeMessenger{script: []pollResult{
		{updates: []telegram.Update{{ID: 41, Message: command("/start")}}},
	}}
	svc := newTestService(t, fm, authedSessions(), &fakeAnalytics{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fm.sawOffset(42) && len(fm.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	sent := fm.sentMessages()
	require.Equal(t, int64(100), sent[0].chatID)
	require.Contains(t, sent[0].text, "/channels")
}

func TestRunBacksOffAfterPollFailure(t *testing.T) {
	fm := &fakeMessenger{script: []pollResult{
		{err: errors.New("telegram: 502")},
		{updates: nil},
	}}
	svc := newTestService(t, fm, authedSessions(), &fakeAnalytics{}, WithErrorBackoff(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return fm.pollCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
