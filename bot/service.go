// Package bot implements the ChannelPulse notification bot: a long-polling
// command loop that answers analytics queries in Telegram chats, riding on
// the shared backend session.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/channelpulse/channelpulse-go/api"
	"github.com/channelpulse/channelpulse-go/session"
	"github.com/channelpulse/channelpulse-go/telegram"
)

const (
	defaultPollTimeout  = 30 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

// Messenger is the slice of the Telegram client the service uses.
// *telegram.Bot satisfies it.
type Messenger interface {
	Updates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Analytics is the slice of the backend client the commands read from.
// *api.Client satisfies it.
type Analytics interface {
	Channels(ctx context.Context) ([]api.Channel, error)
	ChannelOverview(ctx context.Context, channelID, period string) (*api.Overview, error)
	Alerts(ctx context.Context) ([]api.Alert, error)
}

// SessionState exposes the lifecycle snapshot. *session.Manager satisfies
// it.
type SessionState interface {
	State() session.Snapshot
}

// Service runs the command loop.
type Service struct {
	messenger    Messenger
	analytics    Analytics
	sessions     SessionState
	log          zerolog.Logger
	pollTimeout  time.Duration
	errorBackoff time.Duration
	updateHook   func()
}

// Option defines a function type to modify the Service instance.
type Option func(*Service)

// WithPollTimeout sets the long-poll hold time.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) { s.pollTimeout = d }
}

// WithErrorBackoff sets how long the loop sleeps after a failed poll.
func WithErrorBackoff(d time.Duration) Option {
	return func(s *Service) { s.errorBackoff = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithUpdateHook registers an observer called once per handled update, used
// to feed metrics.
func WithUpdateHook(hook func()) Option {
	return func(s *Service) { s.updateHook = hook }
}

// NewService wires the command loop to its collaborators.
func NewService(messenger Messenger, analytics Analytics, sessions SessionState, options ...Option) (*Service, error) {
	if messenger == nil {
		return nil, errors.New("[bot.NewService] messenger is required")
	}
	if analytics == nil {
		return nil, errors.New("[bot.NewService] analytics client is required")
	}
	if sessions == nil {
		return nil, errors.New("[bot.NewService] session state is required")
	}

	s := &Service{
		messenger:    messenger,
		analytics:    analytics,
		sessions:     sessions,
		log:          zerolog.Nop(),
		pollTimeout:  defaultPollTimeout,
		errorBackoff: defaultErrorBackoff,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Run long-polls for updates until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := s.messenger.Updates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Dur("backoff", s.errorBackoff).Msg("update poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.errorBackoff):
			}
			continue
		}

		for _, update := range updates {
			offset = update.ID + 1
			s.handleUpdate(ctx, update)
			if s.updateHook != nil {
				s.updateHook()
			}
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	reply := s.dispatch(ctx, msg)
	if reply == "" {
		return
	}
	if err := s.messenger.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		s.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("send reply failed")
	}
}

func (s *Service) dispatch(ctx context.Context, msg *telegram.Message) string {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}

	// Group chats address commands as /stats@botname.
	command := fields[0]
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	switch command {
	case "/start":
		return "ChannelPulse bot at your service.\n" +
			"/channels lists tracked channels\n" +
			"/stats <channel> [period] shows an overview\n" +
			"/alerts lists alert rules"
	case "/channels":
		return s.channelsReply(ctx)
	case "/stats":
		return s.statsReply(ctx, fields[1:])
	case "/alerts":
		return s.alertsReply(ctx)
	default:
		return "Unknown command. Try /channels, /stats <channel> or /alerts."
	}
}

func (s *Service) requireSession() string {
	if s.sessions.State().Authenticated() {
		return ""
	}
	return "Not signed in to ChannelPulse right now, try again in a bit."
}

func (s *Service) channelsReply(ctx context.Context) string {
	if msg := s.requireSession(); msg != "" {
		return msg
	}

	channels, err := s.analytics.Channels(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list channels failed")
		return "Could not fetch channels, please try again later."
	}
	if len(channels) == 0 {
		return "No channels tracked yet."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tracking %d channel(s):\n", len(channels))
	for _, ch := range channels {
		if ch.Username != "" {
			fmt.Fprintf(&sb, "- %s (@%s): %d subscribers\n", ch.Title, ch.Username, ch.Subscribers)
		} else {
			fmt.Fprintf(&sb, "- %s: %d subscribers\n", ch.Title, ch.Subscribers)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *Service) statsReply(ctx context.Context, args []string) string {
	if msg := s.requireSession(); msg != "" {
		return msg
	}
	if len(args) == 0 {
		return "Usage: /stats <channel> [period]"
	}

	period := "7d"
	if len(args) > 1 {
		period = args[1]
	}

	overview, err := s.analytics.ChannelOverview(ctx, args[0], period)
	if err != nil {
		s.log.Error().Err(err).Str("channel", args[0]).Msg("channel overview failed")
		return fmt.Sprintf("Could not fetch stats for %q.", args[0])
	}

	return fmt.Sprintf(
		"Stats for %s (%s):\nSubscribers: %d (%+d)\nViews: %d\nPosts: %d\nEngagement: %.1f%%",
		overview.ChannelID, overview.Period,
		overview.Subscribers, overview.SubscriberDelta,
		overview.Views, overview.Posts,
		overview.EngagementRate*100,
	)
}

func (s *Service) alertsReply(ctx context.Context) string {
	if msg := s.requireSession(); msg != "" {
		return msg
	}

	alerts, err := s.analytics.Alerts(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list alerts failed")
		return "Could not fetch alerts, please try again later."
	}
	if len(alerts) == 0 {
		return "No alert rules configured."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d alert rule(s):\n", len(alerts))
	for _, alert := range alerts {
		state := "enabled"
		if !alert.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "- %s %s %.0f on %s (%s)\n", alert.Metric, alert.Direction, alert.Threshold, alert.ChannelID, state)
	}
	return strings.TrimRight(sb.String(), "\n")
}
