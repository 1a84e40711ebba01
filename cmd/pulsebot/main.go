package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/channelpulse/channelpulse-go/api"
	"github.com/channelpulse/channelpulse-go/bot"
	"github.com/channelpulse/channelpulse-go/internal/config"
	"github.com/channelpulse/channelpulse-go/internal/observability"
	"github.com/channelpulse/channelpulse-go/session"
	"github.com/channelpulse/channelpulse-go/session/filerepo"
	"github.com/channelpulse/channelpulse-go/session/redisrepo"
	"github.com/channelpulse/channelpulse-go/telegram"
)

var errPanic = errors.New("panic recovered")

func main() {
	for {
		if err := run(); err != nil {
			if errors.Is(err, errPanic) {
				log.Printf("Restarting bot: %s\n", err)
				time.Sleep(1 * time.Second)
				continue
			}
			log.Fatalf("Error running bot: %s\n", err)
		}
		break
	}
	log.Printf("Bot stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errPanic
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	logger := observability.NewLogger(c.GetLogLevel(), c.GetLogPretty())

	registry := prometheus.NewRegistry()
	metrics := observability.NewCollector(registry)

	repo, err := buildRepo(c)
	if err != nil {
		return fmt.Errorf("buildRepo: %w", err)
	}

	client, err := api.New(c.GetAPIBaseURL(),
		api.WithCredentials(repo),
		api.WithHTTPClient(&http.Client{Timeout: c.GetAPITimeout()}),
		api.WithRateLimit(c.GetAPIRateLimit(), c.GetAPIBurst()),
		api.WithLogger(logger),
		api.WithUserAgent("channelpulse-bot/1.0"),
		api.WithRequestHook(func(method, _ string, status int, _ time.Duration) {
			metrics.RecordAPIRequest(method, status)
		}),
	)
	if err != nil {
		return fmt.Errorf("api.New: %w", err)
	}

	mgr, err := session.NewManager(repo, client, session.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("session.NewManager: %w", err)
	}
	defer mgr.Close()
	client.OnUnauthorized(mgr.UnauthorizedHandler())

	unsubscribe := mgr.Subscribe(func(event session.Event, _ session.Snapshot) {
		metrics.RecordSessionEvent(string(event))
	})
	defer unsubscribe()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := signIn(ctx, mgr, c, logger); err != nil {
		return fmt.Errorf("signIn: %w", err)
	}

	tgBot, err := telegram.NewBot(c.GetBotToken(), telegram.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("telegram.NewBot: %w", err)
	}

	svc, err := bot.NewService(tgBot, client, mgr,
		bot.WithPollTimeout(c.GetPollTimeout()),
		bot.WithLogger(logger),
		bot.WithUpdateHook(metrics.RecordBotUpdate),
	)
	if err != nil {
		return fmt.Errorf("bot.NewService: %w", err)
	}

	metricsServer := &http.Server{Addr: c.GetMetricsAddr(), Handler: metricsMux(registry)}
	go listenAndServe(metricsServer, logger)

	logger.Info().Msg("bot loop starting")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot.Run: %w", err)
	}

	return shutdown(metricsServer)
}

// signIn resolves the stored session and falls back to the configured
// service account when nothing usable survives startup.
func signIn(ctx context.Context, mgr *session.Manager, c config.Config, logger zerolog.Logger) error {
	snap, err := mgr.Initialize(ctx)
	if err != nil {
		return err
	}
	if snap.Authenticated() {
		logger.Info().Str("status", string(snap.Status)).Msg("session restored")
		return nil
	}
	if c.GetServiceEmail() == "" {
		logger.Warn().Msg("no stored session and no service account configured, commands will refuse until login")
		return nil
	}
	if err := mgr.Login(ctx, session.Credentials{
		Email:      c.GetServiceEmail(),
		Password:   c.GetServicePassword(),
		RememberMe: true,
	}); err != nil {
		return err
	}
	logger.Info().Str("email", c.GetServiceEmail()).Msg("service account signed in")
	return nil
}

func buildRepo(c config.Config) (session.Repo, error) {
	switch c.GetStoreBackend() {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		return redisrepo.New(client, c.GetRedisPrefix())
	case config.StoreBackendFile:
		var options []filerepo.Option
		if key := c.GetSealKey(); key != nil {
			options = append(options, filerepo.WithSealKey(key))
		}
		return filerepo.New(c.GetCredentialsFile(), options...)
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.GetStoreBackend())
	}
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	return mux
}

func listenAndServe(server *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", server.Addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
