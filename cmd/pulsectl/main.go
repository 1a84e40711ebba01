package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/channelpulse/channelpulse-go/api"
	"github.com/channelpulse/channelpulse-go/internal/config"
	"github.com/channelpulse/channelpulse-go/internal/observability"
	"github.com/channelpulse/channelpulse-go/miniapp"
	"github.com/channelpulse/channelpulse-go/session"
	"github.com/channelpulse/channelpulse-go/session/filerepo"
	"github.com/channelpulse/channelpulse-go/session/redisrepo"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runCommand(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("pulsectl: %s", err)
	}
}

func runCommand(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return cmdLogin(ctx, args)
	case "logout":
		return cmdLogout(ctx)
	case "status":
		return cmdStatus(ctx)
	case "whoami":
		return cmdWhoami(ctx)
	case "refresh":
		return cmdRefresh(ctx)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	cfg    config.Config
	repo   session.Repo
	client *api.Client
	mgr    *session.Manager
}

func buildApp() (*app, error) {
	c := config.New()
	logger := observability.NewLogger(c.GetLogLevel(), c.GetLogPretty())

	repo, err := buildRepo(c)
	if err != nil {
		return nil, err
	}

	client, err := api.New(c.GetAPIBaseURL(),
		api.WithCredentials(repo),
		api.WithLogger(logger),
		api.WithUserAgent("pulsectl/1.0"),
	)
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewManager(repo, client, session.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	client.OnUnauthorized(mgr.UnauthorizedHandler())

	return &app{cfg: c, repo: repo, client: client, mgr: mgr}, nil
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

func cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	var (
		email    = fs.String("email", "", "account email (defaults to SERVICE_EMAIL)")
		password = fs.String("password", "", "account password (defaults to SERVICE_PASSWORD)")
		remember = fs.Bool("remember", true, "request a long-lived refresh token")
		telegram = fs.Bool("telegram", false, "exchange TELEGRAM_INIT_DATA instead of credentials")
	)
	fs.Parse(args)

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mgr.Close()

	if *telegram {
		return telegramLogin(ctx, a)
	}

	creds := session.Credentials{
		Email:      orEnv(*email, a.cfg.GetServiceEmail()),
		Password:   orEnv(*password, a.cfg.GetServicePassword()),
		RememberMe: *remember,
	}
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("email and password are required, pass -email/-password or set SERVICE_EMAIL/SERVICE_PASSWORD")
	}

	if err := a.mgr.Login(ctx, creds); err != nil {
		return err
	}

	user := a.mgr.CurrentUser()
	fmt.Printf("Signed in as %s (%s)\n", user.Email, user.Role)
	return nil
}

func telegramLogin(ctx context.Context, a *app) error {
	initData := os.Getenv("TELEGRAM_INIT_DATA")
	if initData == "" {
		return fmt.Errorf("TELEGRAM_INIT_DATA is not set")
	}

	al, err := miniapp.NewAutoLogin(a.client, a.repo, initData, autoLoginOptions(a.cfg)...)
	if err != nil {
		return err
	}
	sess, err := al.Attempt(ctx)
	if err != nil {
		return err
	}

	name := sess.User.Username
	if name == "" {
		name = sess.User.Email
	}
	fmt.Printf("Signed in via Telegram as %s (%s)\n", name, sess.User.Role)
	return nil
}

// autoLoginOptions enables local init data validation when the bot token is
// on hand, saving a round trip on garbage input.
func autoLoginOptions(c config.Config) []miniapp.AutoLoginOption {
	token := c.GetBotToken()
	if token == "" {
		return nil
	}
	v, err := miniapp.NewValidator(token, miniapp.WithMaxAge(c.GetInitDataMaxAge()))
	if err != nil {
		return nil
	}
	return []miniapp.AutoLoginOption{miniapp.WithValidator(v)}
}

func cmdLogout(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mgr.Close()

	a.mgr.Logout(ctx)
	fmt.Println("Signed out.")
	return nil
}

func cmdStatus(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mgr.Close()

	snap, err := a.mgr.Initialize(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", snap.Status)
	if snap.User == nil {
		return nil
	}
	fmt.Printf("User:   %s (%s, %s)\n", snap.User.Email, snap.User.ID, snap.User.Role)

	sess, err := a.repo.Load(ctx)
	if err != nil || sess == nil {
		return nil
	}
	if sess.DemoMode {
		fmt.Println("Demo:   yes")
	}
	fmt.Printf("Issued: %s\n", sess.IssuedAt.Format(time.RFC3339))
	if exp, ok := sess.AccessTokenExpiry(); ok {
		fmt.Printf("Access token expires: %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	}
	return nil
}

func cmdWhoami(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mgr.Close()

	if _, err := a.mgr.Initialize(ctx); err != nil {
		return err
	}
	user := a.mgr.CurrentUser()
	if user == nil {
		return fmt.Errorf("not signed in")
	}
	fmt.Println(user.Email)
	return nil
}

func cmdRefresh(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mgr.Close()

	if err := a.mgr.Refresh(ctx); err != nil {
		return err
	}

	fmt.Println("Access token rotated.")
	sess, err := a.repo.Load(ctx)
	if err == nil && sess != nil {
		if exp, ok := sess.AccessTokenExpiry(); ok {
			fmt.Printf("New expiry: %s\n", exp.Format(time.RFC3339))
		}
	}
	return nil
}

func orEnv(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envValue
}

func usage() {
	fmt.Fprintf(os.Stderr, `ChannelPulse session control

Usage:
  pulsectl <command> [flags]

Commands:
  login    sign in with credentials or Telegram init data
  logout   clear the stored session and notify the backend
  status   resolve and print the current session state
  whoami   print the signed-in user
  refresh  rotate the access token now
`)
}
