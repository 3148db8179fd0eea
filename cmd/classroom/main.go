// Command classroom joins (or hosts) a live class from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/LiveClass/internal/adapters/capture"
	"github.com/dkeye/LiveClass/internal/adapters/rtc"
	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/app/relay"
	"github.com/dkeye/LiveClass/internal/app/session"
	"github.com/dkeye/LiveClass/internal/config"
	"github.com/dkeye/LiveClass/internal/domain"
)

type options struct {
	session string
	user    string
	name    string
	role    string
	broker  string
	config  string
	demo    bool
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.session, "session", "s", "", "session id shared by host and students")
	pflag.StringVarP(&o.user, "user", "u", "", "user id (random when empty)")
	pflag.StringVarP(&o.name, "name", "n", "", "display name")
	pflag.StringVarP(&o.role, "role", "r", string(domain.RoleStudent), "student, teacher or admin")
	pflag.StringVar(&o.broker, "broker", "", "broker websocket url, overrides config")
	pflag.StringVar(&o.config, "config", "", "config file, defaults to config/config.<CONFIG_ENV>.yaml")
	pflag.BoolVar(&o.demo, "demo", false, "run a host and two students in process and exit")
	pflag.Parse()
	return o
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	opts := parseFlags()
	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if opts.demo {
		if err := runDemo(ctx, cfg, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("demo failed")
		}
		return
	}
	if err := run(ctx, cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("classroom exited")
	}
}

func loadConfig(o options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.config != "" {
		cfg, err = config.LoadFile(o.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.broker != "" {
		cfg.BrokerURL = o.broker
	}
	return cfg, nil
}

func sessionConfig(cfg *config.Config, sid domain.SessionID, id domain.Identity) session.Config {
	return session.Config{
		SessionID:  sid,
		Identity:   id,
		Catalog:    domain.DefaultCatalog(),
		Limits:     relay.PerSecond(cfg.ChatRate, cfg.ChatBurst),
		Policy:     app.SimplePolicy{MaxStrikes: 20},
		MaxChatLen: cfg.MaxChatLen,
	}
}

func run(ctx context.Context, cfg *config.Config, o options) error {
	if o.session == "" {
		return errors.New("--session is required")
	}
	if o.user == "" {
		o.user = uuid.NewString()
	}
	id, err := domain.NewIdentity(domain.UserID(o.user), o.name, domain.Role(o.role))
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	tr, err := rtc.NewTransport(rtc.Options{
		BrokerURL:  cfg.BrokerURL,
		ICEServers: cfg.ICEServers,
		KeepAlive:  cfg.PingPeriod,
	})
	if err != nil {
		return err
	}

	c := newConsole(ctx, os.Stdout)
	s := session.New(sessionConfig(cfg, domain.SessionID(o.session), id), tr, capture.NewDevices(), c.hooks())
	c.s = s
	defer s.End()

	startCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = s.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	log.Info().Str("module", "classroom").Str("peer", string(s.Self())).Bool("host", s.IsHost()).Msg("session started")
	return c.loop(os.Stdin)
}
