package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/login"
	"github.com/udisondev/worldlink/internal/servconn"
)

const ConfigPath = "config/client.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app().RunContext(ctx, os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	app := cli.NewApp()
	app.Name = "worldclient"
	app.Usage = "log on to a world server and watch the session"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the client config file",
			EnvVars: []string{config.EnvPath},
			Value:   ConfigPath,
		},
		&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "LoginApp host[:port], overrides the config"},
		&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error, overrides the config"},
	}
	app.Before = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.ParseLevel(cfg.LogLevel),
		})))
		return nil
	}
	app.Commands = []*cli.Command{
		runCommand(),
		probeCommand(),
	}
	return app
}

func loadConfig(c *cli.Context) (config.Client, error) {
	cfg, err := config.LoadClient(c.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if s := c.String("server"); s != "" {
		cfg.Server = s
	}
	if l := c.String("log-level"); l != "" {
		cfg.LogLevel = l
	}
	return cfg, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "log on, pump the session for a while and print traffic statistics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "account name, overrides the config"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "password, overrides the config"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "how long to stay online, 0 = until interrupted", Value: 30 * time.Second},
			&cli.BoolFlag{Name: "dump", Usage: "dump decoded callbacks"},
			&cli.BoolFlag{Name: "walk", Usage: "walk the player in a square"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if u := c.String("user"); u != "" {
		cfg.Username = u
	}
	if p := c.String("password"); p != "" {
		cfg.Password = p
	}

	ctx := c.Context
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	disconnected := make(chan servconn.DisconnectReason, 1)
	conn, err := servconn.New(
		servconn.WithConfig(cfg),
		servconn.WithOnDisconnect(func(r servconn.DisconnectReason) {
			select {
			case disconnected <- r:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	defer conn.Close()

	h := newHandler(conn, c.Bool("dump"))
	status := conn.LogOn(ctx, h, cfg.Server, cfg.Username, cfg.Password, cfg.PublicKeyPath, uint16(cfg.Port))
	if status != login.StatusLoggedOn {
		return fmt.Errorf("log on failed: %s: %s", status, conn.ErrorMsg())
	}
	slog.Info("online", "baseapp", conn.Addr(), "session", conn.SessionKey())

	var w *walker
	if c.Bool("walk") {
		w = &walker{}
	}

	interval := cfg.SendInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case r := <-disconnected:
			slog.Warn("session ended", "reason", r)
			break loop
		case <-ticker.C:
		}

		conn.ProcessInput()
		if conn.Offline() {
			continue
		}
		if w != nil {
			w.step(conn, interval)
		}
		conn.Send()
	}

	stats := conn.StatsSnapshot()
	if conn.Online() {
		conn.Disconnect(true)
	}

	printStats(os.Stdout, stats, h.summary(), time.Since(start))
	return nil
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "ask the LoginApp about itself",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			conn, err := servconn.New(servconn.WithConfig(cfg))
			if err != nil {
				return fmt.Errorf("creating connection: %w", err)
			}
			defer conn.Close()

			info, err := conn.Probe(c.Context, cfg.Server, uint16(cfg.Port))
			if err != nil {
				return err
			}
			printProbe(os.Stdout, info)
			return nil
		},
	}
}
