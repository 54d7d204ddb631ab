package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/db"
	"github.com/udisondev/worldlink/internal/devserver"
)

const ConfigPath = "config/devserver.yaml"

// statusPeriod is how often the running server reports its load.
const statusPeriod = time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadDevServer(config.Path(ConfigPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	})))
	slog.Info("worldlink dev server starting", "login", cfg.LoginBind, "baseapp", cfg.BaseAppBind)

	key, err := loadOrGenerateKey(cfg)
	if err != nil {
		return err
	}

	var accounts devserver.AccountRepository
	if cfg.UseDatabase {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database ready", "host", cfg.Database.Host, "db", cfg.Database.DBName)
		accounts = database.Accounts()
	} else {
		slog.Info("accounts kept in memory")
		accounts = db.NewMemoryAccountRepository()
	}

	server, err := devserver.New(cfg, accounts, key)
	if err != nil {
		return fmt.Errorf("creating dev server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("dev server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(statusPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			n, err := server.NumProxies(gctx)
			if err != nil {
				// сервер уже остановлен
				return nil
			}
			slog.Info("status", "proxies", n, "pending_logins", server.NumPending())
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadOrGenerateKey reads the LoginApp key pair, creating it on first start.
func loadOrGenerateKey(cfg config.DevServer) (*crypto.PrivateKey, error) {
	key, err := crypto.LoadPrivateKey(cfg.PrivateKeyPath)
	if err == nil {
		slog.Info("private key loaded", "path", cfg.PrivateKeyPath)
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	bits := cfg.KeyBits
	if bits <= 0 {
		bits = crypto.DefaultRSABits
	}
	key, err = crypto.GeneratePrivateKey(bits)
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	if err := key.WriteFiles(cfg.PrivateKeyPath, cfg.PublicKeyPath); err != nil {
		return nil, err
	}
	slog.Info("generated key pair", "private", cfg.PrivateKeyPath, "public", cfg.PublicKeyPath, "bits", bits)
	return key, nil
}
