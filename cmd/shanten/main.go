// shanten is the headless companion: it keeps the settings, guard,
// automation and game state stores in sync with the local backend and
// logs every notification and settings transition.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shanten-tools/companion/internal/companion"
	"github.com/shanten-tools/companion/internal/config"
	"github.com/shanten-tools/companion/internal/logging"
	"github.com/shanten-tools/companion/internal/notify"
	"github.com/shanten-tools/companion/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "shanten.yaml"
	}
	return filepath.Join(dir, "shanten", "config.yaml")
}

func run() error {
	fs := pflag.NewFlagSet("shanten", pflag.ContinueOnError)
	flags := config.RegisterFlags(fs, defaultConfigPath())
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags.ConfigPath, flags.EnvFile)
	if err != nil {
		return err
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := companion.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	client.Notifications().Subscribe(func(n notify.Notification) {
		log.Info("notification", zap.String("kind", string(n.Kind)), zap.String("message", n.Message))
	})
	_, off := client.SubscribeSettings(func(v settings.View) {
		log.Debug("settings", zap.Stringer("phase", v.Phase), zap.Strings("changed", v.Changed))
	})
	defer off()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	client.Start()
	log.Info("companion started", zap.String("config", flags.ConfigPath), zap.Bool("auto_save", cfg.Sync.AutoSave))

	<-gctx.Done()
	log.Info("shutting down")
	runErr := g.Wait()
	return errors.Join(runErr, client.Close())
}
