// shanten-peer serves the backend side of the companion protocol with
// in-memory state, for development without the real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shanten-tools/companion/internal/config"
	"github.com/shanten-tools/companion/internal/httpapi"
	"github.com/shanten-tools/companion/internal/logging"
	"github.com/shanten-tools/companion/internal/peer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("shanten-peer", pflag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "listen host")
	port := fs.IntP("port", "p", 8787, "listen port")
	seedPath := fs.String("seed", "", "YAML file with the initial tables, registry, fuse and autorun state")
	configDir := fs.String("config-dir", ".", "directory reported by open_config_dir")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logDev := fs.Bool("log-dev", true, "human readable console logs")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log, err := logging.New(config.LogConfig{Level: *logLevel, Development: *logDev})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := peer.Options{ConfigDir: *configDir, Logger: log}
	if *seedPath != "" {
		seed, err := peer.LoadSeed(*seedPath)
		if err != nil {
			return err
		}
		opts.Seed = &seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := peer.New(ctx, opts)
	srv := &http.Server{
		Addr:              net.JoinHostPort(*host, strconv.Itoa(*port)),
		Handler:           httpapi.SetupRoutes(p, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// the peer shares ctx, so it has already closed every client
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
