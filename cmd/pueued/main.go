// Command pueued is the task queue daemon: it restores state from its
// snapshot, starts the scheduler loop and the encrypted socket listener, and
// runs until a termination signal or a client Shutdown request (spec.md §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/pueued/pueued/internal/api"
	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/daemon"
	"github.com/pueued/pueued/internal/events"
	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/transport"
)

// Exit codes per spec.md §6: 0 clean shutdown, 1 signal-initiated shutdown,
// 2 configuration error, 3 transport bind error.
const (
	exitClean            = 0
	exitSignalShutdown   = 1
	exitConfigError      = 2
	exitTransportBindErr = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		verbose    bool
		profile    string
	)
	flags := pflag.NewFlagSet("pueued", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to a config file, overriding the default search path")
	flags.BoolVar(&verbose, "verbose", false, "force debug-level logging regardless of the configured log level")
	flags.StringVar(&profile, "profile", "", "name of a config profile block to overlay on the base config")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return exitClean
		}
		fmt.Fprintf(os.Stderr, "pueued: %v\n", err)
		return exitConfigError
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: configPath, Profile: profile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueued: load config: %v\n", err)
		return exitConfigError
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger.Init(level, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting pueued")

	if cfg.Transport.SocketPath == "" {
		cfg.Transport.SocketPath = transport.DefaultSocketPath()
	}
	if cfg.Transport.SecretPath == "" {
		cfg.Transport.SecretPath = cfg.Transport.SocketPath + ".secret"
	}

	secret, err := transport.LoadOrCreateSecret(cfg.Transport.SecretPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueued: load secret: %v\n", err)
		return exitConfigError
	}

	logs, err := logstore.New(cfg.Daemon.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueued: open log store: %v\n", err)
		return exitConfigError
	}

	sup := supervisor.New(logs)
	bus := events.NewBus()
	defer bus.Close()

	d, err := daemon.New(cfg, sup, logs, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueued: init daemon: %v\n", err)
		return exitConfigError
	}

	ln, err := transport.Listen(cfg.Transport.SocketPath, secret)
	if err != nil {
		log.Error().Err(err).Str("socket", cfg.Transport.SocketPath).Msg("failed to bind transport socket")
		return exitTransportBindErr
	}
	defer ln.Close()
	go d.Serve(ln)
	log.Info().Str("socket", cfg.Transport.SocketPath).Msg("listening for client connections")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var httpServer *http.Server
	if cfg.Daemon.StatusAddr != "" {
		mirror := api.NewServer(cfg, d, bus)
		mirror.Start(ctx)
		httpServer = &http.Server{Addr: cfg.Daemon.StatusAddr, Handler: mirror}
		go func() {
			log.Info().Str("addr", cfg.Daemon.StatusAddr).Msg("status HTTP mirror listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status HTTP mirror stopped unexpectedly")
			}
		}()
		defer mirror.Stop()
	}

	code := d.Run(ctx)

	if httpServer != nil {
		_ = httpServer.Close()
	}

	log.Info().Int("exit_code", code).Msg("pueued stopped")
	if code != 0 {
		return exitSignalShutdown
	}
	return exitClean
}
