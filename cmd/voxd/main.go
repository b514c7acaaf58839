// Voxd is a local development orchestrator and API gateway for a
// voice-assistant stack: a text-generation engine, a speech-synthesis
// engine, and a speech-recognition engine, each running as its own
// process.
//
// Usage:
//
//	voxd serve               Start the gateway HTTP server
//	voxd up                  Probe, reap, and spawn the configured services
//	voxd version             Print version and build information
//	voxd -config FILE serve  Use an explicit config file
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one, the
// built-in local-development defaults apply.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxhaus/voxd/internal/announce"
	"github.com/voxhaus/voxd/internal/backend"
	"github.com/voxhaus/voxd/internal/buildinfo"
	"github.com/voxhaus/voxd/internal/config"
	"github.com/voxhaus/voxd/internal/events"
	"github.com/voxhaus/voxd/internal/gateway"
	"github.com/voxhaus/voxd/internal/memory"
	"github.com/voxhaus/voxd/internal/prompt"
	"github.com/voxhaus/voxd/internal/supervisor"
)

// main is intentionally minimal. It constructs the OS-level
// environment (context, stdio, argv) and delegates immediately to
// [run], keeping os.Exit and os.Args out of the application logic so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the voxd command. Arguments are
// parsed manually rather than with the flag package to avoid global
// state that interferes with parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath, command string

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "-config", "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a path", arg)
			}
			i++
			configPath = args[i]
		default:
			if command != "" {
				return fmt.Errorf("unexpected argument %q", arg)
			}
			command = arg
		}
	}

	if command == "" || command == "help" {
		usage(stdout)
		return nil
	}

	if command == "version" {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	cfg, logger, err := loadConfig(configPath, stdout)
	if err != nil {
		return err
	}

	switch command {
	case "serve":
		return runServe(ctx, cfg, logger)
	case "up":
		return runUp(ctx, cfg, logger)
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `voxd - local voice assistant gateway and orchestrator

Usage:
  voxd serve               Start the gateway HTTP server
  voxd up                  Probe, reap, and spawn the configured services
  voxd version             Print version and build information
  voxd -config FILE serve  Use an explicit config file
`)
}

// loadConfig resolves configuration and builds the root logger. A
// missing config file is only an error when an explicit path was
// given; otherwise the local-development defaults apply.
func loadConfig(explicit string, stdout io.Writer) (*config.Config, *slog.Logger, error) {
	var cfg *config.Config

	path, err := config.FindConfig(explicit)
	switch {
	case err == nil:
		cfg, err = config.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load config %s: %w", path, err)
		}
	case explicit != "":
		return nil, nil, err
	default:
		cfg = config.Default()
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	logger.Info("starting", "build", buildinfo.String())
	if path != "" {
		logger.Info("loaded config", "path", path)
	} else {
		logger.Info("no config file found, using defaults")
	}

	return cfg, logger, nil
}

// runServe starts the gateway and blocks until shutdown.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := memory.Open(cfg.MemoryFile, cfg.History.MaxEntries, logger)

	var archive *memory.Archive
	if cfg.ArchiveDB != "" {
		var err error
		archive, err = memory.OpenArchive(cfg.ArchiveDB)
		if err != nil {
			// The archive is best-effort observability; the gateway
			// still serves without it.
			logger.Warn("transcript archive unavailable", "path", cfg.ArchiveDB, "error", err)
		} else {
			defer archive.Close()
		}
	}

	persona := prompt.LoadPersona(cfg.PersonaFile, logger)
	bus := events.New()

	var super *supervisor.Supervisor
	if len(cfg.Services) > 0 {
		super = supervisor.New(cfg.Services, bus, logger)
	}

	server := gateway.New(cfg, store, archive, persona,
		backend.NewGenerator(cfg.Backends.GenerateURL, cfg.Model, nil),
		backend.NewSynthesizer(cfg.Backends.TTSURL, nil),
		backend.NewRecognizer(cfg.Backends.WhisperURL, nil),
		super, bus, logger)

	if cfg.MQTT.Enabled {
		announcer := announce.New(cfg.MQTT, super, bus, logger)
		go func() {
			if err := announcer.Run(ctx); err != nil {
				logger.Warn("mqtt announcer stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Warn("gateway shutdown error", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// runUp runs the supervisor over the configured services and waits for
// the children (or a shutdown signal).
func runUp(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.Services) == 0 {
		return errors.New("no services configured (set services: in the config file)")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.New()
	super := supervisor.New(cfg.Services, bus, logger)

	if cfg.MQTT.Enabled {
		announcer := announce.New(cfg.MQTT, super, bus, logger)
		go func() {
			if err := announcer.Run(ctx); err != nil {
				logger.Warn("mqtt announcer stopped", "error", err)
			}
		}()
	}

	super.StartAll(ctx)
	super.Wait()

	logger.Info("all services exited")
	return nil
}
