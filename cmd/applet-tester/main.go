package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"applet-tester/internal/application"
	"applet-tester/internal/application/cli"
	"applet-tester/internal/application/config"
	"applet-tester/internal/application/launcher"
	"applet-tester/pkg/log"
	"applet-tester/pkg/version"
)

func main() {
	// Cancel the run on SIGINT/SIGTERM; teardown still happens.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	opts, err := cli.Parse(args, stderr)
	if errors.Is(err, cli.ErrHelp) {
		return cli.ExitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "applet-tester: %v\n", err)
		return exitCode(err)
	}
	if opts.Version {
		fmt.Fprintln(stdout, version.String())
		return cli.ExitOK
	}

	log.SetOutput(stderr)

	cfg, err := config.Load(opts.ConfigPath, opts.ConfigSet)
	if err != nil {
		fmt.Fprintf(stderr, "applet-tester: %v\n", err)
		return cli.ExitUsage
	}
	applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "applet-tester: %v\n", err)
		return cli.ExitUsage
	}
	log.InitLog(cfg.LogLevel, cfg.LogFormat)
	log.Debug("Configuration loaded", "backend", cfg.Backend, "version", version.GetVersion())

	deps := launcher.Dependencies{Stdout: stdout}
	if !opts.DryRun {
		platform, err := application.NewPlatformRepository(cfg)
		if err != nil {
			log.Error("Failed to create platform", "backend", cfg.Backend, "error", err)
			return cli.ExitInfra
		}
		deps.Platform = platform
		deps.Stager = application.NewModuleStager(cfg)

		if deps.Archive, err = application.NewLogArchive(cfg); err != nil {
			log.Warn("Log archive disabled", "error", err)
		}
		if deps.Ledger, err = application.NewRunLedger(ctx, cfg); err != nil {
			log.Warn("Run ledger disabled", "error", err)
		}
	}

	l, err := launcher.NewLauncher(cfg, opts, deps)
	if err != nil {
		log.Error("Failed to create launcher", "error", err)
		return cli.ExitInfra
	}
	defer l.Close()

	if _, err := l.Run(ctx); err != nil {
		log.Error("Test run failed", "error", err)
		return exitCode(err)
	}
	return cli.ExitOK
}

// applyOverrides lets command line flags win over the configuration file.
func applyOverrides(cfg *config.Config, opts *cli.Options) {
	if opts.Backend != "" {
		cfg.Backend = config.Backend(opts.Backend)
	}
	if opts.InstanceType != "" {
		cfg.InstanceType = opts.InstanceType
	}
	if opts.OutDir != "" {
		cfg.OutDir = opts.OutDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
}

func exitCode(err error) int {
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return cli.ExitInfra
}
