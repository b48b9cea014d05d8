package application

import (
	"context"
	"fmt"

	"applet-tester/internal/application/config"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/infra/archive"
	"applet-tester/internal/infra/dnanexus"
	"applet-tester/internal/infra/docker"
	"applet-tester/internal/infra/git"
	"applet-tester/internal/infra/ledger"
	"applet-tester/pkg/capabilities"
	"applet-tester/pkg/log"
)

// NewPlatformRepository returns the platform implementation selected by the
// configured backend.
func NewPlatformRepository(cfg *config.Config) (repository.PlatformRepository, error) {
	switch cfg.Backend {
	case config.BackendDNAnexus:
		return dnanexus.NewClient(dnanexus.Config{
			APIServer: cfg.DNAnexus.APIServer,
			Token:     cfg.DNAnexus.Token,
			ProjectID: cfg.DNAnexus.ProjectID,
			Timeout:   cfg.DNAnexus.Timeout.Std(),
		})
	case config.BackendDocker:
		return docker.NewRepository(docker.Config{
			ProjectDir: cfg.Docker.ProjectDir,
			Image:      cfg.Docker.Image,
			PytestCmd:  cfg.Docker.PytestCmd,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewModuleStager returns a git based stager, or nil when staging is
// disabled or git is not installed.
func NewModuleStager(cfg *config.Config) repository.ModuleStager {
	if !cfg.IsFeatureEnabled(config.FeatureModuleStaging) {
		return nil
	}
	stager, err := git.NewStager(capabilities.NewGitCapability(cfg.Git.Binary))
	if err != nil {
		log.Warn("Module staging disabled", "error", err)
		return nil
	}
	return stager
}

// NewLogArchive returns the object storage archive, or nil when disabled.
func NewLogArchive(cfg *config.Config) (repository.LogArchive, error) {
	if !cfg.IsFeatureEnabled(config.FeatureLogArchive) {
		return nil, nil
	}
	a, err := archive.New(archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		Prefix:    cfg.Archive.Prefix,
		Region:    cfg.Archive.Region,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewRunLedger connects the run ledger, or returns nil when disabled.
func NewRunLedger(ctx context.Context, cfg *config.Config) (repository.RunLedger, error) {
	if !cfg.IsFeatureEnabled(config.FeatureRunLedger) {
		return nil, nil
	}
	l, err := ledger.Open(ctx, ledger.Config{
		URL:          cfg.Ledger.URL,
		MaxOpenConns: cfg.Ledger.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}
