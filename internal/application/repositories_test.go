package application

import (
	"context"
	"testing"

	"applet-tester/internal/application/config"
)

func TestNewPlatformRepositoryDNAnexus(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DNAnexus.Token = "token"
	cfg.DNAnexus.ProjectID = "project-1"

	repo, err := NewPlatformRepository(cfg)
	if err != nil {
		t.Fatalf("NewPlatformRepository() error = %v", err)
	}
	if repo.Name() != "dnanexus" || repo.ProjectID() != "project-1" {
		t.Errorf("repo = %s %s", repo.Name(), repo.ProjectID())
	}

	cfg.DNAnexus.Token = ""
	if _, err := NewPlatformRepository(cfg); err == nil {
		t.Error("expected error without a token")
	}
}

func TestNewPlatformRepositoryUnknown(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backend = "slurm"
	if _, err := NewPlatformRepository(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDisabledSinksAreNil(t *testing.T) {
	cfg := config.NewConfig()
	a, err := NewLogArchive(cfg)
	if err != nil || a != nil {
		t.Errorf("NewLogArchive() = %v, %v", a, err)
	}
	l, err := NewRunLedger(context.Background(), cfg)
	if err != nil || l != nil {
		t.Errorf("NewRunLedger() = %v, %v", l, err)
	}
}

func TestModuleStagerFeatureToggle(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Features[config.FeatureModuleStaging] = false
	if s := NewModuleStager(cfg); s != nil {
		t.Errorf("NewModuleStager() = %v, want nil", s)
	}

	cfg = config.NewConfig()
	cfg.Git.Binary = "/nonexistent/git"
	if s := NewModuleStager(cfg); s != nil {
		t.Errorf("NewModuleStager() with missing git = %v, want nil", s)
	}
}
