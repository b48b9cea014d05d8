// Package git stages module sources by cloning them with the git executable.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/capabilities"
	"applet-tester/pkg/log"
)

// Stager clones modules at the requested branch
type Stager struct {
	binary string
}

// Ensure Stager implements repository.ModuleStager
var _ repository.ModuleStager = (*Stager)(nil)

// NewStager returns a Stager after checking that git is available.
func NewStager(git *capabilities.GitCapability) (*Stager, error) {
	if err := capabilities.Require(git); err != nil {
		return nil, err
	}
	log.Debug("Using git", "binary", git.Binary(), "version", git.Version())
	return &Stager{binary: git.Binary()}, nil
}

// Stage shallow-clones dep into workDir/<module name>. The requested branch
// wins over the manifest tag; the default branch falls back to the tag.
func (s *Stager) Stage(ctx context.Context, workDir string, ref model.ModuleRef, dep model.ExecDepend) (repository.StagedModule, error) {
	if !dep.IsGit() {
		return repository.StagedModule{}, fmt.Errorf("module %s has no git source", ref.Name)
	}

	branch := ref.Branch
	if ref.IsDefaultBranch() && dep.Tag != "" {
		branch = dep.Tag
	}
	if branch == "" {
		branch = model.DefaultBranch
	}

	dir := filepath.Join(workDir, ref.Name)
	if err := os.RemoveAll(dir); err != nil {
		return repository.StagedModule{}, fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return repository.StagedModule{}, fmt.Errorf("failed to create %s: %w", workDir, err)
	}

	log.Info("Cloning module", "module", ref.Name, "branch", branch, "url", dep.URL)
	if _, err := s.run(ctx, "", "clone", "--quiet", "--depth", "1", "--branch", branch, dep.URL, dir); err != nil {
		return repository.StagedModule{}, fmt.Errorf("failed to clone module %s at %s: %w", ref.Name, branch, err)
	}

	revision, err := s.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return repository.StagedModule{}, fmt.Errorf("failed to resolve revision of %s: %w", ref.Name, err)
	}

	return repository.StagedModule{
		Ref:      model.ModuleRef{Name: ref.Name, Branch: branch},
		Path:     dir,
		Revision: revision,
	}, nil
}

func (s *Stager) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		log.Debug("git command failed", "args", strings.Join(args, " "), "error", err, "stderr", msg)
		if msg == "" {
			return "", err
		}
		return "", errors.New(msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
