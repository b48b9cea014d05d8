package stage_modules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

// StageModulesHandler handles the StageModulesCommand
type StageModulesHandler struct {
	stager repository.ModuleStager
}

// NewStageModulesHandler creates a new StageModulesHandler. stager may be nil
// when git is not available; staging a git module then fails.
func NewStageModulesHandler(stager repository.ModuleStager) *StageModulesHandler {
	return &StageModulesHandler{stager: stager}
}

// Handle executes the StageModulesCommand
func (h *StageModulesHandler) Handle(ctx context.Context, cmd StageModulesCommand) error {
	if cmd.Result == nil {
		return errors.New("stage modules command needs a result")
	}
	if len(cmd.Modules) == 0 {
		log.Debug("No modules requested, using the root directory only")
		return nil
	}
	if cmd.Manifest == nil {
		return errors.New("manifest is required to stage modules")
	}
	if err := os.MkdirAll(cmd.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory %s: %w", cmd.WorkDir, err)
	}

	for _, ref := range cmd.Modules {
		dep, ok := cmd.Manifest.ExecDepend(ref.Name)
		if !ok {
			log.Debug("Module not in manifest, nothing to stage", "module", ref.Name)
			continue
		}
		if !dep.IsGit() {
			log.Debug("Module is not git sourced, nothing to stage", "module", ref.Name, "package_manager", dep.PackageManager)
			continue
		}
		if h.stager == nil {
			return fmt.Errorf("module %s needs git to be staged", ref.Name)
		}

		staged, err := h.stager.Stage(ctx, cmd.WorkDir, ref, dep)
		if err != nil {
			return fmt.Errorf("failed to stage module %s: %w", ref, err)
		}
		log.Info("Staged module", "module", ref.Name, "branch", ref.Branch, "revision", staged.Revision)
		cmd.Result.Modules = append(cmd.Result.Modules, staged)
	}
	return nil
}
