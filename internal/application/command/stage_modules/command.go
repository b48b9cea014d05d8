package stage_modules

import (
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
)

// StageModulesCommand checks out the requested modules for bundling
type StageModulesCommand struct {
	Manifest *model.Manifest
	Modules  []model.ModuleRef
	WorkDir  string
	Result   *Result
}

// Result lists the checked out modules
type Result struct {
	Modules []repository.StagedModule
}

// Name returns the name of the command
func (c StageModulesCommand) Name() string {
	return "StageModules"
}
