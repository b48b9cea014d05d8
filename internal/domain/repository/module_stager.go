package repository

import (
	"context"

	"applet-tester/internal/domain/model"
)

// StagedModule is a module checked out on the local machine
type StagedModule struct {
	Ref      model.ModuleRef
	Path     string
	Revision string
}

// ModuleStager checks out module sources for bundling
type ModuleStager interface {
	// Stage checks out dep at ref.Branch below workDir
	Stage(ctx context.Context, workDir string, ref model.ModuleRef, dep model.ExecDepend) (StagedModule, error)
}
