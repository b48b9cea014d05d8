package build_applet

import (
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
)

// BuildAppletCommand bundles the applet resources, creates the temporary
// applet and uploads the test script and test data into the run folder.
type BuildAppletCommand struct {
	Identity model.RunIdentity
	Manifest *model.Manifest
	RootDir  string
	Script   string
	Files    string
	Modules  []model.ModuleRef
	Staged   []repository.StagedModule
	WorkDir  string
	// DryRun renders the request without contacting the platform.
	DryRun bool
	Result *Result
}

// Result holds what the build created
type Result struct {
	AppletID    string
	ResourcesID string
	ScriptID    string
	Folder      string
	Request     model.AppletRequest
	Resources   []string
	TestData    []string
}

// Name returns the name of the command
func (c BuildAppletCommand) Name() string {
	return "BuildApplet"
}
