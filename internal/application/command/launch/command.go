package launch

import "applet-tester/internal/domain/model"

// LaunchTestCommand runs the temporary applet in test mode
type LaunchTestCommand struct {
	Identity     model.RunIdentity
	Manifest     *model.Manifest
	AppletID     string
	ScriptID     string
	Folder       string
	Options      []model.Option
	InstanceType string
	DryRun       bool
	Result       *Result
}

// Result holds the launched job
type Result struct {
	JobID   string
	Request model.RunRequest
}

// Name returns the name of the command
func (c LaunchTestCommand) Name() string {
	return "LaunchTest"
}
