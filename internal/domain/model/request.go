package model

// UploadRequest describes a local file to upload into a project folder
type UploadRequest struct {
	LocalPath string
	Name      string
	Project   string
	Folder    string
	// Hidden objects are not shown in the project listing.
	Hidden bool
}

// AppletRequest creates an applet from a manifest document
type AppletRequest struct {
	Project  string                 `json:"project"`
	Folder   string                 `json:"folder"`
	Name     string                 `json:"name"`
	Document map[string]interface{} `json:"document"`
}

// RunRequest launches an applet
type RunRequest struct {
	AppletID     string                 `json:"applet"`
	Project      string                 `json:"project"`
	Folder       string                 `json:"folder"`
	Name         string                 `json:"name"`
	Input        map[string]interface{} `json:"input"`
	InstanceType string                 `json:"instanceType,omitempty"`
}

// BuildPlan is everything a run would create, rendered by --dry_run
type BuildPlan struct {
	Backend     string        `json:"backend"`
	Applet      AppletRequest `json:"applet"`
	Run         RunRequest    `json:"run"`
	Modules     []ModuleRef   `json:"modules,omitempty"`
	Resources   []string      `json:"resources,omitempty"`
	TestData    []string      `json:"test_data"`
	LogFileName string        `json:"log_file"`
}
