package model

// Input and output classes understood by the manifest service.
const (
	ClassString  = "string"
	ClassFile    = "file"
	ClassInt     = "int"
	ClassFloat   = "float"
	ClassBoolean = "boolean"
)

// Reserved inputs used to put an applet into test mode.
const (
	InputTestingScript    = "testing_script"
	InputTestingDirectory = "testing_directory"
	InputOutputPrefix     = "output_prefix"
	OutputTarball         = "output_tarball"
)

// Manifest is the applet descriptor (dxapp.json). Raw keeps every field so
// unknown ones reach the platform untouched.
type Manifest struct {
	Path    string                 `json:"-"`
	Name    string                 `json:"name"`
	Title   string                 `json:"title,omitempty"`
	Inputs  []InputSpec            `json:"inputSpec"`
	Outputs []OutputSpec           `json:"outputSpec"`
	RunSpec RunSpec                `json:"runSpec"`
	Raw     map[string]interface{} `json:"-"`
}

// InputSpec describes one applet input
type InputSpec struct {
	Name     string      `json:"name"`
	Label    string      `json:"label,omitempty"`
	Class    string      `json:"class"`
	Optional bool        `json:"optional,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Help     string      `json:"help,omitempty"`
	Patterns []string    `json:"patterns,omitempty"`
}

// OutputSpec describes one applet output
type OutputSpec struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Class    string   `json:"class"`
	Patterns []string `json:"patterns,omitempty"`
}

// RunSpec is the part of the manifest describing the execution environment
type RunSpec struct {
	File          string                 `json:"file"`
	Interpreter   string                 `json:"interpreter"`
	Distribution  string                 `json:"distribution,omitempty"`
	Release       string                 `json:"release,omitempty"`
	Version       string                 `json:"version,omitempty"`
	TimeoutPolicy map[string]interface{} `json:"timeoutPolicy,omitempty"`
	ExecDepends   []ExecDepend           `json:"execDepends,omitempty"`
}

// ExecDepend is a package installed in the job environment before it runs
type ExecDepend struct {
	Name           string   `json:"name"`
	PackageManager string   `json:"package_manager,omitempty"`
	Version        string   `json:"version,omitempty"`
	URL            string   `json:"url,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	Destdir        string   `json:"destdir,omitempty"`
	BuildCommands  string   `json:"build_commands,omitempty"`
	Stages         []string `json:"stages,omitempty"`
}

// IsGit reports whether the dependency is fetched from a git repository.
func (d ExecDepend) IsGit() bool {
	return d.PackageManager == "git" && d.URL != ""
}

// Ref returns the git ref to check out, DefaultBranch when unset.
func (d ExecDepend) Ref() string {
	if d.Tag != "" {
		return d.Tag
	}
	return DefaultBranch
}

// Input returns the named input spec.
func (m *Manifest) Input(name string) (InputSpec, bool) {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSpec{}, false
}

// Output returns the named output spec.
func (m *Manifest) Output(name string) (OutputSpec, bool) {
	for _, out := range m.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputSpec{}, false
}

// ExecDepend returns the named execution dependency.
func (m *Manifest) ExecDepend(name string) (ExecDepend, bool) {
	for _, dep := range m.RunSpec.ExecDepends {
		if dep.Name == name {
			return dep, true
		}
	}
	return ExecDepend{}, false
}

// BundledDepend is an uploaded archive unpacked into the job's root before it runs
type BundledDepend struct {
	Name string `json:"name"`
	ID   Link   `json:"id"`
}
