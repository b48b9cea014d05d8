// Package manifest loads applet manifests and derives everything a test run
// needs from them: execution dependencies, job inputs and the applet document.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"applet-tester/internal/domain/model"
	"applet-tester/pkg/log"
)

// FileName is the manifest looked up in an applet root directory.
const FileName = "dxapp.json"

// DefaultAPIVersion is set on applet documents that do not declare one.
const DefaultAPIVersion = "1.0.0"

type ServiceInterface interface {
	Locate(rootDir, override string) string

	Load(path string) (*model.Manifest, error)

	Validate(m *model.Manifest) error

	ExecDepends(m *model.Manifest, modules []model.ModuleRef) []model.ExecDepend

	ResolveInputs(m *model.Manifest, reserved map[string]interface{}, options []model.Option) (map[string]interface{}, error)

	WithDefaults(m *model.Manifest, input map[string]interface{}) map[string]interface{}

	AppletDocument(m *model.Manifest, params DocumentParams) (map[string]interface{}, error)
}

// Service implements manifest handling for one set of default test
// dependencies.
type Service struct {
	testDepends []model.ExecDepend
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)

// NewService creates a Service. testDepends are always installed in the job,
// after the requested modules.
func NewService(testDepends []model.ExecDepend) *Service {
	return &Service{testDepends: testDepends}
}

// Locate returns override when set, otherwise the manifest in rootDir.
func (s *Service) Locate(rootDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(rootDir, FileName)
}

// Load reads and decodes the manifest at path.
func (s *Service) Load(path string) (*model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("manifest %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m := &model.Manifest{Path: path}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks that the manifest can be put into test mode.
func (s *Service) Validate(m *model.Manifest) error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if m.RunSpec.File == "" {
		errs = append(errs, errors.New("runSpec.file is required"))
	}
	if m.RunSpec.Interpreter == "" {
		errs = append(errs, errors.New("runSpec.interpreter is required"))
	}

	reserved := []struct {
		name  string
		class string
	}{
		{model.InputTestingScript, model.ClassFile},
		{model.InputTestingDirectory, model.ClassString},
		{model.InputOutputPrefix, model.ClassString},
	}
	for _, r := range reserved {
		in, ok := m.Input(r.name)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("input %q is required for test mode", r.name))
		case in.Class != r.class:
			errs = append(errs, fmt.Errorf("input %q must have class %q, got %q", r.name, r.class, in.Class))
		}
	}

	out, ok := m.Output(model.OutputTarball)
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("output %q is required", model.OutputTarball))
	case out.Class != model.ClassFile:
		errs = append(errs, fmt.Errorf("output %q must have class %q, got %q", model.OutputTarball, model.ClassFile, out.Class))
	case len(out.Patterns) == 0:
		errs = append(errs, fmt.Errorf("output %q must declare filename patterns", model.OutputTarball))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid manifest %s: %w", m.Path, err)
	}
	return nil
}

// ExecDepends returns the execution dependencies for a test run. Requested
// modules keep their manifest entry with the branch pinned as tag. Git
// dependencies that were not requested are left out so only the modules under
// test are installed. Other dependencies are kept, followed by the default
// test dependencies.
func (s *Service) ExecDepends(m *model.Manifest, modules []model.ModuleRef) []model.ExecDepend {
	requested := make(map[string]model.ModuleRef, len(modules))
	for _, ref := range modules {
		requested[ref.Name] = ref
		if _, ok := m.ExecDepend(ref.Name); !ok {
			log.Warn("Requested module not found in manifest", "module", ref.Name, "manifest", m.Path)
		}
	}

	var deps []model.ExecDepend
	seen := make(map[string]bool)
	for _, dep := range m.RunSpec.ExecDepends {
		ref, isRequested := requested[dep.Name]
		if !isRequested {
			if dep.IsGit() {
				log.Debug("Skipping unrequested module", "module", dep.Name)
				continue
			}
			deps = append(deps, dep)
			seen[dep.Name] = true
			continue
		}
		if !ref.IsDefaultBranch() {
			log.Info("Loading additional module", "module", dep.Name, "branch", ref.Branch)
			dep.Tag = ref.Branch
		} else {
			log.Info("Loading additional module", "module", dep.Name)
		}
		deps = append(deps, dep)
		seen[dep.Name] = true
	}

	for _, dep := range s.testDepends {
		if seen[dep.Name] {
			continue
		}
		deps = append(deps, dep)
		seen[dep.Name] = true
	}
	return deps
}

// ResolveInputs builds the job input from the reserved test-mode inputs and
// the user options. Unknown inputs and overrides of reserved inputs are
// rejected, values are coerced to the declared class, and every missing
// required input is reported at once.
func (s *Service) ResolveInputs(m *model.Manifest, reserved map[string]interface{}, options []model.Option) (map[string]interface{}, error) {
	input := make(map[string]interface{}, len(reserved)+len(options))
	for k, v := range reserved {
		input[k] = v
	}

	var errs []error
	for _, opt := range options {
		if _, isReserved := reserved[opt.Name]; isReserved {
			errs = append(errs, fmt.Errorf("input %q is set by the launcher and cannot be overridden", opt.Name))
			continue
		}
		spec, ok := m.Input(opt.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown input %q", opt.Name))
			continue
		}
		value, err := coerce(spec, opt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		input[opt.Name] = value
	}

	var missing []string
	for _, spec := range m.Inputs {
		if spec.Optional || spec.Default != nil {
			continue
		}
		if _, ok := input[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errs = append(errs, fmt.Errorf("missing required inputs: %s", strings.Join(missing, ", ")))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return input, nil
}

func coerce(spec model.InputSpec, opt model.Option) (interface{}, error) {
	if opt.Value == "" {
		return "", nil
	}
	switch spec.Class {
	case model.ClassFile:
		if !opt.IsLink() {
			return nil, fmt.Errorf("input %q expects a file id (%s...), got %q", opt.Name, model.LinkPrefix, opt.Value)
		}
		return model.NewLink(opt.Value), nil
	case model.ClassInt:
		v, err := strconv.ParseInt(opt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("input %q expects an int: %w", opt.Name, err)
		}
		return v, nil
	case model.ClassFloat:
		v, err := strconv.ParseFloat(opt.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("input %q expects a float: %w", opt.Name, err)
		}
		return v, nil
	case model.ClassBoolean:
		v, err := strconv.ParseBool(opt.Value)
		if err != nil {
			return nil, fmt.Errorf("input %q expects a boolean: %w", opt.Name, err)
		}
		return v, nil
	default:
		return opt.InputValue(), nil
	}
}

// WithDefaults returns a copy of input with the declared defaults of omitted
// inputs filled in. The remote platform applies defaults itself; local
// backends use this.
func (s *Service) WithDefaults(m *model.Manifest, input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m.Inputs))
	for _, spec := range m.Inputs {
		if spec.Default != nil {
			out[spec.Name] = spec.Default
		}
	}
	for k, v := range input {
		out[k] = v
	}
	return out
}
