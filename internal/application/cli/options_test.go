package cli

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"applet-tester/internal/domain/model"
)

func baseArgs(extra ...string) []string {
	return append([]string{"--script", "test.py", "--files", "test_data", "--root_dir", "applet"}, extra...)
}

func TestParseRequired(t *testing.T) {
	opts, err := Parse(baseArgs(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if opts.Script != "test.py" || opts.Files != "test_data" || opts.RootDir != "applet" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.ConfigPath != "applet-tester.yaml" || opts.ConfigSet {
		t.Errorf("config = %q set=%v", opts.ConfigPath, opts.ConfigSet)
	}
	if len(opts.Modules) != 0 || len(opts.AddOpts) != 0 {
		t.Errorf("expected no modules or options: %+v", opts)
	}
}

func TestParseMissingRequired(t *testing.T) {
	_, err := Parse([]string{"--script", "test.py"}, &bytes.Buffer{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitUsage {
		t.Fatalf("Parse() error = %v, want usage error", err)
	}
	for _, flag := range []string{"--files", "--root_dir"} {
		if !strings.Contains(err.Error(), flag) {
			t.Errorf("error %q does not mention %s", err, flag)
		}
	}
}

func TestParseMultiTokenFlags(t *testing.T) {
	args := baseArgs(
		"--add_opts", "req_test_opt:value", "opt_test_opt:", "bgen_index:file-123",
		"--modules", "general_utilities", "burden:dev",
		"--watch",
	)
	opts, err := Parse(args, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wantOpts := []model.Option{
		{Name: "req_test_opt", Value: "value"},
		{Name: "opt_test_opt", Value: ""},
		{Name: "bgen_index", Value: "file-123"},
	}
	if !reflect.DeepEqual(opts.AddOpts, wantOpts) {
		t.Errorf("AddOpts = %+v", opts.AddOpts)
	}
	wantModules := []model.ModuleRef{
		{Name: "general_utilities", Branch: "main"},
		{Name: "burden", Branch: "dev"},
	}
	if !reflect.DeepEqual(opts.Modules, wantModules) {
		t.Errorf("Modules = %+v", opts.Modules)
	}
	if !opts.Watch {
		t.Error("Watch should be set")
	}
}

func TestParseRepeatedAndInlineTokens(t *testing.T) {
	args := baseArgs("--add_opts=a:1", "-add_opts", "b:2", "--modules=m1:feature")
	opts, err := Parse(args, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(opts.AddOpts) != 2 || opts.AddOpts[1].Value != "2" {
		t.Errorf("AddOpts = %+v", opts.AddOpts)
	}
	if len(opts.Modules) != 1 || opts.Modules[0].Branch != "feature" {
		t.Errorf("Modules = %+v", opts.Modules)
	}
}

func TestParseFlagsWithoutTokens(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"modules before another flag", baseArgs("--modules", "--watch")},
		{"trailing add_opts", baseArgs("--watch", "--add_opts")},
		{"both empty", baseArgs("--add_opts", "--modules")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Parse(tt.args, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(opts.Modules) != 0 || len(opts.AddOpts) != 0 {
				t.Errorf("Modules = %+v, AddOpts = %+v, want none", opts.Modules, opts.AddOpts)
			}
		})
	}
}

func TestParseMalformedTokens(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"option without delimiter", baseArgs("--add_opts", "novalue")},
		{"option without name", baseArgs("--add_opts", ":value")},
		{"module without name", baseArgs("--modules", ":dev")},
		{"unknown flag", baseArgs("--bogus")},
		{"positional argument", append(baseArgs(), "extra")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, &bytes.Buffer{})
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Code != ExitUsage {
				t.Errorf("Parse() error = %v, want usage error", err)
			}
		})
	}
}

func TestParseHelpAndVersion(t *testing.T) {
	var out bytes.Buffer
	if _, err := Parse([]string{"--help"}, &out); !errors.Is(err, ErrHelp) {
		t.Errorf("Parse(--help) error = %v", err)
	}
	if !strings.Contains(out.String(), "--root_dir") && !strings.Contains(out.String(), "-root_dir") {
		t.Errorf("usage output missing flags: %s", out.String())
	}

	opts, err := Parse([]string{"--version"}, &bytes.Buffer{})
	if err != nil || !opts.Version {
		t.Errorf("Parse(--version) = %+v, %v", opts, err)
	}
}

func TestParseConfigSet(t *testing.T) {
	opts, err := Parse(baseArgs("--config", "ci.yaml", "--backend", "docker", "--dry_run"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !opts.ConfigSet || opts.ConfigPath != "ci.yaml" || opts.Backend != "docker" || !opts.DryRun {
		t.Errorf("opts = %+v", opts)
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("connection refused")
	err := InfraError("failed to launch job", cause)
	if err.Error() != "failed to launch job: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("ExitError should unwrap to its cause")
	}
}
