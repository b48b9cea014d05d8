// Package cli parses the command line of the launcher.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"applet-tester/internal/domain/model"
)

// Options are the parsed command line flags
type Options struct {
	Script       string
	Files        string
	RootDir      string
	ManifestPath string
	AddOpts      []model.Option
	Modules      []model.ModuleRef
	InstanceType string
	ConfigPath   string
	Backend      string
	OutDir       string
	LogLevel     string
	Watch        bool
	DryRun       bool
	Version      bool
	Help         bool

	// ConfigSet reports whether --config was given explicitly.
	ConfigSet bool
}

// ErrHelp is returned when --help was requested.
var ErrHelp = flag.ErrHelp

// multiFlags are the flags taking one or more space separated tokens
var multiFlags = map[string]bool{
	"add_opts": true,
	"modules":  true,
}

type tokenList []string

func (l *tokenList) String() string {
	return strings.Join(*l, " ")
}

func (l *tokenList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// newFlagSet declares every flag of the launcher on a new FlagSet.
func newFlagSet(opts *Options, addOpts, modules *tokenList, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("applet-tester", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.Script, "script", "", "Path to the pytest compatible test script (required)")
	fs.StringVar(&opts.Files, "files", "", "Directory of test data uploaded next to the script (required)")
	fs.StringVar(&opts.RootDir, "root_dir", "", "Root directory of the applet under test (required)")
	fs.StringVar(&opts.ManifestPath, "json", "", "Manifest to use instead of <root_dir>/dxapp.json")
	fs.Var(addOpts, "add_opts", "Extra applet inputs as name:value tokens; name: sets an empty value")
	fs.Var(modules, "modules", "Modules to load as name or name:branch tokens")
	fs.StringVar(&opts.InstanceType, "instance_type", "", "Instance type of the test job (default mem1_ssd1_v2_x4)")
	fs.StringVar(&opts.ConfigPath, "config", "applet-tester.yaml", "Path to configuration file")
	fs.StringVar(&opts.Backend, "backend", "", "Platform backend: dnanexus or docker")
	fs.StringVar(&opts.OutDir, "out_dir", "", "Directory receiving the pytest log (default test_out)")
	fs.StringVar(&opts.LogLevel, "log_level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&opts.Watch, "watch", false, "Stream the job log while waiting")
	fs.BoolVar(&opts.DryRun, "dry_run", false, "Print the applet build request without contacting the platform")
	fs.BoolVar(&opts.Version, "version", false, "Show version information")
	fs.BoolVar(&opts.Help, "help", false, "Show help information")
	fs.Usage = func() {
		fmt.Fprintln(out, "Usage: applet-tester --script <test.py> --files <dir> --root_dir <applet> [options]")
		fmt.Fprintln(out, "Options:")
		fs.PrintDefaults()
	}
	return fs
}

// Parse parses args (without the program name). Usage problems are returned
// as *ExitError with ExitUsage; --help returns ErrHelp.
func Parse(args []string, out io.Writer) (*Options, error) {
	opts := &Options{}
	var addOpts, modules tokenList
	fs := newFlagSet(opts, &addOpts, &modules, out)

	expanded := expandMultiFlags(args)
	if err := fs.Parse(expanded); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, UsageError(err)
	}
	if opts.Help {
		fs.Usage()
		return nil, ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, Usagef("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.ConfigSet = true
		}
	})
	if opts.Version {
		return opts, nil
	}

	var errs []error
	for _, token := range addOpts {
		opt, err := model.ParseOption(token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opts.AddOpts = append(opts.AddOpts, opt)
	}
	for _, token := range modules {
		ref, err := model.ParseModuleRef(token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opts.Modules = append(opts.Modules, ref)
	}
	for name, value := range map[string]string{"script": opts.Script, "files": opts.Files, "root_dir": opts.RootDir} {
		if value == "" {
			errs = append(errs, fmt.Errorf("--%s is required", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, UsageError(err)
	}
	return opts, nil
}

// expandMultiFlags rewrites "--add_opts a:1 b:2" into repeated
// "--add_opts=a:1 --add_opts=b:2" so the flag package can parse it. Tokens
// are consumed until the next argument starting with "-". A flag followed by
// no tokens means none were given.
func expandMultiFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}
		name, value, hasValue := flagName(arg)
		if !multiFlags[name] {
			out = append(out, arg)
			continue
		}
		if hasValue {
			out = append(out, "--"+name+"="+value)
			continue
		}
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, "--"+name+"="+args[i])
		}
	}
	return out
}

func flagName(arg string) (name, value string, hasValue bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	name, value, hasValue = strings.Cut(trimmed, "=")
	return name, value, hasValue
}
