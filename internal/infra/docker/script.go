package docker

import (
	"fmt"
	"sort"
	"strings"

	"applet-tester/internal/domain/model"
)

// jobScript is the shell program run inside a job container. It emulates
// the test mode of an applet: unpack bundled resources, install execution
// dependencies, run pytest on the test script and pack the log as the
// output tarball.
type jobScript struct {
	Bundles   []string
	Depends   []model.ExecDepend
	Script    string
	LogName   string
	Tarball   string
	PytestCmd string
}

func (s jobScript) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -eu\n\n")

	for _, bundle := range s.Bundles {
		fmt.Fprintf(&b, "tar -xzf %s -C /\n", quote(bundle))
	}

	b.WriteString(setupCommand(s.Depends))
	for _, dep := range s.Depends {
		b.WriteString(installCommand(dep))
	}

	fmt.Fprintf(&b, "\ncp %s test.py\n", quote(s.Script))
	cmd := s.PytestCmd
	if cmd == "" {
		cmd = "python3 -m pytest"
	}
	b.WriteString("set +e\n")
	fmt.Fprintf(&b, "%s test.py > %s 2>&1\n", cmd, quote(s.LogName))
	b.WriteString("status=$?\nset -e\n")
	fmt.Fprintf(&b, "cat %s\n", quote(s.LogName))
	fmt.Fprintf(&b, "tar -czf %s %s\n", quote(s.Tarball), quote(s.LogName))
	b.WriteString("echo \"pytest exited with status $status\"\n")
	return b.String()
}

// setupCommand refreshes the package index once before any apt install and
// installs git when a dependency is cloned. Slim images carry neither.
func setupCommand(deps []model.ExecDepend) string {
	var apt, git bool
	for _, dep := range deps {
		switch dep.PackageManager {
		case "apt", "":
			apt = true
		case "git":
			git = true
		}
	}
	if !apt && !git {
		return ""
	}
	var b strings.Builder
	b.WriteString("if command -v apt-get >/dev/null 2>&1; then\n")
	b.WriteString("\tapt-get update -q >/dev/null\n")
	if git {
		b.WriteString("\tcommand -v git >/dev/null 2>&1 || apt-get install -y -q git >/dev/null\n")
	}
	b.WriteString("fi\n")
	return b.String()
}

func installCommand(dep model.ExecDepend) string {
	switch dep.PackageManager {
	case "pip":
		spec := dep.Name
		if dep.Version != "" {
			spec += "==" + dep.Version
		}
		return fmt.Sprintf("python3 -m pip install --quiet %s\n", quote(spec))
	case "git":
		dir := "/tmp/modules/" + dep.Name
		if dep.Destdir != "" {
			dir = dep.Destdir + "/" + dep.Name
		}
		cmd := fmt.Sprintf("git clone --depth 1 --branch %s %s %s\n", quote(dep.Ref()), quote(dep.URL), quote(dir))
		if dep.Tag == "" {
			cmd = fmt.Sprintf("git clone --depth 1 %s %s\n", quote(dep.URL), quote(dir))
		}
		if dep.BuildCommands != "" {
			cmd += fmt.Sprintf("(cd %s && %s)\n", quote(dir), dep.BuildCommands)
		}
		return cmd
	case "apt", "":
		return fmt.Sprintf("if command -v apt-get >/dev/null 2>&1; then apt-get install -y -q %s >/dev/null; fi\n", quote(dep.Name))
	default:
		return fmt.Sprintf("echo %s\n", quote("skipping unsupported package manager "+dep.PackageManager+" for "+dep.Name))
	}
}

// inputEnv renders job inputs as INPUT_<NAME> variables, sorted by name.
func inputEnv(input map[string]interface{}, linkPath func(id string) string) []string {
	env := make([]string, 0, len(input))
	for name, value := range input {
		var v string
		switch t := value.(type) {
		case model.Link:
			v = linkPath(t.ID)
		case map[string]interface{}:
			id, _ := t["$dnanexus_link"].(string)
			v = linkPath(id)
		case nil:
			continue
		default:
			v = fmt.Sprint(t)
		}
		env = append(env, "INPUT_"+strings.ToUpper(name)+"="+v)
	}
	sort.Strings(env)
	return env
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
