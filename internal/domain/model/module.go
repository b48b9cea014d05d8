package model

import (
	"fmt"
	"strings"
)

// DefaultBranch is the branch used when a module reference names none.
const DefaultBranch = "main"

// ModuleRef names an auxiliary module and the branch to check out
type ModuleRef struct {
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// ParseModuleRef parses a "name" or "name:branch" token. A missing or empty
// branch means DefaultBranch.
func ParseModuleRef(token string) (ModuleRef, error) {
	name, branch, _ := strings.Cut(token, ":")
	name = strings.TrimSpace(name)
	branch = strings.TrimSpace(branch)
	if name == "" {
		return ModuleRef{}, fmt.Errorf("malformed module %q: empty module name", token)
	}
	if branch == "" {
		branch = DefaultBranch
	}
	return ModuleRef{Name: name, Branch: branch}, nil
}

// IsDefaultBranch reports whether the module uses DefaultBranch.
func (m ModuleRef) IsDefaultBranch() bool {
	return m.Branch == "" || m.Branch == DefaultBranch
}

func (m ModuleRef) String() string {
	if m.IsDefaultBranch() {
		return m.Name
	}
	return m.Name + ":" + m.Branch
}
