package capabilities

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeBinary writes a shell script that prints output for --version.
func fakeBinary(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-git")
	script := "#!/bin/sh\necho '" + output + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestGitCapabilityParsesVersion(t *testing.T) {
	git := NewGitCapability(fakeBinary(t, "git version 2.43.0"))
	if !git.IsAvailable() {
		t.Fatal("expected fake git to be available")
	}
	if git.Version() != "2.43.0" {
		t.Errorf("Version() = %q, want 2.43.0", git.Version())
	}
}

func TestGitCapabilityRejectsUnexpectedOutput(t *testing.T) {
	git := NewGitCapability(fakeBinary(t, "something else"))
	if git.IsAvailable() {
		t.Fatal("unexpected output should not count as git")
	}
}

func TestRequireJoinsMissing(t *testing.T) {
	missing := NewGitCapability(filepath.Join(t.TempDir(), "no-such-git"))
	err := Require(missing)
	if err == nil {
		t.Fatal("Require() should fail for a missing binary")
	}
	if !strings.Contains(err.Error(), "git is not available") {
		t.Errorf("Require() error = %v", err)
	}
	if err := Require(); err != nil {
		t.Errorf("Require() with no capabilities = %v", err)
	}
}
