package fake

import (
	"os"
	"path/filepath"
	"testing"

	"applet-tester/internal/infra/bundle"
)

// Manifest is the dxapp.json written by WriteApplet.
const Manifest = `{
  "name": "demo_applet",
  "title": "Demo applet",
  "version": "1.2.0",
  "inputSpec": [
    {"name": "req_test_opt", "class": "string"},
    {"name": "opt_test_opt", "class": "string", "optional": true},
    {"name": "threads", "class": "int", "default": 4},
    {"name": "output_prefix", "class": "string"},
    {"name": "testing_script", "class": "file", "optional": true},
    {"name": "testing_directory", "class": "string", "optional": true}
  ],
  "outputSpec": [
    {"name": "output_tarball", "class": "file", "patterns": ["*.tar.gz"]}
  ],
  "runSpec": {
    "file": "src/demo.py",
    "interpreter": "python3",
    "distribution": "Ubuntu",
    "release": "20.04",
    "execDepends": [
      {"name": "general_utilities", "package_manager": "git", "url": "https://example.com/general_utilities.git", "tag": "v1.0.0", "build_commands": "pip3 install ."},
      {"name": "libbz2-dev", "package_manager": "apt"}
    ]
  }
}`

// WriteApplet creates an applet root directory with a manifest, an entry
// point and a resources tree.
func WriteApplet(t testing.TB) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "demo_applet")
	write(t, filepath.Join(root, "dxapp.json"), Manifest)
	write(t, filepath.Join(root, "src", "demo.py"), "def main():\n    pass\n")
	write(t, filepath.Join(root, "resources", "usr", "bin", "tool.sh"), "#!/bin/sh\necho tool\n")
	return root
}

// WriteTestData creates a test script and a nested test data directory.
func WriteTestData(t testing.TB) (script, files string) {
	t.Helper()
	dir := t.TempDir()
	script = filepath.Join(dir, "mock_pytest.py")
	write(t, script, "def test_ok():\n    assert True\n")
	files = filepath.Join(dir, "test_data")
	write(t, filepath.Join(files, "top.txt"), "top")
	write(t, filepath.Join(files, "subdir_upload_level1", "test_subdir_upload_level1.txt"), "one")
	write(t, filepath.Join(files, "subdir_upload_level1", "subdir_upload_level2", "test_subdir_upload_level2.txt"), "two")
	return script, files
}

// OutputTarball returns a gzip tarball holding a single log file.
func OutputTarball(t testing.TB, logName, content string) []byte {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "out", logName), content)
	dst := filepath.Join(dir, "out.tar.gz")
	if _, err := bundle.Create(dst, bundle.Entry{Source: filepath.Join(dir, "out")}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
