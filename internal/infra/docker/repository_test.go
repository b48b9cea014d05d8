package docker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"applet-tester/internal/domain/model"
)

type fakeEngine struct {
	mu      sync.Mutex
	started []containerSpec
	removed []string
	state   containerState
	stdout  string
	stderr  string
}

func (f *fakeEngine) EnsureImage(context.Context, string) error { return nil }

func (f *fakeEngine) Start(_ context.Context, spec containerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, spec)
	return "container-1", nil
}

func (f *fakeEngine) Inspect(context.Context, string) (containerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeEngine) Logs(_ context.Context, _ string, _ bool, stdout, stderr io.Writer) error {
	io.WriteString(stdout, f.stdout)
	io.WriteString(stderr, f.stderr)
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func newTestRepository(t *testing.T) (*Repository, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{state: containerState{Status: "running"}}
	repo, err := newRepository(Config{ProjectDir: t.TempDir(), Image: "python:3.11-slim"}, eng)
	if err != nil {
		t.Fatalf("newRepository() error = %v", err)
	}
	return repo, eng
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewRepositoryValidates(t *testing.T) {
	if _, err := newRepository(Config{Image: "x"}, &fakeEngine{}); err == nil {
		t.Error("missing project dir should fail")
	}
	if _, err := newRepository(Config{ProjectDir: t.TempDir()}, &fakeEngine{}); err == nil {
		t.Error("missing image should fail")
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, eng := newTestRepository(t)
	local := t.TempDir()
	const folder = "/demo_test_1_tmpdata"

	if err := repo.NewFolder(ctx, folder); err != nil {
		t.Fatalf("NewFolder() error = %v", err)
	}
	scriptID, err := repo.UploadFile(ctx, model.UploadRequest{LocalPath: writeFile(t, local, "test.py", "def test_ok(): pass\n"), Folder: folder})
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	bundleID, err := repo.UploadFile(ctx, model.UploadRequest{LocalPath: writeFile(t, local, "resources.tar.gz", "gz"), Folder: folder})
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	appletID, err := repo.CreateApplet(ctx, model.AppletRequest{
		Folder: folder,
		Name:   "demo_test_1",
		Document: map[string]interface{}{
			"runSpec": map[string]interface{}{
				"execDepends":    []interface{}{map[string]interface{}{"name": "pytest", "package_manager": "pip"}},
				"bundledDepends": []interface{}{map[string]interface{}{"name": "resources.tar.gz", "id": map[string]interface{}{"$dnanexus_link": bundleID}}},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateApplet() error = %v", err)
	}

	jobID, err := repo.RunApplet(ctx, model.RunRequest{
		AppletID: appletID,
		Folder:   folder,
		Name:     "test_demo",
		Input: map[string]interface{}{
			model.InputTestingScript:    model.NewLink(scriptID),
			model.InputTestingDirectory: folder,
			model.InputOutputPrefix:     "1",
			"req_test_opt":              "test_input",
		},
	})
	if err != nil {
		t.Fatalf("RunApplet() error = %v", err)
	}

	spec := eng.started[0]
	if spec.Image != "python:3.11-slim" || spec.Labels[labelJob] != jobID {
		t.Errorf("container spec = %+v", spec)
	}
	env := strings.Join(spec.Env, "\n")
	for _, want := range []string{"INPUT_REQ_TEST_OPT=test_input", "TEST_DIR=/project/demo_test_1_tmpdata", "INPUT_TESTING_SCRIPT=/project/demo_test_1_tmpdata/test.py"} {
		if !strings.Contains(env, want) {
			t.Errorf("env missing %q:\n%s", want, env)
		}
	}

	jobDir := filepath.Join(repo.cfg.ProjectDir, ".jobs", jobID)
	script, err := os.ReadFile(filepath.Join(jobDir, "run.sh"))
	if err != nil {
		t.Fatalf("job script missing: %v", err)
	}
	for _, want := range []string{
		"tar -xzf '/project/demo_test_1_tmpdata/resources.tar.gz' -C /",
		"python3 -m pip install --quiet 'pytest'",
		"cp '/project/demo_test_1_tmpdata/test.py' test.py",
		"> 'pytest.1.log' 2>&1",
		"tar -czf '/project/demo_test_1_tmpdata/1.assoc_results.tar.gz' 'pytest.1.log'",
	} {
		if !strings.Contains(string(script), want) {
			t.Errorf("job script missing %q:\n%s", want, script)
		}
	}

	desc, err := repo.DescribeJob(ctx, jobID)
	if err != nil || desc.State != "running" {
		t.Fatalf("DescribeJob() = %+v, %v", desc, err)
	}

	// Simulate the container finishing and writing its output.
	writeFile(t, repo.hostPath(folder), "1.assoc_results.tar.gz", "output")
	eng.state = containerState{Status: "exited", ExitCode: 0}

	desc, err = repo.DescribeJob(ctx, jobID)
	if err != nil || desc.State != "done" {
		t.Fatalf("DescribeJob() = %+v, %v", desc, err)
	}
	outputID, ok := desc.OutputFileID(model.OutputTarball)
	if !ok {
		t.Fatalf("no output tarball in %+v", desc.Output)
	}
	again, _ := repo.DescribeJob(ctx, jobID)
	if id, _ := again.OutputFileID(model.OutputTarball); id != outputID {
		t.Errorf("output id changed between describes: %s != %s", id, outputID)
	}

	dst := filepath.Join(local, "out", "output.tar.gz")
	if err := repo.DownloadFile(ctx, outputID, dst); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}

	if err := repo.RemoveObjects(ctx, []string{appletID, "file-unknown"}); err != nil {
		t.Fatalf("RemoveObjects() error = %v", err)
	}
	if err := repo.RemoveFolder(ctx, folder); err != nil {
		t.Fatalf("RemoveFolder() error = %v", err)
	}
	if _, err := os.Stat(repo.hostPath(folder)); !os.IsNotExist(err) {
		t.Error("run folder should be removed")
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Error("job directory should be removed")
	}
	if len(eng.removed) != 1 || eng.removed[0] != "container-1" {
		t.Errorf("removed containers = %v", eng.removed)
	}
	if _, err := repo.DescribeFile(ctx, scriptID); err == nil {
		t.Error("files in a removed folder should be forgotten")
	}
}

func TestDescribeJobFailure(t *testing.T) {
	ctx := context.Background()
	repo, eng := newTestRepository(t)
	scriptID, _ := repo.UploadFile(ctx, model.UploadRequest{LocalPath: writeFile(t, t.TempDir(), "test.py", ""), Folder: "/run"})
	appletID, _ := repo.CreateApplet(ctx, model.AppletRequest{Folder: "/run", Name: "a"})
	jobID, err := repo.RunApplet(ctx, model.RunRequest{
		AppletID: appletID,
		Folder:   "/run",
		Input:    map[string]interface{}{model.InputTestingScript: model.NewLink(scriptID), model.InputOutputPrefix: "p"},
	})
	if err != nil {
		t.Fatalf("RunApplet() error = %v", err)
	}

	eng.state = containerState{Status: "exited", ExitCode: 2}
	desc, err := repo.DescribeJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if desc.State != "failed" || !strings.Contains(desc.FailureMessage, "code 2") {
		t.Errorf("DescribeJob() = %+v", desc)
	}
}

func TestTerminateJob(t *testing.T) {
	ctx := context.Background()
	repo, eng := newTestRepository(t)
	repo.jobs["job-1"] = &job{id: "job-1", name: "test_demo", containerID: "container-1"}

	if err := repo.TerminateJob(ctx, "job-1"); err != nil {
		t.Fatalf("TerminateJob() error = %v", err)
	}
	if len(eng.removed) != 1 || eng.removed[0] != "container-1" {
		t.Errorf("removed containers = %v", eng.removed)
	}
	desc, err := repo.DescribeJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("DescribeJob() error = %v", err)
	}
	if desc.State != "terminated" {
		t.Errorf("state after terminate = %q", desc.State)
	}
	if status, _ := desc.State.Status(); status != model.StatusFailed {
		t.Errorf("terminated job should count as failed, got %v", status)
	}
	if err := repo.TerminateJob(ctx, "job-unknown"); err == nil {
		t.Error("terminating an unknown job should fail")
	}
}

func TestRunAppletRequiresScript(t *testing.T) {
	repo, _ := newTestRepository(t)
	appletID, _ := repo.CreateApplet(context.Background(), model.AppletRequest{Name: "a"})
	if _, err := repo.RunApplet(context.Background(), model.RunRequest{AppletID: appletID}); err == nil {
		t.Error("RunApplet() without a test script should fail")
	}
}

func TestStreamJobLog(t *testing.T) {
	ctx := context.Background()
	repo, eng := newTestRepository(t)
	eng.stdout = "collected 1 item\n1 passed in 0.01s\n"
	eng.stderr = "warning: something"
	repo.jobs["job-1"] = &job{id: "job-1", containerID: "container-1"}

	var got []string
	err := repo.StreamJobLog(ctx, "job-1", func(m model.LogMessage) {
		got = append(got, m.Level+":"+m.Message)
	})
	if err != nil {
		t.Fatalf("StreamJobLog() error = %v", err)
	}
	sort.Strings(got)
	want := []string{"STDERR:warning: something", "STDOUT:1 passed in 0.01s", "STDOUT:collected 1 item"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v", got)
	}
}

func TestHostPathStaysInProject(t *testing.T) {
	repo, _ := newTestRepository(t)
	got := repo.hostPath("/../../etc", "passwd")
	if !strings.HasPrefix(got, repo.cfg.ProjectDir) {
		t.Errorf("hostPath escaped the project: %s", got)
	}
	if err := repo.RemoveFolder(context.Background(), "/"); err == nil {
		t.Error("removing the project root should be refused")
	}
}

func TestMapContainerState(t *testing.T) {
	tests := []struct {
		state     string
		exitCode  int
		hasOutput bool
		want      model.JobState
	}{
		{"created", 0, false, "runnable"},
		{"running", 0, false, "running"},
		{"exited", 0, true, "done"},
		{"exited", 0, false, "failed"},
		{"exited", 1, true, "failed"},
		{"dead", 0, false, "failed"},
		{"removing", 0, false, "terminating"},
	}
	for _, tt := range tests {
		if got := MapContainerState(tt.state, tt.exitCode, tt.hasOutput); got != tt.want {
			t.Errorf("MapContainerState(%q, %d, %v) = %q, want %q", tt.state, tt.exitCode, tt.hasOutput, got, tt.want)
		}
	}
}

func TestInstallCommand(t *testing.T) {
	tests := []struct {
		dep  model.ExecDepend
		want string
	}{
		{model.ExecDepend{Name: "pytest", PackageManager: "pip", Version: "7.4.0"}, "pip install --quiet 'pytest==7.4.0'"},
		{model.ExecDepend{Name: "burden", PackageManager: "git", URL: "https://example.com/burden.git", Tag: "dev", BuildCommands: "pip3 install ."}, "git clone --depth 1 --branch 'dev' 'https://example.com/burden.git' '/tmp/modules/burden'\n(cd '/tmp/modules/burden' && pip3 install .)"},
		{model.ExecDepend{Name: "libbz2-dev", PackageManager: "apt"}, "apt-get install -y -q 'libbz2-dev'"},
		{model.ExecDepend{Name: "x", PackageManager: "cran"}, "skipping unsupported package manager cran"},
	}
	for _, tt := range tests {
		if got := installCommand(tt.dep); !strings.Contains(got, tt.want) {
			t.Errorf("installCommand(%s) = %q, want it to contain %q", tt.dep.Name, got, tt.want)
		}
	}
}

func TestRenderPreparesPackageManagers(t *testing.T) {
	apt := model.ExecDepend{Name: "libbz2-dev", PackageManager: "apt"}
	git := model.ExecDepend{Name: "burden", PackageManager: "git", URL: "https://example.com/burden.git"}
	pip := model.ExecDepend{Name: "pytest", PackageManager: "pip"}

	tests := []struct {
		name         string
		deps         []model.ExecDepend
		wantUpdate   bool
		wantGit      bool
		firstInstall string
	}{
		{name: "pip only", deps: []model.ExecDepend{pip}},
		{name: "apt", deps: []model.ExecDepend{pip, apt, apt}, wantUpdate: true, firstInstall: "apt-get install -y -q 'libbz2-dev'"},
		{name: "git", deps: []model.ExecDepend{git}, wantUpdate: true, wantGit: true, firstInstall: "git clone"},
		{name: "apt and git", deps: []model.ExecDepend{git, apt}, wantUpdate: true, wantGit: true, firstInstall: "git clone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := jobScript{Depends: tt.deps, Script: "test.py", LogName: "log.txt", Tarball: "out.tar.gz"}.Render()

			updates := strings.Count(script, "apt-get update")
			if !tt.wantUpdate {
				if updates != 0 {
					t.Fatalf("script runs apt-get update without apt or git deps:\n%s", script)
				}
				return
			}
			if updates != 1 {
				t.Fatalf("apt-get update appears %d times, want 1:\n%s", updates, script)
			}
			update := strings.Index(script, "apt-get update")
			if first := strings.Index(script, tt.firstInstall); first < update {
				t.Errorf("%q runs before apt-get update:\n%s", tt.firstInstall, script)
			}
			gitInstall := strings.Index(script, "apt-get install -y -q git ")
			if tt.wantGit != (gitInstall >= 0) {
				t.Fatalf("git install present = %v, want %v:\n%s", gitInstall >= 0, tt.wantGit, script)
			}
			if tt.wantGit && gitInstall > strings.Index(script, "git clone") {
				t.Errorf("git is installed after the first clone:\n%s", script)
			}
		})
	}
}
