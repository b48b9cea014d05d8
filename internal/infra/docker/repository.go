// Package docker implements the platform repository on the local machine. A
// directory stands in for the project and every job runs in a container of
// the local Docker engine.
package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/util"
	"applet-tester/pkg/log"
)

const (
	// ProjectID is reported for the emulated project.
	ProjectID = "project-local"

	projectMount = "/project"
	jobMount     = "/job"
	labelJob     = "applet-tester.job"
)

// Config holds the settings of the local backend
type Config struct {
	// ProjectDir is the host directory emulating the project.
	ProjectDir string
	// Image runs the jobs. It needs python3, pip and tar. Images with apt-get
	// get git installed when a dependency is cloned.
	Image string
	// PytestCmd overrides the command used to run the test script.
	PytestCmd string
}

type object struct {
	id     string
	kind   string // file, applet
	name   string
	folder string
	path   string // host path of files
	doc    map[string]interface{}
}

type job struct {
	id          string
	name        string
	containerID string
	folder      string
	dir         string
	tarball     string // host path of the expected output
	outputID    string
	terminated  bool
}

// Repository emulates the platform with a local directory and containers
type Repository struct {
	cfg     Config
	engine  engine
	mu      sync.Mutex
	objects map[string]*object
	jobs    map[string]*job
}

// Ensure Repository implements repository.PlatformRepository
var _ repository.PlatformRepository = (*Repository)(nil)

// NewRepository creates a local backend using the Docker engine from the
// environment.
func NewRepository(cfg Config) (*Repository, error) {
	eng, err := newSDKEngine()
	if err != nil {
		return nil, err
	}
	return newRepository(cfg, eng)
}

func newRepository(cfg Config, eng engine) (*Repository, error) {
	if cfg.ProjectDir == "" {
		return nil, errors.New("docker: a project directory is required")
	}
	if cfg.Image == "" {
		return nil, errors.New("docker: an image is required")
	}
	dir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory %s: %w", dir, err)
	}
	cfg.ProjectDir = dir

	return &Repository{
		cfg:     cfg,
		engine:  eng,
		objects: make(map[string]*object),
		jobs:    make(map[string]*job),
	}, nil
}

// Name identifies the backend
func (r *Repository) Name() string {
	return "docker"
}

// ProjectID returns the emulated project id
func (r *Repository) ProjectID() string {
	return ProjectID
}

// hostPath maps a project folder to the host. Folders cannot escape the
// project directory.
func (r *Repository) hostPath(folder string, elem ...string) string {
	clean := path.Clean("/" + folder)
	parts := append([]string{r.cfg.ProjectDir, filepath.FromSlash(clean)}, elem...)
	return filepath.Join(parts...)
}

// containerPath maps a host path below the project directory into the job
// container.
func (r *Repository) containerPath(host string) string {
	rel, err := filepath.Rel(r.cfg.ProjectDir, host)
	if err != nil {
		return host
	}
	return path.Join(projectMount, filepath.ToSlash(rel))
}

func newID(kind string) string {
	return kind + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewFolder creates folder below the project directory
func (r *Repository) NewFolder(_ context.Context, folder string) error {
	if err := os.MkdirAll(r.hostPath(folder), 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", folder, err)
	}
	return nil
}

// UploadFile copies a local file into the project
func (r *Repository) UploadFile(_ context.Context, req model.UploadRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = filepath.Base(req.LocalPath)
	}
	dst := r.hostPath(req.Folder, name)
	if err := util.CopyFile(req.LocalPath, dst); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", req.LocalPath, err)
	}
	return r.register("file", name, req.Folder, dst), nil
}

func (r *Repository) register(kind, name, folder, hostPath string) string {
	id := newID(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[id] = &object{id: id, kind: kind, name: name, folder: path.Clean("/" + folder), path: hostPath}
	return id
}

func (r *Repository) lookup(id, kind string) (*object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	if !ok || obj.kind != kind {
		return nil, fmt.Errorf("%s %s not found in local project", kind, id)
	}
	return obj, nil
}

// DescribeFile returns the state of a file
func (r *Repository) DescribeFile(_ context.Context, fileID string) (model.FileDescription, error) {
	obj, err := r.lookup(fileID, "file")
	if err != nil {
		return model.FileDescription{}, err
	}
	desc := model.FileDescription{ID: obj.id, Name: obj.name, Folder: obj.folder, State: "closed"}
	if fi, err := os.Stat(obj.path); err == nil {
		desc.Size = fi.Size()
	}
	return desc, nil
}

// DownloadFile copies a project file to localPath
func (r *Repository) DownloadFile(_ context.Context, fileID, localPath string) error {
	obj, err := r.lookup(fileID, "file")
	if err != nil {
		return err
	}
	return util.CopyFile(obj.path, localPath)
}

// CreateApplet records the applet document
func (r *Repository) CreateApplet(_ context.Context, req model.AppletRequest) (string, error) {
	id := newID("applet")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[id] = &object{id: id, kind: "applet", name: req.Name, folder: path.Clean("/" + req.Folder), doc: req.Document}
	log.Debug("Created local applet", "applet_id", id, "name", req.Name)
	return id, nil
}

// RunApplet starts a container running the applet's test mode
func (r *Repository) RunApplet(ctx context.Context, req model.RunRequest) (string, error) {
	applet, err := r.lookup(req.AppletID, "applet")
	if err != nil {
		return "", err
	}

	jobID := newID("job")
	jobDir := filepath.Join(r.cfg.ProjectDir, ".jobs", jobID)
	if err := os.MkdirAll(filepath.Join(jobDir, "home"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	prefix, _ := req.Input[model.InputOutputPrefix].(string)
	if prefix == "" {
		prefix = jobID
	}
	scriptID, ok := linkID(req.Input[model.InputTestingScript])
	if !ok {
		return "", fmt.Errorf("input %q must link to the test script", model.InputTestingScript)
	}
	script, err := r.lookup(scriptID, "file")
	if err != nil {
		return "", err
	}

	tarball := r.hostPath(req.Folder, prefix+".assoc_results.tar.gz")
	rendered := jobScript{
		Bundles:   r.bundlePaths(applet.doc),
		Depends:   execDepends(applet.doc),
		Script:    r.containerPath(script.path),
		LogName:   "pytest." + prefix + ".log",
		Tarball:   r.containerPath(tarball),
		PytestCmd: r.cfg.PytestCmd,
	}.Render()
	if err := os.WriteFile(filepath.Join(jobDir, "run.sh"), []byte(rendered), 0o755); err != nil {
		return "", fmt.Errorf("failed to write job script: %w", err)
	}
	if data, err := json.MarshalIndent(req.Input, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(jobDir, "job_input.json"), data, 0o644)
	}

	env := inputEnv(req.Input, func(id string) string {
		if obj, err := r.lookup(id, "file"); err == nil {
			return r.containerPath(obj.path)
		}
		return id
	})
	if dir, ok := req.Input[model.InputTestingDirectory].(string); ok {
		env = append(env, "TEST_DIR="+path.Join(projectMount, path.Clean("/"+dir)))
	}
	env = append(env, "CI=500", "DX_JOB_ID="+jobID, "DX_PROJECT_CONTEXT_ID="+ProjectID)

	if err := r.engine.EnsureImage(ctx, r.cfg.Image); err != nil {
		return "", err
	}
	containerID, err := r.engine.Start(ctx, containerSpec{
		Name:    "applet-tester-" + jobID,
		Image:   r.cfg.Image,
		Cmd:     []string{"/bin/sh", jobMount + "/run.sh"},
		Env:     env,
		WorkDir: jobMount + "/home",
		Binds: map[string]string{
			r.cfg.ProjectDir: projectMount,
			jobDir:           jobMount,
		},
		Labels: map[string]string{labelJob: jobID},
	})
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.jobs[jobID] = &job{
		id:          jobID,
		name:        req.Name,
		containerID: containerID,
		folder:      path.Clean("/" + req.Folder),
		dir:         jobDir,
		tarball:     tarball,
	}
	r.mu.Unlock()
	log.Info("Started local job", "job_id", jobID, "container_id", containerID, "image", r.cfg.Image)
	return jobID, nil
}

func (r *Repository) bundlePaths(doc map[string]interface{}) []string {
	runSpec, _ := doc["runSpec"].(map[string]interface{})
	bundled, _ := runSpec["bundledDepends"].([]interface{})
	var paths []string
	for _, b := range bundled {
		entry, _ := b.(map[string]interface{})
		id, ok := linkID(entry["id"])
		if !ok {
			continue
		}
		if obj, err := r.lookup(id, "file"); err == nil {
			paths = append(paths, r.containerPath(obj.path))
		}
	}
	return paths
}

func execDepends(doc map[string]interface{}) []model.ExecDepend {
	runSpec, _ := doc["runSpec"].(map[string]interface{})
	raw, err := json.Marshal(runSpec["execDepends"])
	if err != nil {
		return nil
	}
	var deps []model.ExecDepend
	if err := json.Unmarshal(raw, &deps); err != nil {
		log.Warn("Ignoring malformed execDepends", "error", err)
		return nil
	}
	return deps
}

func linkID(v interface{}) (string, bool) {
	switch t := v.(type) {
	case model.Link:
		return t.ID, t.ID != ""
	case map[string]interface{}:
		id, ok := t["$dnanexus_link"].(string)
		return id, ok && id != ""
	case string:
		return t, strings.HasPrefix(t, model.LinkPrefix)
	}
	return "", false
}

func (r *Repository) lookupJob(jobID string) (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found in local project", jobID)
	}
	return j, nil
}

// DescribeJob maps the container state to a job description. The output
// tarball is registered as a file once the container exits cleanly.
func (r *Repository) DescribeJob(ctx context.Context, jobID string) (model.JobDescription, error) {
	j, err := r.lookupJob(jobID)
	if err != nil {
		return model.JobDescription{}, err
	}
	r.mu.Lock()
	terminated := j.terminated
	r.mu.Unlock()
	if terminated {
		return model.JobDescription{
			ID:             j.id,
			Name:           j.name,
			State:          "terminated",
			FailureReason:  "Terminated",
			FailureMessage: "job was terminated before it finished",
		}, nil
	}

	st, err := r.engine.Inspect(ctx, j.containerID)
	if err != nil {
		return model.JobDescription{}, err
	}

	_, statErr := os.Stat(j.tarball)
	hasOutput := statErr == nil
	desc := model.JobDescription{
		ID:    j.id,
		Name:  j.name,
		State: MapContainerState(st.Status, st.ExitCode, hasOutput),
	}

	switch desc.State {
	case "done":
		r.mu.Lock()
		if j.outputID == "" {
			j.outputID = newID("file")
			r.objects[j.outputID] = &object{id: j.outputID, kind: "file", name: filepath.Base(j.tarball), folder: j.folder, path: j.tarball}
		}
		outputID := j.outputID
		r.mu.Unlock()
		desc.Output = map[string]interface{}{model.OutputTarball: map[string]interface{}{"$dnanexus_link": outputID}}
	case "failed":
		desc.FailureReason = "AppError"
		desc.FailureMessage = fmt.Sprintf("container exited with code %d", st.ExitCode)
		if st.Error != "" {
			desc.FailureMessage += ": " + st.Error
		}
		if st.ExitCode == 0 && !hasOutput {
			desc.FailureMessage = "job finished without producing " + filepath.Base(j.tarball)
		}
	}
	return desc, nil
}

// StreamJobLog follows the container output line by line
func (r *Repository) StreamJobLog(ctx context.Context, jobID string, fn func(model.LogMessage)) error {
	j, err := r.lookupJob(jobID)
	if err != nil {
		return err
	}

	// stdout and stderr are scanned concurrently; fn sees one message at a time.
	var mu sync.Mutex
	deliver := func(m model.LogMessage) {
		mu.Lock()
		defer mu.Unlock()
		fn(m)
	}

	stdout := newLineWriter(jobID, "STDOUT", deliver)
	stderr := newLineWriter(jobID, "STDERR", deliver)
	err = r.engine.Logs(ctx, j.containerID, true, stdout, stderr)
	stdout.Close()
	stderr.Close()
	return err
}

// TerminateJob force-removes the container of a job. The job stays known as
// terminated until its folder is removed.
func (r *Repository) TerminateJob(ctx context.Context, jobID string) error {
	j, err := r.lookupJob(jobID)
	if err != nil {
		return err
	}
	if err := r.engine.Remove(ctx, j.containerID); err != nil {
		return err
	}
	r.mu.Lock()
	j.terminated = true
	r.mu.Unlock()
	log.Info("Terminated local job", "job_id", jobID, "container_id", j.containerID)
	return nil
}

// RemoveObjects deletes files and applets. Unknown ids are ignored.
func (r *Repository) RemoveObjects(_ context.Context, ids []string) error {
	var errs []error
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		obj, ok := r.objects[id]
		if !ok {
			continue
		}
		if obj.kind == "file" && obj.path != "" {
			if err := os.Remove(obj.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", id, err))
				continue
			}
		}
		delete(r.objects, id)
	}
	return errors.Join(errs...)
}

// RemoveFolder deletes a folder, the objects in it and the containers of
// jobs that ran in it.
func (r *Repository) RemoveFolder(ctx context.Context, folder string) error {
	folder = path.Clean("/" + folder)
	if folder == "/" {
		return errors.New("refusing to remove the project root")
	}

	var errs []error
	r.mu.Lock()
	var jobs []*job
	for id, j := range r.jobs {
		if within(j.folder, folder) {
			jobs = append(jobs, j)
			delete(r.jobs, id)
		}
	}
	for id, obj := range r.objects {
		if within(obj.folder, folder) {
			delete(r.objects, id)
		}
	}
	r.mu.Unlock()

	for _, j := range jobs {
		if err := r.engine.Remove(ctx, j.containerID); err != nil {
			errs = append(errs, err)
		}
		if err := os.RemoveAll(j.dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove job directory %s: %w", j.dir, err))
		}
	}
	if err := os.RemoveAll(r.hostPath(folder)); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove folder %s: %w", folder, err))
	}
	return errors.Join(errs...)
}

func within(p, folder string) bool {
	return p == folder || strings.HasPrefix(p, folder+"/")
}

// lineWriter turns a byte stream into log messages
type lineWriter struct {
	job   string
	level string
	fn    func(model.LogMessage)
	pw    *io.PipeWriter
	done  chan struct{}
}

func newLineWriter(jobID, level string, fn func(model.LogMessage)) *lineWriter {
	pr, pw := io.Pipe()
	w := &lineWriter{job: jobID, level: level, fn: fn, pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			fn(model.LogMessage{Source: "APP", Level: level, Job: jobID, Line: line, Message: scanner.Text()})
		}
		_ = pr.CloseWithError(scanner.Err())
	}()
	return w
}

func (w *lineWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close flushes the last line and waits for it to be delivered.
func (w *lineWriter) Close() {
	_ = w.pw.Close()
	<-w.done
}
