// Package fake provides an in-memory PlatformRepository for tests.
package fake

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
)

// Platform records every call and replays scripted job states
type Platform struct {
	mu sync.Mutex

	Project string
	// States are returned by successive DescribeJob calls; the last repeats.
	States []model.JobState
	// Tarball is the content of the output tarball of completed jobs.
	Tarball []byte
	// Log is streamed by StreamJobLog.
	Log []model.LogMessage
	// Fail makes the named method return the error.
	Fail map[string]error

	FailureReason  string
	FailureMessage string

	Folders        []string
	Uploads        []model.UploadRequest
	Applets        []model.AppletRequest
	Runs           []model.RunRequest
	Removed        []string
	RemovedFolders []string
	Terminated     []string
	Describes      int

	files map[string][]byte
	seq   int
}

// Ensure Platform implements repository.PlatformRepository
var _ repository.PlatformRepository = (*Platform)(nil)

// NewPlatform creates a fake whose jobs finish immediately.
func NewPlatform() *Platform {
	return &Platform{
		Project: "project-fake",
		States:  []model.JobState{"done"},
		Fail:    make(map[string]error),
		files:   make(map[string][]byte),
	}
}

func (p *Platform) id(kind string) string {
	p.seq++
	return fmt.Sprintf("%s-%04d", kind, p.seq)
}

func (p *Platform) fail(method string) error {
	if p.Fail == nil {
		return nil
	}
	return p.Fail[method]
}

func (p *Platform) Name() string { return "fake" }

func (p *Platform) ProjectID() string { return p.Project }

func (p *Platform) NewFolder(_ context.Context, folder string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("NewFolder"); err != nil {
		return err
	}
	p.Folders = append(p.Folders, folder)
	return nil
}

func (p *Platform) UploadFile(_ context.Context, req model.UploadRequest) (string, error) {
	data, err := os.ReadFile(req.LocalPath)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("UploadFile"); err != nil {
		return "", err
	}
	id := p.id("file")
	p.files[id] = data
	p.Uploads = append(p.Uploads, req)
	return id, nil
}

func (p *Platform) DescribeFile(_ context.Context, fileID string) (model.FileDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[fileID]
	if !ok {
		return model.FileDescription{}, fmt.Errorf("file %s not found", fileID)
	}
	return model.FileDescription{ID: fileID, State: "closed", Size: int64(len(data))}, nil
}

func (p *Platform) DownloadFile(_ context.Context, fileID, localPath string) error {
	p.mu.Lock()
	data, ok := p.files[fileID]
	err := p.fail("DownloadFile")
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("file %s not found", fileID)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (p *Platform) CreateApplet(_ context.Context, req model.AppletRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateApplet"); err != nil {
		return "", err
	}
	p.Applets = append(p.Applets, req)
	return p.id("applet"), nil
}

func (p *Platform) RunApplet(_ context.Context, req model.RunRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("RunApplet"); err != nil {
		return "", err
	}
	p.Runs = append(p.Runs, req)
	return p.id("job"), nil
}

func (p *Platform) DescribeJob(_ context.Context, jobID string) (model.JobDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DescribeJob"); err != nil {
		return model.JobDescription{}, err
	}
	state := model.JobState("running")
	if len(p.States) > 0 {
		idx := p.Describes
		if idx >= len(p.States) {
			idx = len(p.States) - 1
		}
		state = p.States[idx]
	}
	p.Describes++

	for _, id := range p.Terminated {
		if id == jobID {
			state = "terminated"
		}
	}

	desc := model.JobDescription{ID: jobID, State: state}
	status, _ := state.Status()
	switch status {
	case model.StatusComplete:
		if p.Tarball != nil {
			id := p.id("file")
			p.files[id] = p.Tarball
			desc.Output = map[string]interface{}{
				model.OutputTarball: map[string]interface{}{"$dnanexus_link": id},
			}
		}
	case model.StatusFailed:
		desc.FailureReason = p.FailureReason
		desc.FailureMessage = p.FailureMessage
	}
	return desc, nil
}

func (p *Platform) StreamJobLog(ctx context.Context, _ string, fn func(model.LogMessage)) error {
	p.mu.Lock()
	msgs := append([]model.LogMessage(nil), p.Log...)
	err := p.fail("StreamJobLog")
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(m)
		if m.IsEnd() {
			return nil
		}
	}
	return nil
}

func (p *Platform) TerminateJob(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("TerminateJob"); err != nil {
		return err
	}
	p.Terminated = append(p.Terminated, jobID)
	return nil
}

func (p *Platform) RemoveObjects(_ context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("RemoveObjects"); err != nil {
		return err
	}
	p.Removed = append(p.Removed, ids...)
	return nil
}

func (p *Platform) RemoveFolder(_ context.Context, folder string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("RemoveFolder"); err != nil {
		return err
	}
	p.RemovedFolders = append(p.RemovedFolders, folder)
	return nil
}

// UploadedTo returns the names uploaded into folder, sorted.
func (p *Platform) UploadedTo(folder string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, u := range p.Uploads {
		if path.Clean(u.Folder) == path.Clean(folder) {
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)
	return names
}
