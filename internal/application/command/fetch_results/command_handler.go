package fetch_results

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/pytest"
	"applet-tester/internal/domain/service/util"
	"applet-tester/internal/infra/bundle"
	"applet-tester/pkg/log"
)

// FetchResultsHandler handles the FetchResultsCommand
type FetchResultsHandler struct {
	platform repository.PlatformRepository
}

// NewFetchResultsHandler creates a new FetchResultsHandler
func NewFetchResultsHandler(platform repository.PlatformRepository) *FetchResultsHandler {
	return &FetchResultsHandler{platform: platform}
}

// Handle executes the FetchResultsCommand. A completed job yields the log
// packed in its output tarball; a failed job yields its platform log under
// the same name.
func (h *FetchResultsHandler) Handle(ctx context.Context, cmd FetchResultsCommand) error {
	if cmd.Result == nil {
		return errors.New("fetch results command needs a result")
	}
	if h.platform == nil {
		return errors.New("no platform configured")
	}
	desc, err := h.platform.DescribeJob(ctx, cmd.JobID)
	if err != nil {
		return fmt.Errorf("failed to describe job %s: %w", cmd.JobID, err)
	}
	status, _ := desc.State.Status()
	cmd.Result.JobState = desc.State
	cmd.Result.Status = status

	if err := os.MkdirAll(cmd.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", cmd.OutDir, err)
	}
	logPath := filepath.Join(cmd.OutDir, cmd.Identity.LogFileName())

	switch status {
	case model.StatusComplete:
		if err := h.fetchTarballLog(ctx, cmd, desc, logPath); err != nil {
			return err
		}
	case model.StatusFailed:
		if err := h.writeJobLog(ctx, desc, logPath); err != nil {
			return err
		}
		cmd.Result.FromJobLog = true
	default:
		return fmt.Errorf("job %s is still %s", cmd.JobID, desc.State)
	}
	cmd.Result.LogPath = logPath

	summary, err := pytest.ParseFile(logPath)
	if err != nil {
		return err
	}
	cmd.Result.Summary = summary
	log.Info("Retrieved test log", "path", logPath, "summary", summary.String())
	return nil
}

func (h *FetchResultsHandler) fetchTarballLog(ctx context.Context, cmd FetchResultsCommand, desc model.JobDescription, logPath string) error {
	fileID, ok := desc.OutputFileID(model.OutputTarball)
	if !ok {
		return fmt.Errorf("job %s finished without %s", desc.ID, model.OutputTarball)
	}

	workDir := cmd.WorkDir
	if workDir == "" {
		workDir = cmd.OutDir
	}
	tarball := filepath.Join(workDir, cmd.Identity.OutputTarballName())
	if err := h.platform.DownloadFile(ctx, fileID, tarball); err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, err)
	}
	defer os.Remove(tarball)

	extractDir, err := os.MkdirTemp(workDir, "output-")
	if err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(extractDir)

	files, err := bundle.Extract(tarball, extractDir)
	if err != nil {
		return err
	}
	src := findLog(files, cmd.Identity.LogFileName())
	if src == "" {
		return fmt.Errorf("%s does not contain %s", model.OutputTarball, cmd.Identity.LogFileName())
	}
	return util.CopyFile(src, logPath)
}

// findLog prefers the exact log name and falls back to the only .log file.
func findLog(files []string, name string) string {
	var logs []string
	for _, f := range files {
		if filepath.Base(f) == name {
			return f
		}
		if strings.HasSuffix(f, ".log") {
			logs = append(logs, f)
		}
	}
	if len(logs) == 1 {
		return logs[0]
	}
	return ""
}

func (h *FetchResultsHandler) writeJobLog(ctx context.Context, desc model.JobDescription, logPath string) error {
	f, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", logPath, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "job %s %s", desc.ID, desc.State)
	if desc.FailureReason != "" {
		fmt.Fprintf(w, ": %s", desc.FailureReason)
	}
	if desc.FailureMessage != "" {
		fmt.Fprintf(w, ": %s", desc.FailureMessage)
	}
	w.WriteString("\n")

	streamErr := h.platform.StreamJobLog(ctx, desc.ID, func(msg model.LogMessage) {
		if msg.IsEnd() {
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", msg.Source, msg.Message)
	})
	if streamErr != nil {
		log.Warn("Job log is incomplete", "job_id", desc.ID, "error", streamErr)
		fmt.Fprintf(w, "job log unavailable: %v\n", streamErr)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", logPath, err)
	}
	return f.Close()
}
