// Package launcher drives one test run: it dispatches every step through the
// command bus, waits for the job and always tears down what it created.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"applet-tester/internal/application/cli"
	"applet-tester/internal/application/command"
	"applet-tester/internal/application/command/build_applet"
	"applet-tester/internal/application/command/fetch_results"
	"applet-tester/internal/application/command/launch"
	"applet-tester/internal/application/command/stage_modules"
	"applet-tester/internal/application/command/tear_down"
	"applet-tester/internal/application/config"
	"applet-tester/internal/application/query"
	"applet-tester/internal/application/query/get_job_status"
	"applet-tester/internal/application/report"
	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/manifest"
	"applet-tester/pkg/backoff"
	"applet-tester/pkg/cqrs"
	"applet-tester/pkg/log"
	"applet-tester/pkg/yaml"
)

const defaultWatchGrace = 30 * time.Second

// Dependencies are the collaborators of a Launcher. Platform may be nil for
// dry runs; Stager, Archive and Ledger are optional.
type Dependencies struct {
	Platform repository.PlatformRepository
	Stager   repository.ModuleStager
	Archive  repository.LogArchive
	Ledger   repository.RunLedger
	Stdout   io.Writer
}

type Launcher struct {
	config     *config.Config
	opts       *cli.Options
	platform   repository.PlatformRepository
	manifests  manifest.ServiceInterface
	tracker    *session.Tracker
	commands   cqrs.CommandBus
	queries    cqrs.QueryBus
	archive    repository.LogArchive
	ledger     repository.RunLedger
	stdout     io.Writer
	now        func() time.Time
	watchGrace time.Duration // how long the log stream may run after the job ended
}

// NewLauncher wires the buses and handlers for one run. The buses are not
// bound to a context so that teardown still runs after an interrupt.
func NewLauncher(cfg *config.Config, opts *cli.Options, deps Dependencies) (*Launcher, error) {
	if deps.Platform == nil && !opts.DryRun {
		return nil, errors.New("a platform is required unless running dry")
	}
	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	manifests := manifest.NewService(cfg.TestDepends)
	tracker := session.NewTracker()

	commandBus := cqrs.NewCommandBus(nil)
	if err := command.RegisterCommandHandlers(commandBus, cfg, deps.Platform, deps.Stager, manifests, tracker); err != nil {
		return nil, err
	}

	queryBus := cqrs.NewQueryBus(nil)
	if err := query.RegisterQueryHandlers(queryBus, deps.Platform); err != nil {
		return nil, err
	}

	return &Launcher{
		config:     cfg,
		opts:       opts,
		platform:   deps.Platform,
		manifests:  manifests,
		tracker:    tracker,
		commands:   commandBus,
		queries:    queryBus,
		archive:    deps.Archive,
		ledger:     deps.Ledger,
		stdout:     stdout,
		now:        time.Now,
		watchGrace: defaultWatchGrace,
	}, nil
}

// Close stops the buses and releases the sinks.
func (l *Launcher) Close() {
	l.commands.Shutdown()
	l.queries.Shutdown()
	l.commands.WaitForCompletion()
	l.queries.WaitForCompletion()
	if l.ledger != nil {
		l.ledger.Close()
	}
}

func (l *Launcher) backendName() string {
	if l.platform != nil {
		return l.platform.Name()
	}
	return string(l.config.Backend)
}

// Run performs the whole run. The returned error is a *cli.ExitError unless
// it is nil; a run whose tests failed returns ExitTestsFailed.
func (l *Launcher) Run(ctx context.Context) (*model.RunResult, error) {
	m, err := l.preflight()
	if err != nil {
		return nil, err
	}

	identity := model.NewRunIdentity(l.opts.RootDir, l.now())
	log.Info("Starting test run", "applet", identity.AppletName(), "backend", l.backendName())

	workDir, err := os.MkdirTemp(l.config.Git.WorkDir, "applet-tester-"+identity.Tag()+"-")
	if err != nil {
		return nil, cli.InfraError("failed to create work directory", err)
	}
	l.tracker.TrackPath(workDir)

	result := &model.RunResult{
		Identity:  identity,
		Backend:   l.backendName(),
		StartedAt: identity.StartedAt,
	}

	if l.opts.DryRun {
		runErr := l.dryRun(ctx, m, identity, workDir)
		if tdErr := l.tearDown(ctx); tdErr != nil {
			log.Warn("Failed to clean up dry run", "error", tdErr)
		}
		return result, runErr
	}

	runErr := l.execute(ctx, m, result, workDir)
	if tdErr := l.tearDown(ctx); tdErr != nil {
		log.Error("Teardown failed", "error", tdErr)
		tdExit := cli.InfraError("teardown failed", tdErr)
		if runErr == nil {
			runErr = tdExit
		} else {
			runErr = errors.Join(runErr, tdExit)
		}
	}
	result.FinishedAt = l.now()
	result.Err = runErr

	fmt.Fprintln(l.stdout, report.Render(result))
	l.publish(ctx, result)

	if runErr != nil {
		return result, runErr
	}
	if !result.Success() {
		return result, &cli.ExitError{
			Code:    cli.ExitTestsFailed,
			Message: fmt.Sprintf("job %s %s, %s", result.JobID, result.JobState, result.Summary),
		}
	}
	return result, nil
}

// preflight checks everything that can be checked locally
func (l *Launcher) preflight() (*model.Manifest, error) {
	var errs []error
	if fi, err := os.Stat(l.opts.Script); err != nil || !fi.Mode().IsRegular() {
		errs = append(errs, fmt.Errorf("--script %s is not a file", l.opts.Script))
	}
	if fi, err := os.Stat(l.opts.Files); err != nil || !fi.IsDir() {
		errs = append(errs, fmt.Errorf("--files %s is not a directory", l.opts.Files))
	}
	if fi, err := os.Stat(l.opts.RootDir); err != nil || !fi.IsDir() {
		errs = append(errs, fmt.Errorf("--root_dir %s is not a directory", l.opts.RootDir))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, cli.UsageError(err)
	}

	m, err := l.manifests.Load(l.manifests.Locate(l.opts.RootDir, l.opts.ManifestPath))
	if err != nil {
		return nil, cli.UsageError(err)
	}
	if err := l.manifests.Validate(m); err != nil {
		return nil, cli.UsageError(fmt.Errorf("manifest %s cannot run in test mode: %w", m.Path, err))
	}

	placeholders := map[string]interface{}{
		model.InputTestingScript:    model.NewLink(build_applet.DryRunFileID),
		model.InputTestingDirectory: "",
		model.InputOutputPrefix:     "",
	}
	if _, err := l.manifests.ResolveInputs(m, placeholders, l.opts.AddOpts); err != nil {
		return nil, cli.UsageError(err)
	}
	return m, nil
}

func (l *Launcher) execute(ctx context.Context, m *model.Manifest, result *model.RunResult, workDir string) error {
	staged := &stage_modules.Result{}
	if len(l.opts.Modules) > 0 && l.config.IsFeatureEnabled(config.FeatureModuleStaging) {
		if err := l.commands.Dispatch(ctx, stage_modules.StageModulesCommand{
			Manifest: m,
			Modules:  l.opts.Modules,
			WorkDir:  workDir,
			Result:   staged,
		}); err != nil {
			return cli.InfraError("failed to stage modules", err)
		}
	}

	built := &build_applet.Result{}
	if err := l.commands.Dispatch(ctx, build_applet.BuildAppletCommand{
		Identity: result.Identity,
		Manifest: m,
		RootDir:  l.opts.RootDir,
		Script:   l.opts.Script,
		Files:    l.opts.Files,
		Modules:  l.opts.Modules,
		Staged:   staged.Modules,
		WorkDir:  workDir,
		Result:   built,
	}); err != nil {
		return cli.InfraError("failed to build applet", err)
	}
	result.AppletID = built.AppletID

	launched := &launch.Result{}
	if err := l.commands.Dispatch(ctx, launch.LaunchTestCommand{
		Identity:     result.Identity,
		Manifest:     m,
		AppletID:     built.AppletID,
		ScriptID:     built.ScriptID,
		Folder:       built.Folder,
		Options:      l.opts.AddOpts,
		InstanceType: l.config.InstanceType,
		Result:       launched,
	}); err != nil {
		return cli.InfraError("failed to launch test job", err)
	}
	result.JobID = launched.JobID

	status, err := l.wait(ctx, launched.JobID)
	if err != nil {
		return cli.InfraError("failed while waiting for job "+launched.JobID, err)
	}
	result.JobState = status.State
	result.Status = status.Status
	if status.Status == model.StatusFailed {
		log.Error("Test job failed", "job_id", launched.JobID, "state", status.State, "reason", status.Message)
	}

	fetched := &fetch_results.Result{}
	if err := l.commands.Dispatch(ctx, fetch_results.FetchResultsCommand{
		Identity: result.Identity,
		JobID:    launched.JobID,
		OutDir:   l.config.OutDir,
		WorkDir:  workDir,
		Result:   fetched,
	}); err != nil {
		return cli.InfraError("failed to fetch results", err)
	}
	result.LogPath = fetched.LogPath
	result.Summary = fetched.Summary
	result.JobState = fetched.JobState
	result.Status = fetched.Status
	return nil
}

// wait polls the job with exponential backoff until it is terminal. With
// --watch the job log is streamed to stdout meanwhile; once the job is
// terminal the stream gets watchGrace to deliver its last lines.
func (l *Launcher) wait(ctx context.Context, jobID string) (model.JobStatus, error) {
	if timeout := l.config.Poll.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !l.opts.Watch {
		return l.poll(ctx, jobID)
	}

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		l.watch(watchCtx, jobID)
	}()

	status, err := l.poll(ctx, jobID)
	if err == nil {
		grace := time.NewTimer(l.watchGrace)
		select {
		case <-streamed:
		case <-grace.C:
			log.Warn("Job log did not end in time", "job_id", jobID, "grace", l.watchGrace)
		case <-ctx.Done():
		}
		grace.Stop()
	}
	stop()
	<-streamed
	return status, err
}

func (l *Launcher) poll(ctx context.Context, jobID string) (model.JobStatus, error) {
	b := backoff.New(l.config.Poll.Initial.Std(), l.config.Poll.Max.Std())
	for {
		status, err := cqrs.Ask[model.JobStatus](ctx, l.queries, get_job_status.GetJobStatusQuery{JobID: jobID})
		if err != nil {
			return model.JobStatus{}, err
		}
		if status.Status.Terminal() {
			log.Info("Job finished", "job_id", jobID, "state", status.State)
			return status, nil
		}
		log.Debug("Job still running", "job_id", jobID, "state", status.State)
		if err := b.Wait(ctx); err != nil {
			return model.JobStatus{}, err
		}
	}
}

func (l *Launcher) watch(ctx context.Context, jobID string) {
	err := l.platform.StreamJobLog(ctx, jobID, func(msg model.LogMessage) {
		if msg.IsEnd() {
			return
		}
		fmt.Fprintf(l.stdout, "[%s] %s\n", msg.Source, msg.Message)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Job log stream ended", "job_id", jobID, "error", err)
	}
}

func (l *Launcher) dryRun(ctx context.Context, m *model.Manifest, identity model.RunIdentity, workDir string) error {
	built := &build_applet.Result{}
	if err := l.commands.Dispatch(ctx, build_applet.BuildAppletCommand{
		Identity: identity,
		Manifest: m,
		RootDir:  l.opts.RootDir,
		Script:   l.opts.Script,
		Files:    l.opts.Files,
		Modules:  l.opts.Modules,
		WorkDir:  workDir,
		DryRun:   true,
		Result:   built,
	}); err != nil {
		return cli.InfraError("failed to render applet", err)
	}

	launched := &launch.Result{}
	if err := l.commands.Dispatch(ctx, launch.LaunchTestCommand{
		Identity:     identity,
		Manifest:     m,
		AppletID:     "applet-dryrun",
		ScriptID:     built.ScriptID,
		Folder:       built.Folder,
		Options:      l.opts.AddOpts,
		InstanceType: l.config.InstanceType,
		DryRun:       true,
		Result:       launched,
	}); err != nil {
		return cli.UsageError(err)
	}

	plan := model.BuildPlan{
		Backend:     l.backendName(),
		Applet:      built.Request,
		Run:         launched.Request,
		Modules:     l.opts.Modules,
		Resources:   built.Resources,
		TestData:    built.TestData,
		LogFileName: identity.LogFileName(),
	}
	out, err := yaml.Marshal(plan)
	if err != nil {
		return cli.InfraError("failed to render plan", err)
	}
	_, err = l.stdout.Write(out)
	return err
}

// tearDown runs on a fresh context bounded by the teardown timeout so that
// an interrupted run is still cleaned up.
func (l *Launcher) tearDown(ctx context.Context) error {
	tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.TeardownTimeout.Std())
	defer cancel()
	return l.commands.Dispatch(tdCtx, tear_down.TearDownCommand{})
}

// publish archives the log and records the run. Failures are logged only.
func (l *Launcher) publish(ctx context.Context, result *model.RunResult) {
	if l.archive == nil && l.ledger == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if l.archive != nil && result.LogPath != "" {
		url, err := l.archive.Archive(pubCtx, result)
		if err != nil {
			log.Warn("Failed to archive log", "error", err)
		} else {
			log.Info("Archived log", "url", url)
		}
	}
	if l.ledger != nil {
		if err := l.ledger.Record(pubCtx, result); err != nil {
			log.Warn("Failed to record run", "error", err)
		}
	}
}
