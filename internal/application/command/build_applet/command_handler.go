package build_applet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/manifest"
	"applet-tester/internal/domain/service/util"
	"applet-tester/internal/infra/bundle"
	"applet-tester/pkg/log"
)

const (
	resourcesDir    = "resources"
	resourcesBundle = "resources.tar.gz"
	modulesPrefix   = "opt/modules"

	// DryRunFileID stands in for ids that a dry run never obtains.
	DryRunFileID = "file-dryrun"
)

// BuildAppletHandler handles the BuildAppletCommand
type BuildAppletHandler struct {
	platform  repository.PlatformRepository
	manifests manifest.ServiceInterface
	tracker   *session.Tracker
}

// NewBuildAppletHandler creates a new BuildAppletHandler
func NewBuildAppletHandler(platform repository.PlatformRepository, manifests manifest.ServiceInterface, tracker *session.Tracker) *BuildAppletHandler {
	return &BuildAppletHandler{
		platform:  platform,
		manifests: manifests,
		tracker:   tracker,
	}
}

// Handle executes the BuildAppletCommand
func (h *BuildAppletHandler) Handle(ctx context.Context, cmd BuildAppletCommand) error {
	if cmd.Result == nil || cmd.Manifest == nil {
		return errors.New("build applet command needs a manifest and a result")
	}
	if !cmd.DryRun && h.platform == nil {
		return errors.New("no platform configured")
	}
	res := cmd.Result
	res.Folder = cmd.Identity.RunFolder()

	code, err := os.ReadFile(filepath.Join(cmd.RootDir, filepath.FromSlash(cmd.Manifest.RunSpec.File)))
	if err != nil {
		return fmt.Errorf("failed to read applet entry point: %w", err)
	}

	entries := []bundle.Entry{{Source: filepath.Join(cmd.RootDir, resourcesDir)}}
	for _, m := range cmd.Staged {
		entries = append(entries, bundle.Entry{Source: m.Path, Prefix: path.Join(modulesPrefix, m.Ref.Name)})
	}
	if err := os.MkdirAll(cmd.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory %s: %w", cmd.WorkDir, err)
	}
	bundlePath := filepath.Join(cmd.WorkDir, resourcesBundle)
	count, err := bundle.Create(bundlePath, entries...)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := os.Stat(e.Source); err == nil {
			res.Resources = append(res.Resources, "/"+e.Prefix)
		}
	}
	log.Debug("Bundled applet resources", "files", count, "path", bundlePath)

	testData, err := util.ListFiles(cmd.Files)
	if err != nil {
		return fmt.Errorf("failed to list test data: %w", err)
	}
	for _, f := range testData {
		res.TestData = append(res.TestData, f.Rel)
	}

	params := manifest.DocumentParams{
		Name:        cmd.Identity.AppletName(),
		Code:        string(code),
		ExecDepends: h.manifests.ExecDepends(cmd.Manifest, cmd.Modules),
	}

	if cmd.DryRun {
		if count > 0 {
			params.BundledDepends = []model.BundledDepend{{Name: resourcesBundle, ID: model.NewLink(DryRunFileID)}}
		}
		doc, err := h.manifests.AppletDocument(cmd.Manifest, params)
		if err != nil {
			return err
		}
		res.Request = model.AppletRequest{Folder: res.Folder, Name: params.Name, Document: doc}
		if h.platform != nil {
			res.Request.Project = h.platform.ProjectID()
		}
		res.ScriptID = DryRunFileID
		return nil
	}

	project := h.platform.ProjectID()
	if err := h.platform.NewFolder(ctx, res.Folder); err != nil {
		return fmt.Errorf("failed to create run folder: %w", err)
	}
	h.tracker.TrackFolder(res.Folder)

	if count > 0 {
		id, err := h.platform.UploadFile(ctx, model.UploadRequest{
			LocalPath: bundlePath,
			Name:      resourcesBundle,
			Project:   project,
			Folder:    res.Folder,
			Hidden:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to upload resources: %w", err)
		}
		h.tracker.TrackObject(id)
		res.ResourcesID = id
		params.BundledDepends = []model.BundledDepend{{Name: resourcesBundle, ID: model.NewLink(id)}}
	}

	doc, err := h.manifests.AppletDocument(cmd.Manifest, params)
	if err != nil {
		return err
	}
	res.Request = model.AppletRequest{Project: project, Folder: res.Folder, Name: params.Name, Document: doc}
	appletID, err := h.platform.CreateApplet(ctx, res.Request)
	if err != nil {
		return fmt.Errorf("failed to create applet %s: %w", params.Name, err)
	}
	h.tracker.TrackObject(appletID)
	res.AppletID = appletID
	log.Info("Created test applet", "applet_id", appletID, "name", params.Name)

	scriptID, err := h.platform.UploadFile(ctx, model.UploadRequest{
		LocalPath: cmd.Script,
		Name:      filepath.Base(cmd.Script),
		Project:   project,
		Folder:    res.Folder,
	})
	if err != nil {
		return fmt.Errorf("failed to upload test script: %w", err)
	}
	h.tracker.TrackObject(scriptID)
	res.ScriptID = scriptID

	return h.uploadTestData(ctx, project, res.Folder, testData)
}

// uploadTestData mirrors the test data directory into folder
func (h *BuildAppletHandler) uploadTestData(ctx context.Context, project, folder string, files []util.LocalFile) error {
	created := map[string]bool{"": true}
	for _, f := range files {
		if !created[f.Dir] {
			if err := h.platform.NewFolder(ctx, path.Join(folder, f.Dir)); err != nil {
				return fmt.Errorf("failed to create test data folder %s: %w", f.Dir, err)
			}
			created[f.Dir] = true
		}
		if _, err := h.platform.UploadFile(ctx, model.UploadRequest{
			LocalPath: f.Path,
			Name:      path.Base(f.Rel),
			Project:   project,
			Folder:    path.Join(folder, f.Dir),
		}); err != nil {
			return fmt.Errorf("failed to upload test data %s: %w", f.Rel, err)
		}
	}
	log.Info("Uploaded test data", "files", len(files), "folder", folder)
	return nil
}
