package launch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository/fake"
	"applet-tester/internal/domain/service/manifest"
	"applet-tester/internal/infra/dnanexus"
)

func newCommand(t *testing.T, options ...model.Option) LaunchTestCommand {
	t.Helper()
	svc := manifest.NewService(nil)
	m, err := svc.Load(filepath.Join(fake.WriteApplet(t), manifest.FileName))
	if err != nil {
		t.Fatal(err)
	}
	return LaunchTestCommand{
		Identity:     model.RunIdentity{Root: "demo_applet", StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Nonce: "1234abcd"},
		Manifest:     m,
		AppletID:     "applet-1",
		ScriptID:     "file-script",
		Folder:       "/demo_applet_test_20240301120000_1234abcd_tmpdata",
		Options:      options,
		InstanceType: "mem1_ssd1_v2_x4",
		Result:       &Result{},
	}
}

func TestLaunchResolvesInputs(t *testing.T) {
	platform := fake.NewPlatform()
	tracker := session.NewTracker()
	h := NewLaunchTestHandler(platform, manifest.NewService(nil), tracker, false)
	cmd := newCommand(t, model.Option{Name: "req_test_opt", Value: "value"}, model.Option{Name: "opt_test_opt", Value: ""})

	if err := h.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if cmd.Result.JobID == "" || len(platform.Runs) != 1 {
		t.Fatalf("job not launched: %+v", cmd.Result)
	}
	if jobs := tracker.Jobs(); len(jobs) != 1 || jobs[0] != cmd.Result.JobID {
		t.Errorf("tracked jobs = %v, want [%s]", jobs, cmd.Result.JobID)
	}
	req := platform.Runs[0]
	if req.Name != "test_demo_applet_20240301120000_1234abcd" || req.InstanceType != "mem1_ssd1_v2_x4" {
		t.Errorf("request = %+v", req)
	}
	if req.Input[model.InputTestingScript] != model.NewLink("file-script") {
		t.Errorf("testing_script = %v", req.Input[model.InputTestingScript])
	}
	if req.Input[model.InputTestingDirectory] != cmd.Folder {
		t.Errorf("testing_directory = %v", req.Input[model.InputTestingDirectory])
	}
	if req.Input[model.InputOutputPrefix] != "20240301120000_1234abcd" {
		t.Errorf("output_prefix = %v", req.Input[model.InputOutputPrefix])
	}
	if v, ok := req.Input["opt_test_opt"]; !ok || v != "" {
		t.Errorf("empty option should be sent as empty string, got %v (%v)", v, ok)
	}
	if _, ok := req.Input["threads"]; ok {
		t.Error("defaults are left to the platform")
	}
}

func TestLaunchAppliesDefaultsForLocalBackends(t *testing.T) {
	platform := fake.NewPlatform()
	h := NewLaunchTestHandler(platform, manifest.NewService(nil), session.NewTracker(), true)
	cmd := newCommand(t, model.Option{Name: "req_test_opt", Value: "value"})
	if err := h.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if platform.Runs[0].Input["threads"] != float64(4) {
		t.Errorf("threads = %v", platform.Runs[0].Input["threads"])
	}
}

func TestLaunchRejectsBadInputs(t *testing.T) {
	h := NewLaunchTestHandler(fake.NewPlatform(), manifest.NewService(nil), session.NewTracker(), false)
	tests := []struct {
		name string
		opts []model.Option
		want string
	}{
		{"missing required", nil, "req_test_opt"},
		{"unknown input", []model.Option{{Name: "req_test_opt", Value: "x"}, {Name: "bogus", Value: "1"}}, "bogus"},
		{"reserved input", []model.Option{{Name: "req_test_opt", Value: "x"}, {Name: "output_prefix", Value: "mine"}}, "output_prefix"},
		{"bad int", []model.Option{{Name: "req_test_opt", Value: "x"}, {Name: "threads", Value: "many"}}, "threads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(context.Background(), newCommand(t, tt.opts...))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Handle() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLaunchInvalidInstanceType(t *testing.T) {
	platform := fake.NewPlatform()
	platform.Fail["RunApplet"] = &dnanexus.APIError{StatusCode: 422, Type: "InvalidInput", Message: "bad instance"}
	h := NewLaunchTestHandler(platform, manifest.NewService(nil), session.NewTracker(), false)

	cmd := newCommand(t, model.Option{Name: "req_test_opt", Value: "x"})
	cmd.InstanceType = "mem9_huge"
	err := h.Handle(context.Background(), cmd)
	if err == nil || !strings.Contains(err.Error(), "mem9_huge") {
		t.Fatalf("Handle() error = %v, want instance type mentioned", err)
	}
	var apiErr *dnanexus.APIError
	if !errors.As(err, &apiErr) {
		t.Error("API error should stay in the chain")
	}
}

func TestLaunchDryRun(t *testing.T) {
	h := NewLaunchTestHandler(nil, manifest.NewService(nil), session.NewTracker(), false)
	cmd := newCommand(t, model.Option{Name: "req_test_opt", Value: "x"})
	cmd.DryRun = true
	if err := h.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if cmd.Result.JobID != "" || cmd.Result.Request.Name == "" {
		t.Errorf("Result = %+v", cmd.Result)
	}
}
