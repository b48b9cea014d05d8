package dnanexus

import (
	"context"
	"fmt"

	"applet-tester/internal/domain/model"
	"applet-tester/pkg/log"
)

// CreateApplet creates an applet from a manifest document
func (c *Client) CreateApplet(ctx context.Context, req model.AppletRequest) (string, error) {
	body := make(map[string]interface{}, len(req.Document)+4)
	for k, v := range req.Document {
		body[k] = v
	}
	body["project"] = c.projectOr(req.Project)
	body["folder"] = req.Folder
	body["parents"] = true
	if req.Name != "" {
		body["name"] = req.Name
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "applet", "new", body, &created); err != nil {
		return "", fmt.Errorf("failed to create applet %s: %w", req.Name, err)
	}
	log.Debug("Created applet", "applet_id", created.ID, "name", req.Name)
	return created.ID, nil
}

// RunApplet launches an applet in the requested folder
func (c *Client) RunApplet(ctx context.Context, req model.RunRequest) (string, error) {
	body := map[string]interface{}{
		"input":   req.Input,
		"project": c.projectOr(req.Project),
		"folder":  req.Folder,
		"name":    req.Name,
	}
	if req.InstanceType != "" {
		body["systemRequirements"] = map[string]interface{}{
			"*": map[string]interface{}{"instanceType": req.InstanceType},
		}
	}

	var launched struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, req.AppletID, "run", body, &launched); err != nil {
		return "", fmt.Errorf("failed to run applet %s: %w", req.AppletID, err)
	}
	return launched.ID, nil
}

// DescribeJob returns the state and outputs of a job
func (c *Client) DescribeJob(ctx context.Context, jobID string) (model.JobDescription, error) {
	var desc model.JobDescription
	req := map[string]interface{}{
		"fields": map[string]bool{
			"id":             true,
			"name":           true,
			"state":          true,
			"output":         true,
			"failureReason":  true,
			"failureMessage": true,
		},
	}
	if err := c.call(ctx, jobID, "describe", req, &desc); err != nil {
		return desc, fmt.Errorf("failed to describe job %s: %w", jobID, err)
	}
	return desc, nil
}

// TerminateJob stops a running job
func (c *Client) TerminateJob(ctx context.Context, jobID string) error {
	if err := c.call(ctx, jobID, "terminate", map[string]interface{}{}, nil); err != nil {
		return fmt.Errorf("failed to terminate job %s: %w", jobID, err)
	}
	log.Info("Terminated job", "job_id", jobID)
	return nil
}

func (c *Client) projectOr(project string) string {
	if project != "" {
		return project
	}
	return c.project
}
