package dnanexus

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"applet-tester/internal/domain/model"
	"applet-tester/pkg/backoff"
	"applet-tester/pkg/log"
)

// NewFolder creates folder and its parents in the project
func (c *Client) NewFolder(ctx context.Context, folder string) error {
	req := map[string]interface{}{"folder": folder, "parents": true}
	if err := c.call(ctx, c.project, "newFolder", req, nil); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", folder, err)
	}
	return nil
}

type uploadTarget struct {
	URL     string            `json:"url"`
	Expires int64             `json:"expires"`
	Headers map[string]string `json:"headers"`
}

// UploadFile creates a file object, streams the content in parts of the
// configured size, closes it and waits until the platform reports it closed.
func (c *Client) UploadFile(ctx context.Context, req model.UploadRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = filepath.Base(req.LocalPath)
	}
	project := req.Project
	if project == "" {
		project = c.project
	}

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", req.LocalPath, err)
	}
	defer f.Close()

	var created struct {
		ID string `json:"id"`
	}
	newReq := map[string]interface{}{
		"project": project,
		"folder":  req.Folder,
		"name":    name,
		"parents": true,
		"hidden":  req.Hidden,
	}
	if err := c.call(ctx, "file", "new", newReq, &created); err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", name, err)
	}

	parts, err := c.uploadParts(ctx, created.ID, f)
	if err != nil {
		return created.ID, fmt.Errorf("failed to upload %s: %w", req.LocalPath, err)
	}

	if err := c.call(ctx, created.ID, "close", nil, nil); err != nil {
		return created.ID, fmt.Errorf("failed to close %s: %w", created.ID, err)
	}
	if err := c.waitClosed(ctx, created.ID); err != nil {
		return created.ID, err
	}

	log.Debug("Uploaded file", "path", req.LocalPath, "file_id", created.ID, "folder", req.Folder, "parts", parts)
	return created.ID, nil
}

// uploadParts sends r as parts numbered from 1. An empty input still
// uploads one empty part. Only one part is held in memory at a time.
func (c *Client) uploadParts(ctx context.Context, fileID string, r io.Reader) (int, error) {
	buf := make([]byte, c.partSize)
	for index := 1; ; index++ {
		n, readErr := io.ReadFull(r, buf)
		last := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !last {
			return index - 1, readErr
		}
		if n == 0 && index > 1 {
			return index - 1, nil
		}

		part := buf[:n]
		sum := md5.Sum(part)
		var target uploadTarget
		partReq := map[string]interface{}{
			"index": index,
			"size":  n,
			"md5":   hex.EncodeToString(sum[:]),
		}
		if err := c.call(ctx, fileID, "upload", partReq, &target); err != nil {
			return index - 1, fmt.Errorf("failed to request upload URL for part %d: %w", index, err)
		}
		resp, err := c.transfer(ctx, http.MethodPut, target.URL, target.Headers, bytes.NewReader(part), int64(n))
		if err != nil {
			return index - 1, fmt.Errorf("part %d: %w", index, err)
		}
		resp.Body.Close()

		if last {
			return index, nil
		}
	}
}

func (c *Client) waitClosed(ctx context.Context, fileID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
	defer cancel()

	b := backoff.New(200*time.Millisecond, 10*time.Second)
	for {
		desc, err := c.DescribeFile(ctx, fileID)
		if err != nil {
			return err
		}
		if desc.Closed() {
			return nil
		}
		if err := b.Wait(ctx); err != nil {
			return fmt.Errorf("file %s did not close: %w", fileID, err)
		}
	}
}

// DescribeFile returns the state of a file
func (c *Client) DescribeFile(ctx context.Context, fileID string) (model.FileDescription, error) {
	var desc model.FileDescription
	req := map[string]interface{}{"project": c.project}
	if err := c.call(ctx, fileID, "describe", req, &desc); err != nil {
		return desc, fmt.Errorf("failed to describe %s: %w", fileID, err)
	}
	return desc, nil
}

// DownloadFile writes the content of fileID to localPath
func (c *Client) DownloadFile(ctx context.Context, fileID, localPath string) error {
	var target uploadTarget
	req := map[string]interface{}{"project": c.project, "duration": 3600}
	if err := c.call(ctx, fileID, "download", req, &target); err != nil {
		return fmt.Errorf("failed to request download URL for %s: %w", fileID, err)
	}

	resp, err := c.transfer(ctx, http.MethodGet, target.URL, target.Headers, nil, 0)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return out.Close()
}

// RemoveObjects deletes data objects from the project
func (c *Client) RemoveObjects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	req := map[string]interface{}{"objects": ids, "force": true}
	if err := c.call(ctx, c.project, "removeObjects", req, nil); err != nil {
		return fmt.Errorf("failed to remove objects %v: %w", ids, err)
	}
	return nil
}

// RemoveFolder deletes folder and its content
func (c *Client) RemoveFolder(ctx context.Context, folder string) error {
	req := map[string]interface{}{"folder": folder, "recurse": true, "force": true}
	if err := c.call(ctx, c.project, "removeFolder", req, nil); err != nil {
		return fmt.Errorf("failed to remove folder %s: %w", folder, err)
	}
	return nil
}
