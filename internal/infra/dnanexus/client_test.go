package dnanexus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"applet-tester/internal/domain/model"
)

const testToken = "secret-token"

// fakeAPI records requests and serves canned responses per path.
type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	server   *httptest.Server
	requests map[string]map[string]interface{}
	uploaded map[string][]byte
	handlers map[string]func(w http.ResponseWriter, body map[string]interface{})
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		t:        t,
		requests: make(map[string]map[string]interface{}),
		uploaded: make(map[string][]byte),
		handlers: make(map[string]func(w http.ResponseWriter, body map[string]interface{})),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/storage/") {
		f.serveStorage(w, r)
		return
	}
	if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"type":"InvalidAuthentication","message":"bad token"}}`)
		return
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("request to %s has invalid JSON: %v", r.URL.Path, err)
	}
	f.mu.Lock()
	f.requests[r.URL.Path] = body
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"type":"ResourceNotFound","message":"no such route"}}`)
		return
	}
	h(w, body)
}

func (f *fakeAPI) serveStorage(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		f.t.Errorf("presigned request to %s must not carry the API token", r.URL.Path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.uploaded[r.URL.Path] = data
	case http.MethodGet:
		data, ok := f.uploaded[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}
}

func (f *fakeAPI) handle(path string, response interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = func(w http.ResponseWriter, _ map[string]interface{}) {
		json.NewEncoder(w).Encode(response)
	}
}

func (f *fakeAPI) request(path string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *fakeAPI) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{APIServer: f.server.URL, Token: testToken, ProjectID: "project-1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ProjectID: "project-1"}); err == nil {
		t.Error("missing token should fail")
	}
	if _, err := NewClient(Config{Token: "x"}); err == nil {
		t.Error("missing project should fail")
	}
}

func TestUploadFile(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/file/new", map[string]string{"id": "file-1"})
	api.handle("/file-1/upload", map[string]interface{}{
		"url":     api.server.URL + "/storage/file-1",
		"headers": map[string]string{"Content-Type": "application/octet-stream"},
	})
	api.handle("/file-1/close", map[string]string{"id": "file-1"})
	api.handle("/file-1/describe", map[string]string{"id": "file-1", "state": "closed", "name": "test.py"})

	local := filepath.Join(t.TempDir(), "test.py")
	if err := os.WriteFile(local, []byte("def test_ok(): pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := api.client(t)
	id, err := c.UploadFile(context.Background(), model.UploadRequest{LocalPath: local, Folder: "/run_tmpdata"})
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if id != "file-1" {
		t.Errorf("UploadFile() = %q", id)
	}

	newReq := api.request("/file/new")
	if newReq["name"] != "test.py" || newReq["folder"] != "/run_tmpdata" || newReq["project"] != "project-1" {
		t.Errorf("file/new request = %v", newReq)
	}
	if got := string(api.uploaded["/storage/file-1"]); got != "def test_ok(): pass\n" {
		t.Errorf("uploaded content = %q", got)
	}
	if md5, _ := api.request("/file-1/upload")["md5"].(string); len(md5) != 32 {
		t.Errorf("upload request md5 = %q", md5)
	}
}

func TestUploadFileInParts(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"uneven", "0123456789", []string{"0123", "4567", "89"}},
		{"exact multiple", "01234567", []string{"0123", "4567"}},
		{"empty", "", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.handle("/file/new", map[string]string{"id": "file-2"})
			api.handle("/file-2/close", map[string]string{"id": "file-2"})
			api.handle("/file-2/describe", map[string]string{"id": "file-2", "state": "closed"})

			var mu sync.Mutex
			var indexes []int
			sizes := map[int]int{}
			md5s := map[int]string{}
			api.handlers["/file-2/upload"] = func(w http.ResponseWriter, body map[string]interface{}) {
				index := int(body["index"].(float64))
				mu.Lock()
				indexes = append(indexes, index)
				sizes[index] = int(body["size"].(float64))
				md5s[index], _ = body["md5"].(string)
				mu.Unlock()
				json.NewEncoder(w).Encode(map[string]interface{}{
					"url": fmt.Sprintf("%s/storage/file-2/part-%d", api.server.URL, index),
				})
			}

			local := filepath.Join(t.TempDir(), "reads.fastq")
			if err := os.WriteFile(local, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			c, err := NewClient(Config{APIServer: api.server.URL, Token: testToken, ProjectID: "project-1", PartSize: 4})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := c.UploadFile(context.Background(), model.UploadRequest{LocalPath: local, Folder: "/data"}); err != nil {
				t.Fatalf("UploadFile() error = %v", err)
			}

			if len(indexes) != len(tt.want) {
				t.Fatalf("uploaded parts %v, want %d parts", indexes, len(tt.want))
			}
			for i, want := range tt.want {
				index := i + 1
				if indexes[i] != index {
					t.Errorf("part %d sent with index %d", index, indexes[i])
				}
				got := string(api.uploaded[fmt.Sprintf("/storage/file-2/part-%d", index)])
				if got != want || sizes[index] != len(want) {
					t.Errorf("part %d = %q (size %d), want %q", index, got, sizes[index], want)
				}
				sum := md5.Sum([]byte(want))
				if md5s[index] != hex.EncodeToString(sum[:]) {
					t.Errorf("part %d md5 = %q", index, md5s[index])
				}
			}
		})
	}
}

func TestDownloadFile(t *testing.T) {
	api := newFakeAPI(t)
	api.uploaded["/storage/file-out"] = []byte("tarball")
	api.handle("/file-out/download", map[string]interface{}{"url": api.server.URL + "/storage/file-out"})

	dst := filepath.Join(t.TempDir(), "nested", "output.tar.gz")
	if err := api.client(t).DownloadFile(context.Background(), "file-out", dst); err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "tarball" {
		t.Errorf("downloaded = %q, %v", got, err)
	}
}

func TestCreateAndRunApplet(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/applet/new", map[string]string{"id": "applet-1"})
	api.handle("/applet-1/run", map[string]string{"id": "job-1"})

	c := api.client(t)
	appletID, err := c.CreateApplet(context.Background(), model.AppletRequest{
		Folder:   "/run_tmpdata",
		Name:     "demo_test_1",
		Document: map[string]interface{}{"dxapi": "1.0.0", "runSpec": map[string]interface{}{"code": "x"}},
	})
	if err != nil || appletID != "applet-1" {
		t.Fatalf("CreateApplet() = %q, %v", appletID, err)
	}
	created := api.request("/applet/new")
	if created["name"] != "demo_test_1" || created["project"] != "project-1" || created["dxapi"] != "1.0.0" {
		t.Errorf("applet/new request = %v", created)
	}

	jobID, err := c.RunApplet(context.Background(), model.RunRequest{
		AppletID:     "applet-1",
		Folder:       "/run_tmpdata",
		Name:         "test_demo",
		Input:        map[string]interface{}{"testing_script": model.NewLink("file-1")},
		InstanceType: "mem1_ssd1_v2_x8",
	})
	if err != nil || jobID != "job-1" {
		t.Fatalf("RunApplet() = %q, %v", jobID, err)
	}
	run := api.request("/applet-1/run")
	sys := run["systemRequirements"].(map[string]interface{})["*"].(map[string]interface{})
	if sys["instanceType"] != "mem1_ssd1_v2_x8" {
		t.Errorf("systemRequirements = %v", run["systemRequirements"])
	}
	script := run["input"].(map[string]interface{})["testing_script"].(map[string]interface{})
	if script["$dnanexus_link"] != "file-1" {
		t.Errorf("input = %v", run["input"])
	}
}

func TestAPIErrors(t *testing.T) {
	api := newFakeAPI(t)
	api.handlers["/applet-1/run"] = func(w http.ResponseWriter, _ map[string]interface{}) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":{"type":"InvalidInput","message":"instance type not found"}}`)
	}

	c := api.client(t)
	_, err := c.RunApplet(context.Background(), model.RunRequest{AppletID: "applet-1", InstanceType: "bogus"})
	if !IsInvalidInput(err) {
		t.Fatalf("RunApplet() error = %v, want InvalidInput", err)
	}
	if !strings.Contains(err.Error(), "instance type not found") {
		t.Errorf("error message = %v", err)
	}

	_, err = c.DescribeJob(context.Background(), "job-missing")
	if !IsNotFound(err) {
		t.Errorf("DescribeJob() error = %v, want ResourceNotFound", err)
	}

	bad, _ := NewClient(Config{APIServer: api.server.URL, Token: "wrong", ProjectID: "project-1"})
	if err := bad.NewFolder(context.Background(), "/x"); err == nil || !strings.Contains(err.Error(), "InvalidAuthentication") {
		t.Errorf("NewFolder() with bad token error = %v", err)
	}
}

func TestTerminateJob(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/job-1/terminate", map[string]string{"id": "job-1"})

	c := api.client(t)
	if err := c.TerminateJob(context.Background(), "job-1"); err != nil {
		t.Fatalf("TerminateJob() error = %v", err)
	}
	if api.request("/job-1/terminate") == nil {
		t.Error("terminate was not called")
	}
	if err := c.TerminateJob(context.Background(), "job-2"); !IsNotFound(err) {
		t.Errorf("TerminateJob() on unknown job = %v, want not found", err)
	}
}

func TestDescribeJob(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/job-1/describe", map[string]interface{}{
		"id":     "job-1",
		"state":  "done",
		"output": map[string]interface{}{"output_tarball": map[string]string{"$dnanexus_link": "file-out"}},
	})

	desc, err := api.client(t).DescribeJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("DescribeJob() error = %v", err)
	}
	if status, _ := desc.State.Status(); status != model.StatusComplete {
		t.Errorf("status = %v", status)
	}
	if id, ok := desc.OutputFileID("output_tarball"); !ok || id != "file-out" {
		t.Errorf("OutputFileID() = %q, %v", id, ok)
	}
	fields := api.request("/job-1/describe")["fields"].(map[string]interface{})
	if fields["state"] != true || fields["output"] != true {
		t.Errorf("describe fields = %v", fields)
	}
}

func TestRemoveObjectsAndFolder(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/project-1/removeObjects", map[string]string{"id": "project-1"})
	api.handle("/project-1/removeFolder", map[string]string{"id": "project-1"})

	c := api.client(t)
	if err := c.RemoveObjects(context.Background(), nil); err != nil {
		t.Errorf("RemoveObjects(nil) error = %v", err)
	}
	if api.request("/project-1/removeObjects") != nil {
		t.Error("RemoveObjects(nil) should not call the API")
	}
	if err := c.RemoveObjects(context.Background(), []string{"applet-1", "file-1"}); err != nil {
		t.Fatalf("RemoveObjects() error = %v", err)
	}
	if objs := api.request("/project-1/removeObjects")["objects"].([]interface{}); len(objs) != 2 {
		t.Errorf("removeObjects request = %v", objs)
	}
	if err := c.RemoveFolder(context.Background(), "/run_tmpdata"); err != nil {
		t.Fatalf("RemoveFolder() error = %v", err)
	}
	req := api.request("/project-1/removeFolder")
	if req["folder"] != "/run_tmpdata" || req["recurse"] != true {
		t.Errorf("removeFolder request = %v", req)
	}
}

func TestStreamJobLog(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/job-1/getLog/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var hello logRequest
		if err := conn.ReadJSON(&hello); err != nil {
			t.Errorf("read hello: %v", err)
			return
		}
		if hello.AccessToken != testToken || hello.TokenType != "Bearer" {
			t.Errorf("hello = %+v", hello)
		}
		for _, m := range []model.LogMessage{
			{Source: "APP", Level: "STDOUT", Message: "collected 1 item"},
			{Source: "APP", Level: "STDOUT", Message: "1 passed in 0.01s"},
			{Source: "SYSTEM", Message: "END_LOG"},
			{Source: "APP", Message: "never delivered"},
		} {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
	defer server.Close()

	c, err := NewClient(Config{APIServer: server.URL, Token: testToken, ProjectID: "project-1"})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = c.StreamJobLog(context.Background(), "job-1", func(m model.LogMessage) {
		got = append(got, m.Message)
	})
	if err != nil {
		t.Fatalf("StreamJobLog() error = %v", err)
	}
	if strings.Join(got, "|") != "collected 1 item|1 passed in 0.01s" {
		t.Errorf("messages = %v", got)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"https://api.dnanexus.com": "wss://api.dnanexus.com",
		"http://127.0.0.1:8080":    "ws://127.0.0.1:8080",
	}
	for in, want := range tests {
		if got := websocketURL(in); got != want {
			t.Errorf("websocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
