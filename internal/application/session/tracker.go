// Package session records the remote objects a run creates so that teardown
// can remove them however far the run got.
package session

import (
	"path"
	"sync"
)

// Tracker holds the ids and folders created during one run
type Tracker struct {
	mu      sync.Mutex
	jobs    []string
	objects []string
	folders []string
	paths   []string
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// TrackJob records a launched job so teardown can stop it if it still runs.
func (t *Tracker) TrackJob(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.jobs {
		if existing == id {
			return
		}
	}
	t.jobs = append(t.jobs, id)
}

// TrackObject records a data object or applet id.
func (t *Tracker) TrackObject(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.objects {
		if existing == id {
			return
		}
	}
	t.objects = append(t.objects, id)
}

// TrackFolder records a project folder that is removed recursively.
func (t *Tracker) TrackFolder(folder string) {
	if folder == "" {
		return
	}
	folder = path.Clean("/" + folder)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.folders {
		if existing == folder {
			return
		}
	}
	t.folders = append(t.folders, folder)
}

// TrackPath records a local scratch path.
func (t *Tracker) TrackPath(p string) {
	if p == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, p)
}

// Jobs returns the tracked job ids, most recent first.
func (t *Tracker) Jobs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return reversed(t.jobs)
}

// Objects returns the tracked ids, most recent first.
func (t *Tracker) Objects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return reversed(t.objects)
}

// Folders returns the tracked folders, most recent first.
func (t *Tracker) Folders() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return reversed(t.folders)
}

// Paths returns the tracked local paths, most recent first.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return reversed(t.paths)
}

// Forget drops everything, typically after a successful teardown.
func (t *Tracker) Forget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs, t.objects, t.folders, t.paths = nil, nil, nil, nil
}

// Empty reports whether nothing is tracked.
func (t *Tracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs) == 0 && len(t.objects) == 0 && len(t.folders) == 0 && len(t.paths) == 0
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
