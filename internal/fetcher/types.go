package fetcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/source"
)

// State is the lifecycle position of a Task.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Task is one file to mirror from the archive.
type Task struct {
	Index   int    // position in the input, used to order the report
	URL     string // absolute source location
	RelPath string // path relative to the archive root
	Dest    string // local destination
	Attempt int    // zero-based attempt counter
	State   State
	Skipped bool // Done without a download
	Err     error
}

// NewTasks builds one task per catalogue row, mirroring the remote layout
// under root. limit caps the number of tasks; 0 means all. Duplicate paths
// are ignored.
func NewTasks(rows []argo.CatalogueRow, src source.Source, root string, limit int) []Task {
	seen := make(map[string]bool, len(rows))
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		if limit > 0 && len(tasks) >= limit {
			break
		}
		if row.Path == "" || seen[row.Path] {
			continue
		}
		seen[row.Path] = true
		tasks = append(tasks, Task{
			Index:   len(tasks),
			URL:     src.URL(row.Path),
			RelPath: row.Path,
			Dest:    filepath.Join(root, filepath.FromSlash(row.Path)),
		})
	}
	return tasks
}

// result is sent from workers to the collector.
type result struct {
	task  Task
	bytes int64
}

// Failure records a task that did not complete.
type Failure struct {
	URL string
	Err error
}

// Report summarizes a FetchAll call.
type Report struct {
	Downloaded int
	Skipped    int
	Failed     []Failure
	Pending    int // tasks never dispatched because the run was cancelled
	Bytes      int64
	Duration   time.Duration
	Tasks      []Task
}

// Succeeded returns the number of tasks in state Done.
func (r Report) Succeeded() int {
	return r.Downloaded + r.Skipped
}

// Files returns the destinations of all Done tasks in input order.
func (r Report) Files() []string {
	var out []string
	for _, t := range r.Tasks {
		if t.State == StateDone {
			out = append(out, t.Dest)
		}
	}
	return out
}
