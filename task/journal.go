package task

import (
	"context"
	"fmt"

	"github.com/jasoet/go-iguazu/task/artifacts"
)

// Journal status values.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// CreatedBy is recorded in every journal entry.
const CreatedBy = "go-iguazu"

// Version of the framework recorded in journal entries.
var Version = "v0.1.0"

// Problem describes why a task finished FAILED.
type Problem struct {
	Type  string `json:"type" yaml:"type"`
	Title string `json:"title" yaml:"title"`
}

// Journal is the provenance entry written into every output a task produces.
type Journal struct {
	CreatedBy   string   `json:"created_by" yaml:"created_by"`
	Version     string   `json:"version" yaml:"version"`
	Task        string   `json:"task" yaml:"task"`
	TaskVersion string   `json:"task_version" yaml:"task_version"`
	Status      string   `json:"status" yaml:"status"`
	Problem     *Problem `json:"problem" yaml:"problem"`
	Parents     []string `json:"parents" yaml:"parents"`
}

// NewJournal builds the entry for one execution of t. A nil err means success.
func NewJournal(t Task, parents []string, err error) Journal {
	j := Journal{
		CreatedBy:   CreatedBy,
		Version:     Version,
		Task:        t.Name(),
		TaskVersion: t.Version(),
		Status:      StatusSuccess,
		Parents:     parents,
	}
	if j.Parents == nil {
		j.Parents = []string{}
	}
	if err != nil {
		j.Status = StatusFailed
		j.Problem = &Problem{Type: string(KindOf(err)), Title: TitleOf(err)}
	}
	return j
}

// ToFamily converts the journal into a metadata family.
func (j Journal) ToFamily() artifacts.Family {
	parents := make([]any, len(j.Parents))
	for i, p := range j.Parents {
		parents[i] = p
	}

	f := artifacts.Family{
		"created_by":   j.CreatedBy,
		"version":      j.Version,
		"task":         j.Task,
		"task_version": j.TaskVersion,
		"status":       j.Status,
		"problem":      nil,
		"parents":      parents,
	}
	if j.Problem != nil {
		f["problem"] = map[string]any{"type": j.Problem.Type, "title": j.Problem.Title}
	}
	return f
}

// JournalFrom reads a journal back from a metadata family. Missing keys stay zero.
func JournalFrom(f artifacts.Family) Journal {
	j := Journal{
		CreatedBy:   f.String("created_by"),
		Version:     f.String("version"),
		Task:        f.String("task"),
		TaskVersion: f.String("task_version"),
		Status:      f.String("status"),
	}

	if p, ok := f["problem"].(map[string]any); ok {
		j.Problem = &Problem{Type: fmt.Sprint(p["type"]), Title: fmt.Sprint(p["title"])}
	}

	switch parents := f["parents"].(type) {
	case []string:
		j.Parents = append([]string(nil), parents...)
	case []any:
		j.Parents = make([]string, 0, len(parents))
		for _, p := range parents {
			j.Parents = append(j.Parents, fmt.Sprint(p))
		}
	}
	return j
}

// StatusOf returns the journal status recorded on a, loading metadata from the
// backend when the handle is persisted. An empty string means no status.
func StatusOf(ctx context.Context, a *artifacts.Artifact, family string) (string, error) {
	md := a.Metadata
	if a.Persisted() {
		var err error
		md, err = a.ReadMetadata(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read metadata of %s: %w", a, err)
		}
	}
	return md[family].String("status"), nil
}
