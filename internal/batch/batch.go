// Package batch loads task descriptors from YAML files.
//
// A batch file holds a list under "tasks":
//
//	defaults:
//	  task_type: review
//	tasks:
//	  - description: add endpoint
//	    complexity: high
//	  - description: fix flaky test
//	    provider: anthropic
//	    model: sonnet
//
// Fields missing from a task are taken from "defaults"; the dispatcher
// fills in whatever is still empty when the task is submitted.
package batch

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
)

// File is the on-disk batch format.
type File struct {
	Defaults taskqueue.Descriptor   `yaml:"defaults,omitempty"`
	Tasks    []taskqueue.Descriptor `yaml:"tasks"`
}

// LoadFile reads and parses the batch file at path.
func LoadFile(path string) ([]taskqueue.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	tasks, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// Parse decodes a batch from r. Unknown fields are rejected so typos surface
// early. Every task must have a description.
func Parse(r io.Reader) ([]taskqueue.Descriptor, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, errors.NewValidationError("batch file is empty")
		}
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, errors.NewValidationError("batch file has no tasks").WithField("tasks")
	}

	out := make([]taskqueue.Descriptor, 0, len(f.Tasks))
	for i, t := range f.Tasks {
		if t.Description == "" {
			return nil, errors.NewValidationError("description must not be empty").
				WithField(fmt.Sprintf("tasks[%d].description", i))
		}
		out = append(out, applyDefaults(t, f.Defaults))
	}
	return out, nil
}

func applyDefaults(t, d taskqueue.Descriptor) taskqueue.Descriptor {
	if t.TaskType == "" {
		t.TaskType = d.TaskType
	}
	if t.AgentType == "" {
		t.AgentType = d.AgentType
	}
	if t.Complexity == "" {
		t.Complexity = d.Complexity
	}
	if t.Provider == "" {
		t.Provider = d.Provider
	}
	if t.Model == "" {
		t.Model = d.Model
	}
	if t.SessionID == "" {
		t.SessionID = d.SessionID
	}
	return t
}

// Marshal renders tasks in the batch file format.
func Marshal(tasks []taskqueue.Descriptor) ([]byte, error) {
	return yaml.Marshal(File{Tasks: tasks})
}
