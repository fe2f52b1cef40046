// Package task waits for asynchronous server-side operations to reach a terminal state.
package task

import "encoding/json"

// Status is the server-reported state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Task is a point-in-time view of an asynchronous operation. The client never mutates it.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type,omitempty"`
	Status   Status          `json:"status"`
	Progress *float64        `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Terminal reports whether the task is completed. A completed task never changes again.
func (t *Task) Terminal() bool {
	return t != nil && t.Status == StatusCompleted
}

// Failed reports whether the task completed with an embedded error.
func (t *Task) Failed() bool {
	return t.Terminal() && t.Error != ""
}
