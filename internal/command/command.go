// Package command defines the command and response envelopes exchanged with the control endpoint.
package command

import (
	"encoding/json"
	"errors"
)

// Command names used by this client.
const (
	SystemStatus     = "system_status"
	GetTask          = "get_task"
	ListVMs          = "list_vms"
	CreateVM         = "create_vm"
	DeleteVM         = "delete_vm"
	ListStoragePools = "list_storage_pools"
)

// ErrEmptyType is returned when marshaling a command without a type.
var ErrEmptyType = errors.New("command type is required")

// Command is a tagged union: Type names the operation and Params is nested under a field of the same name.
type Command struct {
	Type   string
	Params any
}

// New returns a command of type name with params (may be nil).
func New(name string, params any) Command {
	return Command{Type: name, Params: params}
}

// MarshalJSON encodes {"type": T, "<T>": params}; the params field is omitted when Params is nil.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Type == "" {
		return nil, ErrEmptyType
	}
	m := map[string]any{"type": c.Type}
	if c.Params != nil {
		m[c.Type] = c.Params
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the envelope; Params becomes the raw nested object.
func (c *Command) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var typ string
	if raw, ok := m["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return err
		}
	}
	if typ == "" {
		return ErrEmptyType
	}
	c.Type = typ
	c.Params = nil
	if raw, ok := m[typ]; ok {
		c.Params = raw
	}
	return nil
}

// Response is the server reply. A non-empty Error means the command failed; Data is only meaningful otherwise.
type Response struct {
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TaskRef is the data returned by commands that start asynchronous work, and the params of get_task.
type TaskRef struct {
	TaskID string `json:"task_id"`
}
