// Package resource wraps individual control-service commands: build the envelope, dispatch, unwrap the data.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"infractl/client/internal/command"
)

// Dispatcher is the minimal command dispatcher needed by the wrappers.
type Dispatcher interface {
	RequestCommandResponse(ctx context.Context, cmd command.Command) (json.RawMessage, error)
	SendCommand(ctx context.Context, cmd command.Command) error
	Probe(ctx context.Context, cmd command.Command) (json.RawMessage, error)
}

// TaskRunner is the minimal task poller needed by task-returning wrappers.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, cmd command.Command, timeout, interval time.Duration) (json.RawMessage, error)
}

// Client exposes typed wrappers over a Dispatcher.
type Client struct {
	dispatcher Dispatcher
	tasks      TaskRunner
	timeout    time.Duration
	interval   time.Duration
}

// NewClient returns a Client. timeout and interval apply to task-returning commands; zero uses the poller defaults.
func NewClient(d Dispatcher, tasks TaskRunner, timeout, interval time.Duration) *Client {
	return &Client{dispatcher: d, tasks: tasks, timeout: timeout, interval: interval}
}

// SystemStatus is the response of the unauthenticated status probe.
type SystemStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// VM is a virtual machine as listed by the control service.
type VM struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Pool     string `json:"pool,omitempty"`
	CPUs     int    `json:"cpus,omitempty"`
	MemoryMB int    `json:"memory_mb,omitempty"`
}

// StoragePool is a storage pool with its capacity in bytes.
type StoragePool struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CapacityBytes int64  `json:"capacity_bytes"`
	UsedBytes     int64  `json:"used_bytes"`
}

// CreateVMParams are the parameters of create_vm.
type CreateVMParams struct {
	Name     string `json:"name"`
	Pool     string `json:"pool,omitempty"`
	Image    string `json:"image,omitempty"`
	CPUs     int    `json:"cpus,omitempty"`
	MemoryMB int    `json:"memory_mb,omitempty"`
}

// CreateVMResult is the payload of a completed create_vm task.
type CreateVMResult struct {
	VMID string `json:"vm_id"`
}

type vmRef struct {
	ID string `json:"id"`
}

// SystemStatus probes the service without credentials.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	data, err := c.dispatcher.Probe(ctx, command.New(command.SystemStatus, nil))
	if err != nil {
		return nil, err
	}
	var out SystemStatus
	if err := unwrap(command.SystemStatus, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVMs returns all virtual machines visible to the session.
func (c *Client) ListVMs(ctx context.Context) ([]VM, error) {
	data, err := c.dispatcher.RequestCommandResponse(ctx, command.New(command.ListVMs, nil))
	if err != nil {
		return nil, err
	}
	var out struct {
		VMs []VM `json:"vms"`
	}
	if err := unwrap(command.ListVMs, data, &out); err != nil {
		return nil, err
	}
	return out.VMs, nil
}

// CreateVM starts VM creation and waits for the task to complete.
func (c *Client) CreateVM(ctx context.Context, params CreateVMParams) (*CreateVMResult, error) {
	payload, err := c.tasks.ExecuteTask(ctx, command.New(command.CreateVM, params), c.timeout, c.interval)
	if err != nil {
		return nil, err
	}
	var out CreateVMResult
	if err := unwrap(command.CreateVM, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteVM deletes the VM with id.
func (c *Client) DeleteVM(ctx context.Context, id string) error {
	return c.dispatcher.SendCommand(ctx, command.New(command.DeleteVM, vmRef{ID: id}))
}

// ListStoragePools returns all storage pools.
func (c *Client) ListStoragePools(ctx context.Context) ([]StoragePool, error) {
	data, err := c.dispatcher.RequestCommandResponse(ctx, command.New(command.ListStoragePools, nil))
	if err != nil {
		return nil, err
	}
	var out struct {
		Pools []StoragePool `json:"storage_pools"`
	}
	if err := unwrap(command.ListStoragePools, data, &out); err != nil {
		return nil, err
	}
	return out.Pools, nil
}

// unwrap decodes data into v; empty data leaves v zero.
func unwrap(name string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}
