package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/command"
)

const (
	DefaultTimeout  = 300 * time.Second
	DefaultInterval = time.Second
)

// Dispatcher is the minimal command dispatcher needed by the poller.
type Dispatcher interface {
	RequestCommandResponse(ctx context.Context, cmd command.Command) (json.RawMessage, error)
}

// Poller starts tasks and polls them to completion.
type Poller struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewPoller returns a Poller sending commands through d. logger may be nil.
func NewPoller(d Dispatcher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{dispatcher: d, logger: logger, nowFunc: time.Now}
}

// StartTask sends a command that starts asynchronous work and returns the task id.
func (p *Poller) StartTask(ctx context.Context, cmd command.Command) (string, error) {
	data, err := p.dispatcher.RequestCommandResponse(ctx, cmd)
	if err != nil {
		return "", err
	}
	var ref command.TaskRef
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ref); err != nil {
			return "", fmt.Errorf("decode %s response: %w", cmd.Type, err)
		}
	}
	if ref.TaskID == "" {
		return "", fmt.Errorf("%w: %s", clienterr.ErrNoTaskID, cmd.Type)
	}
	return ref.TaskID, nil
}

// GetTask fetches the current state of taskID.
func (p *Poller) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := p.dispatcher.RequestCommandResponse(ctx, command.New(command.GetTask, command.TaskRef{TaskID: taskID}))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("get task %s: empty response", taskID)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	if t.ID == "" {
		t.ID = taskID
	}
	return &t, nil
}

// WaitTask polls taskID every interval until it completes or timeout elapses, and returns the payload.
// A task completed with an error returns *clienterr.ApplicationError; running past timeout returns
// *clienterr.TimeoutError. The interval is a floor: polls are never closer together than interval.
// Zero or negative values use DefaultTimeout and DefaultInterval.
func (p *Poller) WaitTask(ctx context.Context, taskID string, timeout, interval time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := p.nowFunc()
	for polls := 1; ; polls++ {
		t, err := p.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Failed() {
			return nil, &clienterr.ApplicationError{Message: t.Error}
		}
		if t.Terminal() {
			p.logger.Debug("task: completed", "task_id", taskID, "polls", polls)
			return t.Payload, nil
		}
		if p.nowFunc().Sub(start) >= timeout {
			return nil, &clienterr.TimeoutError{TaskID: taskID, Timeout: timeout}
		}
		p.logger.Debug("task: waiting", "task_id", taskID, "status", t.Status, "polls", polls)
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// ExecuteTask starts cmd and waits for its task. WaitTask is not reached when StartTask fails.
func (p *Poller) ExecuteTask(ctx context.Context, cmd command.Command, timeout, interval time.Duration) (json.RawMessage, error) {
	id, err := p.StartTask(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return p.WaitTask(ctx, id, timeout, interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTimeout reports whether err is a task wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, clienterr.ErrTimeout)
}
