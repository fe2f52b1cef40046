package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/command"
)

// fakeDispatcher answers get_task with the next scripted task and every other command with startData.
type fakeDispatcher struct {
	mu        sync.Mutex
	startData json.RawMessage
	startErr  error
	tasks     []Task
	getErr    error
	polls     []time.Time
	commands  []command.Command
}

func (f *fakeDispatcher) RequestCommandResponse(_ context.Context, cmd command.Command) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if cmd.Type != command.GetTask {
		return f.startData, f.startErr
	}
	f.polls = append(f.polls, time.Now())
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := len(f.polls) - 1
	if i >= len(f.tasks) {
		i = len(f.tasks) - 1
	}
	return json.Marshal(f.tasks[i])
}

func (f *fakeDispatcher) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.polls)
}

func newPoller(d Dispatcher) *Poller {
	return NewPoller(d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStartTask(t *testing.T) {
	d := &fakeDispatcher{startData: json.RawMessage(`{"task_id":"t-42"}`)}
	id, err := newPoller(d).StartTask(context.Background(), command.New(command.CreateVM, map[string]string{"name": "web"}))
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if id != "t-42" {
		t.Errorf("id = %q, want %q", id, "t-42")
	}
}

func TestStartTask_NoTaskID(t *testing.T) {
	for _, data := range []string{``, `{}`, `{"task_id":""}`} {
		d := &fakeDispatcher{startData: json.RawMessage(data)}
		_, err := newPoller(d).StartTask(context.Background(), command.New(command.CreateVM, nil))
		if !errors.Is(err, clienterr.ErrNoTaskID) {
			t.Errorf("data %q: err = %v, want ErrNoTaskID", data, err)
		}
	}
}

func TestGetTask_SendsTaskID(t *testing.T) {
	d := &fakeDispatcher{tasks: []Task{{Status: StatusRunning}}}
	got, err := newPoller(d).GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ID != "t1" || got.Status != StatusRunning || got.Terminal() {
		t.Errorf("task = %+v", got)
	}
	b, _ := json.Marshal(d.commands[0])
	if string(b) != `{"get_task":{"task_id":"t1"},"type":"get_task"}` {
		t.Errorf("command = %s", b)
	}
}

func TestWaitTask_Completes(t *testing.T) {
	d := &fakeDispatcher{tasks: []Task{
		{ID: "t1", Status: StatusPending},
		{ID: "t1", Status: StatusRunning},
		{ID: "t1", Status: StatusCompleted, Payload: json.RawMessage(`{"vm_id":"vm-7"}`)},
	}}
	payload, err := newPoller(d).WaitTask(context.Background(), "t1", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if string(payload) != `{"vm_id":"vm-7"}` {
		t.Errorf("payload = %s", payload)
	}
	if d.pollCount() != 3 {
		t.Errorf("polls = %d, want 3", d.pollCount())
	}
}

func TestWaitTask_Timeout(t *testing.T) {
	d := &fakeDispatcher{tasks: []Task{{ID: "t1", Status: StatusRunning}}}
	start := time.Now()
	_, err := newPoller(d).WaitTask(context.Background(), "t1", 2*time.Second, time.Second)
	elapsed := time.Since(start)

	var te *clienterr.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.TaskID != "t1" || te.Timeout != 2*time.Second {
		t.Errorf("TimeoutError = %+v", te)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout = false")
	}
	if elapsed < 2*time.Second || elapsed > 3*time.Second {
		t.Errorf("elapsed = %v, want about 2s", elapsed)
	}
	if n := d.pollCount(); n < 2 || n > 3 {
		t.Errorf("polls = %d, want 2 or 3", n)
	}
}

func TestWaitTask_IntervalIsFloor(t *testing.T) {
	d := &fakeDispatcher{tasks: []Task{{ID: "t1", Status: StatusRunning}}}
	interval := 40 * time.Millisecond
	_, err := newPoller(d).WaitTask(context.Background(), "t1", 200*time.Millisecond, interval)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 1; i < len(d.polls); i++ {
		if gap := d.polls[i].Sub(d.polls[i-1]); gap < interval {
			t.Errorf("poll gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestWaitTask_ContextCancelled(t *testing.T) {
	d := &fakeDispatcher{tasks: []Task{{ID: "t1", Status: StatusRunning}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newPoller(d).WaitTask(ctx, "t1", time.Minute, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitTask_GetTaskError(t *testing.T) {
	d := &fakeDispatcher{getErr: clienterr.ErrUnauthenticated}
	_, err := newPoller(d).WaitTask(context.Background(), "t1", time.Second, 10*time.Millisecond)
	if !errors.Is(err, clienterr.ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestExecuteTask_EmbeddedError(t *testing.T) {
	d := &fakeDispatcher{
		startData: json.RawMessage(`{"task_id":"t9"}`),
		tasks: []Task{
			{ID: "t9", Status: StatusRunning},
			{ID: "t9", Status: StatusCompleted, Error: "insufficient storage"},
		},
	}
	_, err := newPoller(d).ExecuteTask(context.Background(), command.New(command.CreateVM, nil), time.Second, 10*time.Millisecond)
	var appErr *clienterr.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v, want ApplicationError", err)
	}
	if appErr.Message != "insufficient storage" {
		t.Errorf("Message = %q, want %q", appErr.Message, "insufficient storage")
	}
}

func TestExecuteTask_StartFailsSkipsWait(t *testing.T) {
	d := &fakeDispatcher{startErr: &clienterr.ApplicationError{Message: "bad request"}}
	_, err := newPoller(d).ExecuteTask(context.Background(), command.New(command.CreateVM, nil), time.Second, time.Millisecond)
	if err == nil {
		t.Fatal("ExecuteTask should fail")
	}
	if d.pollCount() != 0 {
		t.Errorf("polls = %d, want 0", d.pollCount())
	}
}

func TestTask_Terminal(t *testing.T) {
	var nilTask *Task
	if nilTask.Terminal() {
		t.Error("nil task should not be terminal")
	}
	done := &Task{Status: StatusCompleted}
	if !done.Terminal() || done.Failed() {
		t.Error("completed task without error should be terminal and not failed")
	}
}
