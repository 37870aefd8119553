// Package process launches the inference server as a child process in its
// own process group and tears the whole group down.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultGracePeriod is how long Terminate waits between SIGTERM and SIGKILL
	DefaultGracePeriod = 10 * time.Second

	// killWait bounds the wait for exit after SIGKILL
	killWait = 5 * time.Second

	groupPollInterval = 50 * time.Millisecond
)

// ErrEmptyCommand is returned by Launch when Spec.Command is empty
var ErrEmptyCommand = errors.New("empty command")

// Spec describes the child process to start
type Spec struct {
	Command []string
	Dir     string
	// Env is the complete child environment; the parent environment is not inherited
	Env map[string]string
}

// OutputBuffer collects combined stdout and stderr. Safe for concurrent use.
type OutputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends p
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Bytes returns a copy of the collected output
func (b *OutputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// String returns the collected output
func (b *OutputBuffer) String() string {
	return string(b.Bytes())
}

// Handle is a running child process
type Handle struct {
	cmd    *exec.Cmd
	output *OutputBuffer
	done   chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Launch starts spec.Command in a new process group. The context only
// guards the start; the child keeps running until Terminate.
func Launch(ctx context.Context, spec Spec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = EnvList(spec.Env)
	setProcessGroup(cmd)

	out := &OutputBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	// Grandchildren holding the pipes must not block reaping the child
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}

	h := &Handle{
		cmd:    cmd,
		output: out,
		done:   make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

// PID returns the child pid, which is also its process group id
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the child has exited
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the result of waiting on the child. Only meaningful after Done.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Output returns everything the child wrote to stdout and stderr so far
func (h *Handle) Output() []byte {
	return h.output.Bytes()
}

// Terminate sends SIGTERM to the process group and waits up to grace for
// the child and every other group member to exit, then sends SIGKILL to the
// group. A group with nothing left running is not an error, so Terminate
// may be called any number of times.
func (h *Handle) Terminate(grace time.Duration) error {
	pgid := h.PID()
	if h.Exited() && !groupAlive(pgid) {
		return nil
	}

	if err := interruptGroup(pgid); err != nil {
		return fmt.Errorf("failed to signal process group %d: %w", pgid, err)
	}
	if h.waitGroup(grace) {
		return nil
	}

	if err := killGroup(pgid); err != nil {
		return fmt.Errorf("failed to kill process group %d: %w", pgid, err)
	}

	// SIGKILL cannot be caught; members not yet reaped by their parent are
	// not waited for.
	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %d did not exit after SIGKILL", pgid)
	}
}

// waitGroup reports whether the child was reaped and the group emptied
// within timeout
func (h *Handle) waitGroup(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for {
		if h.Exited() && !groupAlive(h.PID()) {
			return true
		}
		select {
		case <-deadline.C:
			return h.Exited() && !groupAlive(h.PID())
		case <-ticker.C:
		}
	}
}

// EnvList renders env as sorted KEY=VALUE pairs
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
