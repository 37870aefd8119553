package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// ReadinessTimeoutError indicates the server never answered the models
// endpoint before the ready deadline
type ReadinessTimeoutError struct {
	Run     string
	URL     string
	Timeout time.Duration
	LastErr error
}

func (e *ReadinessTimeoutError) Error() string {
	msg := fmt.Sprintf("run %s: server at %s not ready within %s", e.Run, e.URL, e.Timeout)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return e.LastErr
}

// ServerExitedError indicates the server process exited before it became ready
type ServerExitedError struct {
	Run     string
	ExitErr error
	Output  string // tail of the combined server output
}

func (e *ServerExitedError) Error() string {
	msg := fmt.Sprintf("run %s: server exited before ready", e.Run)
	if e.ExitErr != nil {
		msg += ": " + e.ExitErr.Error()
	}
	return msg
}

func (e *ServerExitedError) Unwrap() error {
	return e.ExitErr
}

// RunFailure pairs a failed run with its error
type RunFailure struct {
	Run string
	Err error
}

// MatrixError lists the runs that failed during a matrix invocation
type MatrixError struct {
	Failures []RunFailure
	Skipped  []string // runs never attempted after an abort
}

func (e *MatrixError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Run
	}
	msg := fmt.Sprintf("%d run(s) failed: %s", len(e.Failures), strings.Join(names, ", "))
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf("; skipped: %s", strings.Join(e.Skipped, ", "))
	}
	return msg
}

// Unwrap exposes each run error to errors.Is and errors.As
func (e *MatrixError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// tail returns at most the last n bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
