//go:build unix

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test - it stands in for the inference
// server when the test binary is re-executed with GO_WANT_HELPER_PROCESS=1
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("HELPER_MODE") {
	case "sleep":
		fmt.Println("started")
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "ignore_term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "env":
		fmt.Printf("MODEL_PATH=%s\n", os.Getenv("MODEL_PATH"))
		fmt.Printf("HOME_SET=%t\n", os.Getenv("HOME") != "")
		os.Exit(0)
	case "exit":
		fmt.Fprintln(os.Stderr, "fatal: model not found")
		os.Exit(3)
	case "parent":
		// Start a grandchild in the same process group
		child := exec.Command(os.Args[0], os.Args[1:]...)
		child.Env = append(os.Environ(), "HELPER_MODE=grandchild")
		if err := child.Start(); err != nil {
			os.Exit(2)
		}
		armed := os.Getenv("MARKER_FILE") + ".armed"
		for i := 0; i < 500; i++ {
			if _, err := os.Stat(armed); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		fmt.Println("ready")
		child.Wait()
		os.Exit(0)
	case "stubborn_parent":
		// The shell in front of llama-server: dies on SIGTERM and leaves
		// a member behind that ignores it
		child := exec.Command(os.Args[0], os.Args[1:]...)
		child.Env = append(os.Environ(), "HELPER_MODE=stubborn_child")
		if err := child.Start(); err != nil {
			os.Exit(2)
		}
		pidFile := os.Getenv("MARKER_FILE")
		for i := 0; i < 500; i++ {
			if data, err := os.ReadFile(pidFile); err == nil && len(data) > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		fmt.Println("ready")
		child.Wait()
		os.Exit(0)
	case "stubborn_child":
		signal.Ignore(syscall.SIGTERM)
		os.WriteFile(os.Getenv("MARKER_FILE"), []byte(strconv.Itoa(os.Getpid())), 0644)
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "grandchild":
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM)
		os.WriteFile(os.Getenv("MARKER_FILE")+".armed", nil, 0644)
		<-sigCh
		os.WriteFile(os.Getenv("MARKER_FILE"), []byte("terminated"), 0644)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func helperSpec(mode string, extra map[string]string) Spec {
	env := map[string]string{
		"GO_WANT_HELPER_PROCESS": "1",
		"HELPER_MODE":            mode,
	}
	for k, v := range extra {
		env[k] = v
	}
	return Spec{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:     env,
	}
}

func waitForOutput(t *testing.T, h *Handle, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(string(h.Output()), want)
	}, 5*time.Second, 10*time.Millisecond, "child never printed %q", want)
}

func TestLaunch_EmptyCommand(t *testing.T) {
	_, err := Launch(context.Background(), Spec{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestLaunch_MissingBinary(t *testing.T) {
	_, err := Launch(context.Background(), Spec{Command: []string{"/nonexistent/llama-server"}})
	assert.Error(t, err)
}

func TestLaunch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Launch(ctx, helperSpec("sleep", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLaunch_ExplicitEnvironment(t *testing.T) {
	h, err := Launch(context.Background(), helperSpec("env", map[string]string{"MODEL_PATH": "/models/q4.gguf"}))
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("child did not exit")
	}

	out := string(h.Output())
	assert.Contains(t, out, "MODEL_PATH=/models/q4.gguf")
	// Nothing is inherited from the parent
	assert.Contains(t, out, "HOME_SET=false")
	assert.NoError(t, h.ExitErr())
}

func TestHandle_CapturesStderrAndExit(t *testing.T) {
	h, err := Launch(context.Background(), helperSpec("exit", nil))
	require.NoError(t, err)

	<-h.Done()
	assert.True(t, h.Exited())
	assert.Contains(t, string(h.Output()), "fatal: model not found")

	var exitErr *exec.ExitError
	require.True(t, errors.As(h.ExitErr(), &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())

	// Terminating an exited process succeeds
	assert.NoError(t, h.Terminate(time.Second))
}

func TestHandle_TerminateSendsSIGTERM(t *testing.T) {
	h, err := Launch(context.Background(), helperSpec("sleep", nil))
	require.NoError(t, err)
	waitForOutput(t, h, "started")

	start := time.Now()
	require.NoError(t, h.Terminate(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	var exitErr *exec.ExitError
	require.True(t, errors.As(h.ExitErr(), &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGTERM, status.Signal())

	// Idempotent
	assert.NoError(t, h.Terminate(time.Second))
}

func TestHandle_TerminateEscalatesToSIGKILL(t *testing.T) {
	h, err := Launch(context.Background(), helperSpec("ignore_term", nil))
	require.NoError(t, err)
	waitForOutput(t, h, "ready")

	start := time.Now()
	require.NoError(t, h.Terminate(200*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	var exitErr *exec.ExitError
	require.True(t, errors.As(h.ExitErr(), &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestHandle_TerminateReachesWholeGroup(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "grandchild.marker")

	h, err := Launch(context.Background(), helperSpec("parent", map[string]string{"MARKER_FILE": marker}))
	require.NoError(t, err)
	waitForOutput(t, h, "ready")

	require.NoError(t, h.Terminate(5*time.Second))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && string(data) == "terminated"
	}, 5*time.Second, 20*time.Millisecond, "grandchild did not receive SIGTERM")
}

// processGone treats a zombie as gone: it cannot run, only wait for a reaper
func processGone(pid int) bool {
	if errors.Is(syscall.Kill(pid, 0), syscall.ESRCH) {
		return true
	}
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return true
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	return slices.Contains(status, gopsprocess.Zombie)
}

func TestHandle_TerminateKillsMembersOutlivingLeader(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "member.pid")

	h, err := Launch(context.Background(), helperSpec("stubborn_parent", map[string]string{"MARKER_FILE": pidFile}))
	require.NoError(t, err)
	waitForOutput(t, h, "ready")

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	memberPID, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	require.False(t, processGone(memberPID))

	grace := 500 * time.Millisecond
	start := time.Now()
	require.NoError(t, h.Terminate(grace))

	// The leader died on SIGTERM at once; the member held the group open
	assert.GreaterOrEqual(t, time.Since(start), grace)
	require.Eventually(t, func() bool {
		return processGone(memberPID)
	}, 5*time.Second, 20*time.Millisecond, "group member survived Terminate")

	var exitErr *exec.ExitError
	require.True(t, errors.As(h.ExitErr(), &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGTERM, status.Signal())
}

func TestHandle_PIDIsGroupLeader(t *testing.T) {
	h, err := Launch(context.Background(), helperSpec("sleep", nil))
	require.NoError(t, err)
	defer h.Terminate(time.Second)

	pgid, err := syscall.Getpgid(h.PID())
	require.NoError(t, err)
	assert.Equal(t, h.PID(), pgid)
	assert.NotEqual(t, syscall.Getpgrp(), pgid)
}

func TestEnvList(t *testing.T) {
	got := EnvList(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"A=1", "B=2"}, got)
	assert.Empty(t, EnvList(nil))
}

func TestOutputBuffer(t *testing.T) {
	var b OutputBuffer
	b.Write([]byte("hello "))
	b.Write([]byte("world"))

	snapshot := b.Bytes()
	b.Write([]byte("!"))

	assert.Equal(t, "hello world", string(snapshot))
	assert.Equal(t, "hello world!", b.String())
}
