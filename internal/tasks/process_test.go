package tasks

import (
	"os/exec"
	"testing"
	"time"
)

func startProcess(t *testing.T, name string, args ...string) (*exec.Cmd, chan struct{}) {
	t.Helper()
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start %s: %v", name, err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	return cmd, exited
}

func TestTerminateProcessStopsOnSigterm(t *testing.T) {
	cmd, exited := startProcess(t, "sleep", "30")
	start := time.Now()
	if err := TerminateProcess(cmd.Process, exited, 2*time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	<-exited
	if time.Since(start) > time.Second {
		t.Fatalf("sigterm should stop sleep promptly")
	}
}

func TestTerminateProcessKillsAfterGrace(t *testing.T) {
	cmd, exited := startProcess(t, "sh", "-c", `trap "" TERM; sleep 30`)
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)
	if err := TerminateProcess(cmd.Process, exited, 200*time.Millisecond); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("process survived SIGKILL")
	}
}

func TestRegistryCancelTerminatesProcess(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	r.Register("t1", func() { cancelled = true })
	cmd, exited := startProcess(t, "sleep", "30")
	r.RegisterProcess("t1", cmd.Process, exited)

	if !r.Cancel("t1") {
		t.Fatalf("expected local token")
	}
	if !cancelled {
		t.Fatalf("cancel func not called")
	}
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("process not terminated")
	}
	r.Unregister("t1")
	if r.Active() != 0 || r.Cancel("t1") {
		t.Fatalf("registry should be empty")
	}
}
