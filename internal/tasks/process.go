package tasks

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a subprocess gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// TerminateProcess asks p to stop with SIGTERM and kills it if exited is not closed
// within grace.
func TerminateProcess(p *os.Process, exited <-chan struct{}, grace time.Duration) error {
	if p == nil {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("sigterm pid %d: %w", p.Pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	}

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.Pid, err)
	}
	return nil
}
