package tasks

import (
	"context"
	"os"
	"sync"
	"time"

	"cv-adapter/internal/shared/telemetry"
)

type process struct {
	proc   *os.Process
	exited <-chan struct{}
}

// Registry maps running tasks to their local cancel tokens. It is best effort: the durable
// task status stays authoritative.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	procs   map[string]process
	grace   time.Duration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		cancels: map[string]context.CancelFunc{},
		procs:   map[string]process{},
		grace:   DefaultGracePeriod,
	}
}

// Register stores cancel for taskID.
func (r *Registry) Register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[taskID] = cancel
	r.mu.Unlock()
}

// RegisterProcess ties p to taskID so cancelling the task terminates it.
func (r *Registry) RegisterProcess(taskID string, p *os.Process, exited <-chan struct{}) {
	r.mu.Lock()
	r.procs[taskID] = process{proc: p, exited: exited}
	r.mu.Unlock()
}

// Unregister forgets taskID.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	delete(r.cancels, taskID)
	delete(r.procs, taskID)
	r.mu.Unlock()
}

// Cancel signals the local token for taskID and terminates any registered process.
// It reports whether a local token existed.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	p, hasProc := r.procs[taskID]
	delete(r.procs, taskID)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	if hasProc {
		go func() {
			if err := TerminateProcess(p.proc, p.exited, r.grace); err != nil {
				telemetry.Error("task.process.terminate_failed", map[string]any{
					"task_id": taskID,
					"pid":     p.proc.Pid,
					"error":   err,
				})
			}
		}()
	}
	return ok
}

// Active reports how many tasks hold a local token.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
