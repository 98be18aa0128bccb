package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cv-adapter/internal/events"
	"cv-adapter/internal/queue"
	"cv-adapter/internal/shared/metrics"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/usage"
)

// Enqueuer hands a task to a worker process.
type Enqueuer interface {
	Send(ctx context.Context, msg queue.Message) error
}

// RemoteCancel publishes cancel requests to other processes.
type RemoteCancel interface {
	PublishCancel(ctx context.Context, taskID string) error
}

// Scheduler persists tasks and runs their jobs in a bounded window. Jobs beyond the window
// wait in FIFO order. When Queue is set, Enqueue hands the task to a worker process instead.
type Scheduler struct {
	Repo     Repo
	Registry *Registry
	Usage    *usage.Service
	Events   events.Publisher
	Queue    Enqueuer
	Remote   RemoteCancel

	limit int

	mu      sync.Mutex
	jobs    map[string]Job
	pending []pendingJob
	running int
	wg      sync.WaitGroup
}

type pendingJob struct {
	ctx    context.Context
	taskID string
	job    Job
}

// NewScheduler constructs a Scheduler running at most maxConcurrency jobs at once.
func NewScheduler(repo Repo, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Scheduler{
		Repo:     repo,
		Registry: NewRegistry(),
		limit:    maxConcurrency,
		jobs:     map[string]Job{},
	}
}

// Register binds the job that runs tasks of kind. Worker processes resolve jobs this way.
func (s *Scheduler) Register(kind string, job Job) {
	s.mu.Lock()
	s.jobs[kind] = job
	s.mu.Unlock()
}

func (s *Scheduler) jobFor(kind string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[kind]
}

// Enqueue charges credits, persists a queued task and schedules job. A nil job uses the one
// registered for nt.Kind.
func (s *Scheduler) Enqueue(ctx context.Context, nt NewTask, job Job) (Task, error) {
	if nt.UserID == "" || nt.Kind == "" {
		return Task{}, ErrInvalidInput
	}
	if job == nil {
		job = s.jobFor(nt.Kind)
	}
	if job == nil && s.Queue == nil {
		return Task{}, fmt.Errorf("%w: %s", ErrUnknownKind, nt.Kind)
	}

	charged := 0
	if s.Usage != nil && nt.Credits > 0 {
		if _, err := s.Usage.Consume(ctx, nt.UserID, nt.Credits); err != nil {
			return Task{}, err
		}
		charged = nt.Credits
	}

	now := time.Now().UTC()
	task := Task{
		ID:             uuid.NewString(),
		UserID:         nt.UserID,
		Kind:           nt.Kind,
		DocumentID:     nt.DocumentID,
		DeviceID:       nt.DeviceID,
		Status:         StatusQueued,
		Payload:        nt.Payload,
		CreditsCharged: charged,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.Create(ctx, task); err != nil {
		if charged > 0 {
			if _, refundErr := s.Usage.Refund(context.Background(), nt.UserID, charged); refundErr != nil {
				telemetry.Error("task.refund_failed", map[string]any{"user_id": nt.UserID, "error": refundErr})
			}
		}
		return Task{}, err
	}
	metrics.IncTask(StatusQueued)
	telemetry.Info("task.status", map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"task_id":     task.ID,
		"user_id":     task.UserID,
		"kind":        task.Kind,
		"document_id": task.DocumentID,
		"status":      StatusQueued,
	})

	if s.Queue != nil {
		if err := s.Dispatch(ctx, task); err != nil {
			s.failTask(ctx, task, err)
			return Task{}, err
		}
		return task, nil
	}

	s.submit(pendingJob{ctx: backgroundWithRequestID(ctx), taskID: task.ID, job: job})
	return task, nil
}

// Dispatch publishes task to the worker queue.
func (s *Scheduler) Dispatch(ctx context.Context, task Task) error {
	msg := queue.Message{
		TaskID:     task.ID,
		Kind:       task.Kind,
		UserID:     task.UserID,
		RequestID:  RequestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    queue.MessageVersion,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Scheduler) submit(p pendingJob) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	s.pump()
}

func (s *Scheduler) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running < s.limit && len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.running++
		s.wg.Add(1)
		go func(p pendingJob) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.running--
				s.mu.Unlock()
				s.pump()
			}()
			if err := s.Run(p.ctx, p.taskID, p.job); err != nil {
				telemetry.Error("task.run_failed", map[string]any{"task_id": p.taskID, "error": err})
			}
		}(next)
	}
}

// Wait blocks until every locally scheduled job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run executes a persisted task in the calling goroutine. A nil job uses the one registered
// for the task's kind. Tasks that are missing, cancelled or already finished are skipped.
func (s *Scheduler) Run(ctx context.Context, taskID string, job Job) error {
	task, err := s.Repo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Terminal() {
		telemetry.Info("task.skip", map[string]any{"task_id": taskID, "status": task.Status})
		return nil
	}
	if job == nil {
		job = s.jobFor(task.Kind)
	}
	if job == nil {
		s.failTask(ctx, task, fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.Registry.Register(taskID, cancel)
	defer func() {
		s.Registry.Unregister(taskID)
		cancel()
	}()

	startedAt := time.Now().UTC()
	ok, err := s.Repo.Transition(ctx, taskID, []string{StatusQueued}, StatusRunning, Update{StartedAt: &startedAt})
	if err != nil {
		s.failTask(ctx, task, fmt.Errorf("set running: %w", err))
		return nil
	}
	if !ok {
		return nil
	}
	task.Status = StatusRunning
	task.StartedAt = &startedAt
	s.logTransition(ctx, task, StatusQueued, StatusRunning, nil)

	outcome, jobErr := s.invoke(runCtx, task, job)

	switch {
	case jobErr == nil:
		s.completeTask(ctx, task, outcome)
	case isCancellation(jobErr) && ctx.Err() == nil:
		s.cancelledTask(ctx, task)
	case isCancellation(jobErr):
		s.failTaskWithCode(ctx, task, ErrorCodeInterrupted, "interrupted by shutdown")
	default:
		s.failTask(ctx, task, jobErr)
	}
	return nil
}

func (s *Scheduler) invoke(ctx context.Context, task Task, job Job) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx, task, s)
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func (s *Scheduler) completeTask(ctx context.Context, task Task, outcome Outcome) {
	completedAt := time.Now().UTC()
	ok, err := s.Repo.Transition(context.Background(), task.ID, []string{StatusRunning}, StatusCompleted, Update{
		Result:         outcome.Result,
		SuccessMessage: outcome.SuccessMessage,
		CompletedAt:    &completedAt,
	})
	if err != nil {
		s.failTask(ctx, task, fmt.Errorf("set completed: %w", err))
		return
	}
	if !ok {
		// Cancelled between the job's last checkpoint and here.
		s.cancelledTask(ctx, task)
		return
	}
	s.logTransition(ctx, task, StatusRunning, StatusCompleted, &completedAt)
	s.finalize(task, StatusCompleted)

	payload := map[string]any{"taskId": task.ID, "creditsRefunded": false}
	for k, v := range outcome.Result {
		payload[k] = v
	}
	if outcome.SuccessMessage != "" {
		payload["successMessage"] = outcome.SuccessMessage
	}
	s.publish(events.Event{Type: events.TypeCompleted, TaskID: task.ID, UserID: task.UserID, Payload: payload})
}

func (s *Scheduler) cancelledTask(ctx context.Context, task Task) {
	completedAt := time.Now().UTC()
	if _, err := s.Repo.Transition(context.Background(), task.ID, []string{StatusQueued, StatusRunning}, StatusCancelled, Update{
		ErrorCode:   ErrorCodeCancelled,
		CompletedAt: &completedAt,
	}); err != nil {
		telemetry.Error("task.cancel.update_failed", map[string]any{"task_id": task.ID, "error": err})
	}
	refunded := s.refund(task)
	s.logTransition(ctx, task, task.Status, StatusCancelled, &completedAt)
	s.finalize(task, StatusCancelled)
	s.publish(events.Event{Type: events.TypeCancelled, TaskID: task.ID, UserID: task.UserID, Payload: map[string]any{
		"taskId":          task.ID,
		"creditsRefunded": refunded,
	}})
}

func (s *Scheduler) failTask(ctx context.Context, task Task, err error) {
	code := classifyFailure(err)
	if code == ErrorCodeQuotaExceeded {
		telemetry.Error("task.quota_exhausted", map[string]any{"task_id": task.ID, "error": err})
	}
	s.failTaskWithCode(ctx, task, code, userMessage(code, err))
}

func (s *Scheduler) failTaskWithCode(ctx context.Context, task Task, code, msg string) {
	completedAt := time.Now().UTC()
	ok, err := s.Repo.Transition(context.Background(), task.ID, []string{StatusQueued, StatusRunning}, StatusFailed, Update{
		ErrorCode:    code,
		ErrorMessage: msg,
		CompletedAt:  &completedAt,
	})
	if err != nil {
		telemetry.Error("task.fail.update_failed", map[string]any{"task_id": task.ID, "error": err, "original_error": msg})
	}
	if err == nil && !ok {
		if current, getErr := s.Repo.GetByID(context.Background(), task.ID); getErr == nil && current.Status == StatusCancelled {
			s.cancelledTask(ctx, task)
			return
		}
	}
	refunded := s.refund(task)
	s.logTransition(ctx, task, task.Status, StatusFailed, &completedAt)
	s.finalize(task, StatusFailed)
	s.publish(events.Event{Type: events.TypeFailed, TaskID: task.ID, UserID: task.UserID, Payload: map[string]any{
		"taskId":          task.ID,
		"error":           msg,
		"code":            code,
		"creditsRefunded": refunded,
	}})
}

// refund returns the task's credits at most once and reports whether they are refunded.
func (s *Scheduler) refund(task Task) bool {
	if task.CreditsCharged <= 0 || s.Usage == nil {
		return false
	}
	flipped, err := s.Repo.MarkRefunded(context.Background(), task.ID)
	if err != nil {
		telemetry.Error("task.refund_failed", map[string]any{"task_id": task.ID, "error": err})
		return false
	}
	if !flipped {
		return true
	}
	if _, err := s.Usage.Refund(context.Background(), task.UserID, task.CreditsCharged); err != nil {
		telemetry.Error("task.refund_failed", map[string]any{"task_id": task.ID, "user_id": task.UserID, "error": err})
	}
	return true
}

// Cancel marks a task cancelled and signals whichever process runs it. Cancelling a finished
// task returns it unchanged.
func (s *Scheduler) Cancel(ctx context.Context, userID, taskID string) (Task, error) {
	task, err := s.GetStatus(ctx, userID, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Terminal() {
		return task, nil
	}

	completedAt := time.Now().UTC()
	ok, err := s.Repo.Transition(ctx, taskID, []string{StatusQueued, StatusRunning}, StatusCancelled, Update{
		ErrorCode:   ErrorCodeCancelled,
		CompletedAt: &completedAt,
	})
	if err != nil {
		return Task{}, err
	}
	if !ok {
		return s.Repo.GetByID(ctx, taskID)
	}

	local := s.Registry.Cancel(taskID)
	if !local && s.Remote != nil {
		if err := s.Remote.PublishCancel(ctx, taskID); err != nil {
			telemetry.Error("task.cancel.remote_failed", map[string]any{"task_id": taskID, "error": err})
		}
	}
	if task.Status == StatusQueued {
		// No job will observe this task, so settle it here.
		s.cancelledTask(ctx, task)
	} else {
		telemetry.Info("task.cancel.requested", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"task_id":    taskID,
			"local":      local,
		})
	}
	return s.Repo.GetByID(ctx, taskID)
}

// Checkpoint returns ErrCancelled when the task's context is done or its durable status is
// cancelled.
func (s *Scheduler) Checkpoint(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	task, err := s.Repo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == StatusCancelled {
		return ErrCancelled
	}
	return nil
}

// SetProgress stores the task's percent complete.
func (s *Scheduler) SetProgress(ctx context.Context, taskID string, percent int) error {
	return s.Repo.UpdateProgress(ctx, taskID, min(max(percent, 0), 100))
}

// RegisterProcess ties a subprocess to taskID's cancellation.
func (s *Scheduler) RegisterProcess(taskID string, p *os.Process, exited <-chan struct{}) {
	s.Registry.RegisterProcess(taskID, p, exited)
}

// GetStatus returns a task owned by userID.
func (s *Scheduler) GetStatus(ctx context.Context, userID, taskID string) (Task, error) {
	task, err := s.Repo.GetByID(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.UserID != userID {
		return Task{}, ErrNotFound
	}
	return task, nil
}

// List returns the user's tasks, optionally filtered by status.
func (s *Scheduler) List(ctx context.Context, userID, status string, limit int) ([]Task, error) {
	return s.Repo.ListByUser(ctx, userID, strings.TrimSpace(status), limit)
}

// RunningSnapshots lists the user's unfinished tasks for event stream hydration.
func (s *Scheduler) RunningSnapshots(ctx context.Context, userID string) ([]events.TaskSnapshot, error) {
	out := []events.TaskSnapshot{}
	for _, status := range []string{StatusRunning, StatusQueued} {
		list, err := s.Repo.ListByUser(ctx, userID, status, 0)
		if err != nil {
			return nil, err
		}
		for _, t := range list {
			out = append(out, events.TaskSnapshot{
				TaskID:     t.ID,
				Kind:       t.Kind,
				DocumentID: t.DocumentID,
				Status:     t.Status,
				Percent:    t.Progress,
				UpdatedAt:  t.UpdatedAt,
			})
		}
	}
	return out, nil
}

// Reconcile fails tasks left running by a previous process and refunds them. Without a
// queue, queued tasks lived only in the old process's memory and are failed too. Only the
// process that executes jobs should call it.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	stale, err := s.Repo.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return 0, err
	}
	if s.Queue == nil {
		queued, err := s.Repo.ListByStatus(ctx, StatusQueued)
		if err != nil {
			return 0, err
		}
		stale = append(stale, queued...)
	}
	for _, task := range stale {
		s.failTaskWithCode(ctx, task, ErrorCodeInterrupted, "interrupted by restart")
	}
	if len(stale) > 0 {
		telemetry.Info("task.reconcile", map[string]any{"failed": len(stale)})
	}
	return len(stale), nil
}

func (s *Scheduler) finalize(task Task, status string) {
	f, ok := s.jobFor(task.Kind).(Finalizer)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("task.finalize_panic", map[string]any{"task_id": task.ID, "error": fmt.Sprint(r)})
		}
	}()
	f.Finalize(context.Background(), task, status)
}

func (s *Scheduler) publish(e events.Event) {
	if s.Events != nil {
		s.Events.Publish(e)
	}
}

func (s *Scheduler) logTransition(ctx context.Context, task Task, from, to string, completedAt *time.Time) {
	metrics.IncTask(to)
	fields := map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"task_id":           task.ID,
		"user_id":           task.UserID,
		"kind":              task.Kind,
		"document_id":       task.DocumentID,
		"status":            to,
		"status_transition": from + "->" + to,
	}
	if task.StartedAt != nil && completedAt != nil {
		fields["duration_ms"] = float64(completedAt.Sub(*task.StartedAt).Microseconds()) / 1000.0
	}
	telemetry.Info("task.status", fields)
}

var _ Runtime = (*Scheduler)(nil)
var _ events.Snapshotter = (*Scheduler)(nil)
