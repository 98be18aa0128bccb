// Package workerproc turns queue payloads into scheduler runs.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"cv-adapter/internal/queue"
	"cv-adapter/internal/tasks"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingTaskID indicates a message without a task id.
type ErrMissingTaskID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingTaskID) Error() string { return "missing task id" }

// ErrUnsupportedVersion indicates a payload written by a newer producer.
type ErrUnsupportedVersion struct {
	Meta    MessageMeta
	Version int
}

func (e ErrUnsupportedVersion) Error() string { return "unsupported message version" }

// ErrProcess indicates running the task failed after the message parsed. The message should
// be redelivered.
type ErrProcess struct {
	TaskID    string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process task"
	}
	return "process task: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message can never succeed and should be deleted.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingTaskID
		version ErrUnsupportedVersion
	)
	if errors.Is(err, tasks.ErrNotFound) {
		return true
	}
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing) || errors.As(err, &version)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Version > queue.MessageVersion {
		return msg, meta, ErrUnsupportedVersion{Meta: meta, Version: msg.Version}
	}
	if strings.TrimSpace(msg.TaskID) == "" {
		return msg, meta, ErrMissingTaskID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// TaskRunner executes a persisted task by id, resolving its job from the task kind.
type TaskRunner interface {
	Run(ctx context.Context, taskID string, job tasks.Job) error
}

// HandleMessage parses body and runs the task it names. Job failures are recorded on the task
// by the runner; only infrastructure errors come back as ErrProcess.
func HandleMessage(ctx context.Context, runner TaskRunner, body string) (queue.Message, error) {
	if runner == nil {
		return queue.Message{}, errors.New("task runner not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return msg, err
	}
	runCtx := tasks.WithRequestID(ctx, msg.RequestID)
	if err := runner.Run(runCtx, msg.TaskID, nil); err != nil {
		return msg, ErrProcess{TaskID: msg.TaskID, RequestID: msg.RequestID, Err: err}
	}
	return msg, nil
}
