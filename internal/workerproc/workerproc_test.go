package workerproc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cv-adapter/internal/queue"
	"cv-adapter/internal/tasks"
)

type fakeRunner struct {
	err       error
	taskID    string
	requestID string
	calls     int
}

func (f *fakeRunner) Run(ctx context.Context, taskID string, job tasks.Job) error {
	f.calls++
	f.taskID = taskID
	f.requestID = tasks.RequestIDFromContext(ctx)
	return f.err
}

func encode(t *testing.T, msg queue.Message) string {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(body)
}

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name          string
		body          string
		wantErr       bool
		unrecoverable bool
	}{
		{name: "valid", body: `{"taskId":"t1","kind":"adaptation","version":2}`},
		{name: "older version", body: `{"taskId":"t1","version":1}`},
		{name: "empty", body: "  ", wantErr: true, unrecoverable: true},
		{name: "invalid json", body: "{", wantErr: true, unrecoverable: true},
		{name: "missing task id", body: `{"requestId":"r1","version":2}`, wantErr: true, unrecoverable: true},
		{name: "newer version", body: `{"taskId":"t1","version":3}`, wantErr: true, unrecoverable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, meta, err := ParseMessage(tc.body)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if Unrecoverable(err) != tc.unrecoverable {
				t.Fatalf("unrecoverable=%v want %v", Unrecoverable(err), tc.unrecoverable)
			}
			if meta.BodyLen != len(tc.body) {
				t.Fatalf("body len %d", meta.BodyLen)
			}
		})
	}
}

func TestHandleMessageRunsTaskWithRequestID(t *testing.T) {
	runner := &fakeRunner{}
	body := encode(t, queue.Message{TaskID: "task-1", Kind: "adaptation", RequestID: "req-1", Version: queue.MessageVersion})

	msg, err := HandleMessage(context.Background(), runner, body)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg.TaskID != "task-1" || runner.taskID != "task-1" || runner.requestID != "req-1" {
		t.Fatalf("unexpected run: msg=%+v runner=%+v", msg, runner)
	}
}

func TestHandleMessageWrapsRunnerErrors(t *testing.T) {
	body := encode(t, queue.Message{TaskID: "task-2", RequestID: "req-2", Version: queue.MessageVersion})

	runner := &fakeRunner{err: errors.New("db down")}
	_, err := HandleMessage(context.Background(), runner, body)
	var procErr ErrProcess
	if !errors.As(err, &procErr) || procErr.TaskID != "task-2" || procErr.RequestID != "req-2" {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if Unrecoverable(err) {
		t.Fatalf("transient failures must be redelivered")
	}

	runner = &fakeRunner{err: fmt.Errorf("load: %w", tasks.ErrNotFound)}
	if _, err := HandleMessage(context.Background(), runner, body); !Unrecoverable(err) {
		t.Fatalf("missing task should be dropped, got %v", err)
	}
}

func TestHandleMessageSkipsRunnerOnBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	if _, err := HandleMessage(context.Background(), runner, "not json"); err == nil {
		t.Fatalf("expected decode error")
	}
	if runner.calls != 0 {
		t.Fatalf("runner must not be called, got %d calls", runner.calls)
	}
}

func TestComputeMeta(t *testing.T) {
	if meta := ComputeMeta(""); meta.BodyLen != 0 || meta.BodySHA != "" {
		t.Fatalf("unexpected meta for empty body: %+v", meta)
	}
	meta := ComputeMeta("abc")
	if meta.BodySHA != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected sha: %s", meta.BodySHA)
	}
}
