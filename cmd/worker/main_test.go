package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"cv-adapter/internal/queue"
	"cv-adapter/internal/tasks"
)

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]sqstypes.Message
	deleted  []string
	received int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	if len(f.batches) == 0 {
		time.Sleep(time.Millisecond)
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeRunner struct {
	mu  sync.Mutex
	err error
	ran []string
}

func (f *fakeRunner) Run(ctx context.Context, taskID string, job tasks.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, taskID)
	return f.err
}

func sqsMessage(t *testing.T, id, receipt string, msg *queue.Message) sqstypes.Message {
	t.Helper()
	body := "{bad-json"
	if msg != nil {
		raw, err := queue.EncodeMessage(*msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		body = string(raw)
	}
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(body),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func TestWorkerHandle(t *testing.T) {
	valid := &queue.Message{TaskID: "task-1", Kind: "adaptation", RequestID: "req-1", Version: queue.MessageVersion}
	cases := []struct {
		name       string
		msg        *queue.Message
		runErr     error
		wantDelete bool
		wantRuns   int
	}{
		{name: "success deletes", msg: valid, wantDelete: true, wantRuns: 1},
		{name: "transient failure keeps message", msg: valid, runErr: errors.New("db down"), wantRuns: 1},
		{name: "missing task deletes", msg: valid, runErr: tasks.ErrNotFound, wantDelete: true, wantRuns: 1},
		{name: "invalid json deletes", msg: nil, wantDelete: true},
		{name: "missing id deletes", msg: &queue.Message{RequestID: "req-2", Version: queue.MessageVersion}, wantDelete: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeSQS{}
			runner := &fakeRunner{err: tc.runErr}
			w := &worker{client: client, queueURL: "queue", runner: runner, concurrency: 1}

			w.handle(context.Background(), sqsMessage(t, "m1", "r1", tc.msg))

			if got := len(client.deletedHandles()) == 1; got != tc.wantDelete {
				t.Fatalf("deleted=%v want %v", got, tc.wantDelete)
			}
			if len(runner.ran) != tc.wantRuns {
				t.Fatalf("runs=%d want %d", len(runner.ran), tc.wantRuns)
			}
		})
	}
}

func TestWorkerRunDrainsAndStops(t *testing.T) {
	client := &fakeSQS{batches: [][]sqstypes.Message{{
		sqsMessage(t, "m1", "r1", &queue.Message{TaskID: "a", Version: queue.MessageVersion}),
		sqsMessage(t, "m2", "r2", &queue.Message{TaskID: "b", Version: queue.MessageVersion}),
	}}}
	runner := &fakeRunner{}
	w := &worker{client: client, queueURL: "queue", runner: runner, concurrency: 2, shutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(client.deletedHandles()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("messages not processed, deleted=%v", client.deletedHandles())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestReceiveCount(t *testing.T) {
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
