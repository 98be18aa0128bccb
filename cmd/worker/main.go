package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cv-adapter/internal/bootstrap"
	"cv-adapter/internal/shared/config"
	"cv-adapter/internal/shared/metrics"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/workerproc"
)

const defaultRegion = "us-east-1"

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var (
		cfgFile   string
		reconcile bool
	)
	cmd := &cobra.Command{
		Use:           "cv-adapter-worker",
		Short:         "Run queued adaptation tasks from SQS",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := telemetry.Init(cfg.LogJSON, cfg.LogDebug); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer telemetry.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg, reconcile)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	cmd.Flags().BoolVar(&reconcile, "reconcile", true, "fail tasks left running by a previous process before polling")
	cmd.Flags().Int("concurrency", 0, "tasks run at once (default 2)")
	cmd.Flags().Bool("json", true, "json format for logging")
	cmd.Flags().BoolP("debug", "d", false, "verbose/debug output")
	_ = v.BindPFlag("worker_concurrency", cmd.Flags().Lookup("concurrency"))
	_ = v.BindPFlag("log_json", cmd.Flags().Lookup("json"))
	_ = v.BindPFlag("log_debug", cmd.Flags().Lookup("debug"))
	return cmd
}

func runWorker(ctx context.Context, cfg config.Config, reconcile bool) error {
	queueURL := strings.TrimSpace(cfg.Worker.QueueURL)
	if queueURL == "" {
		return errors.New("SQS_QUEUE_URL is required")
	}
	region := cfg.Worker.AWSRegion
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Role: bootstrap.RoleWorker})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	go func() {
		if err := app.Start(ctx, reconcile); err != nil {
			telemetry.Error("worker.background_failed", map[string]any{"error": err.Error()})
		}
	}()

	w := &worker{
		client:          sqs.NewFromConfig(awsCfg),
		queueURL:        queueURL,
		runner:          app.Scheduler,
		visibility:      int32(cfg.Worker.Visibility / time.Second),
		concurrency:     max(1, cfg.Worker.Concurrency),
		shutdownTimeout: cfg.Worker.ShutdownTimeout,
	}
	w.run(ctx)
	return nil
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type worker struct {
	client          sqsAPI
	queueURL        string
	runner          workerproc.TaskRunner
	visibility      int32
	concurrency     int
	shutdownTimeout time.Duration
}

// run polls until ctx is done, then gives in-flight tasks shutdownTimeout to finish before
// cancelling them.
func (w *worker) run(ctx context.Context) {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue":       w.queueURL,
		"concurrency": w.concurrency,
		"visibility":  w.visibility,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   w.visibility,
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncWorkerMessage("received")
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(workCtx, m)
			}(msg)
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout": w.shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(w.shutdownTimeout):
		telemetry.Error("worker.shutdown_timeout", nil)
		cancelWork()
		<-waitDone
	}
}

func (w *worker) handle(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, err := workerproc.HandleMessage(ctx, w.runner, body)
	fields := baseFields(msg, decoded.TaskID, decoded.RequestID)
	if err != nil {
		fields["error"] = err.Error()
		if workerproc.Unrecoverable(err) {
			meta := workerproc.ComputeMeta(body)
			fields["body_len"] = meta.BodyLen
			fields["body_sha256"] = meta.BodySHA
			telemetry.Error("worker.message.unrecoverable", fields)
			if w.delete(ctx, msg, fields) {
				metrics.IncWorkerMessage("unrecoverable")
			}
			return
		}
		telemetry.Error("worker.message.failed", fields)
		metrics.IncWorkerMessage("failed")
		return
	}

	if w.delete(ctx, msg, fields) {
		telemetry.Info("worker.message.completed", fields)
		metrics.IncWorkerMessage("completed")
	}
}

func (w *worker) delete(ctx context.Context, msg sqstypes.Message, fields map[string]any) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.message.delete_failed", withError(fields, "missing receipt handle"))
		return false
	}
	if _, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.message.delete_failed", withError(fields, err.Error()))
		return false
	}
	return true
}

func withError(fields map[string]any, msg string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = msg
	return out
}

func baseFields(msg sqstypes.Message, taskID, requestID string) map[string]any {
	fields := map[string]any{
		"task_id":        taskID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
