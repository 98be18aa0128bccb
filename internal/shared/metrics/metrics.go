package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvadapter_tasks_total",
		Help: "Background tasks by terminal or transition status",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cvadapter_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvadapter_llm_tokens_total",
		Help: "Tokens reported by the text-generation backend",
	}, []string{"model", "kind"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvadapter_http_requests_total",
		Help: "HTTP requests by method and status",
	}, []string{"method", "status"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cvadapter_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	})

	workerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvadapter_worker_messages_total",
		Help: "Queue messages handled by the worker, by outcome",
	}, []string{"outcome"})
)

// IncTask records a task reaching status.
func IncTask(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddTokens records prompt, cached and completion token counts for model.
func AddTokens(model string, prompt, cached, completion int) {
	if model == "" {
		model = "unknown"
	}
	llmTokens.WithLabelValues(model, "prompt").Add(float64(max(prompt, 0)))
	llmTokens.WithLabelValues(model, "cached").Add(float64(max(cached, 0)))
	llmTokens.WithLabelValues(model, "completion").Add(float64(max(completion, 0)))
}

// IncHTTPRequest records a served request.
func IncHTTPRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func IncEventDropped() {
	eventsDropped.Inc()
}

// EventsDropped exposes the dropped-events counter for assertions.
func EventsDropped() prometheus.Collector {
	return eventsDropped
}

// IncWorkerMessage records a queue message outcome (received, completed, failed, unrecoverable).
func IncWorkerMessage(outcome string) {
	workerMessages.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
