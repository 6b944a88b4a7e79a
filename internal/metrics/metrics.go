package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"group"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_tasks_completed_total",
			Help: "Total number of tasks that reached Done",
		},
		[]string{"group", "result"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pueued_task_duration_seconds",
			Help:    "Task execution duration in seconds, from start to end",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20), // 1ms to ~8.7min
		},
		[]string{"group"},
	)

	// Group/queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pueued_queue_depth",
			Help: "Current number of Queued tasks per group",
		},
		[]string{"group"},
	)

	RunningTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pueued_running_tasks",
			Help: "Current number of Running tasks per group",
		},
		[]string{"group"},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pueued_scheduler_tick_duration_seconds",
			Help:    "Time spent processing a single scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	// Log store metrics
	LogStoreBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_logstore_bytes_written_total",
			Help: "Total bytes written to per-task log files",
		},
		[]string{"stream"},
	)

	// Transport metrics
	TransportConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pueued_transport_connections",
			Help: "Current number of open client connections on the daemon socket",
		},
	)

	TransportFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_transport_frames_total",
			Help: "Total number of encrypted frames processed",
		},
		[]string{"direction"},
	)

	// HTTP metrics (status/event mirror)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pueued_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pueued_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueued_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission into a group.
func RecordTaskSubmission(group string) {
	TasksSubmitted.WithLabelValues(group).Inc()
}

// RecordTaskCompletion records a task reaching Done, along with its
// duration from start to end.
func RecordTaskCompletion(group, result string, duration float64) {
	TasksCompleted.WithLabelValues(group, result).Inc()
	TaskDuration.WithLabelValues(group).Observe(duration)
}

// UpdateQueueDepth sets a group's current Queued task count.
func UpdateQueueDepth(group string, depth float64) {
	QueueDepth.WithLabelValues(group).Set(depth)
}

// UpdateRunningTasks sets a group's current Running task count.
func UpdateRunningTasks(group string, count float64) {
	RunningTasks.WithLabelValues(group).Set(count)
}

// RecordSchedulerTick records how long one scheduler tick took.
func RecordSchedulerTick(duration float64) {
	SchedulerTickDuration.Observe(duration)
}

// RecordLogStoreWrite records bytes appended to a task's stdout/stderr file.
func RecordLogStoreWrite(stream string, bytes float64) {
	LogStoreBytesWritten.WithLabelValues(stream).Add(bytes)
}

// SetTransportConnections sets the open-connection gauge.
func SetTransportConnections(count float64) {
	TransportConnections.Set(count)
}

// RecordTransportFrame records one encrypted frame processed in the given
// direction ("in" or "out").
func RecordTransportFrame(direction string) {
	TransportFramesTotal.WithLabelValues(direction).Inc()
}

// RecordHTTPRequest records an HTTP request against the status/event mirror.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message sent to dashboards.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
