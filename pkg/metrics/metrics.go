// Package metrics exposes Prometheus instrumentation for the control
// plane, grounded on the teacher's Timer + MustRegister-in-init idiom
// and retargeted from cluster/service/container gauges to this domain's
// lifecycle-operation, sensor, and coordination-store metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GroupsTracked is registered for the number of groups in the latest
	// snapshot; nothing in this module sets it, so it reads 0.
	GroupsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantool_groups_tracked",
			Help: "Number of replica groups observed in the current snapshot",
		},
	)

	// LifecycleOperationDuration times a single lifecycle verb end to end.
	LifecycleOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tarantool_lifecycle_operation_duration_seconds",
			Help:    "Duration of a lifecycle operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LifecycleOperationsTotal counts lifecycle operations by terminal status.
	LifecycleOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantool_lifecycle_operations_total",
			Help: "Total number of lifecycle operations by op and terminal status",
		},
		[]string{"op", "status"},
	)

	// SensorRefreshDuration times one sensor.Update() pass.
	SensorRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarantool_sensor_refresh_duration_seconds",
			Help:    "Duration of a sensor snapshot refresh in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SensorRefreshTotal counts sensor refreshes by result.
	SensorRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantool_sensor_refresh_total",
			Help: "Total number of sensor refreshes by result",
		},
		[]string{"result"},
	)

	// ReplicationEnableAttemptsTotal counts replication-enable retry attempts.
	ReplicationEnableAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantool_replication_enable_attempts_total",
			Help: "Total number of replication-enable exec attempts by result",
		},
		[]string{"result"},
	)

	// CoordStoreApplyDuration times one coordination-store raft Apply call.
	CoordStoreApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarantool_coordstore_apply_duration_seconds",
			Help:    "Duration of a coordination-store raft apply in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HostClientCallDuration is registered for container-host RPC timings;
	// pkg/hostclient does not observe it, so it stays empty.
	HostClientCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tarantool_hostclient_call_duration_seconds",
			Help:    "Duration of a container-host client call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// AllocationDuration times one placement decision.
	AllocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarantool_allocation_duration_seconds",
			Help:    "Duration of a placement allocator decision in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		GroupsTracked,
		LifecycleOperationDuration,
		LifecycleOperationsTotal,
		SensorRefreshDuration,
		SensorRefreshTotal,
		ReplicationEnableAttemptsTotal,
		CoordStoreApplyDuration,
		HostClientCallDuration,
		AllocationDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
