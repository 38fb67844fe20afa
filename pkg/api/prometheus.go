package api

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports conductor counters to a Prometheus registry.
type PrometheusObserver struct {
	workflowStatus *prometheus.CounterVec
	taskStatus     *prometheus.CounterVec
	dispatched     prometheus.Counter
	errors         prometheus.Counter
}

// NewPrometheusObserver registers the conductor collectors with reg. Collectors
// that are already registered are reused.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		workflowStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "conductor_workflow_status_transitions_total", Help: "Workflow status transitions by target status."},
			[]string{"status"},
		),
		taskStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "conductor_task_status_transitions_total", Help: "Task status transitions by target status."},
			[]string{"status"},
		),
		dispatched: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "conductor_tasks_dispatched_total", Help: "Tasks returned as runnable by GetNextTasks."},
		),
		errors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "conductor_workflow_errors_total", Help: "Workflow-data errors recorded in conductor logs."},
		),
	}

	var err error
	o.workflowStatus, err = register(reg, o.workflowStatus)
	if err != nil {
		return nil, err
	}
	o.taskStatus, err = register(reg, o.taskStatus)
	if err != nil {
		return nil, err
	}
	o.dispatched, err = register(reg, o.dispatched)
	if err != nil {
		return nil, err
	}
	o.errors, err = register(reg, o.errors)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *PrometheusObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	o.workflowStatus.WithLabelValues(to.String()).Inc()
}

func (o *PrometheusObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	o.taskStatus.WithLabelValues(to.String()).Inc()
}

func (o *PrometheusObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	o.dispatched.Inc()
}

func (o *PrometheusObserver) OnError(ctx context.Context, id string, entry LogEntry) {
	o.errors.Inc()
}
