// Package state holds the single process-wide ExecutionState registry: a
// point-in-time, deep-copyable snapshot of what the worker, mutex, and
// queue are doing right now. It never stores raw command text or identity.
package state

import (
	"sync"
	"time"

	"github.com/clusterchat/operator/internal/errors"
	"github.com/clusterchat/operator/internal/observability"
	"github.com/clusterchat/operator/pkg/model"
)

// Registry is the process-owned execution-state singleton. Setters are
// fire-and-forget; reads are always deep copies so callers can never
// mutate internal state through the returned view.
type Registry struct {
	mu sync.RWMutex

	workerStatus   model.WorkerStatus
	queueLength    int
	mutexStatus    model.MutexStatus
	currentCommand *model.SanitizedCommand
	lastResult     *model.LastResult

	metrics      *observability.Metrics
	errCollector *errors.ErrorCollector
	startedAt    time.Time
}

// New creates a Registry in its idle/free resting state. metrics may be
// nil in tests that do not care about gauge mirroring.
func New(metrics *observability.Metrics, errCollector *errors.ErrorCollector) *Registry {
	return &Registry{
		workerStatus: model.WorkerIdle,
		mutexStatus:  model.MutexFree,
		metrics:      metrics,
		errCollector: errCollector,
		startedAt:    time.Now(),
	}
}

// SetQueueLength implements queue.LengthPublisher.
func (r *Registry) SetQueueLength(n int) {
	r.mu.Lock()
	r.queueLength = n
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetQueueLength(n)
	}
}

// SetWorkerStatus records the worker's coarse activity flag.
func (r *Registry) SetWorkerStatus(s model.WorkerStatus) {
	r.mu.Lock()
	r.workerStatus = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.WorkerState.WithLabelValues(string(model.WorkerExecuting)).Set(boolToFloat(s == model.WorkerExecuting))
		r.metrics.WorkerState.WithLabelValues(string(model.WorkerIdle)).Set(boolToFloat(s == model.WorkerIdle))
	}
}

// SetMutexStatus records the mutex's coarse hold flag.
func (r *Registry) SetMutexStatus(s model.MutexStatus) {
	r.mu.Lock()
	r.mutexStatus = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MutexState.WithLabelValues(string(model.MutexLocked)).Set(boolToFloat(s == model.MutexLocked))
		r.metrics.MutexState.WithLabelValues(string(model.MutexFree)).Set(boolToFloat(s == model.MutexFree))
	}
}

// SetCurrentCommand records the sanitized view of the in-flight command,
// or clears it when cmd is nil.
func (r *Registry) SetCurrentCommand(cmd *model.SanitizedCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd == nil {
		r.currentCommand = nil
		return
	}
	cp := *cmd
	r.currentCommand = &cp
}

// RecordResult stores the most recently completed command's result and,
// on failure, reports it to the error collector so it surfaces on
// /internal/health.
func (r *Registry) RecordResult(result model.LastResult, component string) {
	r.mu.Lock()
	cp := result
	r.lastResult = &cp
	r.mu.Unlock()

	if result.Status == model.ResultFailed && r.errCollector != nil {
		r.errCollector.Report(errors.AgentError{
			Code:      errors.ErrKubernetesError,
			Message:   result.Error,
			Component: component,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if result.Status == model.ResultSuccess || result.Status == model.ResultFailed {
		r.recordCommandMetric(component, string(result.Status))
	}
}

func (r *Registry) recordCommandMetric(action, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.CommandsTotal.WithLabelValues(action, status).Inc()
}

// View returns a deep copy of the current execution state. CurrentCommand
// is already sanitized at the point it was recorded.
func (r *Registry) View() model.ExecutionStateView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view := model.ExecutionStateView{
		WorkerStatus: r.workerStatus,
		QueueLength:  r.queueLength,
		MutexStatus:  r.mutexStatus,
		UptimeMs:     time.Since(r.startedAt).Milliseconds(),
	}

	if r.currentCommand != nil {
		cp := *r.currentCommand
		view.CurrentCommand = &cp
	}
	if r.lastResult != nil {
		cp := *r.lastResult
		view.LastResult = &cp
	}
	if r.errCollector != nil {
		if last := r.errCollector.LastError(); last != nil {
			view.LastError = last.Message
		}
	}

	return view
}

// IsReady reports whether the registry is ready: it is as soon as it
// exists, since there is no cache to warm.
func (r *Registry) IsReady() bool {
	return true
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
