// Package worker owns the single process-wide dequeue→mutex→adapter
// pipeline. Exactly one Worker runs per process; the bootstrap component
// enforces that invariant.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clusterchat/operator/internal/errors"
	"github.com/clusterchat/operator/internal/mutex"
	"github.com/clusterchat/operator/internal/queue"
	"github.com/clusterchat/operator/internal/state"
	"github.com/clusterchat/operator/pkg/model"
)

// Adapter is the subset of k8sadapter.Adapter the worker depends on.
// Accepting the interface (rather than the concrete type) lets tests
// substitute a fake without standing up a fake Kubernetes clientset.
type Adapter interface {
	Scale(ctx context.Context, replicas int, executionID string) error
	Restart(ctx context.Context, executionID string) error
	Status(ctx context.Context, executionID string) (model.K8sStatus, error)
}

// Worker is the lifecycle owner of the queue → mutex → adapter pipeline.
type Worker struct {
	queue    *queue.PriorityQueue
	mutex    *mutex.FIFOMutex
	adapter  Adapter
	registry *state.Registry
	errs     *errors.ErrorCollector

	pollInterval     time.Duration
	verifyGraceDelay time.Duration
	shutdownDeadline time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New constructs a Worker. It does not start the run loop; call Start.
func New(
	q *queue.PriorityQueue,
	m *mutex.FIFOMutex,
	adapter Adapter,
	registry *state.Registry,
	errCollector *errors.ErrorCollector,
	pollInterval, verifyGraceDelay, shutdownDeadline time.Duration,
) *Worker {
	return &Worker{
		queue:            q,
		mutex:            m,
		adapter:          adapter,
		registry:         registry,
		errs:             errCollector,
		pollInterval:     pollInterval,
		verifyGraceDelay: verifyGraceDelay,
		shutdownDeadline: shutdownDeadline,
	}
}

// Start spawns the run loop if it is not already running. Idempotent: a
// second Start while already running is a no-op. Guarded by atomic.Bool
// compare-and-swap rather than sync.Once, because Start/Stop/Start must be
// able to cycle within one process.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(ctx, w.stopCh, w.done)
}

// Stop signals the run loop to exit after completing any in-flight
// command. It does not wait for the loop to exit; see GracefulShutdown.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stopCh)
}

// GracefulShutdown stops intake and waits up to shutdownDeadline (or
// ctx's own deadline, whichever is sooner) for the current command to
// finish, then returns even if the loop has not exited.
func (w *Worker) GracefulShutdown(ctx context.Context) {
	w.Stop()

	deadline := w.shutdownDeadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	select {
	case <-w.done:
	case <-shutdownCtx.Done():
		slog.Warn("worker graceful shutdown deadline exceeded; in-flight command may still be running")
	}
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		cmd, ok := w.queue.Dequeue()
		if !ok {
			time.Sleep(w.pollInterval)
			continue
		}

		if cmd.Parsed.Kind != model.KindExecute {
			// Defence in depth: the API gate never enqueues non-EXECUTE
			// commands, so this branch should be unreachable.
			slog.Warn("worker dequeued a non-EXECUTE command", "kind", cmd.Parsed.Kind, "id", cmd.ID)
			continue
		}

		// Deliberately detached from ctx: ctx is the process-lifetime
		// context that a shutdown signal cancels (see cmd/operator/main.go),
		// and is only used above to decide whether the loop should pick up
		// its *next* iteration. An already-dequeued command must run to
		// completion once started — GracefulShutdown waits for it rather
		// than aborting it — so the adapter calls it makes must not be
		// canceled out from under it when the shutdown signal fires.
		w.execute(context.Background(), cmd)
	}
}

// execute runs one ScheduledCommand through the mutex-guarded pipeline.
// The mutex release and state cleanup are guaranteed on every exit path,
// including a recovered panic, so a single bad adapter call can never
// deadlock subsequent commands.
func (w *Worker) execute(ctx context.Context, cmd model.ScheduledCommand) {
	sanitized := sanitize(cmd)
	w.registry.SetWorkerStatus(model.WorkerExecuting)
	w.registry.SetCurrentCommand(&sanitized)

	if err := w.mutex.Acquire(ctx); err != nil {
		// The worker's own context is long-lived; a cancellation here is a
		// fatal startup/shutdown condition, not a runtime error to recover.
		slog.Error("worker failed to acquire execution mutex", "error", err)
		w.registry.SetWorkerStatus(model.WorkerIdle)
		w.registry.SetCurrentCommand(nil)
		return
	}
	w.registry.SetMutexStatus(model.MutexLocked)

	result := w.runGuarded(ctx, cmd)

	w.mutex.Release()
	w.registry.SetMutexStatus(model.MutexFree)
	w.registry.SetWorkerStatus(model.WorkerIdle)
	w.registry.SetCurrentCommand(nil)
	w.registry.RecordResult(result, string(cmd.Parsed.Action))
}

// runGuarded performs the dispatch + verification and recovers a panic
// into a FAILED result, so execute always goes on to release the mutex
// and reset the state after it returns.
func (w *Worker) runGuarded(ctx context.Context, cmd model.ScheduledCommand) (result model.LastResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.LastResult{
				Status:      model.ResultFailed,
				Error:       fmt.Sprintf("recovered panic: %v", r),
				CompletedAt: time.Now().UnixMilli(),
			}
		}
	}()

	var err error
	switch cmd.Parsed.Action {
	case model.ActionScale:
		err = w.executeScale(ctx, cmd)
	case model.ActionRestart:
		err = w.executeRestart(ctx, cmd)
	default:
		err = fmt.Errorf("worker: unknown action %q", cmd.Parsed.Action)
	}

	if err != nil {
		w.errs.Report(errors.AgentError{
			Code:      errors.ErrKubernetesError,
			Message:   err.Error(),
			Component: "worker",
			Timestamp: time.Now().UnixMilli(),
		})
		return model.LastResult{
			Status:      model.ResultFailed,
			Error:       err.Error(),
			CompletedAt: time.Now().UnixMilli(),
		}
	}

	return model.LastResult{
		Status:      model.ResultSuccess,
		CompletedAt: time.Now().UnixMilli(),
	}
}

func (w *Worker) executeScale(ctx context.Context, cmd model.ScheduledCommand) error {
	if err := w.adapter.Scale(ctx, cmd.Parsed.TargetReplicas, cmd.ExecutionID); err != nil {
		return err
	}

	w.sleep(ctx, w.verifyGraceDelay)

	status, err := w.adapter.Status(ctx, cmd.ExecutionID)
	if err != nil {
		return fmt.Errorf("worker: post-scale verification read failed: %w", err)
	}
	if status.Replicas != int32(cmd.Parsed.TargetReplicas) {
		return fmt.Errorf("worker: scale verification mismatch: want %d replicas, observed %d", cmd.Parsed.TargetReplicas, status.Replicas)
	}
	return nil
}

func (w *Worker) executeRestart(ctx context.Context, cmd model.ScheduledCommand) error {
	if err := w.adapter.Restart(ctx, cmd.ExecutionID); err != nil {
		return err
	}

	w.sleep(ctx, w.verifyGraceDelay)

	// Restart verification only confirms connectivity; no equality assertion.
	if _, err := w.adapter.Status(ctx, cmd.ExecutionID); err != nil {
		return fmt.Errorf("worker: post-restart connectivity check failed: %w", err)
	}
	return nil
}

// sleep blocks for d or until ctx is canceled, whichever comes first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func sanitize(cmd model.ScheduledCommand) model.SanitizedCommand {
	return model.SanitizedCommand{
		Action:            cmd.Parsed.Action,
		RequestedReplicas: cmd.Parsed.TargetReplicas,
	}
}
