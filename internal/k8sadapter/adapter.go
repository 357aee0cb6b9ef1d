// Package k8sadapter is the sole mutating path against the cluster. It
// talks to a single fixed Deployment in a single fixed namespace through
// client-go's typed AppsV1/CoreV1 clients, and performs no caching: every
// Status read is a live round trip.
package k8sadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/clusterchat/operator/internal/config"
	"github.com/clusterchat/operator/internal/observability"
	"github.com/clusterchat/operator/pkg/model"
)

// Adapter is the typed-client-backed execution surface for one fixed
// Deployment. It never retries and never caches a read.
type Adapter struct {
	client    kubernetes.Interface
	metrics   *observability.Metrics
	namespace string
	workload  string
	timeout   time.Duration
}

// New constructs an Adapter bound to the process-wide namespace/deployment
// constants.
func New(client kubernetes.Interface, metrics *observability.Metrics, timeout time.Duration) *Adapter {
	return &Adapter{
		client:    client,
		metrics:   metrics,
		namespace: config.Namespace,
		workload:  config.Deployment,
		timeout:   timeout,
	}
}

// jsonPatchOp is a single RFC 6902 JSON patch operation.
type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Scale patches /spec/replicas to replicas. Bounds are checked before any
// outbound call — a pure Go check that costs zero API calls on violation.
func (a *Adapter) Scale(ctx context.Context, replicas int, executionID string) error {
	if replicas < config.MinReplicas || replicas > config.MaxReplicas {
		return fmt.Errorf("k8sadapter: replicas %d out of bounds [%d,%d]", replicas, config.MinReplicas, config.MaxReplicas)
	}

	patch, err := json.Marshal([]jsonPatchOp{
		{Op: "replace", Path: "/spec/replicas", Value: replicas},
	})
	if err != nil {
		return fmt.Errorf("k8sadapter: marshal scale patch: %w", err)
	}

	return a.timed(ctx, "scale", func(callCtx context.Context) error {
		_, err := a.client.AppsV1().Deployments(a.namespace).Patch(
			callCtx, a.workload, types.JSONPatchType, patch, metav1.PatchOptions{},
		)
		if err != nil {
			return fmt.Errorf("k8sadapter: scale patch for execution %s: %w", executionID, err)
		}
		return nil
	})
}

// Restart patches a kubectl.kubernetes.io/restartedAt annotation on the
// pod template, triggering a rolling restart that respects cluster policy.
// No pod is directly deleted.
func (a *Adapter) Restart(ctx context.Context, executionID string) error {
	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						"kubectl.kubernetes.io/restartedAt": time.Now().Format(time.RFC3339),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("k8sadapter: marshal restart patch: %w", err)
	}

	return a.timed(ctx, "restart", func(callCtx context.Context) error {
		_, err := a.client.AppsV1().Deployments(a.namespace).Patch(
			callCtx, a.workload, types.StrategicMergePatchType, patch, metav1.PatchOptions{},
		)
		if err != nil {
			return fmt.Errorf("k8sadapter: restart patch for execution %s: %w", executionID, err)
		}
		return nil
	})
}

// Status performs a live read of the deployment's replica counts and its
// pods. It is never cached.
func (a *Adapter) Status(ctx context.Context, executionID string) (model.K8sStatus, error) {
	var status model.K8sStatus

	err := a.timed(ctx, "status", func(callCtx context.Context) error {
		dep, err := a.client.AppsV1().Deployments(a.namespace).Get(callCtx, a.workload, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("k8sadapter: get deployment for execution %s: %w", executionID, err)
		}
		if dep.Spec.Replicas != nil {
			status.Replicas = *dep.Spec.Replicas
		}
		status.ReadyReplicas = dep.Status.ReadyReplicas

		pods, err := a.client.CoreV1().Pods(a.namespace).List(callCtx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", a.workload),
		})
		if err != nil {
			return fmt.Errorf("k8sadapter: list pods for execution %s: %w", executionID, err)
		}

		summaries := make([]model.PodSummary, 0, len(pods.Items))
		for _, pod := range pods.Items {
			var startMs *int64
			if !pod.Status.StartTime.IsZero() {
				ms := pod.Status.StartTime.UnixMilli()
				startMs = &ms
			}
			summaries = append(summaries, model.PodSummary{Name: pod.Name, StartTime: startMs})
		}
		status.Pods = summaries
		return nil
	})

	return status, err
}

// timed wraps fn with a per-call timeout raced against ctx, and records
// its duration on the k8s_adapter_call_duration_seconds histogram,
// labeled by operation.
func (a *Adapter) timed(ctx context.Context, operation string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if a.metrics != nil {
		a.metrics.K8sAdapterCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("k8sadapter: %s timed out after %s: %w", operation, a.timeout, err)
	}
	return err
}
