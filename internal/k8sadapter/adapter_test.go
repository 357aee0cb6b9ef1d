package k8sadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/clusterchat/operator/internal/config"
	"github.com/clusterchat/operator/internal/observability"
)

const testTimeout = 5 * time.Second

func newTestAdapter(objs ...interface{}) (*Adapter, *fake.Clientset) {
	runtimeObjs := make([]interface{}, 0, len(objs))
	runtimeObjs = append(runtimeObjs, objs...)
	client := fake.NewSimpleClientset()
	for _, o := range objs {
		switch v := o.(type) {
		case *appsv1.Deployment:
			_, _ = client.AppsV1().Deployments(v.Namespace).Create(context.Background(), v, metav1.CreateOptions{})
		case *corev1.Pod:
			_, _ = client.CoreV1().Pods(v.Namespace).Create(context.Background(), v, metav1.CreateOptions{})
		}
	}
	return New(client, observability.NewMetrics(), testTimeout), client
}

func baseDeployment() *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: config.Deployment, Namespace: config.Namespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(2)),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": config.Deployment}},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 2},
	}
}

func TestAdapter_Scale_RejectsOutOfBoundsBeforeAnyAPICall(t *testing.T) {
	adapter, client := newTestAdapter(baseDeployment())

	err := adapter.Scale(context.Background(), 0, "exec-1")
	require.Error(t, err)

	err = adapter.Scale(context.Background(), 6, "exec-2")
	require.Error(t, err)

	dep, getErr := client.AppsV1().Deployments(config.Namespace).Get(context.Background(), config.Deployment, metav1.GetOptions{})
	require.NoError(t, getErr)
	assert.Equal(t, int32(2), *dep.Spec.Replicas, "replicas must be unchanged when bounds are violated")
}

func TestAdapter_Scale_PatchesReplicas(t *testing.T) {
	adapter, client := newTestAdapter(baseDeployment())

	err := adapter.Scale(context.Background(), 4, "exec-3")
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments(config.Namespace).Get(context.Background(), config.Deployment, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), *dep.Spec.Replicas)
}

func TestAdapter_Scale_MissingDeploymentFails(t *testing.T) {
	adapter, _ := newTestAdapter()

	err := adapter.Scale(context.Background(), 3, "exec-4")
	assert.Error(t, err)
}

func TestAdapter_Restart_PatchesAnnotation(t *testing.T) {
	adapter, client := newTestAdapter(baseDeployment())

	err := adapter.Restart(context.Background(), "exec-5")
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments(config.Namespace).Get(context.Background(), config.Deployment, metav1.GetOptions{})
	require.NoError(t, err)
	_, ok := dep.Spec.Template.Annotations["kubectl.kubernetes.io/restartedAt"]
	assert.True(t, ok, "expected restartedAt annotation to be set")
}

func TestAdapter_Status_ReadsDeploymentAndPods(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "loadlab-app-abc",
			Namespace: config.Namespace,
			Labels:    map[string]string{"app": config.Deployment},
		},
	}
	adapter, _ := newTestAdapter(baseDeployment(), pod)

	status, err := adapter.Status(context.Background(), "exec-6")
	require.NoError(t, err)
	assert.Equal(t, int32(2), status.Replicas)
	assert.Equal(t, int32(2), status.ReadyReplicas)
	require.Len(t, status.Pods, 1)
	assert.Equal(t, "loadlab-app-abc", status.Pods[0].Name)
}

func TestAdapter_Status_NeverCached(t *testing.T) {
	adapter, client := newTestAdapter(baseDeployment())

	first, err := adapter.Status(context.Background(), "exec-7")
	require.NoError(t, err)
	assert.Equal(t, int32(2), first.Replicas)

	dep, err := client.AppsV1().Deployments(config.Namespace).Get(context.Background(), config.Deployment, metav1.GetOptions{})
	require.NoError(t, err)
	dep.Spec.Replicas = ptr.To(int32(5))
	_, err = client.AppsV1().Deployments(config.Namespace).Update(context.Background(), dep, metav1.UpdateOptions{})
	require.NoError(t, err)

	second, err := adapter.Status(context.Background(), "exec-8")
	require.NoError(t, err)
	assert.Equal(t, int32(5), second.Replicas, "Status must always read live, never a cached value")
}

func TestAdapter_RecordsCallDurationMetric(t *testing.T) {
	adapter, _ := newTestAdapter(baseDeployment())

	_, err := adapter.Status(context.Background(), "exec-9")
	require.NoError(t, err)

	families, err := adapter.metrics.Registry.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "chatops_k8s_adapter_call_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found, "expected k8s adapter call duration metric to be registered and observed")
}
