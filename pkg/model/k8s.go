package model

// PodSummary is the minimal per-pod view surfaced by a status read.
type PodSummary struct {
	Name      string `json:"name"`
	StartTime *int64 `json:"startTime,omitempty"` // UnixMilli
}

// K8sStatus is an on-demand read snapshot of the target deployment.
// It is never cached: every call re-reads the cluster.
type K8sStatus struct {
	Replicas      int32        `json:"replicas"`
	ReadyReplicas int32        `json:"readyReplicas"`
	Pods          []PodSummary `json:"pods"`
}
