package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	// Gather from our custom registry — should have metrics.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Gather from the default registry — our metrics should NOT be there.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	for _, f := range families {
		name := f.GetName()
		if len(name) < len("chatops_") || name[:8] != "chatops_" {
			t.Errorf("metric %q does not start with chatops_ prefix", name)
		}
	}
}

func TestNewMetrics_QueueLengthGauge(t *testing.T) {
	m := NewMetrics()

	m.SetQueueLength(4)

	pb := &dto.Metric{}
	if err := m.QueueLength.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 4 {
		t.Errorf("QueueLength = %v, want 4", got)
	}
}

func TestNewMetrics_CommandsTotal(t *testing.T) {
	m := NewMetrics()

	m.CommandsTotal.WithLabelValues("SCALE", "SUCCESS").Inc()
	m.CommandsTotal.WithLabelValues("SCALE", "SUCCESS").Inc()
	m.CommandsTotal.WithLabelValues("RESTART", "FAILED").Inc()

	pb := &dto.Metric{}
	if err := m.CommandsTotal.WithLabelValues("SCALE", "SUCCESS").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("CommandsTotal(SCALE,SUCCESS) = %v, want 2", got)
	}
}

func TestNewMetrics_K8sAdapterCallDuration(t *testing.T) {
	m := NewMetrics()

	m.K8sAdapterCallDuration.WithLabelValues("scale").Observe(0.2)
	m.K8sAdapterCallDuration.WithLabelValues("scale").Observe(0.4)

	pb := &dto.Metric{}
	if err := m.K8sAdapterCallDuration.WithLabelValues("scale").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("K8sAdapterCallDuration(scale) sample count = %v, want 2", got)
	}
}

func TestNewMetrics_QuotaRemainingAndWorkerMutexState(t *testing.T) {
	m := NewMetrics()

	m.QuotaRemaining.WithLabelValues("alice").Set(2)
	pb := &dto.Metric{}
	if err := m.QuotaRemaining.WithLabelValues("alice").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 2 {
		t.Errorf("QuotaRemaining(alice) = %v, want 2", got)
	}

	m.WorkerState.WithLabelValues("executing").Set(1)
	m.WorkerState.WithLabelValues("idle").Set(0)
	pb = &dto.Metric{}
	if err := m.WorkerState.WithLabelValues("executing").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 1 {
		t.Errorf("WorkerState(executing) = %v, want 1", got)
	}

	m.MutexState.WithLabelValues("locked").Set(1)
	pb = &dto.Metric{}
	if err := m.MutexState.WithLabelValues("locked").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 1 {
		t.Errorf("MutexState(locked) = %v, want 1", got)
	}
}

func TestNewMetrics_HTTPRequestsTotal(t *testing.T) {
	m := NewMetrics()

	m.HTTPRequestsTotal.WithLabelValues("/chat", "202").Inc()
	m.HTTPRequestsTotal.WithLabelValues("/chat", "403").Inc()

	pb := &dto.Metric{}
	if err := m.HTTPRequestsTotal.WithLabelValues("/chat", "202").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("HTTPRequestsTotal(/chat,202) = %v, want 1", got)
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	// Creating two separate Metrics instances should not panic
	// because each uses its own registry.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}

func TestNewMetrics_AllFieldsNonNil(t *testing.T) {
	m := NewMetrics()

	if m.QueueLength == nil {
		t.Error("QueueLength is nil")
	}
	if m.WorkerState == nil {
		t.Error("WorkerState is nil")
	}
	if m.MutexState == nil {
		t.Error("MutexState is nil")
	}
	if m.CommandsTotal == nil {
		t.Error("CommandsTotal is nil")
	}
	if m.K8sAdapterCallDuration == nil {
		t.Error("K8sAdapterCallDuration is nil")
	}
	if m.QuotaRemaining == nil {
		t.Error("QuotaRemaining is nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
}
