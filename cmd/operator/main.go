// Command operator runs the chat-driven Kubernetes operator control plane:
// it loads configuration, builds a Kubernetes client, wires the scheduling
// pipeline (parser → identity gate → priority queue → mutex → adapter →
// worker), and serves the chat/status/health/metrics HTTP surface until
// terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit/memlimit"
	_ "go.uber.org/automaxprocs/maxprocs"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/clusterchat/operator/internal/api"
	"github.com/clusterchat/operator/internal/config"
	"github.com/clusterchat/operator/internal/errors"
	"github.com/clusterchat/operator/internal/identity"
	"github.com/clusterchat/operator/internal/k8sadapter"
	"github.com/clusterchat/operator/internal/mutex"
	"github.com/clusterchat/operator/internal/observability"
	"github.com/clusterchat/operator/internal/queue"
	"github.com/clusterchat/operator/internal/state"
	"github.com/clusterchat/operator/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	kubeConfig, err := buildKubeConfig()
	if err != nil {
		slog.Error("failed to build kubernetes client config", "error", err)
		os.Exit(1)
	}
	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		slog.Error("failed to construct kubernetes clientset", "error", err)
		os.Exit(1)
	}

	errCollector := errors.NewErrorCollector(errors.RealClock{})
	metrics := observability.NewMetrics()
	registry := state.New(metrics, errCollector)
	q := queue.New(registry)
	mtx := mutex.New()
	adapter := k8sadapter.New(clientset, metrics, cfg.AdapterTimeout)
	authn := identity.NewHeaderAuthenticator(cfg.AuthHeader)
	gate := identity.NewGate(authn, cfg.FreeQuotaLimit)

	w := worker.New(q, mtx, adapter, registry, errCollector, cfg.WorkerPollInterval, cfg.VerifyGraceDelay, cfg.ShutdownDeadline)

	server := api.New(fmt.Sprintf(":%d", cfg.HealthPort), gate, q, adapter, registry, metrics, errCollector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	w.Start(ctx)
	slog.Info("worker started")

	if err := server.Start(); err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	slog.Info("api server listening", "addr", server.Addr())

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()

	w.GracefulShutdown(shutdownCtx)
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("error during api server shutdown", "error", err)
	}

	slog.Info("shutdown complete")
}

// buildKubeConfig tries in-cluster config first (the operator normally runs
// as a Deployment inside the cluster it manages), falling back to the local
// kubeconfig for development.
func buildKubeConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	kubeconfigPath := os.Getenv("KUBECONFIG")
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("main: no KUBECONFIG set and could not determine home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("main: failed to load kubeconfig from %s: %w", kubeconfigPath, err)
	}
	return cfg, nil
}
