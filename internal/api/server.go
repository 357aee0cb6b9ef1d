// Package api is the HTTP boundary: authenticate, parse, classify, then
// either answer synchronously (HELP/READ/DRY_RUN) or enqueue (EXECUTE).
// It never executes a mutation itself and never awaits completion.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clusterchat/operator/internal/config"
	"github.com/clusterchat/operator/internal/errors"
	"github.com/clusterchat/operator/internal/identity"
	"github.com/clusterchat/operator/internal/observability"
	"github.com/clusterchat/operator/internal/parser"
	"github.com/clusterchat/operator/internal/queue"
	"github.com/clusterchat/operator/internal/state"
	"github.com/clusterchat/operator/pkg/model"
)

// Adapter is the subset of k8sadapter.Adapter the API boundary depends on
// for best-effort status reads in the READ/DRY_RUN/EXECUTE paths.
type Adapter interface {
	Status(ctx context.Context, executionID string) (model.K8sStatus, error)
}

// statusCallTimeout bounds best-effort cluster reads inside an HTTP
// handler so a slow cluster can never hang a request indefinitely.
const statusCallTimeout = 3 * time.Second

// Server exposes the chat endpoint plus the internal status/health/metrics
// endpoints, built on a plain http.ServeMux mirroring the teacher's health
// server construction.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	gate     *identity.Gate
	queue    *queue.PriorityQueue
	adapter  Adapter
	registry *state.Registry
	metrics  *observability.Metrics
	errs     *errors.ErrorCollector
}

// New constructs a Server bound to addr ("host:port", or ":0" for tests).
func New(addr string, gate *identity.Gate, q *queue.PriorityQueue, adapter Adapter, registry *state.Registry, metrics *observability.Metrics, errCollector *errors.ErrorCollector) *Server {
	s := &Server{
		gate:     gate,
		queue:    q,
		adapter:  adapter,
		registry: registry,
		metrics:  metrics,
		errs:     errCollector,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/internal/status", s.handleStatus)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Start begins listening and serving HTTP in a background goroutine.
// Passing port 0 in addr lets the OS pick a free port, useful in tests;
// Addr() then reports the bound address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.listener = ln
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server exited unexpectedly", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server is actually bound to.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type chatRequest struct {
	Message interface{} `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusCallTimeout)
	defer cancel()

	ident, err := s.gate.ResolveIdentity(ctx, r)
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, errors.ErrAuthRequired, "authentication required", nil)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.ErrValidationError, "request body must be valid JSON", nil)
		return
	}
	message, ok := req.Message.(string)
	if !ok || message == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.ErrValidationError, "message field is required and must be a string", nil)
		return
	}

	parsed := parser.Parse(message)

	switch parsed.Kind {
	case model.KindHelp:
		s.respondHelp(w, r, ident)
	case model.KindRead:
		s.respondRead(ctx, w, r)
	case model.KindDryRun:
		s.respondDryRun(ctx, w, r, parsed)
	case model.KindExecute:
		s.respondExecute(ctx, w, r, ident, parsed)
	}
}

func (s *Server) respondHelp(w http.ResponseWriter, r *http.Request, ident model.UserIdentity) {
	help := map[string]interface{}{
		"commands": []string{
			"scale <app> to <N>",
			"restart <app>",
			"dry run scale <app> to <N>",
			"what happens if I scale to <N>",
		},
	}
	if ident.Role == model.RoleAdmin {
		help["adminNotes"] = "ADMIN requests are scheduled at the highest priority and are never quota-limited."
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"type": string(model.KindHelp),
		"help": help,
	})
}

func (s *Server) respondRead(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"type": string(model.KindRead)}

	status, err := s.adapter.Status(ctx, "")
	if err == nil {
		resp["status"] = status
	} else {
		resp["subtype"] = "status_unavailable"
	}
	resp["execution"] = s.registry.View()

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) respondDryRun(ctx context.Context, w http.ResponseWriter, r *http.Request, parsed model.ParsedCommand) {
	preview := map[string]interface{}{
		"action": parsed.Action,
	}
	var warnings []string

	status, err := s.adapter.Status(ctx, "")
	if err == nil {
		preview["current"] = status

		if parsed.HasAction && parsed.Action == model.ActionScale && parsed.HasReplicas {
			switch {
			case int32(parsed.TargetReplicas) > status.Replicas:
				preview["direction"] = "scale-up"
			case int32(parsed.TargetReplicas) < status.Replicas:
				preview["direction"] = "scale-down"
			default:
				preview["direction"] = "no-change"
			}
		}
	}

	if parsed.HasAction && parsed.Action == model.ActionScale && parsed.HasReplicas {
		if parsed.TargetReplicas < config.MinReplicas || parsed.TargetReplicas > config.MaxReplicas {
			warnings = append(warnings, fmt.Sprintf("requested replica count %d is outside the allowed range [%d,%d]", parsed.TargetReplicas, config.MinReplicas, config.MaxReplicas))
		}
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"type":    string(model.KindDryRun),
		"preview": preview,
		"simulation": map[string]interface{}{
			"warnings":     warnings,
			"wouldExecute": parsed.HasAction && len(warnings) == 0,
		},
	})
}

func (s *Server) respondExecute(ctx context.Context, w http.ResponseWriter, r *http.Request, ident model.UserIdentity, parsed model.ParsedCommand) {
	if !parsed.HasAction {
		s.writeError(w, r, http.StatusBadRequest, errors.ErrValidationError, "could not determine an action to execute", nil)
		return
	}
	if parsed.Action == model.ActionScale {
		if !parsed.HasReplicas || parsed.TargetReplicas < config.MinReplicas || parsed.TargetReplicas > config.MaxReplicas {
			s.writeError(w, r, http.StatusBadRequest, errors.ErrValidationError,
				fmt.Sprintf("replica count must be between %d and %d", config.MinReplicas, config.MaxReplicas), nil)
			return
		}
	}

	// The check and the consumption happen inside one Gate-held critical
	// section (TryConsumeQuota): checking QuotaRemaining and then calling
	// IncrementQuota as two separate calls would let two concurrent requests
	// from the same FREE user both observe remaining quota before either
	// consumes it, letting both through past the limit. A NORMAL caller is a
	// non-ADMIN user whose quota is already used up, so it is rejected here too.
	var quotaRemaining int
	if ident.Role != model.RoleAdmin {
		remaining, ok := s.gate.TryConsumeQuota(ident.UserID)
		if !ok {
			s.writeError(w, r, http.StatusTooManyRequests, errors.ErrQuotaExceeded, "FREE-tier command quota exceeded", nil)
			return
		}
		quotaRemaining = remaining
		if s.metrics != nil {
			s.metrics.QuotaRemaining.WithLabelValues(ident.UserID).Set(float64(remaining))
		}
	}

	priority := identity.PriorityFor(ident.Role)
	commandID := uuid.New().String()
	executionID := uuid.New().String()

	var before *model.K8sStatus
	if status, err := s.adapter.Status(ctx, executionID); err == nil {
		before = &status
	}

	s.queue.Enqueue(model.ScheduledCommand{
		ID:          commandID,
		ExecutionID: executionID,
		UserID:      ident.UserID,
		Priority:    priority,
		TimestampMs: time.Now().UnixMilli(),
		Parsed:      parsed,
	})
	queuePosition := s.queue.Size()

	slog.Info("command enqueued",
		"executionId", executionID,
		"commandId", commandID,
		"userId", ident.UserID,
		"phase", "queued",
		"priority", priority,
	)

	resp := map[string]interface{}{
		"status":      "accepted",
		"commandId":   commandID,
		"executionId": executionID,
		"execution": map[string]interface{}{
			"priority":      priority,
			"priorityLabel": ident.Role,
			"queuePosition": queuePosition,
		},
		"user": map[string]interface{}{
			"role": ident.Role,
		},
	}
	if before != nil {
		resp["before"] = before
	}
	if ident.Role == model.RoleFree {
		resp["user"].(map[string]interface{})["quotaRemaining"] = quotaRemaining
	}

	s.writeJSON(w, r, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusCallTimeout)
	defer cancel()

	if _, err := s.gate.ResolveIdentity(ctx, r); err != nil {
		s.writeError(w, r, http.StatusUnauthorized, errors.ErrAuthRequired, "authentication required", nil)
		return
	}

	view := s.registry.View()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UnixMilli(),
		"system": map[string]interface{}{
			"workerStatus":   view.WorkerStatus,
			"queueLength":    view.QueueLength,
			"currentCommand": view.CurrentCommand,
			"lastResult":     view.LastResult,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusCallTimeout)
	defer cancel()

	ident, err := s.gate.ResolveIdentity(ctx, r)
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, errors.ErrAuthRequired, "authentication required", nil)
		return
	}
	if ident.Role != model.RoleAdmin {
		s.writeError(w, r, http.StatusForbidden, errors.ErrAuthForbidden, "admin role required", nil)
		return
	}

	view := s.registry.View()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UnixMilli(),
		"system": map[string]interface{}{
			"workerStatus":   view.WorkerStatus,
			"queueLength":    view.QueueLength,
			"currentCommand": view.CurrentCommand,
			"lastResult":     view.LastResult,
		},
		"mutex":     view.MutexStatus,
		"uptimeMs":  view.UptimeMs,
		"lastError": view.LastError,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
	s.recordHTTP(r, status)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code errors.Code, message string, metadata map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error":     message,
		"errorType": string(code),
		"timestamp": time.Now().UnixMilli(),
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	_ = json.NewEncoder(w).Encode(body)
	s.recordHTTP(r, status)
}

func (s *Server) recordHTTP(r *http.Request, status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", status)).Inc()
}
