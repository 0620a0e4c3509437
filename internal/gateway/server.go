// Package gateway serves the orchestrator over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/gateway/ws"
	"github.com/dohr-michael/foreman/internal/orchestrator"
	"github.com/dohr-michael/foreman/internal/scheduler"
	"github.com/dohr-michael/foreman/internal/storage"
	"github.com/dohr-michael/foreman/internal/workflow"
)

const defaultEventLimit = 50

// Schedules lists scheduler entries.
type Schedules interface {
	Entries() []scheduler.Entry
}

// History reads finished executions.
type History interface {
	Get(id string) (*workflow.ExecutionSnapshot, error)
	List(workflowID string, limit int) ([]workflow.ExecutionSnapshot, error)
}

// Costs reports accumulated tool spend.
type Costs interface {
	Report() storage.CostReport
}

// Config configures a Server.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Schedules    Schedules // optional
	History      History   // optional
	Costs        Costs     // optional
	Host         string
	Port         int
	Logger       *slog.Logger
}

// Server is the foreman HTTP gateway.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	orch       *orchestrator.Orchestrator
	bus        *events.Bus
	schedules  Schedules
	history    History
	costs      Costs
	logger     *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:      cfg.Orchestrator,
		bus:       cfg.Bus,
		schedules: cfg.Schedules,
		history:   cfg.History,
		costs:     cfg.Costs,
		logger:    logger,
	}
	s.hub = ws.NewHub(cfg.Bus, s, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/agents", s.handleAgents)
		r.Post("/requests", s.handleRequest)
		r.Get("/workflows", s.handleWorkflows)
		r.Post("/workflows/{id}/run", s.handleRunWorkflow)
		r.Get("/executions", s.handleExecutions)
		r.Get("/executions/{id}", s.handleExecution)
		r.Get("/costs", s.handleCosts)
		r.Get("/schedules", s.handleSchedules)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.hub.ServeWS)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Clients reports the number of connected WebSocket clients.
func (s *Server) Clients() int { return s.hub.Clients() }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("foreman gateway listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// RequestBody is the payload of POST /api/requests and the process_request
// WebSocket method.
type RequestBody struct {
	Request        string `json:"request"`
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

func (b RequestBody) context() *agent.ExecutionContext {
	return &agent.ExecutionContext{UserID: b.UserID, OrganizationID: b.OrganizationID}
}

// RunBody is the payload of POST /api/workflows/{id}/run and the
// run_workflow WebSocket method.
type RunBody struct {
	WorkflowID string         `json:"workflow_id,omitempty"`
	Trigger    map[string]any `json:"trigger,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
}

// AgentInfo describes a registered agent.
type AgentInfo struct {
	Name         string             `json:"name"`
	Status       agent.Status       `json:"status"`
	Capabilities []agent.Capability `json:"capabilities,omitempty"`
	Metrics      agent.Metrics      `json:"metrics"`
}

// WorkflowInfo summarizes a registered workflow.
type WorkflowInfo struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Steps       int                `json:"steps"`
	Triggers    []workflow.Trigger `json:"triggers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"agents":     len(s.orch.Agents()),
		"workflows":  len(s.orch.Workflows()),
		"ws_clients": s.hub.Clients(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	names := s.orch.Agents()
	out := make([]AgentInfo, 0, len(names))
	for _, name := range names {
		rt, ok := s.orch.Agent(name)
		if !ok {
			continue
		}
		out = append(out, AgentInfo{
			Name:         name,
			Status:       rt.Status(),
			Capabilities: rt.Capabilities(),
			Metrics:      rt.Metrics(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body RequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, orchestrator.ErrorResponse(fmt.Errorf("%w: %v", orchestrator.ErrInvalidRequest, err)))
		return
	}
	ctx := events.ContextWithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	resp := s.orch.ProcessUserRequest(ctx, body.Request, body.context())
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs := s.orch.Workflows()
	out := make([]WorkflowInfo, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, WorkflowInfo{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Steps:       len(wf.Steps),
			Triggers:    wf.Triggers,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var body RunBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, orchestrator.ErrorResponse(fmt.Errorf("%w: %v", orchestrator.ErrInvalidRequest, err)))
			return
		}
	}
	body.WorkflowID = chi.URLParam(r, "id")

	ctx := events.ContextWithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	snap, err := s.runWorkflow(ctx, body)
	if snap == nil {
		code := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrUnknownWorkflow) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, orchestrator.ErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) runWorkflow(ctx context.Context, body RunBody) (*workflow.ExecutionSnapshot, error) {
	trigger := body.Trigger
	if trigger == nil {
		trigger = map[string]any{"type": string(workflow.TriggerManual)}
	}
	exec, err := s.orch.ExecuteWorkflow(ctx, body.WorkflowID, &agent.ExecutionContext{UserID: body.UserID}, trigger)
	if exec == nil {
		return nil, err
	}
	snap := exec.Snapshot()
	return &snap, err
}

// handleExecutions lists running executions, or archived ones with
// ?archived=true (filters: workflow, limit).
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("archived") == "true" {
		if s.history == nil {
			writeJSON(w, http.StatusOK, []workflow.ExecutionSnapshot{})
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		out, err := s.history.List(q.Get("workflow"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	active := s.orch.ActiveExecutions()
	out := make([]workflow.ExecutionSnapshot, 0, len(active))
	for _, e := range active {
		out = append(out, e.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, e := range s.orch.ActiveExecutions() {
		if e.ID == id {
			writeJSON(w, http.StatusOK, e.Snapshot())
			return
		}
	}
	if s.history != nil {
		snap, err := s.history.Get(id)
		if err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, storage.ErrExecutionNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	http.Error(w, "execution not found", http.StatusNotFound)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	if s.costs == nil {
		writeJSON(w, http.StatusOK, storage.CostReport{})
		return
	}
	writeJSON(w, http.StatusOK, s.costs.Report())
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeJSON(w, http.StatusOK, []scheduler.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, s.schedules.Entries())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	typ := r.URL.Query().Get("type")
	trace := r.URL.Query().Get("trace_id")

	history := s.bus.History(limit)
	out := make([]events.Event, 0, len(history))
	for _, e := range history {
		if typ != "" && string(e.Type) != typ {
			continue
		}
		if trace != "" && e.TraceID != trace {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleFrame serves WebSocket request frames.
func (s *Server) HandleFrame(ctx context.Context, method ws.Method, params json.RawMessage) (any, error) {
	switch method {
	case ws.MethodProcessRequest:
		var body RequestBody
		if err := json.Unmarshal(params, &body); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		return s.orch.ProcessUserRequest(ctx, body.Request, body.context()), nil
	case ws.MethodRunWorkflow:
		var body RunBody
		if err := json.Unmarshal(params, &body); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		snap, err := s.runWorkflow(ctx, body)
		if snap == nil {
			return nil, err
		}
		return snap, nil
	}
	return nil, fmt.Errorf("unknown method: %s", method)
}

var _ ws.Handler = (*Server)(nil)

// statusFor maps a Response to an HTTP status: 200 for success and partial
// results, 422 when nothing could be done.
func statusFor(resp *orchestrator.Response) int {
	switch {
	case resp.Success || resp.Status == agent.ResultPartial:
		return http.StatusOK
	case resp.Error != nil && resp.Error.Code == orchestrator.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
