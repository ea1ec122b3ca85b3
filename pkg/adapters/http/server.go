package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// Engine is the part of bpmn.Engine the REST API drives.
type Engine interface {
	Deploy(ctx context.Context, def *domain.ProcessDefinition) (*domain.ProcessDefinition, error)
	Definitions(ctx context.Context) ([]*domain.ProcessDefinition, error)
	Definition(ctx context.Context, id string) (*domain.ProcessDefinition, error)

	StartInstance(ctx context.Context, req bpmn.StartRequest) (*domain.Instance, error)
	Signal(ctx context.Context, req bpmn.SignalRequest) error
	DeliverMessage(ctx context.Context, req bpmn.MessageRequest) error
	BroadcastSignal(ctx context.Context, name string, vars map[string]any) (*bpmn.BroadcastResult, error)
	CompleteTask(ctx context.Context, taskID string, vars map[string]any) error

	Instance(ctx context.Context, id string) (*domain.Instance, error)
	Executions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error)
	Subscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error)
	Tasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error)
	Variables(ctx context.Context, processID string) (map[string]any, error)
	History(ctx context.Context, processID string) ([]domain.HistoryActivity, error)
	HistoryExecution(ctx context.Context, processID string) (*domain.HistoryExecution, error)
	HistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error)
}

// Server serves the engine over JSON.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	logger  *slog.Logger
	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts h (usually promhttp.Handler) on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStreams serves /events from sm. Register sm as an engine observer so it
// receives lifecycle events.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.Streams != nil {
		r.Get("/events", s.SubscribeEvents)
	}

	r.Route("/definitions", func(r chi.Router) {
		r.Get("/", s.ListDefinitions)
		r.Post("/", s.DeployDefinition)
		r.Get("/{id}", s.GetDefinition)
	})
	r.Route("/instances", func(r chi.Router) {
		r.Post("/", s.StartInstance)
		r.Get("/{id}", s.GetInstance)
		r.Get("/{id}/variables", s.GetVariables)
		r.Get("/{id}/history", s.GetHistory)
	})
	r.Get("/executions", s.ListExecutions)
	r.Post("/executions/{id}/signal", s.SignalExecution)
	r.Get("/subscriptions", s.ListSubscriptions)
	r.Post("/messages", s.DeliverMessage)
	r.Post("/signals", s.BroadcastSignal)
	r.Get("/tasks", s.ListTasks)
	r.Post("/tasks/{id}/complete", s.CompleteTask)

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBody bounds request bodies.
const maxBody = 1 << 20

type startBody struct {
	DefinitionID  string         `json:"definition_id"`
	DefinitionKey string         `json:"definition_key"`
	Revision      int            `json:"revision"`
	Trigger       domain.Trigger `json:"trigger"`
	Variables     map[string]any `json:"variables"`
	BusinessKey   string         `json:"business_key"`
}

type signalBody struct {
	ActivityID string         `json:"activity_id"`
	Variables  map[string]any `json:"variables"`
}

type messageBody struct {
	Name        string         `json:"name"`
	ExecutionID string         `json:"execution_id"`
	Variables   map[string]any `json:"variables"`
}

type broadcastBody struct {
	Name      string         `json:"name"`
	Variables map[string]any `json:"variables"`
}

type variablesBody struct {
	Variables map[string]any `json:"variables"`
}

// historyResponse bundles the three audit tables of one instance.
type historyResponse struct {
	Execution  *domain.HistoryExecution `json:"execution"`
	Activities []domain.HistoryActivity `json:"activities"`
	Tasks      []domain.HistoryTask     `json:"tasks"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	ProcessID   string `json:"process_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	ActivityID  string `json:"activity_id,omitempty"`
	Code        string `json:"code,omitempty"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "bpmn-http",
		"version": strings.TrimSpace(bpmn.Version),
	})
}

// ListDefinitions handles GET /definitions.
func (s *Server) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.Engine.Definitions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, defs)
}

// DeployDefinition handles POST /definitions. The body is a YAML document,
// or JSON when sent as application/json.
func (s *Server) DeployDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	var def *domain.ProcessDefinition
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		def = &domain.ProcessDefinition{}
		if err := json.Unmarshal(data, def); err != nil {
			s.badRequest(w, r, err)
			return
		}
	} else if def, err = definition.Parse(data); err != nil {
		s.fail(w, r, err)
		return
	}

	deployed, err := s.Engine.Deploy(r.Context(), def)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, deployed)
}

// GetDefinition handles GET /definitions/{id}.
func (s *Server) GetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.Engine.Definition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

// StartInstance handles POST /instances.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if !s.decode(w, r, &body) {
		return
	}
	inst, err := s.Engine.StartInstance(r.Context(), bpmn.StartRequest{
		DefinitionID:  body.DefinitionID,
		DefinitionKey: body.DefinitionKey,
		Revision:      body.Revision,
		Trigger:       body.Trigger,
		Variables:     body.Variables,
		BusinessKey:   body.BusinessKey,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inst)
}

// GetInstance handles GET /instances/{id}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.Engine.Instance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

// GetVariables handles GET /instances/{id}/variables.
func (s *Server) GetVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.Engine.Variables(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vars)
}

// GetHistory handles GET /instances/{id}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var (
		resp historyResponse
		err  error
	)
	if resp.Execution, err = s.Engine.HistoryExecution(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if resp.Activities, err = s.Engine.History(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if resp.Tasks, err = s.Engine.HistoryTasks(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ListExecutions handles GET /executions.
func (s *Server) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.ExecutionQuery{
		ProcessID:        q.Get("process_id"),
		ActivityID:       q.Get("activity_id"),
		SubscriptionName: q.Get("subscription"),
		SubscriptionKind: domain.SubscriptionKind(q.Get("kind")),
	}
	var err error
	if query.Waiting, err = boolParam(q.Get("waiting")); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if query.Scope, err = boolParam(q.Get("scope")); err != nil {
		s.badRequest(w, r, err)
		return
	}

	execs, err := s.Engine.Executions(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(execs))
}

// SignalExecution handles POST /executions/{id}/signal.
func (s *Server) SignalExecution(w http.ResponseWriter, r *http.Request) {
	var body signalBody
	if !s.decode(w, r, &body) {
		return
	}
	err := s.Engine.Signal(r.Context(), bpmn.SignalRequest{
		ExecutionID: chi.URLParam(r, "id"),
		ActivityID:  body.ActivityID,
		Variables:   body.Variables,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /subscriptions.
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subs, err := s.Engine.Subscriptions(r.Context(), domain.SubscriptionQuery{
		ProcessID: q.Get("process_id"),
		Kind:      domain.SubscriptionKind(q.Get("kind")),
		Name:      q.Get("name"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(subs))
}

// DeliverMessage handles POST /messages.
func (s *Server) DeliverMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		s.badRequest(w, r, errors.New("message name is required"))
		return
	}
	err := s.Engine.DeliverMessage(r.Context(), bpmn.MessageRequest{
		Name:        body.Name,
		ExecutionID: body.ExecutionID,
		Variables:   body.Variables,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BroadcastSignal handles POST /signals.
func (s *Server) BroadcastSignal(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		s.badRequest(w, r, errors.New("signal name is required"))
		return
	}
	result, err := s.Engine.BroadcastSignal(r.Context(), body.Name, body.Variables)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ListTasks handles GET /tasks.
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.Engine.Tasks(r.Context(), domain.TaskQuery{
		ProcessID:  q.Get("process_id"),
		ActivityID: q.Get("activity_id"),
		Assignee:   q.Get("assignee"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(tasks))
}

// CompleteTask handles POST /tasks/{id}/complete.
func (s *Server) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var body variablesBody
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.Engine.CompleteTask(r.Context(), chi.URLParam(r, "id"), body.Variables); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Helpers --

// decode reads a JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.badRequest(w, r, err)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "error", err)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("Invalid request", "method", r.Method, "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	resp := errorResponse{Error: err.Error()}

	var typed *domain.Error
	if errors.As(err, &typed) {
		resp.Kind = typed.Kind.Error()
		resp.ProcessID = typed.ProcessID
		resp.ExecutionID = typed.ExecutionID
		resp.ActivityID = typed.ActivityID
	}
	var business *domain.BusinessError
	if errors.As(err, &business) {
		resp.Code = business.Code
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, status, resp)
}

// StatusOf returns the HTTP status for an engine error.
func StatusOf(err error) int {
	var business *domain.BusinessError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoSubscriber):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotWaiting), errors.Is(err, domain.ErrStaleExecution),
		errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateSubscription):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrDefinition), errors.Is(err, domain.ErrNoTransition),
		errors.Is(err, domain.ErrStepLimit), errors.As(err, &business):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func boolParam(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", v)
	}
	return &b, nil
}

// orEmpty keeps empty lists encoded as [] rather than null.
func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
