package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/bpmn"
	bpmnhttp "github.com/aretw0/bpmn/pkg/adapters/http"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approvalYAML = `
key: approval
nodes:
  - id: start
    kind: none_start
    next: review
  - id: review
    kind: user_task
    assignee: ana
    next: paid
  - id: paid
    kind: message_catch
    message: payment
    next: charge
  - id: charge
    kind: service_task
    next: end
  - id: end
    kind: end
`

func newServer(t *testing.T, opts ...bpmnhttp.Option) (*bpmn.Engine, http.Handler) {
	t.Helper()
	eng := bpmn.New()
	eng.RegisterServiceTask("approval", "charge", func(ctx context.Context, exec registry.DelegateExecution) error {
		if v, _ := exec.Variable("amount"); v == float64(0) {
			return &domain.BusinessError{Code: "ZERO"}
		}
		return nil
	})
	return eng, bpmnhttp.NewHandler(eng, opts...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if _, isYAML := body.(string); !isYAML && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_Health(t *testing.T) {
	_, h := newServer(t)

	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = do(t, h, http.MethodGet, "/info", nil)
	assert.Equal(t, bpmn.Version, decode[map[string]string](t, w)["version"])
}

func TestServer_ProcessRoundTrip(t *testing.T) {
	_, h := newServer(t)

	w := do(t, h, http.MethodPost, "/definitions", approvalYAML)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	def := decode[domain.ProcessDefinition](t, w)
	assert.Equal(t, 1, def.Revision)

	w = do(t, h, http.MethodGet, "/definitions/"+def.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/instances", map[string]any{
		"definition_key": "approval",
		"variables":      map[string]any{"amount": 10},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inst := decode[domain.Instance](t, w)

	w = do(t, h, http.MethodGet, "/tasks?assignee=ana", nil)
	tasks := decode[[]domain.UserTask](t, w)
	require.Len(t, tasks, 1)

	w = do(t, h, http.MethodPost, "/tasks/"+tasks[0].ID+"/complete", map[string]any{"variables": map[string]any{"ok": true}})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/subscriptions?kind=message&name=payment", nil)
	require.Len(t, decode[[]domain.EventSubscription](t, w), 1)

	w = do(t, h, http.MethodGet, "/executions?waiting=true&process_id="+inst.ID, nil)
	require.Len(t, decode[[]domain.Execution](t, w), 1)

	w = do(t, h, http.MethodPost, "/messages", map[string]any{"name": "payment"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/instances/"+inst.ID, nil)
	got := decode[domain.Instance](t, w)
	assert.NotNil(t, got.EndedAt)

	w = do(t, h, http.MethodGet, "/instances/"+inst.ID+"/variables", nil)
	vars := decode[map[string]any](t, w)
	assert.Equal(t, true, vars["ok"])

	w = do(t, h, http.MethodGet, "/instances/"+inst.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Execution  domain.HistoryExecution  `json:"execution"`
		Activities []domain.HistoryActivity `json:"activities"`
		Tasks      []domain.HistoryTask     `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.NotNil(t, hist.Execution.Duration)
	assert.Len(t, hist.Activities, 5)
	require.Len(t, hist.Tasks, 1)
	assert.True(t, hist.Tasks[0].Completed)
}

func TestServer_ErrorMapping(t *testing.T) {
	_, h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/definitions", approvalYAML).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown instance", http.MethodGet, "/instances/nope", nil, http.StatusNotFound},
		{"unknown definition key", http.MethodPost, "/instances", map[string]any{"definition_key": "nope"}, http.StatusNotFound},
		{"no subscriber", http.MethodPost, "/messages", map[string]any{"name": "nobody"}, http.StatusNotFound},
		{"missing message name", http.MethodPost, "/messages", map[string]any{}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/signals", "{", http.StatusBadRequest},
		{"invalid definition", http.MethodPost, "/definitions", "key: broken\nnodes: []\n", http.StatusUnprocessableEntity},
		{"bad boolean", http.MethodGet, "/executions?waiting=maybe", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestServer_SignalStale(t *testing.T) {
	eng, h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/definitions", approvalYAML).Code)

	inst, err := eng.StartInstance(context.Background(), bpmn.StartRequest{DefinitionKey: "approval", Variables: map[string]any{"amount": 0}})
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/executions/"+inst.ID+"/signal", map[string]any{"activity_id": "paid"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode[map[string]string](t, w)
	assert.Equal(t, inst.ID, body["process_id"])
}

func TestServer_UncaughtBusinessError(t *testing.T) {
	eng, h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/definitions", approvalYAML).Code)

	ctx := context.Background()
	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "approval", Variables: map[string]any{"amount": 0}})
	require.NoError(t, err)
	tasks, err := eng.Tasks(ctx, domain.TaskQuery{ProcessID: inst.ID})
	require.NoError(t, err)
	require.NoError(t, eng.CompleteTask(ctx, tasks[0].ID, map[string]any{"amount": float64(0)}))

	w := do(t, h, http.MethodPost, "/messages", map[string]any{"name": "payment", "execution_id": inst.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ZERO", decode[map[string]string](t, w)["code"])
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, bpmnhttp.StatusOf(domain.Errorf(domain.ErrNotFound, "x")))
	assert.Equal(t, http.StatusConflict, bpmnhttp.StatusOf(domain.ErrConflict))
	assert.Equal(t, http.StatusInternalServerError, bpmnhttp.StatusOf(domain.ErrInvariantViolation))
	assert.Equal(t, http.StatusUnprocessableEntity, bpmnhttp.StatusOf(&domain.BusinessError{Code: "X"}))
	assert.Equal(t, http.StatusServiceUnavailable, bpmnhttp.StatusOf(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, bpmnhttp.StatusOf(errors.New("boom")))
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bpmn_instances_started_total 0\n"))
	})
	_, h := newServer(t, bpmnhttp.WithMetrics(metrics))

	w := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bpmn_instances_started_total")
}

func TestServer_EventStream(t *testing.T) {
	streams := bpmnhttp.NewStreamManager(nil)
	eng := bpmn.New(bpmn.WithNotifier(streams))
	h := bpmnhttp.NewHandler(eng, bpmnhttp.WithStreams(streams))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	w := do(t, h, http.MethodPost, "/definitions", approvalYAML)
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, h, http.MethodPost, "/instances", map[string]any{"definition_key": "approval"})
	require.Equal(t, http.StatusCreated, w.Code)

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, domain.EventInstanceStarted, ev.Type)
		return
	}
	t.Fatal("no lifecycle event streamed")
}

func TestStreamManager_Unsubscribe(t *testing.T) {
	sm := bpmnhttp.NewStreamManager(nil)
	ch, cancel := sm.Subscribe("p1")

	sm.Broadcast("p1", "one")
	sm.Broadcast("p2", "other")
	assert.Equal(t, "one", <-ch)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}
