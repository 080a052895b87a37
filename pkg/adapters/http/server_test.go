package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	pergolahttp "github.com/aretw0/pergola/pkg/adapters/http"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

func step(name string) graph.NodeFunc {
	return func(context.Context, state.View) (domain.Result, error) {
		return domain.Patch(state.Update{"trail": name}), nil
	}
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	g := graph.NewBuilder("approval", state.NewSchema(
		state.Declare("trail", state.Append),
		state.Declare("approved", state.Replace),
	)).
		AddNode("draft", step("draft")).
		AddNode("gate", step("gate"), graph.Reads("approved")).
		AddNode("publish", step("publish")).
		SetEntry("draft").
		AddEdge("draft", "gate").
		AddEdge("gate", "publish").
		AddEdge("publish", graph.END).
		InterruptBefore("gate").
		MustCompile()

	engine, err := pergola.New(g)
	require.NoError(t, err)
	return pergolahttp.NewHandler(engine)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createThread(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/threads", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["thread_id"])
	return resp["thread_id"]
}

func TestServer_InterruptUpdateResume(t *testing.T) {
	h := newServer(t)
	id := createThread(t, h)

	w := do(t, h, http.MethodPost, "/threads/"+id+"/runs", map[string]any{"input": map[string]any{}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out domain.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, domain.OutcomeInterrupted, out.Status)
	assert.Equal(t, []string{"gate"}, out.PendingNodes)

	w = do(t, h, http.MethodPatch, "/threads/"+id+"/state", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cp domain.Checkpoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cp))
	assert.Equal(t, true, cp.State["approved"])

	w = do(t, h, http.MethodPost, "/threads/"+id+"/runs", map[string]any{"resume": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out = domain.Outcome{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, domain.OutcomeTerminal, out.Status)
	assert.Equal(t, domain.ReasonCompleted, out.Reason)
	assert.Equal(t, []any{"draft", "gate", "publish"}, out.State["trail"])

	w = do(t, h, http.MethodGet, "/threads/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []domain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.NotEmpty(t, history)
}

func TestServer_ThreadLifecycle(t *testing.T) {
	h := newServer(t)
	id := createThread(t, h)

	w := do(t, h, http.MethodGet, "/threads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Contains(t, ids, id)

	w = do(t, h, http.MethodGet, "/threads/"+id+"/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodDelete, "/threads/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/threads/"+id+"/state", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RejectsUndeclaredPatch(t *testing.T) {
	h := newServer(t)
	id := createThread(t, h)

	w := do(t, h, http.MethodPatch, "/threads/"+id+"/state", map[string]any{"nope": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "undeclared")
}

func TestServer_UnknownThread(t *testing.T) {
	h := newServer(t)

	w := do(t, h, http.MethodPost, "/threads/missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_GetGraph(t *testing.T) {
	h := newServer(t)
	id := createThread(t, h)
	do(t, h, http.MethodPost, "/threads/"+id+"/runs", nil)

	w := do(t, h, http.MethodGet, "/graph?thread="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "graph TD"))
	assert.Contains(t, w.Body.String(), "gate")

	w = do(t, h, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"graph":"approval"`)
}

func TestSubscribeEvents_Thread(t *testing.T) {
	h := newServer(t)
	id := createThread(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wSub := httptest.NewRecorder()
	reqSub := httptest.NewRequest(http.MethodGet, "/threads/"+id+"/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(wSub, reqSub)
	}()

	time.Sleep(100 * time.Millisecond) // Wait for subscription to register

	w := do(t, h, http.MethodPost, "/threads/"+id+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cancel()
	<-done

	output := wSub.Body.String()
	assert.Contains(t, output, "event: ping")
	assert.Contains(t, output, `"nodes":["draft"]`)
	assert.Contains(t, output, `"status":"interrupted"`)
}
