package cli_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/testutils"
	"github.com/aretw0/pergola/pkg/domain"
)

var rawLogs = map[string]any{
	"raw_logs": []any{
		map[string]any{"id": "1", "question": "q1", "answer": "a1", "grade": 0},
		map[string]any{"id": "2", "question": "q2", "answer": "a2"},
	},
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pergola.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newApp(t *testing.T, cfg config.Config) *cli.App {
	t.Helper()
	app, err := cli.NewAppFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewApp_FileStorePersistsAcrossApps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeConfig(t, "graph: logs\nstore:\n  type: file\n  path: "+dir+"\n")

	first, err := cli.NewApp(ctx, cli.Options{ConfigPath: path})
	require.NoError(t, err)

	var buf bytes.Buffer
	out, err := cli.RunThread(ctx, first, &buf, cli.RunOptions{Input: rawLogs})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCompleted, out.Reason)
	assert.Contains(t, buf.String(), `"reason": "completed"`)

	second, err := cli.NewApp(ctx, cli.Options{ConfigPath: path})
	require.NoError(t, err)
	cp, err := second.Engine.GetState(ctx, out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, cp.Status)
	assert.Equal(t, "Slack report: Questions focused on usage of ChatOllama and Chroma vector store.", cp.State["report"])
}

func TestNewApp_GraphOverride(t *testing.T) {
	path := writeConfig(t, "graph: report\n")
	app, err := cli.NewApp(context.Background(), cli.Options{ConfigPath: path, Graph: "logs"})
	require.NoError(t, err)
	assert.Equal(t, "logs", app.Engine.Graph().Name())

	_, err = cli.NewApp(context.Background(), cli.Options{ConfigPath: path, Graph: "missing"})
	assert.Error(t, err)
}

func TestNewApp_RedisWithLockAndEncryption(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Store = config.StoreConfig{Type: config.StoreRedis, RedisAddr: mr.Addr(), Prefix: "test:", Lock: true}
	cfg.EncryptionKey = bytes.Repeat([]byte{7}, 32)
	cfg.Redact = []string{"^human_analyst_feedback$"}

	app := newApp(t, cfg)
	id, err := app.Engine.Create(ctx)
	require.NoError(t, err)
	out, err := cli.RunThread(ctx, app, &bytes.Buffer{}, cli.RunOptions{
		ThreadID: id,
		Input:    map[string]any{"topic": "Secret topic", "max_analysts": 1},
	})
	require.NoError(t, err)
	require.True(t, out.IsInterrupted())

	raw, err := mr.Get("test:thread:" + id)
	require.NoError(t, err)
	assert.NotContains(t, raw, "Secret topic", "checkpoints are encrypted at rest")

	// A second process sharing the store resumes the thread.
	other := newApp(t, cfg)
	done, err := other.Engine.Resume(ctx, id, map[string]any{"human_analyst_feedback": "approve"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCompleted, done.Reason)
	assert.Contains(t, done.State["final_report"], "# Secret topic")
}

func TestNewApp_Topology(t *testing.T) {
	ctx := context.Background()
	dir, _ := testutils.SetupTopology(t, map[string]string{
		"graph.md": `---
kind: graph
name: triage
entry: [analyze]
fields:
  - name: raw_logs
  - name: cleaned_logs
  - name: fa_summary
  - name: report
  - name: processed_logs
    reducer: append
---`,
		"analyze.md": `---
kind: subgraph
graph: logs
to: [END]
---
Runs the log analysis.`,
	})

	cfg := config.Default()
	cfg.Topology = dir
	app := newApp(t, cfg)
	require.NotNil(t, app.Loader)
	assert.Equal(t, "triage", app.Engine.Graph().Name())

	out, err := app.Engine.Invoke(ctx, rawLogs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"failure-analysis-on-log-1", "summary-on-log-1", "summary-on-log-2"}, out.State["processed_logs"])
}

func TestNewApp_ProcessNodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process nodes are exercised with sh")
	}
	dir, _ := testutils.SetupTopology(t, map[string]string{
		"graph.md": `---
kind: graph
name: shout
entry: [upper]
fields:
  - name: topic
  - name: loud
---`,
		"upper.md": `---
to: [END]
---
Upper-cases the topic with an external command.`,
	})
	procs := filepath.Join(t.TempDir(), "processes.yaml")
	require.NoError(t, os.WriteFile(procs, []byte(`processes:
  - name: upper
    command: sh
    args: ["-c", "printf '{\"loud\": \"%s\"}' \"$(echo $PERGOLA_STATE_TOPIC | tr a-z A-Z)\""]
`), 0o644))

	cfg := config.Default()
	cfg.Topology = dir
	cfg.Processes = procs
	app := newApp(t, cfg)

	out, err := app.Engine.Invoke(context.Background(), map[string]any{"topic": "agents"})
	require.NoError(t, err)
	assert.Equal(t, "AGENTS", out.State["loud"])
}

func TestRunThread_Stream(t *testing.T) {
	cfg := config.Default()
	cfg.Graph = "logs"
	app := newApp(t, cfg)

	var buf bytes.Buffer
	out, err := cli.RunThread(context.Background(), app, &buf, cli.RunOptions{Input: rawLogs, Stream: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCompleted, out.Reason)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], `"nodes":["clean_logs"]`)
	assert.Contains(t, lines[len(lines)-1], `"reason":"completed"`)
}

func TestServeHandler_ExposesMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Graph = "logs"
	app := newApp(t, cfg)

	_, err := app.Engine.Invoke(context.Background(), rawLogs)
	require.NoError(t, err)

	h := cli.NewServeHandler(app)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pergola_node_visits_total{kind="leaf",node_id="clean_logs"} 1`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWatchGraph_RequiresTopology(t *testing.T) {
	app := newApp(t, config.Default())
	err := cli.WatchGraph(context.Background(), app, &bytes.Buffer{})
	assert.ErrorIs(t, err, cli.ErrNoTopology)
}

func TestParseObject(t *testing.T) {
	got, err := cli.ParseObject(`{"topic": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "x"}, got)

	got, err = cli.ParseObject("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = cli.ParseObject("[1]")
	assert.Error(t, err)
}
