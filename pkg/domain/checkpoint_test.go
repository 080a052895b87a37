package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_NextKeepsBoundedHistory(t *testing.T) {
	cp := domain.NewCheckpoint("t-1", map[string]any{"n": 0.0})

	for i := 1; i <= 5; i++ {
		cp = cp.Next(3)
		cp.State["n"] = float64(i)
	}

	assert.Equal(t, 5, cp.Version)
	require.Len(t, cp.History, 3)
	assert.Equal(t, 2, cp.History[0].Version)
	assert.Equal(t, 4, cp.History[2].Version)
	assert.Equal(t, 4.0, cp.History[2].State["n"])
}

func TestCheckpoint_NextDoesNotMutatePrevious(t *testing.T) {
	cp := domain.NewCheckpoint("t-1", map[string]any{"list": []any{"a"}})
	cp.Barriers["join"] = domain.BarrierState{Arrived: map[string]bool{"x": true}}

	next := cp.Next(10)
	next.State["list"] = append(next.State["list"].([]any), "b")
	next.Barriers["join"].Arrived["y"] = true
	next.PendingNodes = append(next.PendingNodes, "z")

	assert.Equal(t, []any{"a"}, cp.State["list"])
	assert.Len(t, cp.Barriers["join"].Arrived, 1)
	assert.Empty(t, cp.PendingNodes)
	assert.Equal(t, 0, cp.Version)
}

func TestCheckpoint_Key(t *testing.T) {
	cp := domain.NewCheckpoint("t-1", nil)
	assert.Equal(t, "t-1", cp.Key())

	cp.Namespace = "conduct_interview#0"
	assert.Equal(t, "t-1/conduct_interview#0", cp.Key())
}

func TestCheckpoint_JSONRoundTrip(t *testing.T) {
	cp := domain.NewCheckpoint("t-1", map[string]any{"topic": "go"})
	cp.Status = domain.StatusInterrupted
	cp.PendingNodes = []string{"human_feedback"}
	cp.PendingTasks = []domain.PendingTask{{Task: domain.Send("interview", map[string]any{"analyst": "a"}), Instance: 1, Dispatch: "launch"}}

	b, err := json.Marshal(cp)
	require.NoError(t, err)

	var got domain.Checkpoint
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, cp.PendingNodes, got.PendingNodes)
	assert.Equal(t, "interview", got.PendingTasks[0].Target)
	assert.Equal(t, 1, got.PendingTasks[0].Instance)
	assert.Equal(t, domain.StatusInterrupted, got.Status)
}

func TestOutcomeOf(t *testing.T) {
	cp := domain.NewCheckpoint("t-1", map[string]any{"x": 1.0})

	cp.Status = domain.StatusInterrupted
	cp.PendingNodes = []string{"gate"}
	o := domain.OutcomeOf(cp)
	assert.True(t, o.IsInterrupted())
	assert.Equal(t, []string{"gate"}, o.PendingNodes)

	cp.Status = domain.StatusExhausted
	o = domain.OutcomeOf(cp)
	assert.Equal(t, domain.OutcomeTerminal, o.Status)
	assert.Equal(t, domain.ReasonExhausted, o.Reason)
}

func TestTaskFailureError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&domain.TaskFailureError{Target: "interview", Instance: 2, Err: cause})

	assert.ErrorIs(t, err, cause)
	var tf *domain.TaskFailureError
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, 2, tf.Instance)
}
