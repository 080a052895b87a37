package domain

import (
	"time"

	"github.com/aretw0/pergola/pkg/state"
)

// Status is the lifecycle status of a checkpoint.
type Status string

const (
	StatusNew         Status = "new"
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusDone        Status = "done"
	StatusExhausted   Status = "exhausted"
	StatusFailed      Status = "failed"
	StatusAborted     Status = "aborted"
)

// IsTerminal reports whether no more work can be scheduled from this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusExhausted, StatusAborted:
		return true
	}
	return false
}

// PendingTask is a dispatched task that has not run yet.
type PendingTask struct {
	Task
	// Instance numbers the task within its target for the wave.
	Instance int `json:"instance"`
	// Dispatch identifies the dispatching node invocation.
	Dispatch string `json:"dispatch"`
}

// BarrierState tracks which declared predecessors of a join already arrived.
type BarrierState struct {
	Iteration int             `json:"iteration"`
	Arrived   map[string]bool `json:"arrived,omitempty"`
}

// Snapshot is a superseded checkpoint head kept in the history.
type Snapshot struct {
	Version      int            `json:"version"`
	Step         int            `json:"step"`
	Status       Status         `json:"status"`
	State        map[string]any `json:"state"`
	PendingNodes []string       `json:"pending_nodes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Checkpoint is the durable record of a thread: everything needed to resume.
type Checkpoint struct {
	ThreadID     string                  `json:"thread_id"`
	Namespace    string                  `json:"namespace,omitempty"`
	Version      int                     `json:"version"`
	Epoch        int                     `json:"epoch"`
	Step         int                     `json:"step"`
	Status       Status                  `json:"status"`
	State        map[string]any          `json:"state"`
	PendingNodes []string                `json:"pending_nodes,omitempty"`
	PendingTasks []PendingTask           `json:"pending_tasks,omitempty"`
	Barriers     map[string]BarrierState `json:"barriers,omitempty"`
	Iterations   map[string]int          `json:"iterations,omitempty"`
	Trajectory   []string                `json:"trajectory,omitempty"`
	BranchErrors []string                `json:"branch_errors,omitempty"`
	// Children lists namespaced keys of paused sub-workflow frames.
	Children []string `json:"children,omitempty"`
	// Input is the state a sub-workflow frame was entered with.
	Input     map[string]any `json:"input,omitempty"`
	Error     string         `json:"error,omitempty"`
	History   []Snapshot     `json:"history,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCheckpoint creates the first checkpoint of a thread.
func NewCheckpoint(threadID string, values map[string]any) *Checkpoint {
	return &Checkpoint{
		ThreadID:   threadID,
		Status:     StatusNew,
		State:      state.CopyMap(values),
		Barriers:   make(map[string]BarrierState),
		Iterations: make(map[string]int),
		UpdatedAt:  time.Now(),
	}
}

// Key returns the store key of the checkpoint.
func (c *Checkpoint) Key() string {
	if c.Namespace == "" {
		return c.ThreadID
	}
	return c.ThreadID + FrameSeparator + c.Namespace
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = state.CopyMap(c.State)
	out.PendingNodes = cloneStrings(c.PendingNodes)
	out.Trajectory = cloneStrings(c.Trajectory)
	out.BranchErrors = cloneStrings(c.BranchErrors)
	out.Children = cloneStrings(c.Children)
	if c.Input != nil {
		out.Input = state.CopyMap(c.Input)
	}
	if c.PendingTasks != nil {
		out.PendingTasks = make([]PendingTask, len(c.PendingTasks))
		for i, t := range c.PendingTasks {
			t.Input = state.CopyMap(t.Input)
			out.PendingTasks[i] = t
		}
	}
	out.Barriers = make(map[string]BarrierState, len(c.Barriers))
	for k, b := range c.Barriers {
		arrived := make(map[string]bool, len(b.Arrived))
		for p, v := range b.Arrived {
			arrived[p] = v
		}
		out.Barriers[k] = BarrierState{Iteration: b.Iteration, Arrived: arrived}
	}
	out.Iterations = make(map[string]int, len(c.Iterations))
	for k, v := range c.Iterations {
		out.Iterations[k] = v
	}
	if c.History != nil {
		out.History = make([]Snapshot, len(c.History))
		copy(out.History, c.History)
	}
	return &out
}

// Next returns the successor of c: a deep copy with the version bumped and
// the current head pushed onto the history. At most limit snapshots are kept;
// limit <= 0 keeps none.
func (c *Checkpoint) Next(limit int) *Checkpoint {
	next := c.Clone()
	if limit > 0 {
		next.History = append(next.History, c.Snapshot())
		if len(next.History) > limit {
			next.History = next.History[len(next.History)-limit:]
		}
	}
	next.Version = c.Version + 1
	next.Error = ""
	next.UpdatedAt = time.Now()
	return next
}

// Snapshot returns the history entry describing c.
func (c *Checkpoint) Snapshot() Snapshot {
	return Snapshot{
		Version:      c.Version,
		Step:         c.Step,
		Status:       c.Status,
		State:        state.CopyMap(c.State),
		PendingNodes: cloneStrings(c.PendingNodes),
		CreatedAt:    c.UpdatedAt,
	}
}

// HasPending reports whether the checkpoint holds scheduled work.
func (c *Checkpoint) HasPending() bool {
	return len(c.PendingNodes) > 0 || len(c.PendingTasks) > 0
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
