package domain

import "github.com/aretw0/pergola/pkg/state"

// OutcomeStatus tells whether a run finished or paused.
type OutcomeStatus string

const (
	OutcomeTerminal    OutcomeStatus = "terminal"
	OutcomeInterrupted OutcomeStatus = "interrupted"
)

// Reason qualifies a terminal outcome.
type Reason string

const (
	// ReasonCompleted means no more nodes were ready.
	ReasonCompleted Reason = "completed"
	// ReasonExhausted means a loop guard stopped the run.
	ReasonExhausted Reason = "exhausted"
	// ReasonAborted means the thread was aborted.
	ReasonAborted Reason = "aborted"
)

// Frame describes a paused sub-workflow instance.
type Frame struct {
	// Path is the namespaced checkpoint key of the child frame.
	Path         string   `json:"path"`
	PendingNodes []string `json:"pending_nodes"`
}

// Outcome is the result of running a thread until it stops.
type Outcome struct {
	ThreadID     string         `json:"thread_id"`
	Status       OutcomeStatus  `json:"status"`
	Reason       Reason         `json:"reason,omitempty"`
	State        map[string]any `json:"state"`
	PendingNodes []string       `json:"pending_nodes,omitempty"`
	Interrupts   []Frame        `json:"interrupts,omitempty"`
	Trajectory   []string       `json:"trajectory,omitempty"`
	BranchErrors []string       `json:"branch_errors,omitempty"`
	Version      int            `json:"version"`
}

// IsInterrupted reports whether the run paused.
func (o *Outcome) IsInterrupted() bool {
	return o.Status == OutcomeInterrupted
}

// OutcomeOf derives the outcome described by a checkpoint.
func OutcomeOf(c *Checkpoint) *Outcome {
	o := &Outcome{
		ThreadID:     c.ThreadID,
		State:        state.CopyMap(c.State),
		Trajectory:   cloneStrings(c.Trajectory),
		BranchErrors: cloneStrings(c.BranchErrors),
		Version:      c.Version,
	}
	switch c.Status {
	case StatusInterrupted:
		o.Status = OutcomeInterrupted
		o.PendingNodes = cloneStrings(c.PendingNodes)
	case StatusExhausted:
		o.Status = OutcomeTerminal
		o.Reason = ReasonExhausted
	case StatusAborted:
		o.Status = OutcomeTerminal
		o.Reason = ReasonAborted
	default:
		o.Status = OutcomeTerminal
		o.Reason = ReasonCompleted
	}
	return o
}
