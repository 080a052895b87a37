package domain

import "github.com/aretw0/pergola/pkg/state"

// Task is a (target node, child state fragment) pair produced by a fan-out dispatch.
type Task struct {
	Target string         `json:"target"`
	Input  map[string]any `json:"input,omitempty"`
}

// Send builds a Task.
func Send(target string, input map[string]any) Task {
	return Task{Target: target, Input: input}
}

// Result is the tagged outcome of a node body. Exactly one of the three
// shapes is meaningful: a partial update, a task list, or a Goto directive
// (an update plus explicit routing).
type Result struct {
	Update state.Update
	Tasks  []Task
	// Goto overrides the node's outgoing edges when non-empty.
	Goto []string
}

// Patch returns a Result carrying a partial update.
func Patch(u state.Update) Result {
	return Result{Update: u}
}

// Dispatch returns a Result that fans out tasks.
func Dispatch(tasks ...Task) Result {
	return Result{Tasks: tasks}
}

// Goto returns a control directive: apply u, then continue at targets.
func Goto(u state.Update, targets ...string) Result {
	return Result{Update: u, Goto: targets}
}

// Empty is a Result that changes nothing.
func Empty() Result {
	return Result{}
}

// IsDispatch reports whether the result fans out.
func (r Result) IsDispatch() bool {
	return len(r.Tasks) > 0
}
