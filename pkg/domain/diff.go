package domain

import (
	"reflect"
)

// StateDiff represents the changes between two checkpoints.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	// ThreadID is always present to identify the target.
	ThreadID string `json:"thread_id"`

	Status *Status `json:"status,omitempty"`

	// State contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	State map[string]any `json:"state,omitempty"`

	// Trajectory contains the node ids appended since the old checkpoint.
	Trajectory []string `json:"trajectory,omitempty"`

	PendingNodes []string `json:"pending_nodes,omitempty"`
}

// Diff calculates the difference between oldCp and newCp.
// If oldCp is nil, it returns a diff representing the entire newCp (initial load).
func Diff(oldCp, newCp *Checkpoint) *StateDiff {
	if newCp == nil {
		return nil
	}

	diff := &StateDiff{
		ThreadID: newCp.ThreadID,
	}

	if oldCp == nil || oldCp.Status != newCp.Status {
		status := newCp.Status
		diff.Status = &status
	}

	var oldState map[string]any
	var oldTrajectory []string
	if oldCp != nil {
		oldState = oldCp.State
		oldTrajectory = oldCp.Trajectory
	}
	diff.State = diffState(oldState, newCp.State)
	diff.Trajectory = diffTrajectory(oldTrajectory, newCp.Trajectory)

	if oldCp == nil || !reflect.DeepEqual(oldCp.PendingNodes, newCp.PendingNodes) {
		diff.PendingNodes = cloneStrings(newCp.PendingNodes)
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffState(old, new map[string]any) map[string]any {
	delta := make(map[string]any)

	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffTrajectory assumes append-only behavior.
func diffTrajectory(old, new []string) []string {
	if len(new) > len(old) {
		return cloneStrings(new[len(old):])
	}
	return nil
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.Status == nil &&
		len(d.State) == 0 &&
		len(d.Trajectory) == 0 &&
		d.PendingNodes == nil
}
