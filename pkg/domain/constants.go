package domain

const (
	// DefaultTaskErrorField is the field receiving TaskFailure entries under
	// the partial fan-out policy.
	DefaultTaskErrorField = "task_failures"

	// FrameSeparator separates the segments of a namespaced checkpoint key.
	FrameSeparator = "/"

	// InstanceSeparator separates a node id from its instance number in a frame segment.
	InstanceSeparator = "#"
)
