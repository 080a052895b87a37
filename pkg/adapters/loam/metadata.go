package loam

// KindGraph marks the header document carrying graph-level settings.
const KindGraph = "graph"

// KindSubGraph marks a node that runs a registered graph.
const KindSubGraph = "subgraph"

// NodeMetadata is the frontmatter of one topology document. Node documents
// describe a node and its outgoing edges; the single document of kind
// "graph" holds the schema, entry nodes and policies.
// It uses "mapstructure" tags to match the YAML/JSON keys.
type NodeMetadata struct {
	ID    string `json:"id" mapstructure:"id"`
	Kind  string `json:"kind" mapstructure:"kind"`
	Order int    `json:"order" mapstructure:"order"`

	// Func names the registered node body. Defaults to the node id.
	Func string `json:"func" mapstructure:"func"`
	// Graph names the registered sub-workflow of a subgraph node.
	Graph string `json:"graph" mapstructure:"graph"`

	To            []string    `json:"to" mapstructure:"to"`
	Router        *RouterSpec `json:"router" mapstructure:"router"`
	Join          []string    `json:"join" mapstructure:"join"`
	MaxIterations int         `json:"max_iterations" mapstructure:"max_iterations"`
	OnExhausted   string      `json:"on_exhausted" mapstructure:"on_exhausted"`

	Reads      []string `json:"reads" mapstructure:"reads"`
	Writes     []string `json:"writes" mapstructure:"writes"`
	Dispatches []string `json:"dispatches" mapstructure:"dispatches"`

	InterruptBefore bool `json:"interrupt_before" mapstructure:"interrupt_before"`
	InterruptAfter  bool `json:"interrupt_after" mapstructure:"interrupt_after"`

	// Graph header
	Name   string      `json:"name" mapstructure:"name"`
	Entry  []string    `json:"entry" mapstructure:"entry"`
	Fields []FieldSpec `json:"fields" mapstructure:"fields"`
	FanOut *FanOutSpec `json:"fan_out" mapstructure:"fan_out"`
}

// RouterSpec binds a registered router and its allowed targets.
type RouterSpec struct {
	Func    string   `json:"func" mapstructure:"func"`
	Allowed []string `json:"allowed" mapstructure:"allowed"`
}

// FieldSpec declares a state field.
type FieldSpec struct {
	Name    string `json:"name" mapstructure:"name"`
	Reducer string `json:"reducer" mapstructure:"reducer"`
	Default any    `json:"default" mapstructure:"default"`
}

// FanOutSpec configures the fan-out failure policy.
type FanOutSpec struct {
	Mode       string `json:"mode" mapstructure:"mode"`
	ErrorField string `json:"error_field" mapstructure:"error_field"`
}
