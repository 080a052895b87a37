package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// Node names of the tool-calling graphs.
const (
	NodeToolCallingLLM = "tool_calling_llm"
	NodeAssistant      = "assistant"
	NodeTools          = "tools"
)

// Message roles of a tool-calling conversation.
const (
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AssistantPrompt is the system prompt of the arithmetic assistant.
const AssistantPrompt = "You are a helpful assistant tasked with performing arithmetic on a set of inputs."

const defaultMaxToolRounds = 10

// ErrDivisionByZero is returned by the divide tool.
var ErrDivisionByZero = errors.New("division by zero")

// ToolCall asks for one tool invocation.
type ToolCall struct {
	ID   string             `json:"id"`
	Name string             `json:"name"`
	Args map[string]float64 `json:"args"`
}

// Tool is a binary arithmetic operation the assistant may call with the
// arguments a and b.
type Tool struct {
	Name        string
	Description string
	Fn          func(a, b float64) (float64, error)
}

// Add returns the addition tool.
func Add() Tool {
	return Tool{Name: "add", Description: "Adds a and b.", Fn: func(a, b float64) (float64, error) { return a + b, nil }}
}

// Multiply returns the multiplication tool.
func Multiply() Tool {
	return Tool{Name: "multiply", Description: "Multiplies a and b.", Fn: func(a, b float64) (float64, error) { return a * b, nil }}
}

// Divide returns the division tool.
func Divide() Tool {
	return Tool{Name: "divide", Description: "Divides a by b.", Fn: func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}}
}

// Arithmetic returns every built-in tool.
func Arithmetic() []Tool {
	return []Tool{Add(), Multiply(), Divide()}
}

// ToolCaller produces the next assistant turn: a reply, or a message
// carrying tool calls.
type ToolCaller interface {
	Call(ctx context.Context, system string, transcript []Message, tools []Tool) (Message, error)
}

// Toolbox binds a ToolCaller to the tools it may call.
type Toolbox struct {
	caller    ToolCaller
	tools     []Tool
	byName    map[string]Tool
	maxRounds int
	logger    *slog.Logger
}

// ToolboxOption configures a Toolbox.
type ToolboxOption func(*Toolbox)

// WithMaxToolRounds bounds how many times the assistant may run per thread.
func WithMaxToolRounds(n int) ToolboxOption {
	return func(b *Toolbox) {
		if n > 0 {
			b.maxRounds = n
		}
	}
}

// WithToolLogger sets the toolbox logger.
func WithToolLogger(logger *slog.Logger) ToolboxOption {
	return func(b *Toolbox) {
		b.logger = logger
	}
}

// NewToolbox creates a toolbox. Later tools replace earlier ones with the
// same name.
func NewToolbox(caller ToolCaller, tools []Tool, opts ...ToolboxOption) *Toolbox {
	b := &Toolbox{
		caller:    caller,
		byName:    make(map[string]Tool, len(tools)),
		maxRounds: defaultMaxToolRounds,
		logger:    logging.NewNop(),
	}
	index := make(map[string]int, len(tools))
	for _, t := range tools {
		if i, dup := index[t.Name]; dup {
			b.tools[i] = t
		} else {
			index[t.Name] = len(b.tools)
			b.tools = append(b.tools, t)
		}
		b.byName[t.Name] = t
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Schema declares the conversation state of the tool-calling graphs.
func (b *Toolbox) Schema() *state.Schema {
	return state.NewSchema(state.Declare("messages", state.Append))
}

// Router compiles a single round: the model either replies directly or its
// tool calls run once before the thread ends.
func (b *Toolbox) Router(name string) (*graph.Graph, error) {
	return graph.NewBuilder(name, b.Schema()).
		AddNode(NodeToolCallingLLM, b.assistant, graph.Writes("messages")).
		AddNode(NodeTools, b.runTools, graph.Writes("messages")).
		SetEntry(NodeToolCallingLLM).
		AddConditionalEdges(NodeToolCallingLLM, RouteTools, NodeTools, graph.END).
		AddEdge(NodeTools, graph.END).
		Compile()
}

// Agent compiles the assistant loop: tool results flow back to the
// assistant until it replies without tool calls. With approval set the run
// pauses before every tool round so a human can inspect or edit the calls.
func (b *Toolbox) Agent(name string, approval bool) (*graph.Graph, error) {
	builder := graph.NewBuilder(name, b.Schema()).
		AddNode(NodeAssistant, b.assistant, graph.Writes("messages")).
		AddNode(NodeTools, b.runTools, graph.Writes("messages")).
		SetEntry(NodeAssistant).
		AddConditionalEdges(NodeAssistant, RouteTools, NodeTools, graph.END).
		AddEdge(NodeTools, NodeAssistant).
		SetLoopGuard(NodeAssistant, b.maxRounds, "")
	if approval {
		builder.InterruptBefore(NodeTools)
	}
	return builder.Compile()
}

// RouteTools sends the conversation to the tools node when the latest
// message carries tool calls, and ends it otherwise.
func RouteTools(v state.View) ([]string, error) {
	var msgs []Message
	if err := v.Decode("messages", &msgs); err != nil {
		return nil, err
	}
	if len(msgs) > 0 && len(msgs[len(msgs)-1].ToolCalls) > 0 {
		return []string{NodeTools}, nil
	}
	return []string{graph.END}, nil
}

func (b *Toolbox) assistant(ctx context.Context, v state.View) (domain.Result, error) {
	var msgs []Message
	if err := v.Decode("messages", &msgs); err != nil {
		return domain.Result{}, err
	}
	reply, err := b.caller.Call(ctx, AssistantPrompt, msgs, b.tools)
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to call model: %w", err)
	}
	if reply.Role == "" {
		reply.Role = RoleAssistant
	}
	return domain.Patch(state.Update{"messages": reply}), nil
}

// runTools answers every call of the latest message. A failing or unknown
// tool yields an error message for the model instead of failing the node.
func (b *Toolbox) runTools(_ context.Context, v state.View) (domain.Result, error) {
	var msgs []Message
	if err := v.Decode("messages", &msgs); err != nil {
		return domain.Result{}, err
	}
	if len(msgs) == 0 || len(msgs[len(msgs)-1].ToolCalls) == 0 {
		return domain.Empty(), nil
	}
	calls := msgs[len(msgs)-1].ToolCalls
	out := make([]Message, 0, len(calls))
	for _, call := range calls {
		content := b.invoke(call)
		b.logger.Debug("tool called", "tool", call.Name, "id", call.ID, "result", content)
		out = append(out, Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content})
	}
	return domain.Patch(state.Update{"messages": out}), nil
}

func (b *Toolbox) invoke(call ToolCall) string {
	tool, ok := b.byName[call.Name]
	if !ok {
		return fmt.Sprintf("Error: %s is not a valid tool", call.Name)
	}
	res, err := tool.Fn(call.Args["a"], call.Args["b"])
	if err != nil {
		return "Error: " + err.Error()
	}
	return strconv.FormatFloat(res, 'f', -1, 64)
}
