package report

import (
	"errors"

	"github.com/aretw0/pergola/pkg/registry"
)

// Built-in workflow names.
const (
	GraphReport    = "report"
	GraphInterview = "interview"
	GraphLogs      = "logs"

	GraphRouter          = "router"
	GraphAgent           = "agent"
	GraphSupervisedAgent = "supervised_agent"
)

// Register adds the built-in workflows, their node bodies and routers to
// reg so that declarative topologies can refer to them by name.
func Register(reg *registry.Registry, p *Pipeline, s LogSummarizer) error {
	research, err := p.Graph()
	if err != nil {
		return err
	}
	interview, err := p.Interview()
	if err != nil {
		return err
	}
	logs, err := LogAnalysis(s)
	if err != nil {
		return err
	}
	reg.RegisterGraph(GraphReport, research)
	reg.RegisterGraph(GraphInterview, interview)
	reg.RegisterGraph(GraphLogs, logs)

	reg.RegisterNode(NodeCreateAnalysts, p.createAnalysts)
	reg.RegisterNode(NodeHumanFeedback, humanFeedback)
	reg.RegisterNode(NodeLaunchInterviews, launchInterviews)
	reg.RegisterNode(NodeWriteReport, p.writeReport)
	reg.RegisterNode(NodeWriteIntroduction, p.writeIntroduction)
	reg.RegisterNode(NodeWriteConclusion, p.writeConclusion)
	reg.RegisterNode(NodeFinalizeReport, finalizeReport)
	reg.RegisterNode(NodeCleanLogs, cleanLogs)
	reg.RegisterRouter("route_feedback", routeFeedback)
	reg.RegisterRouter("route_messages", p.routeMessages)
	return nil
}

// RegisterAgents adds the tool-calling workflows backed by c. The router
// graph may only multiply; the agents get every arithmetic tool, and the
// supervised one pauses before each tool round.
func RegisterAgents(reg *registry.Registry, c ToolCaller, opts ...ToolboxOption) error {
	router, err := NewToolbox(c, []Tool{Multiply()}, opts...).Router(GraphRouter)
	if err != nil {
		return err
	}
	box := NewToolbox(c, Arithmetic(), opts...)
	agent, err := box.Agent(GraphAgent, false)
	if err != nil {
		return err
	}
	supervised, err := box.Agent(GraphSupervisedAgent, true)
	if err != nil {
		return err
	}
	reg.RegisterGraph(GraphRouter, router)
	reg.RegisterGraph(GraphAgent, agent)
	reg.RegisterGraph(GraphSupervisedAgent, supervised)

	reg.RegisterNode(NodeAssistant, box.assistant)
	reg.RegisterNode(NodeTools, box.runTools)
	reg.RegisterRouter("route_tools", RouteTools)
	return nil
}

// Builtin returns a registry holding the workflows backed by mocks.
func Builtin(opts ...Option) (*registry.Registry, error) {
	reg := registry.NewRegistry()
	gen := MockGenerator{}
	p := New(gen, MockSearcher{Source: "web"}, MockSearcher{Source: "wikipedia"}, opts...)
	if err := Register(reg, p, gen); err != nil {
		return nil, errors.Join(errors.New("failed to register built-in workflows"), err)
	}
	if err := RegisterAgents(reg, gen, WithToolLogger(p.logger)); err != nil {
		return nil, errors.Join(errors.New("failed to register built-in agents"), err)
	}
	return reg, nil
}
