// Package report builds the research report workflow: a team of analyst
// personas is generated and reviewed by a human, each analyst interviews an
// expert in its own sub-workflow, and the sections are assembled into a
// final report.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// Node names of the research graph.
const (
	NodeCreateAnalysts    = "create_analysts"
	NodeHumanFeedback     = "human_feedback"
	NodeLaunchInterviews  = "launch_interviews"
	NodeConductInterview  = "conduct_interview"
	NodeWriteReport       = "write_report"
	NodeWriteIntroduction = "write_introduction"
	NodeWriteConclusion   = "write_conclusion"
	NodeFinalizeReport    = "finalize_report"
)

// Node names of the interview graph.
const (
	NodeAskQuestion     = "ask_question"
	NodeSearchWeb       = "search_web"
	NodeSearchWikipedia = "search_wikipedia"
	NodeAnswerQuestion  = "answer_question"
	NodeSaveInterview   = "save_interview"
	NodeWriteSection    = "write_section"
)

// FeedbackApprove accepts the generated analysts.
const FeedbackApprove = "approve"

// Message roles of an interview transcript.
const (
	RoleHuman   = "human"
	RoleAnalyst = "analyst"
	RoleExpert  = "expert"
)

const (
	defaultMaxAnalysts = 3
	defaultMaxTurns    = 2
	defaultMaxRetries  = 3
)

// Analyst is a research persona.
type Analyst struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Affiliation string `json:"affiliation"`
	Description string `json:"description"`
}

// Persona renders the analyst for prompts and transcripts.
func (a Analyst) Persona() string {
	return fmt.Sprintf("Name: %s\nRole: %s\nAffiliation: %s\nDescription: %s", a.Name, a.Role, a.Affiliation, a.Description)
}

// Message is one turn of an interview or of a tool-calling conversation.
type Message struct {
	Role       string     `json:"role"`
	Name       string     `json:"name,omitempty"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Document is a search hit.
type Document struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Generator produces the text of the workflow.
type Generator interface {
	Analysts(ctx context.Context, topic, feedback string, count int) ([]Analyst, error)
	Question(ctx context.Context, analyst Analyst, transcript []Message) (string, error)
	Answer(ctx context.Context, analyst Analyst, transcript []Message, docs []string) (string, error)
	Section(ctx context.Context, analyst Analyst, interview string, docs []string) (string, error)
	Report(ctx context.Context, topic string, sections []string) (string, error)
	Introduction(ctx context.Context, topic string, sections []string) (string, error)
	Conclusion(ctx context.Context, topic string, sections []string) (string, error)
}

// Searcher looks up documents for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

// Pipeline holds the collaborators of the research workflow.
type Pipeline struct {
	gen        Generator
	web        Searcher
	wiki       Searcher
	maxTurns   int
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by node bodies.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMaxTurns bounds the question/answer turns of each interview.
func WithMaxTurns(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxTurns = n
		}
	}
}

// WithMaxRetries bounds how many times the analysts may be regenerated
// before the run ends exhausted.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// New creates a Pipeline.
func New(gen Generator, web, wiki Searcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:        gen,
		web:        web,
		wiki:       wiki,
		maxTurns:   defaultMaxTurns,
		maxRetries: defaultMaxRetries,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InterviewSchema declares the state of one interview.
func (p *Pipeline) InterviewSchema() *state.Schema {
	return state.NewSchema(
		state.Declare("analyst", state.Replace),
		state.Declare("topic", state.Replace),
		state.Field{Name: "max_num_turns", Reducer: state.Replace, Default: p.maxTurns},
		state.Declare("messages", state.Append),
		state.Declare("context", state.Append),
		state.Declare("interview", state.Replace),
		state.Declare("sections", state.Append),
		state.Declare("search_errors", state.Append),
	)
}

// Interview compiles the interview sub-workflow.
func (p *Pipeline) Interview() (*graph.Graph, error) {
	return graph.NewBuilder("interview", p.InterviewSchema()).
		AddNode(NodeAskQuestion, p.askQuestion, graph.Reads("analyst"), graph.Writes("messages")).
		AddNode(NodeSearchWeb, p.search("web", p.web), graph.Writes("context", "search_errors")).
		AddNode(NodeSearchWikipedia, p.search("wikipedia", p.wiki), graph.Writes("context", "search_errors")).
		AddNode(NodeAnswerQuestion, p.answerQuestion, graph.Reads("analyst"), graph.Writes("messages")).
		AddNode(NodeSaveInterview, saveInterview, graph.Writes("interview")).
		AddNode(NodeWriteSection, p.writeSection, graph.Reads("analyst", "interview"), graph.Writes("sections")).
		SetEntry(NodeAskQuestion).
		AddEdge(NodeAskQuestion, NodeSearchWeb).
		AddEdge(NodeAskQuestion, NodeSearchWikipedia).
		AddJoin([]string{NodeSearchWeb, NodeSearchWikipedia}, NodeAnswerQuestion).
		AddConditionalEdges(NodeAnswerQuestion, p.routeMessages, NodeAskQuestion, NodeSaveInterview).
		SetLoopGuard(NodeAskQuestion, p.maxTurns, NodeSaveInterview).
		AddEdge(NodeSaveInterview, NodeWriteSection).
		AddEdge(NodeWriteSection, graph.END).
		Compile()
}

// Schema declares the state of the research workflow.
func (p *Pipeline) Schema() *state.Schema {
	return state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Field{Name: "max_analysts", Reducer: state.Replace, Default: defaultMaxAnalysts},
		state.Declare("human_analyst_feedback", state.Replace),
		state.Declare("analyst_feedback", state.Append),
		state.Declare("analysts", state.Replace),
		state.Field{Name: "approved", Reducer: state.Replace, Default: false},
		state.Field{Name: "retry_count", Reducer: state.Sum, Default: 0},
		state.Field{Name: "max_num_turns", Reducer: state.Replace, Default: p.maxTurns},
		state.Declare("sections", state.Append),
		state.Declare("search_errors", state.Append),
		state.Declare("content", state.Replace),
		state.Declare("introduction", state.Replace),
		state.Declare("conclusion", state.Replace),
		state.Declare("final_report", state.Replace),
	)
}

// Graph compiles the research workflow. Runs pause before human_feedback
// so the analysts can be reviewed through human_analyst_feedback.
func (p *Pipeline) Graph() (*graph.Graph, error) {
	interview, err := p.Interview()
	if err != nil {
		return nil, fmt.Errorf("failed to compile interview: %w", err)
	}
	writers := []string{NodeWriteReport, NodeWriteIntroduction, NodeWriteConclusion}
	return graph.NewBuilder("report", p.Schema()).
		AddNode(NodeCreateAnalysts, p.createAnalysts, graph.Reads("topic"), graph.Writes("analysts")).
		AddNode(NodeHumanFeedback, humanFeedback, graph.Writes("approved", "analyst_feedback", "human_analyst_feedback", "retry_count")).
		AddNode(NodeLaunchInterviews, launchInterviews, graph.Reads("analysts"), graph.Dispatches(NodeConductInterview)).
		AddSubGraph(NodeConductInterview, interview,
			graph.WithInput(p.interviewInput),
			graph.WithOutput(interviewOutput),
		).
		AddNode(NodeWriteReport, p.writeReport, graph.Writes("content")).
		AddNode(NodeWriteIntroduction, p.writeIntroduction, graph.Writes("introduction")).
		AddNode(NodeWriteConclusion, p.writeConclusion, graph.Writes("conclusion")).
		AddNode(NodeFinalizeReport, finalizeReport, graph.Writes("final_report")).
		SetEntry(NodeCreateAnalysts).
		AddEdge(NodeCreateAnalysts, NodeHumanFeedback).
		AddConditionalEdges(NodeHumanFeedback, routeFeedback, NodeLaunchInterviews, NodeCreateAnalysts).
		SetLoopGuard(NodeCreateAnalysts, p.maxRetries, "").
		AddEdge(NodeConductInterview, NodeWriteReport).
		AddEdge(NodeConductInterview, NodeWriteIntroduction).
		AddEdge(NodeConductInterview, NodeWriteConclusion).
		AddJoin(writers, NodeFinalizeReport).
		AddEdge(NodeFinalizeReport, graph.END).
		InterruptBefore(NodeHumanFeedback).
		Compile()
}

func (p *Pipeline) createAnalysts(ctx context.Context, v state.View) (domain.Result, error) {
	feedback := strings.Join(v.Strings("analyst_feedback"), "\n")
	analysts, err := p.gen.Analysts(ctx, v.String("topic"), feedback, v.Int("max_analysts"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to generate analysts: %w", err)
	}
	p.logger.Debug("analysts generated", "count", len(analysts), "revision", v.Int("retry_count"))
	return domain.Patch(state.Update{"analysts": analysts}), nil
}

// humanFeedback turns the reviewer's answer into a decision. An empty
// answer approves; anything else is kept as guidance for the next
// generation and cleared so it is not applied twice.
func humanFeedback(_ context.Context, v state.View) (domain.Result, error) {
	feedback := strings.TrimSpace(v.String("human_analyst_feedback"))
	if feedback == "" || strings.EqualFold(feedback, FeedbackApprove) {
		return domain.Patch(state.Update{"approved": true}), nil
	}
	return domain.Patch(state.Update{
		"approved":               false,
		"analyst_feedback":       feedback,
		"human_analyst_feedback": "",
		"retry_count":            1,
	}), nil
}

func routeFeedback(v state.View) ([]string, error) {
	if v.Bool("approved") && len(v.Slice("analysts")) > 0 {
		return []string{NodeLaunchInterviews}, nil
	}
	return []string{NodeCreateAnalysts}, nil
}

func launchInterviews(_ context.Context, v state.View) (domain.Result, error) {
	var analysts []Analyst
	if err := v.Decode("analysts", &analysts); err != nil {
		return domain.Result{}, err
	}
	tasks := make([]domain.Task, len(analysts))
	for i, a := range analysts {
		tasks[i] = domain.Send(NodeConductInterview, map[string]any{"analyst": a})
	}
	return domain.Dispatch(tasks...), nil
}

func (p *Pipeline) interviewInput(parent state.View) (map[string]any, error) {
	if err := parent.Require("analyst", "topic"); err != nil {
		return nil, err
	}
	analyst, _ := parent.Get("analyst")
	turns := parent.Int("max_num_turns")
	if turns <= 0 {
		turns = p.maxTurns
	}
	topic := parent.String("topic")
	return map[string]any{
		"analyst":       analyst,
		"topic":         topic,
		"max_num_turns": turns,
		"messages": Message{
			Role:    RoleHuman,
			Content: fmt.Sprintf("So you said you were writing an article on %s?", topic),
		},
	}, nil
}

func interviewOutput(child state.View) (state.Update, error) {
	return state.Update{
		"sections":      child.Slice("sections"),
		"search_errors": child.Slice("search_errors"),
	}, nil
}

func (p *Pipeline) askQuestion(ctx context.Context, v state.View) (domain.Result, error) {
	analyst, msgs, err := interviewState(v)
	if err != nil {
		return domain.Result{}, err
	}
	q, err := p.gen.Question(ctx, analyst, msgs)
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to generate question: %w", err)
	}
	return domain.Patch(state.Update{
		"messages": Message{Role: RoleAnalyst, Name: analyst.Name, Content: q},
	}), nil
}

// search looks up the last question. A failing source contributes no
// documents and records the failure in search_errors.
func (p *Pipeline) search(source string, s Searcher) graph.NodeFunc {
	return func(ctx context.Context, v state.View) (domain.Result, error) {
		var msgs []Message
		if err := v.Decode("messages", &msgs); err != nil {
			return domain.Result{}, err
		}
		query := lastQuestion(msgs)
		docs, err := s.Search(ctx, query)
		if err != nil {
			p.logger.Warn("search failed", "source", source, "error", err)
			return domain.Patch(state.Update{"search_errors": fmt.Sprintf("%s: %v", source, err)}), nil
		}
		if len(docs) == 0 {
			return domain.Empty(), nil
		}
		return domain.Patch(state.Update{"context": formatDocuments(docs)}), nil
	}
}

func (p *Pipeline) answerQuestion(ctx context.Context, v state.View) (domain.Result, error) {
	analyst, msgs, err := interviewState(v)
	if err != nil {
		return domain.Result{}, err
	}
	answer, err := p.gen.Answer(ctx, analyst, msgs, v.Strings("context"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to generate answer: %w", err)
	}
	return domain.Patch(state.Update{
		"messages": Message{Role: RoleExpert, Name: RoleExpert, Content: answer},
	}), nil
}

// routeMessages ends the interview once the expert answered max_num_turns times.
func (p *Pipeline) routeMessages(v state.View) ([]string, error) {
	var msgs []Message
	if err := v.Decode("messages", &msgs); err != nil {
		return nil, err
	}
	limit := v.Int("max_num_turns")
	if limit <= 0 {
		limit = p.maxTurns
	}
	if answers(msgs) >= limit {
		return []string{NodeSaveInterview}, nil
	}
	return []string{NodeAskQuestion}, nil
}

func saveInterview(_ context.Context, v state.View) (domain.Result, error) {
	var msgs []Message
	if err := v.Decode("messages", &msgs); err != nil {
		return domain.Result{}, err
	}
	return domain.Patch(state.Update{"interview": Transcript(msgs)}), nil
}

func (p *Pipeline) writeSection(ctx context.Context, v state.View) (domain.Result, error) {
	var analyst Analyst
	if err := v.Decode("analyst", &analyst); err != nil {
		return domain.Result{}, err
	}
	section, err := p.gen.Section(ctx, analyst, v.String("interview"), v.Strings("context"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to write section: %w", err)
	}
	return domain.Patch(state.Update{"sections": section}), nil
}

func (p *Pipeline) writeReport(ctx context.Context, v state.View) (domain.Result, error) {
	content, err := p.gen.Report(ctx, v.String("topic"), v.Strings("sections"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to write report: %w", err)
	}
	return domain.Patch(state.Update{"content": content}), nil
}

func (p *Pipeline) writeIntroduction(ctx context.Context, v state.View) (domain.Result, error) {
	intro, err := p.gen.Introduction(ctx, v.String("topic"), v.Strings("sections"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to write introduction: %w", err)
	}
	return domain.Patch(state.Update{"introduction": intro}), nil
}

func (p *Pipeline) writeConclusion(ctx context.Context, v state.View) (domain.Result, error) {
	conclusion, err := p.gen.Conclusion(ctx, v.String("topic"), v.Strings("sections"))
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to write conclusion: %w", err)
	}
	return domain.Patch(state.Update{"conclusion": conclusion}), nil
}

func finalizeReport(_ context.Context, v state.View) (domain.Result, error) {
	return domain.Patch(state.Update{
		"final_report": Compose(v.String("introduction"), v.String("content"), v.String("conclusion")),
	}), nil
}

// Compose assembles the final report. The body loses its "## Insights"
// heading and its sources are moved after the conclusion.
func Compose(introduction, content, conclusion string) string {
	content = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), "## Insights"))
	body, sources, found := strings.Cut(content, "\n## Sources\n")
	out := introduction + "\n\n---\n\n" + strings.TrimSpace(body) + "\n\n---\n\n" + conclusion
	if found {
		out += "\n\n## Sources\n" + sources
	}
	return out
}

// Transcript renders interview messages one per line.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		who := m.Role
		if m.Name != "" {
			who = m.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	return b.String()
}

func interviewState(v state.View) (Analyst, []Message, error) {
	var analyst Analyst
	if err := v.Decode("analyst", &analyst); err != nil {
		return Analyst{}, nil, err
	}
	var msgs []Message
	if v.Has("messages") {
		if err := v.Decode("messages", &msgs); err != nil {
			return Analyst{}, nil, err
		}
	}
	return analyst, msgs, nil
}

func lastQuestion(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAnalyst {
			return msgs[i].Content
		}
	}
	return ""
}

func answers(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleExpert {
			n++
		}
	}
	return n
}

func formatDocuments(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("<Document source=%q>\n%s\n</Document>", d.Source, d.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
