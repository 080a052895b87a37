package report

import (
	"context"
	"fmt"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// Node names of the log-analysis graph.
const (
	NodeCleanLogs             = "clean_logs"
	NodeFailureAnalysis       = "failure_analysis"
	NodeQuestionSummarization = "question_summarization"
	NodeGetFailures           = "get_failures"
	NodeGenerateSummary       = "generate_summary"
	NodeSendToSlack           = "send_to_slack"
)

// Log is one graded question/answer exchange.
type Log struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Docs     []string `json:"docs,omitempty"`
	Answer   string   `json:"answer"`
	Grade    *int     `json:"grade,omitempty"`
	Grader   string   `json:"grader,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

// LogSummarizer writes the summaries of the log-analysis graph.
type LogSummarizer interface {
	FailureSummary(ctx context.Context, failures []Log) (string, error)
	QuestionSummary(ctx context.Context, logs []Log) (string, error)
}

// LogAnalysis compiles the log-analysis workflow: raw_logs are cleaned, then
// failure analysis and question summarization run side by side as
// sub-workflows and both contribute to processed_logs.
func LogAnalysis(s LogSummarizer) (*graph.Graph, error) {
	failures, err := failureAnalysis(s)
	if err != nil {
		return nil, err
	}
	questions, err := questionSummarization(s)
	if err != nil {
		return nil, err
	}
	schema := state.NewSchema(
		state.Declare("raw_logs", state.Replace),
		state.Declare("cleaned_logs", state.Replace),
		state.Declare("fa_summary", state.Replace),
		state.Declare("report", state.Replace),
		state.Declare("processed_logs", state.Append),
	)
	return graph.NewBuilder("logs", schema).
		AddNode(NodeCleanLogs, cleanLogs, graph.Reads("raw_logs"), graph.Writes("cleaned_logs")).
		AddSubGraph(NodeFailureAnalysis, failures).
		AddSubGraph(NodeQuestionSummarization, questions).
		SetEntry(NodeCleanLogs).
		AddEdge(NodeCleanLogs, NodeFailureAnalysis).
		AddEdge(NodeCleanLogs, NodeQuestionSummarization).
		AddEdge(NodeFailureAnalysis, graph.END).
		AddEdge(NodeQuestionSummarization, graph.END).
		Compile()
}

func failureAnalysis(s LogSummarizer) (*graph.Graph, error) {
	schema := state.NewSchema(
		state.Declare("cleaned_logs", state.Replace),
		state.Declare("failures", state.Replace),
		state.Declare("fa_summary", state.Replace),
		state.Declare("processed_logs", state.Append),
	)
	summarize := func(ctx context.Context, v state.View) (domain.Result, error) {
		var failures []Log
		if err := v.Decode("failures", &failures); err != nil {
			return domain.Result{}, err
		}
		summary, err := s.FailureSummary(ctx, failures)
		if err != nil {
			return domain.Result{}, fmt.Errorf("failed to summarize failures: %w", err)
		}
		processed := make([]string, len(failures))
		for i, l := range failures {
			processed[i] = "failure-analysis-on-log-" + l.ID
		}
		return domain.Patch(state.Update{"fa_summary": summary, "processed_logs": processed}), nil
	}
	return graph.NewBuilder(NodeFailureAnalysis, schema).
		AddNode(NodeGetFailures, getFailures, graph.Reads("cleaned_logs"), graph.Writes("failures")).
		AddNode(NodeGenerateSummary, summarize, graph.Reads("failures"), graph.Writes("fa_summary", "processed_logs")).
		SetEntry(NodeGetFailures).
		AddEdge(NodeGetFailures, NodeGenerateSummary).
		AddEdge(NodeGenerateSummary, graph.END).
		Compile()
}

func questionSummarization(s LogSummarizer) (*graph.Graph, error) {
	schema := state.NewSchema(
		state.Declare("cleaned_logs", state.Replace),
		state.Declare("qs_summary", state.Replace),
		state.Declare("report", state.Replace),
		state.Declare("processed_logs", state.Append),
	)
	summarize := func(ctx context.Context, v state.View) (domain.Result, error) {
		var logs []Log
		if err := v.Decode("cleaned_logs", &logs); err != nil {
			return domain.Result{}, err
		}
		summary, err := s.QuestionSummary(ctx, logs)
		if err != nil {
			return domain.Result{}, fmt.Errorf("failed to summarize questions: %w", err)
		}
		processed := make([]string, len(logs))
		for i, l := range logs {
			processed[i] = "summary-on-log-" + l.ID
		}
		return domain.Patch(state.Update{"qs_summary": summary, "processed_logs": processed}), nil
	}
	report := func(_ context.Context, v state.View) (domain.Result, error) {
		return domain.Patch(state.Update{"report": "Slack report: " + v.String("qs_summary")}), nil
	}
	return graph.NewBuilder(NodeQuestionSummarization, schema).
		AddNode(NodeGenerateSummary, summarize, graph.Reads("cleaned_logs"), graph.Writes("qs_summary", "processed_logs")).
		AddNode(NodeSendToSlack, report, graph.Reads("qs_summary"), graph.Writes("report")).
		SetEntry(NodeGenerateSummary).
		AddEdge(NodeGenerateSummary, NodeSendToSlack).
		AddEdge(NodeSendToSlack, graph.END).
		Compile()
}

// cleanLogs normalizes raw_logs. Entries that are not objects are dropped
// and a missing id becomes "unknown".
func cleanLogs(_ context.Context, v state.View) (domain.Result, error) {
	cleaned := make([]Log, 0)
	for _, raw := range v.Slice("raw_logs") {
		if _, ok := raw.(map[string]any); !ok {
			continue
		}
		var l Log
		if err := state.DecodeValue(raw, &l); err != nil {
			return domain.Result{}, fmt.Errorf("invalid log entry: %w", err)
		}
		if l.ID == "" {
			l.ID = "unknown"
		}
		cleaned = append(cleaned, l)
	}
	return domain.Patch(state.Update{"cleaned_logs": cleaned}), nil
}

func getFailures(_ context.Context, v state.View) (domain.Result, error) {
	var logs []Log
	if err := v.Decode("cleaned_logs", &logs); err != nil {
		return domain.Result{}, err
	}
	failures := make([]Log, 0)
	for _, l := range logs {
		if l.Grade != nil {
			failures = append(failures, l)
		}
	}
	return domain.Patch(state.Update{"failures": failures}), nil
}
