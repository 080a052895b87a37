package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MockGenerator is a deterministic Generator and LogSummarizer used by
// tests and by the CLI when no model is configured.
type MockGenerator struct{}

var (
	_ Generator     = MockGenerator{}
	_ LogSummarizer = MockGenerator{}
	_ ToolCaller    = MockGenerator{}
)

func (MockGenerator) Analysts(_ context.Context, topic, feedback string, count int) ([]Analyst, error) {
	if count <= 0 {
		count = defaultMaxAnalysts
	}
	out := make([]Analyst, count)
	for i := range out {
		desc := fmt.Sprintf("Covers %s from angle %d.", topic, i+1)
		if feedback != "" {
			desc += " Guidance: " + strings.ReplaceAll(feedback, "\n", "; ")
		}
		out[i] = Analyst{
			Name:        fmt.Sprintf("Analyst %d", i+1),
			Role:        "Researcher",
			Affiliation: "Pergola Labs",
			Description: desc,
		}
	}
	return out, nil
}

func (MockGenerator) Question(_ context.Context, analyst Analyst, transcript []Message) (string, error) {
	n := 1
	for _, m := range transcript {
		if m.Role == RoleAnalyst {
			n++
		}
	}
	return fmt.Sprintf("%s asks question %d", analyst.Name, n), nil
}

func (MockGenerator) Answer(_ context.Context, _ Analyst, transcript []Message, docs []string) (string, error) {
	return fmt.Sprintf("Answer to %q using %d documents", lastQuestion(transcript), len(docs)), nil
}

func (MockGenerator) Section(_ context.Context, analyst Analyst, interview string, _ []string) (string, error) {
	turns := strings.Count(interview, RoleExpert+": ")
	return fmt.Sprintf("## %s\n\n%s Interviewed over %d turns.", analyst.Name, analyst.Description, turns), nil
}

func (MockGenerator) Report(_ context.Context, topic string, sections []string) (string, error) {
	return fmt.Sprintf("## Insights\n\n%s\n\n## Sources\n[1] notes on %s", strings.Join(sections, "\n\n"), topic), nil
}

func (MockGenerator) Introduction(_ context.Context, topic string, sections []string) (string, error) {
	return fmt.Sprintf("# %s\n\n## Introduction\n\nThis report gathers %d perspectives.", topic, len(sections)), nil
}

func (MockGenerator) Conclusion(_ context.Context, _ string, sections []string) (string, error) {
	return fmt.Sprintf("## Conclusion\n\n%d sections were reviewed.", len(sections)), nil
}

func (MockGenerator) FailureSummary(_ context.Context, _ []Log) (string, error) {
	return "Poor quality retrieval of Chroma documentation.", nil
}

func (MockGenerator) QuestionSummary(_ context.Context, _ []Log) (string, error) {
	return "Questions focused on usage of ChatOllama and Chroma vector store.", nil
}

// Call reads the latest human message as sentences such as "Add 3 and 4.
// Multiply the output by 2." and requests one tool call per sentence, feeding
// each result into the next sentence that mentions the output. Once every
// step has a result it replies with the last one.
func (MockGenerator) Call(_ context.Context, _ string, transcript []Message, tools []Tool) (Message, error) {
	start := -1
	for i, m := range transcript {
		if m.Role == RoleHuman {
			start = i
		}
	}
	if start < 0 {
		return Message{Role: RoleAssistant, Content: "What should I calculate?"}, nil
	}
	var results []float64
	for _, m := range transcript[start+1:] {
		if m.Role != RoleTool {
			continue
		}
		f, err := strconv.ParseFloat(m.Content, 64)
		if err != nil {
			return Message{Role: RoleAssistant, Content: "I could not finish: " + m.Content}, nil
		}
		results = append(results, f)
	}

	steps := arithmeticSteps(transcript[start].Content, tools)
	if len(results) >= len(steps) {
		if len(results) == 0 {
			return Message{Role: RoleAssistant, Content: "I can only help with arithmetic."}, nil
		}
		return Message{Role: RoleAssistant, Content: "The result is " + strconv.FormatFloat(results[len(results)-1], 'f', -1, 64) + "."}, nil
	}
	next := steps[len(results)]
	a, b := next.a, next.b
	if next.chained {
		a = results[len(results)-1]
	}
	return Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID:   fmt.Sprintf("call_%d", len(results)+1),
		Name: next.tool,
		Args: map[string]float64{"a": a, "b": b},
	}}}, nil
}

type arithmeticStep struct {
	tool    string
	a, b    float64
	chained bool
}

// arithmeticSteps parses one step per sentence naming an available tool. A
// sentence mentioning "output" uses the previous result as its first operand.
func arithmeticSteps(request string, tools []Tool) []arithmeticStep {
	var steps []arithmeticStep
	for _, sentence := range strings.Split(request, ".") {
		words := strings.Fields(strings.ToLower(sentence))
		if len(words) == 0 {
			continue
		}
		var name string
		for _, t := range tools {
			if words[0] == t.Name {
				name = t.Name
			}
		}
		if name == "" {
			continue
		}
		var nums []float64
		chained := false
		for _, w := range words[1:] {
			w = strings.Trim(w, ",?!")
			if w == "output" || w == "result" {
				chained = true
			}
			if f, err := strconv.ParseFloat(w, 64); err == nil {
				nums = append(nums, f)
			}
		}
		switch {
		case chained && len(steps) > 0 && len(nums) >= 1:
			steps = append(steps, arithmeticStep{tool: name, b: nums[0], chained: true})
		case !chained && len(nums) >= 2:
			steps = append(steps, arithmeticStep{tool: name, a: nums[0], b: nums[1]})
		}
	}
	return steps
}

// MockSearcher returns one document per query, or Err when set.
type MockSearcher struct {
	Source string
	Err    error
}

func (s MockSearcher) Search(_ context.Context, query string) ([]Document, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return []Document{{
		Source:  s.Source,
		Content: fmt.Sprintf("Notes from %s on: %s", s.Source, query),
	}}, nil
}
