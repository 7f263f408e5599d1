// Package llm poses reasoning test cases to a language model behind an
// OpenAI-compatible endpoint.
//
// Test data is the Datalog program of the mangle adapter: <identifier>.rls
// and <identifier>.fct. For each query the model receives the program and
// the query atom and must list one answer per line, or NONE. The result count
// is the number of distinct answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
	llmapi "github.com/kev-ang/ruben/internal/llm"
)

// Type is the registry key of this adapter.
const Type = "llm"

// Settings understood by the adapter.
const (
	SettingBaseURL     = "base_url"
	SettingEndpoint    = "endpoint"
	SettingAPIKey      = "api_key"
	SettingModel       = "model"
	SettingTemperature = "temperature"
	SettingMaxTokens   = "max_tokens"
	SettingStream      = "stream"
)

const (
	rulesSuffix = ".rls"
	factsSuffix = ".fct"

	noAnswers = "NONE"
)

const systemPrompt = `You are a Datalog reasoner. You receive a program made of facts and rules
and a query atom. Compute every ground fact that matches the query under the
least fixpoint semantics of the program. Reply with one matching fact per line
and nothing else. If nothing matches, reply with the single word NONE.`

// Engine asks a chat model to answer queries over the loaded program.
type Engine struct {
	adapter.Base

	client  llmapi.Completer
	program string
}

// New returns an unconfigured language model engine.
func New(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name)}
}

// Configure builds the API client.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	model, err := e.Settings.Required(SettingModel)
	if err != nil {
		return err
	}
	baseURL := e.Settings.String(SettingBaseURL, "")
	if baseURL == "" {
		endpoint := e.Settings.String(SettingEndpoint, "")
		if endpoint == "" {
			return fmt.Errorf("setting %s or %s is required", SettingBaseURL, SettingEndpoint)
		}
		baseURL = "http://" + endpoint + "/v1"
	}
	maxTokens, err := e.Settings.Int(SettingMaxTokens, 0)
	if err != nil {
		return err
	}
	stream, err := e.Settings.Bool(SettingStream, false)
	if err != nil {
		return err
	}

	opts := []llmapi.Option{
		llmapi.WithBaseURL(baseURL),
		llmapi.WithModel(model),
		llmapi.WithMaxTokens(maxTokens),
		llmapi.WithStreaming(stream),
	}
	if key := e.Settings.String(SettingAPIKey, ""); key != "" {
		opts = append(opts, llmapi.WithAPIKey(key))
	}
	if temp, ok := e.Settings[SettingTemperature].(float64); ok {
		opts = append(opts, llmapi.WithTemperature(temp))
	}
	e.client = llmapi.NewOpenAIClient(opts...)
	return nil
}

// Prepare loads the program text sent along with every query.
func (e *Engine) Prepare(_ context.Context, dataRoot string, tc benchmark.TestCase) error {
	rules, err := e.ReadOptional(dataRoot, tc, rulesSuffix)
	if err != nil {
		return err
	}
	facts, err := e.ReadOptional(dataRoot, tc, factsSuffix)
	if err != nil {
		return err
	}
	if rules == nil && facts == nil {
		return fmt.Errorf("neither %s nor %s found for %s", rulesSuffix, factsSuffix, tc.Name())
	}
	e.program = strings.TrimSpace(string(rules)) + "\n" + strings.TrimSpace(string(facts))
	slog.Debug("llm program loaded", "engine", e.Name(), "test_case", tc.Name(), "bytes", len(e.program))
	return nil
}

// ExecuteQuery asks the model for the answers and counts them.
func (e *Engine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	if e.client == nil {
		return 0, errors.New("not configured")
	}
	if e.program == "" {
		return 0, errors.New("no program loaded")
	}
	answer, err := e.client.Complete(ctx, llmapi.Prompt{
		System: systemPrompt,
		User:   "Program:\n" + e.program + "\n\nQuery:\n" + strings.TrimSpace(query),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, llmapi.ErrContextExhausted) {
			return 0, &benchmark.ResourceExhaustedError{Resource: "model context", Err: err}
		}
		return 0, &benchmark.QueryError{Query: query, Err: err}
	}
	return CountAnswers(answer), nil
}

// CleanUp forgets the program.
func (e *Engine) CleanUp(context.Context) error {
	e.program = ""
	return nil
}

// ShutDown releases the client.
func (e *Engine) ShutDown(context.Context) error {
	e.client = nil
	e.program = ""
	return nil
}

// CountAnswers counts the distinct non-empty lines of a model answer. A
// lone NONE counts as zero answers.
func CountAnswers(answer string) int {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "."))
		line = strings.TrimLeft(line, "-* ")
		if line == "" || strings.EqualFold(line, noAnswers) {
			continue
		}
		seen[strings.Join(strings.Fields(line), "")] = struct{}{}
	}
	return len(seen)
}
