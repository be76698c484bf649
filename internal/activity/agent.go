package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

// AgentRunner is the call surface into an AI agent. The engine treats the
// call as an opaque latent activity; providers implement this to plug in.
type AgentRunner interface {
	Run(ctx context.Context, prompt string, input map[string]any) (map[string]any, error)
}

// AgentRunActivity implements "agent.run" on top of an AgentRunner.
type AgentRunActivity struct {
	runner AgentRunner
}

// NewAgentRunActivity creates an agent.run activity.
func NewAgentRunActivity(runner AgentRunner) *AgentRunActivity {
	return &AgentRunActivity{runner: runner}
}

func (a *AgentRunActivity) Name() string { return "agent.run" }

func (a *AgentRunActivity) Schema() ActivitySchema {
	return ActivitySchema{Description: "Run an AI agent call with the run context as input."}
}

func (a *AgentRunActivity) Validate(params map[string]any) error {
	if stringParam(params, "prompt", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent.run: missing required param 'prompt'")
	}
	return nil
}

func (a *AgentRunActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	if a.runner == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "agent.run: no agent runner configured")
	}
	prompt := stringParam(input.Params, "prompt", "")
	out, err := a.runner.Run(ctx, prompt, input.Context)
	if err != nil {
		return nil, err
	}
	return &ActivityResult{Data: out}, nil
}

// HTTPAgentRunner calls an agent served over HTTP: it POSTs
// {prompt, input} as JSON and expects a JSON object back.
type HTTPAgentRunner struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPAgentRunner creates a runner against the given endpoint.
func NewHTTPAgentRunner(endpoint string) *HTTPAgentRunner {
	return &HTTPAgentRunner{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (r *HTTPAgentRunner) Run(ctx context.Context, prompt string, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"prompt": prompt, "input": input})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent.run: encode request: %s", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent.run: build request: %s", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent.run: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent.run: read response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent.run: status %s", resp.Status)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent.run: decode response: %s", err.Error()).WithCause(err)
	}
	return out, nil
}
