package activity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/strandhq/strand/pkg/schema"
)

// agentActivity is the registry name agent nodes resolve to when their data
// does not name one explicitly.
const agentActivity = "agent.run"

// Invoker dispatches action and agent node calls to registered activities.
// It satisfies the engine's activity boundary. A per-activity circuit
// breaker rejects calls to an activity whose downstream keeps failing,
// until a cooldown passes.
type Invoker struct {
	registry *Registry
	breakers *BreakerSet
	logger   *slog.Logger
}

// NewInvoker creates an Invoker over the given registry.
func NewInvoker(registry *Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry,
		breakers: NewBreakerSet(DefaultBreakerConfig()),
		logger:   logger,
	}
}

// InvokeAction executes the activity named by an action node.
func (inv *Invoker) InvokeAction(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
	if cfg.Activity == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "action node missing activity name")
	}
	return inv.invoke(ctx, runID, cfg.Activity, cfg.Params, input)
}

// InvokeAgent executes an agent node. The underlying call is just another
// activity, defaulting to agent.run, so providers plug in via the registry.
func (inv *Invoker) InvokeAgent(ctx context.Context, runID string, cfg schema.ActionConfig, input map[string]any) (map[string]any, error) {
	name := cfg.Activity
	if name == "" {
		name = agentActivity
	}
	return inv.invoke(ctx, runID, name, cfg.Params, input)
}

func (inv *Invoker) invoke(ctx context.Context, runID, name string, rawParams json.RawMessage, input map[string]any) (map[string]any, error) {
	a, err := inv.registry.Get(name)
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if len(rawParams) > 0 {
		if uerr := json.Unmarshal(rawParams, &params); uerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "malformed params for %s: %s", name, uerr.Error())
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	if verr := a.Validate(params); verr != nil {
		return nil, verr
	}

	if berr := inv.breakers.Allow(name); berr != nil {
		inv.logger.WarnContext(ctx, "activity call rejected", "activity", name, "error", berr.Error())
		return nil, berr
	}

	inv.logger.DebugContext(ctx, "invoking activity", "activity", name)
	result, err := a.Execute(ctx, ActivityInput{
		RunID:   runID,
		Params:  params,
		Context: input,
	})
	if err != nil {
		inv.breakers.RecordFailure(name)
		return nil, err
	}
	inv.breakers.RecordSuccess(name)
	if result == nil {
		return map[string]any{}, nil
	}
	return result.Data, nil
}
