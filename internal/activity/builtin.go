package activity

import "log/slog"

// RegisterBuiltins registers all built-in activities in the given registry.
// runner may be nil; agent.run then fails with a configuration error until
// a provider is wired.
func RegisterBuiltins(reg *Registry, httpCfg HTTPConfig, runner AgentRunner, logger *slog.Logger) error {
	all := []Activity{
		NewHTTPRequestActivity(httpCfg),
		NewLogEmitActivity(logger),
		NewExprTransformActivity(),
		NewJQTransformActivity(),
		NewAgentRunActivity(runner),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
