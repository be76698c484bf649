package activity

import (
	"context"
	"log/slog"

	"github.com/strandhq/strand/pkg/schema"
)

// LogEmitActivity implements "log.emit": it writes a structured log line and
// echoes the message back, useful as a visible no-op step in automations.
type LogEmitActivity struct {
	logger *slog.Logger
}

// NewLogEmitActivity creates a log.emit activity writing to the given logger.
func NewLogEmitActivity(logger *slog.Logger) *LogEmitActivity {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitActivity{logger: logger}
}

func (a *LogEmitActivity) Name() string { return "log.emit" }

func (a *LogEmitActivity) Schema() ActivitySchema {
	return ActivitySchema{Description: "Emit a structured log line from a workflow step."}
}

func (a *LogEmitActivity) Validate(params map[string]any) error {
	if stringParam(params, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "log.emit: missing required param 'message'")
	}
	return nil
}

func (a *LogEmitActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	message := stringParam(input.Params, "message", "")
	level := stringParam(input.Params, "level", "info")

	attrs := []any{"run_id", input.RunID}
	if fields := mapParam(input.Params, "fields"); fields != nil {
		for k, v := range fields {
			attrs = append(attrs, k, v)
		}
	}

	switch level {
	case "debug":
		a.logger.DebugContext(ctx, message, attrs...)
	case "warn":
		a.logger.WarnContext(ctx, message, attrs...)
	case "error":
		a.logger.ErrorContext(ctx, message, attrs...)
	default:
		a.logger.InfoContext(ctx, message, attrs...)
	}

	return &ActivityResult{Data: map[string]any{"message": message, "level": level}}, nil
}
