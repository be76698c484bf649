package activity

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"

	"github.com/strandhq/strand/pkg/schema"
)

// --- transform.expr ---

// ExprTransformActivity implements "transform.expr" using expr-lang for
// deterministic in-run data shaping. Compiled programs are cached and
// reused across goroutines.
type ExprTransformActivity struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprTransformActivity creates a transform.expr activity.
func NewExprTransformActivity() *ExprTransformActivity {
	return &ExprTransformActivity{cache: make(map[string]*vm.Program)}
}

func (a *ExprTransformActivity) Name() string { return "transform.expr" }

func (a *ExprTransformActivity) Schema() ActivitySchema {
	return ActivitySchema{Description: "Evaluate an Expr expression against the run context."}
}

func (a *ExprTransformActivity) Validate(params map[string]any) error {
	if stringParam(params, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform.expr: missing required param 'expression'")
	}
	return nil
}

func (a *ExprTransformActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	expression := stringParam(input.Params, "expression", "")

	scope := make(map[string]any, len(input.Context)+1)
	for k, v := range input.Context {
		scope[k] = v
	}
	if data, ok := input.Params["data"]; ok {
		scope["data"] = data
	}

	prg, err := a.getOrCompile(expression, scope)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"transform.expr: evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &ActivityResult{Data: map[string]any{"result": out}}, nil
}

func (a *ExprTransformActivity) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	a.mu.RLock()
	if prg, ok := a.cache[expression]; ok {
		a.mu.RUnlock()
		return prg, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if prg, ok := a.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.expr: compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	a.cache[expression] = prg
	return prg, nil
}

// --- transform.jq ---

// JQTransformActivity implements "transform.jq" using gojq for JSON
// filtering, reshaping, and aggregation. Compiled code is cached and reused
// across goroutines.
type JQTransformActivity struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQTransformActivity creates a transform.jq activity.
func NewJQTransformActivity() *JQTransformActivity {
	return &JQTransformActivity{cache: make(map[string]*gojq.Code)}
}

func (a *JQTransformActivity) Name() string { return "transform.jq" }

func (a *JQTransformActivity) Schema() ActivitySchema {
	return ActivitySchema{Description: "Evaluate a jq expression against the run context."}
}

func (a *JQTransformActivity) Validate(params map[string]any) error {
	if stringParam(params, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform.jq: missing required param 'expression'")
	}
	return nil
}

// Execute runs the jq program over the run context (or explicit "data").
// jq programs can produce multiple outputs: one output is returned directly,
// several are collected into a slice.
func (a *JQTransformActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	expression := stringParam(input.Params, "expression", "")

	code, err := a.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	var scope any = input.Context
	if data, ok := input.Params["data"]; ok {
		scope = data
	}

	iter := code.RunWithContext(ctx, scope)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"transform.jq: evaluation failed for %q: %s", expression, iterErr.Error()).
				WithCause(iterErr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	var out any
	switch len(results) {
	case 0:
		out = nil
	case 1:
		out = results[0]
	default:
		out = results
	}
	return &ActivityResult{Data: map[string]any{"result": out}}, nil
}

func (a *JQTransformActivity) getOrCompile(expression string) (*gojq.Code, error) {
	a.mu.RLock()
	if code, ok := a.cache[expression]; ok {
		a.mu.RUnlock()
		return code, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if code, ok := a.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.jq: parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: empty env blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.jq: compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	a.cache[expression] = code
	return code, nil
}
