// Package policy evaluates Rego rules before the cleaner is allowed
// to destroy a resource. Policies can only protect; they never select
// extra resources for deletion.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandflow/sandflow/types"
)

// DefaultPolicy ships with the binary: resources tagged protected or
// blessed survive automatic cleanup.
const DefaultPolicy = `package sandflow

import rego.v1

protect if {
	input.resource.metadata["sandflow:protected"] == "true"
}

protect if {
	input.resource.metadata["sandflow:blessed"] == "true"
}

reason := "resource is marked protected" if {
	protect
}
`

// Input is the document each policy evaluates against.
type Input struct {
	Resource  types.ResourceView `json:"resource"`
	AgeHours  float64            `json:"age_hours"`
	Timestamp time.Time          `json:"timestamp"`
}

// Result is the outcome of evaluating all loaded policies for one
// resource. Protect wins over anything else.
type Result struct {
	Protect  bool     `json:"protect"`
	Reason   string   `json:"reason,omitempty"`
	Policies []string `json:"policies,omitempty"`
}

// Engine compiles and evaluates cleanup protection policies.
type Engine struct {
	logger  zerolog.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// NewEngine creates an engine with no policies loaded.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger:  logger.With().Str("component", "policy").Logger(),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// NewDefaultEngine creates an engine with the shipped policy loaded.
func NewDefaultEngine(ctx context.Context, logger zerolog.Logger) (*Engine, error) {
	engine := NewEngine(logger)
	if err := engine.LoadPolicy(ctx, "default", DefaultPolicy); err != nil {
		return nil, err
	}
	return engine, nil
}

// LoadPolicy compiles a Rego policy and registers it under name.
// Loading a name twice replaces the earlier version.
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.sandflow"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.queries[name] = prepared

	e.logger.Info().Str("policy_name", name).Msg("policy loaded")
	return nil
}

// Evaluate runs all loaded policies against one resource. Any policy
// that protects makes the final result protect. An evaluation error
// in one policy does not veto: a broken rule must not hold sandboxes
// alive forever, so the error is logged and the rest still run.
func (e *Engine) Evaluate(ctx context.Context, resource types.ResourceView, now time.Time) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(
			attribute.String("resource.id", resource.ID),
			attribute.String("resource.type", string(resource.Type))))
	defer span.End()

	input := Input{
		Resource:  resource,
		AgeHours:  now.Sub(resource.CreatedAt).Hours(),
		Timestamp: now,
	}

	final := Result{}
	for name, query := range e.queries {
		result, err := e.evaluatePolicy(ctx, query, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy_name", name).
				Str("resource_id", resource.ID).
				Msg("policy evaluation failed")
			continue
		}

		if result.Protect {
			final.Protect = true
			final.Policies = append(final.Policies, name)
			if final.Reason == "" {
				final.Reason = result.Reason
			}
		}
	}

	e.logger.Debug().
		Str("resource_id", resource.ID).
		Bool("protect", final.Protect).
		Strs("policies", final.Policies).
		Msg("policy evaluation complete")

	return final, nil
}

// Protected reports whether any loaded policy shields the resource
// from cleanup.
func (e *Engine) Protected(ctx context.Context, resource types.ResourceView, now time.Time) bool {
	result, err := e.Evaluate(ctx, resource, now)
	if err != nil {
		return false
	}
	return result.Protect
}

func (e *Engine) evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input Input) (Result, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Result{}, fmt.Errorf("evaluation failed: %w", err)
	}

	result := Result{}
	for _, res := range results {
		for _, expr := range res.Expressions {
			doc, ok := expr.Value.(map[string]interface{})
			if !ok {
				continue
			}
			if protect, ok := doc["protect"].(bool); ok && protect {
				result.Protect = true
			}
			if reason, ok := doc["reason"].(string); ok {
				result.Reason = reason
			}
		}
	}
	return result, nil
}
