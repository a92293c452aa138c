package tool

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"warden-ai/internal/infra/tracer"
)

// ActionHandler is a function that handles a single action for a tool.
type ActionHandler[P any] func(ctx context.Context, p P) (any, error)

// ActionMap maps action names to their handlers for an action-based tool.
type ActionMap[P any] map[string]ActionHandler[P]

// Dispatch creates a handler function for Execute[P] that routes by action
// name. The getAction function extracts the action string from the params
// struct.
func Dispatch[P any](
	getAction func(P) string,
	actions ActionMap[P],
) func(ctx context.Context, span trace.Span, p P) (any, error) {
	// Pre-compute sorted action names for deterministic BadAction messages.
	validActions := make([]string, 0, len(actions))
	for name := range actions {
		validActions = append(validActions, name)
	}
	sort.Strings(validActions)

	return func(ctx context.Context, span trace.Span, p P) (any, error) {
		action := getAction(p)
		span.SetAttributes(tracer.StringAttr("tool.action", action))

		handler, ok := actions[action]
		if !ok {
			return nil, BadAction(action, validActions...)
		}
		return handler(ctx, p)
	}
}
