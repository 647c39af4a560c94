package database

import "context"

type contextKey string

const (
	// SolutionKey is the context key carrying the tenant solution the current
	// operation runs on behalf of.
	SolutionKey contextKey = "solution"

	// DatabaseHintKey is the context key carrying an explicit per-call
	// database override. Hints beat every other routing rule.
	DatabaseHintKey contextKey = "databaseHint"
)

// WithSolution stores the tenant solution name in context. Routing decisions
// for business-entity namespaces resolve against this solution.
func WithSolution(ctx context.Context, solutionName string) context.Context {
	return context.WithValue(ctx, SolutionKey, solutionName)
}

// SolutionFromContext retrieves the tenant solution name from context.
// Returns empty string and false if not present.
func SolutionFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(SolutionKey).(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// WithDatabaseHint stores an explicit database target in context. The hint is
// either DatabaseControl or a solution name; WithDatabaseHint(ctx, "") is a
// no-op so callers can pass optional hints through unconditionally.
func WithDatabaseHint(ctx context.Context, target string) context.Context {
	if target == "" {
		return ctx
	}
	return context.WithValue(ctx, DatabaseHintKey, target)
}

// DatabaseHintFromContext retrieves the explicit database target from
// context. Returns empty string and false if not present.
func DatabaseHintFromContext(ctx context.Context) (string, bool) {
	target, ok := ctx.Value(DatabaseHintKey).(string)
	if !ok || target == "" {
		return "", false
	}
	return target, true
}
