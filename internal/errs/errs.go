// Package errs defines the error kinds reported by schemaver.
package errs

import "github.com/joomcode/errorx"

var (
	// Namespace groups every schemaver error kind.
	Namespace = errorx.NewNamespace("schemaver")

	// Configuration covers problems with the transition definitions or with a
	// request that cannot be satisfied by them: duplicate edges, unknown
	// database versions, unreachable targets. Not retryable.
	Configuration = Namespace.NewType("configuration")

	// Concurrency is reported when the database is not in the state a step
	// expected, usually because another process migrated it in between.
	// Re-running the whole operation is safe.
	Concurrency = Namespace.NewType("concurrency")

	// Script is reported when a structural or data script fails.
	Script = Namespace.NewType("script")

	// Transition is reported when the recorded version does not match the
	// target of a step after the step was re-stamped.
	Transition = Namespace.NewType("transition")

	// Metadata is reported when stored version metadata cannot be decoded.
	Metadata = Namespace.NewType("metadata")
)

// Is reports whether err is of kind t.
func Is(err error, t *errorx.Type) bool {
	return errorx.IsOfType(err, t)
}
