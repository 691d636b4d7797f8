// Package process runs external processes for build rules.
//
// A Process names its argv, environment and an input tree by digest. The
// LocalExecutor materializes that tree into a fresh sandbox directory, runs
// the command there and captures the declared outputs back into the store.
// A non-zero exit is a value, not an error: rules decide what a failure
// means, typically through Result.Check.
//
// CachingExecutor wraps any Executor with an action cache keyed by the
// canonical digest of the Process.
package process
