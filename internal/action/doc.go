// Package action resolves logical action paths to handlers and runs them.
//
// A logical path such as "Utils/RemoveNonAsciiChars" is resolved by the
// Registry in three steps:
//   - pick a root: a registered path alias (first path segment) or the default root
//   - read the action definition file "<root>/<rest>.hcl"
//   - bind the definition to a handler factory registered at startup
//
// Resolution results are cached as Descriptors, which are read-only and safe to
// share. Every call runs in a fresh Execution that owns the arguments, the
// result and (in debug mode) the timing that observers receive as a Record.
package action
