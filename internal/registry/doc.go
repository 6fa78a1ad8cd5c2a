// Package registry implements the Attribute Registry: the governed vocabulary of
// key/value attributes that classify patterns.
//
// An attribute is identified by its (key, value) pair. The registry guarantees
// that every pair a pattern references exists, and refuses to remove a pair while
// any pattern still references it.
//
// # Operations
//
//   - Define: add a new pair with an optional description; a duplicate pair is a conflict
//   - Remove: delete a pair; rejected with service.ErrInUse while referenced
//   - Resolve: report whether a pair exists
//   - ResolveAll: validate a full attribute set before a pattern is written
//   - List: every defined attribute ordered by key, then value
//
// Keys and values are trimmed. Keys are lower-cased and limited to letters, digits,
// '-', '_', '.' and '/', so "Env" and "env" name the same key.
//
//	reg := registry.New(store)
//	attr, err := reg.Define(ctx, "env", "prod", "production workloads")
//	...
//	err = reg.ResolveAll(ctx, []service.AttributeRef{{Key: "env", Value: "prod"}})
package registry
