// Package format defines the source-format handler contract used by the
// dispatcher. A Handler turns source text into a generic tree, may rewrite
// template syntax before compilation, may reshape rendered output and derives
// metadata that is merged into every reply.
//
// Variants live under internal/formats and are registered by name in a
// Registry; a Factory instantiates them lazily against a configuration
// snapshot.
package format
