// Package blueprint defines the shape descriptions exchanged between the
// station and its clients.
//
// A blueprint describes what a remote object looks like, never what it
// currently holds. Four variants exist, each tagged with a "type"
// discriminant on the wire:
//
//   - ParameterBlueprint ("parameter"): a gettable and/or settable value with a unit
//   - MethodBlueprint ("method"): a callable member and its argument kinds
//   - ModuleBlueprint ("module"): an instrument or submodule, recursively
//   - ChangeEvent ("broadcast"): a notification published after a mutation
//
// Blueprints are value objects. They are built fresh by the station on
// every request that could observe a shape change, and replaced wholesale
// by clients; nothing in this package mutates a blueprint after decoding.
//
// # Paths
//
// Every blueprint carries a dotted path rooted at an instrument name,
// e.g. "dmm.ch1.voltage". Path helpers live in path.go.
//
// # Encoding
//
// Encode produces deterministic JSON (struct field order, sorted map keys),
// so encode→decode→encode is byte-identical. Decode peeks the discriminant
// and returns the matching concrete type.
package blueprint
