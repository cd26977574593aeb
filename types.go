package regrow

import (
	"regrow.dev/regrow/internal/artifact"
	"regrow.dev/regrow/internal/defs"
	"regrow.dev/regrow/internal/registry"
	"regrow.dev/regrow/internal/snapshot"
	"regrow.dev/regrow/internal/syntax"
	"regrow.dev/regrow/internal/watch"
)

// Public type aliases for internal types used in the Session API.
// These are Go type aliases (=), identical to the internal types at
// compile time. External consumers use these names; no conversion is
// needed.

type Node = syntax.Node
type ParseError = syntax.ParseError
type Handle = defs.Handle
type Signature = defs.Signature
type Map = defs.Map
type Bundle = defs.Bundle
type Entry = defs.Entry
type Realizer = defs.Realizer
type StaticRealizer = defs.StaticRealizer
type RealizeError = defs.RealizeError
type Unit = registry.Unit
type TrackedFile = registry.File
type CacheReadError = registry.CacheReadError
type ManifestRecord = artifact.Record
type FileSnapshot = snapshot.FileSnapshot
type Waiter = watch.Waiter
