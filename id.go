package colloquy

import "github.com/xraph/colloquy/id"

// ID is the primary identifier type for all Colloquy entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
