// Package storage defines the pool contract shared by every storage
// backend in the tiered storage engine (disk, memory, and the aggregator
// itself), along with the identifiers, enums, and error taxonomy that
// cross backend boundaries.
package storage

import (
	"github.com/google/uuid"
)

// EntityID is an opaque, globally-unique (per pool, or per aggregator)
// identifier for a stored blob. The zero value is reserved as invalid.
type EntityID uint32

// InvalidEntityID is the reserved sentinel meaning "no entity".
const InvalidEntityID EntityID = 0

// Valid reports whether the ID is anything other than the sentinel.
func (id EntityID) Valid() bool { return id != InvalidEntityID }

// PoolID is an aggregator-local handle for a registered pool. The zero
// value is reserved for "no pool" and RootPoolID is reserved for the
// aggregator itself, the root of its link graph.
type PoolID uint32

// InvalidPoolID is the reserved sentinel meaning "no pool".
const InvalidPoolID PoolID = 0

// RootPoolID identifies the aggregator's own node in its link graph.
const RootPoolID PoolID = 1

// Valid reports whether the ID is anything other than the sentinel.
func (id PoolID) Valid() bool { return id != InvalidPoolID }

// PoolUUID is the persistent, on-disk identity of a pool, stored as the
// canonical 8-4-4-4-12 hyphenated hexadecimal form.
type PoolUUID = uuid.UUID

// NewPoolUUID generates a fresh random pool identity.
func NewPoolUUID() PoolUUID { return uuid.New() }

// ParsePoolUUID parses the canonical textual form of a pool UUID.
func ParsePoolUUID(s string) (PoolUUID, error) { return uuid.Parse(s) }

// Size is a byte count. It is kept as a 64-bit value at the API boundary
// even though the on-disk format truncates every size and address to 32
// bits (§3/§6): the wider type lets non-disk pools (memory, nested
// aggregators) exceed the 4 GiB ceiling the wire format imposes.
type Size uint64

// PoolType identifies the concrete kind of a pool.
type PoolType int

const (
	PoolTypeInvalid PoolType = iota
	PoolTypeDisk
	PoolTypeMemory
	PoolTypeAggregate
)

func (t PoolType) String() string {
	switch t {
	case PoolTypeDisk:
		return "DISK"
	case PoolTypeMemory:
		return "MEMORY"
	case PoolTypeAggregate:
		return "AGGREGATE"
	default:
		return "INVALID"
	}
}

// State is the lifecycle state machine shared by every pool (§4.C).
type State int

const (
	StateInvalid State = iota
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "INVALID"
	}
}

// Mode governs whether a pool accepts mutations.
type Mode int

const (
	ModeInvalid Mode = iota
	ModeReadWrite
	ModeReadOnly
)

func (m Mode) String() string {
	switch m {
	case ModeReadWrite:
		return "READ_WRITE"
	case ModeReadOnly:
		return "READ_ONLY"
	default:
		return "INVALID"
	}
}
