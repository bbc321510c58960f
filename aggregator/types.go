// Package aggregator implements the Pool Aggregator: a link graph over
// concrete pools, a planner that turns a link graph into an ordered
// placement plan, and an asynchronous execution engine that carries
// plans out against real pools (§3 "Aggregator model", §4.F, §4.G).
package aggregator

import (
	"time"

	"github.com/sndnv/syn-storage/storage"
)

// Action is the effect a Link has on an entity as it crosses an edge of
// the link graph (§4.F).
type Action int

const (
	ActionInvalid Action = iota
	ActionCopy
	ActionMove
	ActionDiscard
	ActionDistribute
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCopy:
		return "COPY"
	case ActionMove:
		return "MOVE"
	case ActionDiscard:
		return "DISCARD"
	case ActionDistribute:
		return "DISTRIBUTE"
	case ActionSkip:
		return "SKIP"
	default:
		return "INVALID"
	}
}

// Condition gates whether a Link fires, evaluated against the source
// pool, target pool and the size of the data being placed (§4.F).
type Condition int

const (
	ConditionNone Condition = iota
	ConditionTimed
	ConditionSourceMinFull
	ConditionSourceMaxFull
	ConditionTargetMinFull
	ConditionTargetMaxFull
	ConditionSourceMinEntities
	ConditionSourceMaxEntities
	ConditionTargetMinEntities
	ConditionTargetMaxEntities
	ConditionDataMinSize
	ConditionDataMaxSize
)

// Link is one directed edge of the link graph: source is implicit (the
// map key it is stored under), target is the destination pool.
type Link struct {
	Target         storage.PoolID
	Action         Action
	Condition      Condition
	ConditionValue int64
}

// PlainAction is the step kind produced by unwind: either place data at
// a pool (Copy) or remove it from one (Remove).
type PlainAction int

const (
	PlainCopy PlainAction = iota
	PlainRemove
)

func (a PlainAction) String() string {
	if a == PlainRemove {
		return "remove"
	}
	return "copy"
}

// PlainStep is one entry of an unwound execution plan (§4.F).
type PlainStep struct {
	Action       PlainAction
	Source       storage.PoolID
	Target       storage.PoolID // zero (InvalidPoolID) for Remove
	DelaySeconds int64
}

// pendingAction is a scheduled deferred step awaiting its run_at time
// (§3 "pending_actions").
type pendingAction struct {
	entityID storage.EntityID
	step     PlainStep
	runAt    time.Time
}

// percentFull computes (size - free) * 100 / size, the metric every
// *_FULL condition is evaluated against (§4.F).
func percentFull(p storage.Pool) int64 {
	size := int64(p.Size())
	if size == 0 {
		return 0
	}
	free := int64(p.FreeSpace())
	return (size - free) * 100 / size
}
