package aggregator

import (
	"fmt"

	"github.com/sndnv/syn-storage/storage"
)

// ErrInsufficientSpace is returned by unwind when a COPY or MOVE target
// (or the target of a SKIP edge acting as COPY) cannot hold the data
// being planned for.
var ErrInsufficientSpace = fmt.Errorf("target pool does not have enough free space")

// ErrNoDistributionTarget is returned by unwind when every DISTRIBUTE
// edge at a level is either unreachable or unable to fit the data.
var ErrNoDistributionTarget = fmt.Errorf("no suitable distribution target found")

// conditionHolds evaluates a link's condition against the source pool,
// target pool and candidate data size (§4.F). Percent-full and
// entity-count conditions are read straight off the pool's own getters;
// NONE and TIMED always hold, since TIMED only ever gates delay, not
// whether the step runs.
func (a *Aggregator) conditionHolds(link Link, source storage.PoolID, dataSize storage.Size) bool {
	switch link.Condition {
	case ConditionNone, ConditionTimed:
		return true
	case ConditionSourceMinFull:
		return percentFull(a.poolForCondition(source)) >= link.ConditionValue
	case ConditionSourceMaxFull:
		return percentFull(a.poolForCondition(source)) <= link.ConditionValue
	case ConditionTargetMinFull:
		return percentFull(a.poolForCondition(link.Target)) >= link.ConditionValue
	case ConditionTargetMaxFull:
		return percentFull(a.poolForCondition(link.Target)) <= link.ConditionValue
	case ConditionSourceMinEntities:
		return int64(a.poolForCondition(source).EntitiesCount()) >= link.ConditionValue
	case ConditionSourceMaxEntities:
		return int64(a.poolForCondition(source).EntitiesCount()) <= link.ConditionValue
	case ConditionTargetMinEntities:
		return int64(a.poolForCondition(link.Target).EntitiesCount()) >= link.ConditionValue
	case ConditionTargetMaxEntities:
		return int64(a.poolForCondition(link.Target).EntitiesCount()) <= link.ConditionValue
	case ConditionDataMinSize:
		return int64(dataSize) >= link.ConditionValue
	case ConditionDataMaxSize:
		return int64(dataSize) <= link.ConditionValue
	default:
		return false
	}
}

// poolForCondition resolves a PoolID to a concrete pool for condition
// evaluation. The aggregator root has no size/free-space of its own;
// treated as permanently empty so SOURCE_* conditions attached to a
// root-originated link never panic on a nil pool.
func (a *Aggregator) poolForCondition(id storage.PoolID) storage.Pool {
	if id == storage.RootPoolID {
		return emptyRootPool{}
	}
	return a.pools[id]
}

func linkDelay(link Link) int64 {
	if link.Condition == ConditionTimed {
		return link.ConditionValue
	}
	return 0
}

// unwindLocked plans placement of dataSize bytes starting at root,
// walking the link graph depth-first (§4.F). Caller must hold a.mu.
func (a *Aggregator) unwindLocked(root storage.PoolID, dataSize storage.Size) ([]PlainStep, error) {
	visited := make(map[storage.PoolID]bool)
	return a.unwindNodeLocked(root, dataSize, visited)
}

func (a *Aggregator) unwindNodeLocked(source storage.PoolID, dataSize storage.Size, visited map[storage.PoolID]bool) ([]PlainStep, error) {
	visited[source] = true

	var steps []PlainStep
	var distributeEdges []Link

	for _, link := range a.links[source] {
		if visited[link.Target] {
			continue
		}

		holds := a.conditionHolds(link, source, dataSize)
		isSkip := link.Action == ActionSkip
		if !((holds && !isSkip) || (!holds && isSkip)) {
			continue
		}
		delay := linkDelay(link)

		switch link.Action {
		case ActionSkip, ActionCopy:
			if !a.pools[link.Target].CanStore(dataSize) {
				return nil, ErrInsufficientSpace
			}
			steps = append(steps, PlainStep{Action: PlainCopy, Source: source, Target: link.Target, DelaySeconds: delay})

		case ActionDiscard:
			if source != storage.RootPoolID {
				steps = append(steps, PlainStep{Action: PlainRemove, Source: source, DelaySeconds: delay})
			}
			continue

		case ActionDistribute:
			distributeEdges = append(distributeEdges, link)
			continue

		case ActionMove:
			if !a.pools[link.Target].CanStore(dataSize) {
				return nil, ErrInsufficientSpace
			}
			steps = append(steps, PlainStep{Action: PlainCopy, Source: source, Target: link.Target, DelaySeconds: delay})
			if source != storage.RootPoolID {
				steps = append(steps, PlainStep{Action: PlainRemove, Source: source, DelaySeconds: delay})
			}

		default:
			continue
		}

		sub, err := a.unwindNodeLocked(link.Target, dataSize, visited)
		if err != nil {
			return nil, err
		}
		for i := range sub {
			sub[i].DelaySeconds += delay
		}
		steps = append(steps, sub...)
	}

	if len(distributeEdges) > 0 {
		best, ok := selectDistributionTarget(a, distributeEdges, dataSize)
		if !ok {
			return nil, ErrNoDistributionTarget
		}
		delay := linkDelay(best)

		sub, err := a.unwindNodeLocked(best.Target, dataSize, visited)
		if err != nil {
			return nil, err
		}
		for i := range sub {
			sub[i].DelaySeconds += delay
		}

		// Distribution is emitted first, ahead of the recursive steps.
		head := []PlainStep{{Action: PlainCopy, Source: source, Target: best.Target, DelaySeconds: delay}}
		steps = append(head, append(steps, sub...)...)
	}

	return steps, nil
}

// selectDistributionTarget picks, among candidate DISTRIBUTE edges, the
// target pool with the least used bytes that can still fit dataSize
// (§4.F).
func selectDistributionTarget(a *Aggregator, edges []Link, dataSize storage.Size) (Link, bool) {
	var best Link
	var bestUsed uint64
	found := false

	for _, link := range edges {
		target, ok := a.pools[link.Target]
		if !ok || !target.CanStore(dataSize) {
			continue
		}
		used := uint64(target.Size()) - uint64(target.FreeSpace())
		if !found || used < bestUsed {
			best = link
			bestUsed = used
			found = true
		}
	}
	return best, found
}

// usableSpaceLocked mirrors unwind without generating steps: it sums
// the free space of the targets of root's own COPY and DISTRIBUTE edges,
// and of its SKIP edges whose condition does not hold (those behave as
// COPY). MOVE-transitive chains do not amplify capacity,
// since the data only ever exists at its current resting place.
func (a *Aggregator) usableSpaceLocked(root storage.PoolID) storage.Size {
	visited := make(map[storage.PoolID]bool)
	return a.usableSpaceNodeLocked(root, visited)
}

func (a *Aggregator) usableSpaceNodeLocked(source storage.PoolID, visited map[storage.PoolID]bool) storage.Size {
	visited[source] = true
	var total storage.Size

	for _, link := range a.links[source] {
		if visited[link.Target] {
			continue
		}
		target, ok := a.pools[link.Target]
		if !ok {
			continue
		}

		switch link.Action {
		case ActionCopy, ActionDistribute:
			total += target.FreeSpace()
		case ActionSkip:
			if !a.conditionHolds(link, source, 0) {
				total += target.FreeSpace()
			}
		default:
			continue
		}
	}
	return total
}

// emptyRootPool is a zero-value storage.Pool stand-in for the
// aggregator root, used only so condition evaluation never
// dereferences a nil pool when a link originates at the root.
type emptyRootPool struct{}

func (emptyRootPool) Retrieve(storage.EntityID) ([]byte, error)          { return nil, storage.ErrUnsupportedOperation }
func (emptyRootPool) Store([]byte) (storage.EntityID, error)             { return storage.InvalidEntityID, storage.ErrUnsupportedOperation }
func (emptyRootPool) Discard(storage.EntityID, bool) error                { return storage.ErrUnsupportedOperation }
func (emptyRootPool) Clear() error                                        { return storage.ErrUnsupportedOperation }
func (emptyRootPool) GetInputStream(storage.EntityID) (storage.InputStream, error) {
	return nil, storage.ErrUnsupportedOperation
}
func (emptyRootPool) GetOutputStream(storage.Size) (storage.OutputStream, error) {
	return nil, storage.ErrUnsupportedOperation
}
func (emptyRootPool) PoolType() storage.PoolType          { return storage.PoolTypeAggregate }
func (emptyRootPool) UUID() storage.PoolUUID              { return storage.PoolUUID{} }
func (emptyRootPool) Size() storage.Size                  { return 0 }
func (emptyRootPool) FreeSpace() storage.Size             { return 0 }
func (emptyRootPool) EntitiesCount() uint32               { return 0 }
func (emptyRootPool) CanStore(storage.Size) bool          { return false }
func (emptyRootPool) EntitySize(storage.EntityID) (storage.Size, bool) { return 0, false }
func (emptyRootPool) PoolOverhead() storage.Size          { return 0 }
func (emptyRootPool) EntityOverhead() storage.Size        { return 0 }
func (emptyRootPool) SupportsInputStreams() bool          { return false }
func (emptyRootPool) SupportsOutputStreams() bool         { return false }
func (emptyRootPool) BytesRead() uint64                   { return 0 }
func (emptyRootPool) BytesWritten() uint64                { return 0 }
func (emptyRootPool) Mode() storage.Mode                  { return storage.ModeReadOnly }
func (emptyRootPool) State() storage.State                { return storage.StateOpen }
