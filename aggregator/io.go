package aggregator

import (
	"fmt"
	"time"

	"github.com/sndnv/syn-storage/external/authz"
	"github.com/sndnv/syn-storage/storage"
)

// PersistentLink is one export/import-stable edge of the link graph:
// pools are referenced by UUID rather than by the ephemeral local
// PoolID assigned at AddPool time (§4.H).
type PersistentLink struct {
	Target         storage.PoolUUID
	Action         Action
	Condition      Condition
	ConditionValue int64
}

// Configuration holds an aggregator's settings, counters, pool UUIDs and
// links (§4.H exported_configuration). Links holds only the links whose
// source is a registered pool; links leaving the aggregator root are not
// part of it.
type Configuration struct {
	WorkerPoolSize          int
	CompleteRetrieve        bool
	CompleteDiscard         bool
	CompletePendingStore    bool
	EraseOnDiscard          bool
	CancelActionsOnShutdown bool
	MaxNonStreamableData    uint64

	UUID            storage.PoolUUID
	Mode            storage.Mode
	BytesRead       uint64
	BytesWritten    uint64
	LastEntityID    uint32
	StreamingPoolID storage.PoolUUID // zero value means none configured

	PoolUUIDs []storage.PoolUUID
	Links     map[storage.PoolUUID][]PersistentLink
}

// ExportConfiguration captures the fields in Configuration for
// rebuilding this aggregator against a fresh, caller-supplied pool set
// (§4.H). Links leaving the aggregator root are not exported, so an
// aggregator rebuilt by ImportConfiguration has no root links.
func (a *Aggregator) ExportConfiguration() Configuration {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := Configuration{
		WorkerPoolSize:          a.executor.workerCount,
		CompleteRetrieve:        a.completeRetrieve,
		CompleteDiscard:         a.completeDiscard,
		CompletePendingStore:    a.completePendingStore,
		EraseOnDiscard:          a.eraseOnDiscard,
		CancelActionsOnShutdown: a.cancelActionsOnShutdown,
		MaxNonStreamableData:    a.maxNonStreamableData,
		UUID:                    a.id,
		Mode:                    a.mode,
		BytesRead:               a.bytesReadCnt,
		BytesWritten:            a.bytesWritCnt,
		LastEntityID:            a.lastEntityID,
		Links:                   make(map[storage.PoolUUID][]PersistentLink),
	}
	if a.streamingPoolID != storage.InvalidPoolID {
		cfg.StreamingPoolID = a.pools[a.streamingPoolID].UUID()
	}

	for id, pool := range a.pools {
		cfg.PoolUUIDs = append(cfg.PoolUUIDs, pool.UUID())
		var edges []PersistentLink
		for _, link := range a.links[id] {
			edges = append(edges, PersistentLink{
				Target:         a.pools[link.Target].UUID(),
				Action:         link.Action,
				Condition:      link.Condition,
				ConditionValue: link.ConditionValue,
			})
		}
		if edges != nil {
			cfg.Links[pool.UUID()] = edges
		}
	}

	return cfg
}

// ImportConfiguration resets this aggregator's scalar fields from cfg
// and rebuilds its link graph against pools, resolving UUIDs to
// freshly-assigned local PoolIDs. Every link target named in cfg must
// be present in pools (§4.H). The aggregator must be empty of
// registered pools before calling this. principal/password are checked
// against OpImportConfiguration when an authz provider is installed.
func (a *Aggregator) ImportConfiguration(principal, password string, cfg Configuration, pools map[storage.PoolUUID]storage.Pool) error {
	const op = "Aggregator.ImportConfiguration"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpImportConfiguration); err != nil {
		return err
	}
	if len(a.pools) > 0 {
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("aggregator already has registered pools"))
	}

	localByUUID := make(map[storage.PoolUUID]storage.PoolID, len(cfg.PoolUUIDs))
	for _, u := range cfg.PoolUUIDs {
		pool, ok := pools[u]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pool %s referenced in configuration was not supplied", u))
		}
		id := a.nextPoolID
		a.nextPoolID++
		a.pools[id] = pool
		a.links[id] = nil
		localByUUID[u] = id
	}

	for sourceUUID, edges := range cfg.Links {
		sourceID, ok := localByUUID[sourceUUID]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("link source %s not among imported pools", sourceUUID))
		}
		seen := make(map[storage.PoolID]bool)
		for _, edge := range edges {
			targetID, ok := localByUUID[edge.Target]
			if !ok {
				return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("link target %s does not exist", edge.Target))
			}
			if seen[targetID] {
				return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("duplicate link %s -> %s", sourceUUID, edge.Target))
			}
			seen[targetID] = true
			a.links[sourceID] = append(a.links[sourceID], Link{
				Target:         targetID,
				Action:         edge.Action,
				Condition:      edge.Condition,
				ConditionValue: edge.ConditionValue,
			})
		}
	}

	if cfg.StreamingPoolID != (storage.PoolUUID{}) {
		id, ok := localByUUID[cfg.StreamingPoolID]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("streaming pool %s not among imported pools", cfg.StreamingPoolID))
		}
		a.streamingPoolID = id
	}

	a.completeRetrieve = cfg.CompleteRetrieve
	a.completeDiscard = cfg.CompleteDiscard
	a.completePendingStore = cfg.CompletePendingStore
	a.eraseOnDiscard = cfg.EraseOnDiscard
	a.cancelActionsOnShutdown = cfg.CancelActionsOnShutdown
	a.maxNonStreamableData = cfg.MaxNonStreamableData
	a.id = cfg.UUID
	a.mode = cfg.Mode
	a.bytesReadCnt = cfg.BytesRead
	a.bytesWritCnt = cfg.BytesWritten
	a.lastEntityID = cfg.LastEntityID

	a.recomputeUsableSpaceLocked()
	return nil
}

// EntityIDData is one (aggregatorEntityID, poolEntityID) pair within a
// single pool's share of id_map, keyed externally by that pool's UUID
// (§4.H).
type EntityIDData struct {
	AggregatorEntityID storage.EntityID
	PoolEntityID       storage.EntityID
}

// PoolEntityIDData is EntityIDData with the owning pool named
// explicitly, used by the per-entity export/import variants.
type PoolEntityIDData struct {
	Pool   storage.PoolUUID
	Entity storage.EntityID
}

// ExportIDData returns the full id_map, grouped by pool UUID (§4.H).
func (a *Aggregator) ExportIDData() map[storage.PoolUUID][]EntityIDData {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[storage.PoolUUID][]EntityIDData)
	for entityID, placements := range a.idMap {
		for _, pl := range placements {
			pool, ok := a.pools[pl.pool]
			if !ok {
				continue
			}
			u := pool.UUID()
			out[u] = append(out[u], EntityIDData{AggregatorEntityID: entityID, PoolEntityID: pl.localID})
		}
	}
	return out
}

// ExportIDDataForPool returns only the id_map slice belonging to pool.
func (a *Aggregator) ExportIDDataForPool(pool storage.PoolID) []EntityIDData {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []EntityIDData
	for entityID, placements := range a.idMap {
		for _, pl := range placements {
			if pl.pool == pool {
				out = append(out, EntityIDData{AggregatorEntityID: entityID, PoolEntityID: pl.localID})
			}
		}
	}
	return out
}

// ExportIDDataForEntity returns every (pool, local id) placement for a
// single aggregator entity.
func (a *Aggregator) ExportIDDataForEntity(entity storage.EntityID) []PoolEntityIDData {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []PoolEntityIDData
	for _, pl := range a.idMap[entity] {
		if pool, ok := a.pools[pl.pool]; ok {
			out = append(out, PoolEntityIDData{Pool: pool.UUID(), Entity: pl.localID})
		}
	}
	return out
}

// ImportIDData rebuilds id_map from a full export, resolving pool
// UUIDs against pools currently registered with this aggregator. When
// verify is true, each referenced entity must exist with non-zero size
// in its pool (§4.H).
func (a *Aggregator) ImportIDData(data map[storage.PoolUUID][]EntityIDData, verify bool) error {
	const op = "Aggregator.ImportIDData"
	a.mu.Lock()
	defer a.mu.Unlock()

	uuidToLocal := make(map[storage.PoolUUID]storage.PoolID, len(a.pools))
	for id, pool := range a.pools {
		uuidToLocal[pool.UUID()] = id
	}

	for poolUUID, entries := range data {
		localID, ok := uuidToLocal[poolUUID]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pool %s is not registered", poolUUID))
		}
		pool := a.pools[localID]
		for _, e := range entries {
			if verify {
				size, ok := pool.EntitySize(e.PoolEntityID)
				if !ok || size == 0 {
					return storage.NewError(op, storage.KindConfigurationError,
						fmt.Errorf("pool %s has no non-zero entity %d", poolUUID, e.PoolEntityID))
				}
			}
			a.idMap[e.AggregatorEntityID] = append(a.idMap[e.AggregatorEntityID], placement{pool: localID, localID: e.PoolEntityID})
		}
	}

	a.recomputeUsableSpaceLocked()
	return nil
}

// ImportIDDataForPool is ImportIDData restricted to a single, already
// locally-resolved pool.
func (a *Aggregator) ImportIDDataForPool(pool storage.PoolID, entries []EntityIDData, verify bool) error {
	const op = "Aggregator.ImportIDDataForPool"
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[pool]
	if !ok {
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pool %d is not registered", pool))
	}
	for _, e := range entries {
		if verify {
			size, ok := p.EntitySize(e.PoolEntityID)
			if !ok || size == 0 {
				return storage.NewError(op, storage.KindConfigurationError,
					fmt.Errorf("pool %d has no non-zero entity %d", pool, e.PoolEntityID))
			}
		}
		a.idMap[e.AggregatorEntityID] = append(a.idMap[e.AggregatorEntityID], placement{pool: pool, localID: e.PoolEntityID})
	}
	a.recomputeUsableSpaceLocked()
	return nil
}

// ImportIDDataForEntity replaces a single entity's placement list.
func (a *Aggregator) ImportIDDataForEntity(entity storage.EntityID, entries []PoolEntityIDData, verify bool) error {
	const op = "Aggregator.ImportIDDataForEntity"
	a.mu.Lock()
	defer a.mu.Unlock()

	uuidToLocal := make(map[storage.PoolUUID]storage.PoolID, len(a.pools))
	for id, pool := range a.pools {
		uuidToLocal[pool.UUID()] = id
	}

	placements := make([]placement, 0, len(entries))
	for _, e := range entries {
		localID, ok := uuidToLocal[e.Pool]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pool %s is not registered", e.Pool))
		}
		if verify {
			size, ok := a.pools[localID].EntitySize(e.Entity)
			if !ok || size == 0 {
				return storage.NewError(op, storage.KindConfigurationError,
					fmt.Errorf("pool %s has no non-zero entity %d", e.Pool, e.Entity))
			}
		}
		placements = append(placements, placement{pool: localID, localID: e.Entity})
	}

	a.idMap[entity] = placements
	a.recomputeUsableSpaceLocked()
	return nil
}

// PendingActionData is one persisted pending_actions entry, with pools
// named by UUID for portability across process restarts (§4.H).
type PendingActionData struct {
	AggregatorEntityID storage.EntityID
	Action             PlainAction
	Source             storage.PoolUUID
	Target             storage.PoolUUID // zero value for Remove
	ProcessingTime     time.Time
}

// ExportPendingActions returns the current pending_actions list. When
// discard is true, the exported entries are also removed from the
// aggregator (and their pending_count entries cleared).
func (a *Aggregator) ExportPendingActions(discard bool) []PendingActionData {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PendingActionData, 0, len(a.pendingActions))
	for _, pa := range a.pendingActions {
		var targetUUID storage.PoolUUID
		if pa.step.Target != storage.InvalidPoolID {
			if p, ok := a.pools[pa.step.Target]; ok {
				targetUUID = p.UUID()
			}
		}
		var sourceUUID storage.PoolUUID
		if p, ok := a.pools[pa.step.Source]; ok {
			sourceUUID = p.UUID()
		}
		out = append(out, PendingActionData{
			AggregatorEntityID: pa.entityID,
			Action:             pa.step.Action,
			Source:             sourceUUID,
			Target:             targetUUID,
			ProcessingTime:     pa.runAt,
		})
	}

	if discard {
		a.pendingActions = nil
		a.pendingCount = make(map[storage.EntityID]int)
	}

	return out
}

// ImportPendingActions loads a previously exported pending_actions
// list. Rejected if this aggregator already has pending actions
// (§4.H).
func (a *Aggregator) ImportPendingActions(actions []PendingActionData) error {
	const op = "Aggregator.ImportPendingActions"
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pendingActions) > 0 {
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pending actions already present"))
	}

	uuidToLocal := make(map[storage.PoolUUID]storage.PoolID, len(a.pools))
	for id, pool := range a.pools {
		uuidToLocal[pool.UUID()] = id
	}

	var earliest time.Time
	havePending := false
	for _, data := range actions {
		sourceID, ok := uuidToLocal[data.Source]
		if !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pending action source %s is not registered", data.Source))
		}
		targetID := storage.InvalidPoolID
		if data.Target != (storage.PoolUUID{}) {
			targetID, ok = uuidToLocal[data.Target]
			if !ok {
				return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("pending action target %s is not registered", data.Target))
			}
		}

		a.pendingActions = append(a.pendingActions, pendingAction{
			entityID: data.AggregatorEntityID,
			step:     PlainStep{Action: data.Action, Source: sourceID, Target: targetID},
			runAt:    data.ProcessingTime,
		})
		a.pendingCount[data.AggregatorEntityID]++
		if !havePending || data.ProcessingTime.Before(earliest) {
			earliest = data.ProcessingTime
			havePending = true
		}
	}

	if havePending {
		a.executor.scheduleAt(earliest, a.processPendingActions)
	}
	return nil
}
