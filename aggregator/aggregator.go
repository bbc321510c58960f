package aggregator

import (
	"fmt"
	"sync"
	"time"

	"github.com/sndnv/syn-storage/config"
	"github.com/sndnv/syn-storage/external/auditlog"
	"github.com/sndnv/syn-storage/external/authz"
	"github.com/sndnv/syn-storage/logger"
	"github.com/sndnv/syn-storage/storage"
)

// placement is one entry of id_map[entityID]: the pool an aggregator
// entity currently occupies, and its local ID within that pool (§3).
type placement struct {
	pool    storage.PoolID
	localID storage.EntityID
}

// Aggregator is the Pool Aggregator (§3 "Aggregator model", §4.G): a
// link graph over caller-owned pools, with asynchronous store/placement
// execution. Aggregator itself implements storage.Pool, so aggregators
// may be nested as another aggregator's target pool.
type Aggregator struct {
	mu sync.Mutex

	id    storage.PoolUUID
	state storage.State
	mode  storage.Mode

	pools      map[storage.PoolID]storage.Pool
	links      map[storage.PoolID][]Link
	nextPoolID storage.PoolID

	idMap        map[storage.EntityID][]placement
	lastEntityID uint32

	pendingActions []pendingAction
	pendingCount   map[storage.EntityID]int

	streamingPoolID storage.PoolID

	usableSpace  storage.Size
	bytesReadCnt uint64
	bytesWritCnt uint64

	eraseOnDiscard          bool
	cancelActionsOnShutdown bool
	completeRetrieve        bool
	completeDiscard         bool
	completePendingStore    bool
	maxNonStreamableData    uint64

	executor *taskExecutor

	authProvider *authz.Provider
	failureLog   *auditlog.Logger
}

// New creates an empty aggregator configured from cfg (§4.H export
// fields, minus the ones that only matter once pools/links exist).
func New(cfg *config.Config) *Aggregator {
	a := &Aggregator{
		id:                      storage.NewPoolUUID(),
		state:                   storage.StateOpen,
		mode:                    storage.ModeReadWrite,
		pools:                   make(map[storage.PoolID]storage.Pool),
		links:                   make(map[storage.PoolID][]Link),
		nextPoolID:              storage.RootPoolID + 1,
		idMap:                   make(map[storage.EntityID][]placement),
		pendingCount:            make(map[storage.EntityID]int),
		eraseOnDiscard:          cfg.EraseOnDiscard,
		cancelActionsOnShutdown: cfg.CancelActionsOnShutdown,
		completeRetrieve:        cfg.CompleteRetrieve,
		completeDiscard:         cfg.CompleteDiscard,
		completePendingStore:    cfg.CompletePendingStore,
		maxNonStreamableData:    cfg.MaxNonStreamableData,
		executor:                newTaskExecutor(cfg.WorkerPoolSize),
	}
	a.links[storage.RootPoolID] = nil
	a.executor.start()
	return a
}

// Shutdown stops the worker pool (§5 cancellation). When the
// aggregator was configured with cancel_actions_on_shutdown, queued
// work is dropped; otherwise Shutdown waits for everything already
// queued to finish. Pending actions that are not yet due are not run in
// either case.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	a.state = storage.StateClosed
	a.mu.Unlock()
	a.executor.stop(a.cancelActionsOnShutdown)
}

// SetAuthProvider installs the credential provider that gates the
// administrative operations below (§4.G administration). A nil
// provider — the default — disables the check entirely, which matches
// single-process use with no authentication collaborator configured.
func (a *Aggregator) SetAuthProvider(p *authz.Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authProvider = p
}

// SetFailureLog installs the durable log that asynchronous plan and
// pending-action failures are recorded against (§4.G "Plan execution").
// A nil log — the default — leaves those failures visible only through
// the engine's own logger.
func (a *Aggregator) SetFailureLog(l *auditlog.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failureLog = l
}

// authorizeLocked checks principal/password against op when an
// authz.Provider has been installed; it is a no-op otherwise. Caller
// holds a.mu.
func (a *Aggregator) authorizeLocked(op string, principal, password string, scope authz.Operation) error {
	if a.authProvider == nil {
		return nil
	}
	if err := a.authProvider.Authorize(principal, password, scope); err != nil {
		return storage.NewError(op, storage.KindUnauthorized, err)
	}
	return nil
}

// recordFailureLocked best-effort persists an asynchronous failure to
// the installed failure log, if any. Errors writing the log itself are
// only surfaced through the engine's own logger: a broken audit trail
// must never compound the failure it was trying to record.
func (a *Aggregator) recordFailureLocked(entityID storage.EntityID, operation string, source, target storage.PoolID, cause error) {
	if a.failureLog == nil {
		return
	}
	if err := a.failureLog.Record(uint32(entityID), operation, a.poolLabelLocked(source), a.poolLabelLocked(target), cause.Error()); err != nil {
		logger.Error("aggregator: failed to record failure for entity %d: %v", entityID, err)
	}
}

// poolLabelLocked renders a pool's UUID for audit records, or "" for
// the aggregator root or an unknown local ID.
func (a *Aggregator) poolLabelLocked(id storage.PoolID) string {
	if id == storage.RootPoolID || id == storage.InvalidPoolID {
		return ""
	}
	if p, ok := a.pools[id]; ok {
		return p.UUID().String()
	}
	return ""
}

// --- Pool / link administration (§4.G) ---

// AddPool registers p and returns its freshly-assigned local PoolID.
// principal/password are checked against OpAddPool when an authz
// provider has been installed via SetAuthProvider.
func (a *Aggregator) AddPool(principal, password string, p storage.Pool) (storage.PoolID, error) {
	const op = "Aggregator.AddPool"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpAddPool); err != nil {
		return storage.InvalidPoolID, err
	}

	id := a.nextPoolID
	a.nextPoolID++
	a.pools[id] = p
	a.links[id] = nil
	a.recomputeUsableSpaceLocked()
	return id, nil
}

// RemovePool unregisters id, clearing its incoming/outgoing links and
// purging its entries from id_map (§4.G). principal/password are
// checked against OpRemovePool when an authz provider is installed.
func (a *Aggregator) RemovePool(principal, password string, id storage.PoolID) error {
	const op = "Aggregator.RemovePool"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpRemovePool); err != nil {
		return err
	}
	if _, ok := a.pools[id]; !ok {
		return storage.NewError(op, storage.KindNotFound, nil)
	}

	delete(a.pools, id)
	delete(a.links, id)
	for source, edges := range a.links {
		filtered := edges[:0]
		for _, e := range edges {
			if e.Target != id {
				filtered = append(filtered, e)
			}
		}
		a.links[source] = filtered
	}

	for entityID, placements := range a.idMap {
		filtered := placements[:0]
		for _, p := range placements {
			if p.pool != id {
				filtered = append(filtered, p)
			}
		}
		a.idMap[entityID] = filtered
	}

	if a.streamingPoolID == id {
		a.streamingPoolID = storage.InvalidPoolID
	}

	a.recomputeUsableSpaceLocked()
	return nil
}

// AddLink records a directed edge source -> link.Target. A given
// (source, target) pair may have at most one edge. principal/password
// are checked against OpAddLink when an authz provider is installed.
func (a *Aggregator) AddLink(principal, password string, source storage.PoolID, link Link) error {
	const op = "Aggregator.AddLink"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpAddLink); err != nil {
		return err
	}
	if source != storage.RootPoolID {
		if _, ok := a.pools[source]; !ok {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("unknown source pool %d", source))
		}
	}
	if _, ok := a.pools[link.Target]; !ok {
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("unknown target pool %d", link.Target))
	}
	for _, existing := range a.links[source] {
		if existing.Target == link.Target {
			return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("link %d -> %d already exists", source, link.Target))
		}
	}

	a.links[source] = append(a.links[source], link)
	a.recomputeUsableSpaceLocked()
	return nil
}

// RemoveLink deletes the source -> target edge, if any. principal/
// password are checked against OpRemoveLink when an authz provider is
// installed.
func (a *Aggregator) RemoveLink(principal, password string, source, target storage.PoolID) error {
	const op = "Aggregator.RemoveLink"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpRemoveLink); err != nil {
		return err
	}
	edges := a.links[source]
	for i, e := range edges {
		if e.Target == target {
			a.links[source] = append(edges[:i], edges[i+1:]...)
			a.recomputeUsableSpaceLocked()
			return nil
		}
	}
	return storage.NewError(op, storage.KindNotFound, nil)
}

// SetStreamingPool designates id as the pool that receives in-bound
// streams before they are fanned out by ReleaseStreamedData.
// principal/password are checked against OpSetStreamingPool when an
// authz provider is installed.
func (a *Aggregator) SetStreamingPool(principal, password string, id storage.PoolID) error {
	const op = "Aggregator.SetStreamingPool"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.authorizeLocked(op, principal, password, authz.OpSetStreamingPool); err != nil {
		return err
	}
	if _, ok := a.pools[id]; !ok {
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("unknown pool %d", id))
	}
	a.streamingPoolID = id
	return nil
}

func (a *Aggregator) recomputeUsableSpaceLocked() {
	a.usableSpace = a.usableSpaceLocked(storage.RootPoolID)
}

// --- storage.Pool: mutating operations ---

// Store plans placement for data and enqueues execution on the worker
// pool, returning the new entity's ID immediately (§4.G).
func (a *Aggregator) Store(data []byte) (storage.EntityID, error) {
	const op = "Aggregator.Store"
	a.mu.Lock()

	if a.state != storage.StateOpen {
		a.mu.Unlock()
		return storage.InvalidEntityID, storage.NewError(op, storage.KindNotOpen, nil)
	}
	if a.mode != storage.ModeReadWrite {
		a.mu.Unlock()
		return storage.InvalidEntityID, storage.NewError(op, storage.KindReadOnly, nil)
	}
	if len(data) == 0 {
		a.mu.Unlock()
		return storage.InvalidEntityID, storage.NewError(op, storage.KindConfigurationError, nil)
	}

	plan, err := a.unwindLocked(storage.RootPoolID, storage.Size(len(data)))
	if err != nil {
		a.mu.Unlock()
		return storage.InvalidEntityID, storage.NewError(op, storage.KindPlanFailure, err)
	}
	if len(plan) == 0 {
		a.mu.Unlock()
		return storage.InvalidEntityID, storage.NewError(op, storage.KindPlanFailure, fmt.Errorf("no valid placement for data of size %d", len(data)))
	}

	a.lastEntityID++
	id := storage.EntityID(a.lastEntityID)
	a.mu.Unlock()

	a.executor.submit(func() { a.executePlan(id, data, plan, nil) })
	return id, nil
}

// executePlan carries out plan under the aggregator's data mutex
// (§4.G "Plan execution"). rawData supplies the bytes for any step
// whose source is the aggregator root; initial lets a caller (e.g.
// ReleaseStreamedData) seed id_map with a placement that already
// exists before the plan runs.
func (a *Aggregator) executePlan(entityID storage.EntityID, rawData []byte, plan []PlainStep, initial []placement) {
	a.mu.Lock()
	defer a.mu.Unlock()

	placements := append([]placement(nil), initial...)

	var pending []pendingAction
	var earliest time.Time
	havePending := false

	for _, step := range plan {
		if step.DelaySeconds == 0 {
			if err := a.copyOrRemoveStepLocked(&placements, step, rawData); err != nil {
				logger.Error("aggregator: plan step failed for entity %d: %v", entityID, err)
				a.recordFailureLocked(entityID, step.Action.String(), step.Source, step.Target, err)
			}
			continue
		}

		if step.Source == storage.RootPoolID {
			logger.Error("aggregator: delayed step cannot originate at the root for entity %d", entityID)
			continue
		}

		runAt := time.Now().Add(time.Duration(step.DelaySeconds) * time.Second)
		pending = append(pending, pendingAction{entityID: entityID, step: step, runAt: runAt})
		a.pendingCount[entityID]++
		if !havePending || runAt.Before(earliest) {
			earliest = runAt
			havePending = true
		}
	}

	a.idMap[entityID] = placements
	if rawData != nil {
		a.bytesWritCnt += uint64(len(rawData))
	}

	if len(pending) > 0 {
		a.pendingActions = append(a.pendingActions, pending...)
		a.executor.scheduleAt(earliest, a.processPendingActions)
	}
	a.recomputeUsableSpaceLocked()
}

// copyOrRemoveStepLocked carries out one immediate plan step against
// placements, the in-flight placement list for one entity. Caller
// holds a.mu.
func (a *Aggregator) copyOrRemoveStepLocked(placements *[]placement, step PlainStep, rawData []byte) error {
	if step.Action == PlainRemove {
		idx := indexOfPool(*placements, step.Source)
		if idx == -1 {
			return fmt.Errorf("inconsistent plan: no placement at pool %d to remove", step.Source)
		}
		src := a.pools[step.Source]
		localID := (*placements)[idx].localID
		*placements = append((*placements)[:idx], (*placements)[idx+1:]...)
		return src.Discard(localID, a.eraseOnDiscard)
	}

	// PlainCopy.
	if step.Source == storage.RootPoolID {
		if rawData == nil {
			return fmt.Errorf("missing source data for root-originated copy to pool %d", step.Target)
		}
		target := a.pools[step.Target]
		localID, err := target.Store(rawData)
		if err != nil {
			return err
		}
		*placements = append(*placements, placement{pool: step.Target, localID: localID})
		return nil
	}

	idx := indexOfPool(*placements, step.Source)
	if idx == -1 {
		return fmt.Errorf("inconsistent plan: no placement at pool %d to copy from", step.Source)
	}
	srcPool := a.pools[step.Source]
	tgtPool := a.pools[step.Target]
	srcLocal := (*placements)[idx].localID

	size, ok := srcPool.EntitySize(srcLocal)
	if !ok {
		return fmt.Errorf("entity %d missing from source pool %d", srcLocal, step.Source)
	}

	newLocal, err := a.copyEntityBetweenPools(srcPool, tgtPool, srcLocal, size)
	if err != nil {
		return err
	}
	*placements = append(*placements, placement{pool: step.Target, localID: newLocal})
	return nil
}

// copyEntityBetweenPools copies srcLocal's bytes into tgtPool, streaming
// when both sides support it and falling back to retrieve+store
// otherwise (§4.G "process_pending_actions").
func (a *Aggregator) copyEntityBetweenPools(srcPool, tgtPool storage.Pool, srcLocal storage.EntityID, size storage.Size) (storage.EntityID, error) {
	if srcPool.SupportsInputStreams() && tgtPool.SupportsOutputStreams() {
		in, err := srcPool.GetInputStream(srcLocal)
		if err != nil {
			return storage.InvalidEntityID, err
		}
		out, err := tgtPool.GetOutputStream(size)
		if err != nil {
			in.Close()
			return storage.InvalidEntityID, err
		}
		if _, err := storage.CopyStream(out, in); err != nil {
			in.Close()
			out.Close()
			return storage.InvalidEntityID, err
		}
		newLocal := out.EntityID()
		in.Close()
		out.Close()
		return newLocal, nil
	}

	if a.maxNonStreamableData != 0 && uint64(size) > a.maxNonStreamableData {
		return storage.InvalidEntityID, storage.NewError("Aggregator.copy", storage.KindUnsupportedOperation,
			fmt.Errorf("entity of size %d exceeds max_non_streamable_data without stream support on both ends", size))
	}
	data, err := srcPool.Retrieve(srcLocal)
	if err != nil {
		return storage.InvalidEntityID, err
	}
	return tgtPool.Store(data)
}

func indexOfPool(placements []placement, id storage.PoolID) int {
	for i, p := range placements {
		if p.pool == id {
			return i
		}
	}
	return -1
}

// processPendingActions drains due pending_actions entries and
// reschedules around whatever remains (§4.G).
func (a *Aggregator) processPendingActions() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	var due, notDue []pendingAction
	for _, pa := range a.pendingActions {
		if !pa.runAt.After(now) {
			due = append(due, pa)
		} else {
			notDue = append(notDue, pa)
		}
	}

	failedEntities := make(map[storage.EntityID]bool)
	for _, pa := range due {
		if failedEntities[pa.entityID] && !a.completePendingStore {
			// A prior step for this entity already failed this round and
			// complete_pending_store is false: leave the remaining steps
			// counted down but do not attempt them.
		} else if placements, ok := a.idMap[pa.entityID]; ok {
			if err := a.copyOrRemoveStepLocked(&placements, pa.step, nil); err != nil {
				logger.Error("aggregator: pending step failed for entity %d: %v", pa.entityID, err)
				a.recordFailureLocked(pa.entityID, pa.step.Action.String(), pa.step.Source, pa.step.Target, err)
				failedEntities[pa.entityID] = true
			}
			a.idMap[pa.entityID] = placements
		}

		if c := a.pendingCount[pa.entityID]; c > 0 {
			if c-1 == 0 {
				delete(a.pendingCount, pa.entityID)
			} else {
				a.pendingCount[pa.entityID] = c - 1
			}
		}
	}

	a.pendingActions = notDue
	if len(notDue) > 0 {
		earliest := notDue[0].runAt
		for _, pa := range notDue[1:] {
			if pa.runAt.Before(earliest) {
				earliest = pa.runAt
			}
		}
		a.executor.scheduleAt(earliest, a.processPendingActions)
	}
	a.recomputeUsableSpaceLocked()
}

// Retrieve returns the body of entity id from the first pool in
// id_map[id] that succeeds (§4.G).
func (a *Aggregator) Retrieve(id storage.EntityID) ([]byte, error) {
	const op = "Aggregator.Retrieve"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != storage.StateOpen {
		return nil, storage.NewError(op, storage.KindNotOpen, nil)
	}
	placements, ok := a.idMap[id]
	if !ok || len(placements) == 0 {
		return nil, storage.NewError(op, storage.KindNotFound, nil)
	}

	var lastErr error
	for _, pl := range placements {
		pool := a.pools[pl.pool]
		data, err := pool.Retrieve(pl.localID)
		if err == nil {
			a.bytesReadCnt += uint64(len(data))
			return data, nil
		}
		lastErr = err
		if !a.completeRetrieve {
			return nil, err
		}
	}
	return nil, lastErr
}

// Discard removes entity id from every pool that holds it (§4.G).
func (a *Aggregator) Discard(id storage.EntityID, erase bool) error {
	const op = "Aggregator.Discard"
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discardLocked(op, id, erase)
}

func (a *Aggregator) discardLocked(op string, id storage.EntityID, erase bool) error {
	if a.state != storage.StateOpen {
		return storage.NewError(op, storage.KindNotOpen, nil)
	}
	if a.mode != storage.ModeReadWrite {
		return storage.NewError(op, storage.KindReadOnly, nil)
	}
	placements, ok := a.idMap[id]
	if !ok {
		return storage.NewError(op, storage.KindNotFound, nil)
	}

	var lastErr error
	for _, pl := range placements {
		pool := a.pools[pl.pool]
		if err := pool.Discard(pl.localID, erase); err != nil {
			lastErr = err
			if !a.completeDiscard {
				break
			}
		}
	}

	delete(a.idMap, id)
	a.purgePendingForEntityLocked(id)
	a.recomputeUsableSpaceLocked()
	return lastErr
}

func (a *Aggregator) purgePendingForEntityLocked(id storage.EntityID) {
	filtered := a.pendingActions[:0]
	for _, pa := range a.pendingActions {
		if pa.entityID != id {
			filtered = append(filtered, pa)
		}
	}
	a.pendingActions = filtered
	delete(a.pendingCount, id)
}

// Clear discards every known aggregator entity (§4.E pool contract).
func (a *Aggregator) Clear() error {
	const op = "Aggregator.Clear"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != storage.StateOpen {
		return storage.NewError(op, storage.KindNotOpen, nil)
	}
	if a.mode != storage.ModeReadWrite {
		return storage.NewError(op, storage.KindReadOnly, nil)
	}

	ids := make([]storage.EntityID, 0, len(a.idMap))
	for id := range a.idMap {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := a.discardLocked(op, id, a.eraseOnDiscard); err != nil {
			logger.Warn("aggregator: clear failed to fully discard entity %d: %v", id, err)
		}
	}
	return nil
}

// GetInputStream returns a read cursor from the first pool that holds
// id and supports input streams.
func (a *Aggregator) GetInputStream(id storage.EntityID) (storage.InputStream, error) {
	const op = "Aggregator.GetInputStream"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != storage.StateOpen {
		return nil, storage.NewError(op, storage.KindNotOpen, nil)
	}
	placements, ok := a.idMap[id]
	if !ok {
		return nil, storage.NewError(op, storage.KindNotFound, nil)
	}
	for _, pl := range placements {
		pool := a.pools[pl.pool]
		if !pool.SupportsInputStreams() {
			continue
		}
		if s, err := pool.GetInputStream(pl.localID); err == nil {
			return s, nil
		}
	}
	return nil, storage.NewError(op, storage.KindUnsupportedOperation, nil)
}

// GetOutputStream allocates a new entity in the configured streaming
// pool and returns a cursor over it with an aggregator-scoped ID
// (§4.G). The entity exists only in the streaming pool until
// ReleaseStreamedData fans it out across the link graph.
func (a *Aggregator) GetOutputStream(size storage.Size) (storage.OutputStream, error) {
	const op = "Aggregator.GetOutputStream"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != storage.StateOpen {
		return nil, storage.NewError(op, storage.KindNotOpen, nil)
	}
	if a.mode != storage.ModeReadWrite {
		return nil, storage.NewError(op, storage.KindReadOnly, nil)
	}
	if a.streamingPoolID == storage.InvalidPoolID {
		return nil, storage.NewError(op, storage.KindUnsupportedOperation, fmt.Errorf("no streaming pool configured"))
	}
	streamingPool := a.pools[a.streamingPoolID]
	if !streamingPool.SupportsOutputStreams() {
		return nil, storage.NewError(op, storage.KindUnsupportedOperation, nil)
	}

	underlying, err := streamingPool.GetOutputStream(size)
	if err != nil {
		return nil, err
	}

	a.lastEntityID++
	id := storage.EntityID(a.lastEntityID)
	a.idMap[id] = []placement{{pool: a.streamingPoolID, localID: underlying.EntityID()}}

	return &aggregatorOutputStream{underlying: underlying, id: id}, nil
}

// ReleaseStreamedData fans a previously streamed-in entity out across
// the link graph (§4.G).
func (a *Aggregator) ReleaseStreamedData(id storage.EntityID) error {
	const op = "Aggregator.ReleaseStreamedData"
	a.mu.Lock()

	placements, ok := a.idMap[id]
	if !ok || len(placements) != 1 || placements[0].pool != a.streamingPoolID {
		a.mu.Unlock()
		return storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("entity %d is not held by the streaming pool", id))
	}
	streamingPool := a.pools[a.streamingPoolID]
	localID := placements[0].localID

	size, ok := streamingPool.EntitySize(localID)
	if !ok {
		a.mu.Unlock()
		return storage.NewError(op, storage.KindNotFound, nil)
	}

	plan, err := a.unwindLocked(storage.RootPoolID, size)
	if err != nil {
		a.mu.Unlock()
		return storage.NewError(op, storage.KindPlanFailure, err)
	}

	var longestDelay int64
	for i := range plan {
		if plan[i].Source == storage.RootPoolID {
			plan[i].Source = a.streamingPoolID
		}
		if plan[i].DelaySeconds > longestDelay {
			longestDelay = plan[i].DelaySeconds
		}
	}
	plan = append(plan, PlainStep{Action: PlainRemove, Source: a.streamingPoolID, DelaySeconds: longestDelay})

	initial := []placement{{pool: a.streamingPoolID, localID: localID}}
	a.mu.Unlock()

	a.executor.submit(func() { a.executePlan(id, nil, plan, initial) })
	return nil
}

// --- storage.Pool: getters ---

func (a *Aggregator) PoolType() storage.PoolType { return storage.PoolTypeAggregate }
func (a *Aggregator) UUID() storage.PoolUUID     { return a.id }

func (a *Aggregator) Size() storage.Size {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total storage.Size
	for _, p := range a.pools {
		total += p.Size()
	}
	return total
}

func (a *Aggregator) FreeSpace() storage.Size {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usableSpace
}

func (a *Aggregator) EntitiesCount() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(len(a.idMap))
}

func (a *Aggregator) CanStore(size storage.Size) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.unwindLocked(storage.RootPoolID, size)
	return err == nil
}

func (a *Aggregator) EntitySize(id storage.EntityID) (storage.Size, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	placements, ok := a.idMap[id]
	if !ok {
		return 0, false
	}
	for _, pl := range placements {
		if size, ok := a.pools[pl.pool].EntitySize(pl.localID); ok {
			return size, true
		}
	}
	return 0, false
}

func (a *Aggregator) PoolOverhead() storage.Size   { return 0 }
func (a *Aggregator) EntityOverhead() storage.Size { return 0 }

func (a *Aggregator) SupportsInputStreams() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		if p.SupportsInputStreams() {
			return true
		}
	}
	return false
}

func (a *Aggregator) SupportsOutputStreams() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamingPoolID != storage.InvalidPoolID
}

func (a *Aggregator) BytesRead() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesReadCnt
}

func (a *Aggregator) BytesWritten() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesWritCnt
}

func (a *Aggregator) Mode() storage.Mode { return a.mode }

func (a *Aggregator) State() storage.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// aggregatorOutputStream wraps a streaming-pool output stream, masking
// the pool-local entity ID with the aggregator-scoped one handed to the
// caller of GetOutputStream.
type aggregatorOutputStream struct {
	underlying storage.OutputStream
	id         storage.EntityID
}

func (s *aggregatorOutputStream) Write(p []byte) (int, error)  { return s.underlying.Write(p) }
func (s *aggregatorOutputStream) Remaining() storage.Size      { return s.underlying.Remaining() }
func (s *aggregatorOutputStream) EntityID() storage.EntityID   { return s.id }
func (s *aggregatorOutputStream) Close() error                 { return s.underlying.Close() }
