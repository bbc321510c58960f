package aggregator

import (
	"testing"
	"time"

	"github.com/sndnv/syn-storage/config"
	"github.com/sndnv/syn-storage/storage"
	"github.com/sndnv/syn-storage/storage/memory"
)

func TestExportImportConfigurationRoundTrip(t *testing.T) {
	src := New(config.Default())
	defer src.Shutdown()

	hot, _ := src.AddPool("", "", memory.New(1000))
	cold, _ := src.AddPool("", "", memory.New(2000))
	if err := src.AddLink("", "", storage.RootPoolID, Link{Target: hot, Action: ActionCopy}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := src.AddLink("", "", hot, Link{Target: cold, Action: ActionMove, Condition: ConditionTargetMaxFull, ConditionValue: 80}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := src.SetStreamingPool("", "", hot); err != nil {
		t.Fatalf("SetStreamingPool: %v", err)
	}

	hotUUID := src.pools[hot].UUID()
	coldUUID := src.pools[cold].UUID()
	cfg := src.ExportConfiguration()

	if len(cfg.PoolUUIDs) != 2 {
		t.Fatalf("PoolUUIDs = %v, want 2 entries", cfg.PoolUUIDs)
	}
	if cfg.StreamingPoolID != hotUUID {
		t.Fatalf("StreamingPoolID = %s, want %s", cfg.StreamingPoolID, hotUUID)
	}

	dst := New(config.Default())
	defer dst.Shutdown()

	pools := map[storage.PoolUUID]storage.Pool{
		hotUUID:  src.pools[hot],
		coldUUID: src.pools[cold],
	}
	if err := dst.ImportConfiguration("", "", cfg, pools); err != nil {
		t.Fatalf("ImportConfiguration: %v", err)
	}

	if dst.UUID() != src.UUID() {
		t.Fatalf("imported UUID = %s, want %s", dst.UUID(), src.UUID())
	}
	if len(dst.pools) != 2 {
		t.Fatalf("imported pools = %d, want 2", len(dst.pools))
	}

	var newHot, newCold storage.PoolID
	for id, p := range dst.pools {
		switch p.UUID() {
		case hotUUID:
			newHot = id
		case coldUUID:
			newCold = id
		}
	}
	if dst.streamingPoolID != newHot {
		t.Fatalf("imported streamingPoolID = %d, want %d (resolved hot)", dst.streamingPoolID, newHot)
	}

	foundMove := false
	for _, link := range dst.links[newHot] {
		if link.Target == newCold && link.Action == ActionMove && link.Condition == ConditionTargetMaxFull && link.ConditionValue == 80 {
			foundMove = true
		}
	}
	if !foundMove {
		t.Fatalf("imported links %v missing the hot->cold move edge", dst.links[newHot])
	}
}

func TestImportConfigurationRejectsWhenPoolsAlreadyRegistered(t *testing.T) {
	a := New(config.Default())
	defer a.Shutdown()
	a.AddPool("", "", memory.New(1000))

	if err := a.ImportConfiguration("", "", Configuration{}, nil); err == nil {
		t.Fatalf("ImportConfiguration succeeded against a non-empty aggregator")
	}
}

func TestImportConfigurationRejectsMissingPool(t *testing.T) {
	a := New(config.Default())
	defer a.Shutdown()

	missing := storage.NewPoolUUID()
	cfg := Configuration{PoolUUIDs: []storage.PoolUUID{missing}}
	if err := a.ImportConfiguration("", "", cfg, map[storage.PoolUUID]storage.Pool{}); err == nil {
		t.Fatalf("ImportConfiguration succeeded without the referenced pool supplied")
	}
}

func TestExportImportIDDataRoundTrip(t *testing.T) {
	src := New(config.Default())
	defer src.Shutdown()
	hot, _ := src.AddPool("", "", memory.New(1000))
	src.AddLink("", "", storage.RootPoolID, Link{Target: hot, Action: ActionCopy})

	id, err := src.Store([]byte("tracked"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitUntil(t, func() bool { _, err := src.Retrieve(id); return err == nil })

	hotUUID := src.pools[hot].UUID()
	exported := src.ExportIDData()
	if len(exported[hotUUID]) != 1 {
		t.Fatalf("ExportIDData[%s] = %v, want 1 entry", hotUUID, exported[hotUUID])
	}

	dst := New(config.Default())
	defer dst.Shutdown()
	newHot, _ := dst.AddPool("", "", src.pools[hot])

	if err := dst.ImportIDData(exported, true); err != nil {
		t.Fatalf("ImportIDData: %v", err)
	}
	placements, ok := dst.idMap[id]
	if !ok || len(placements) != 1 || placements[0].pool != newHot {
		t.Fatalf("imported id_map entry wrong: %+v", placements)
	}
}

func TestImportIDDataVerifyRejectsMissingEntity(t *testing.T) {
	a := New(config.Default())
	defer a.Shutdown()
	hot, _ := a.AddPool("", "", memory.New(1000))
	hotUUID := a.pools[hot].UUID()

	data := map[storage.PoolUUID][]EntityIDData{
		hotUUID: {{AggregatorEntityID: 1, PoolEntityID: 999}},
	}
	if err := a.ImportIDData(data, true); err == nil {
		t.Fatalf("ImportIDData accepted a non-existent entity under verify=true")
	}
}

func TestExportIDDataForEntityAndPool(t *testing.T) {
	a := New(config.Default())
	defer a.Shutdown()
	hot, _ := a.AddPool("", "", memory.New(1000))
	a.AddLink("", "", storage.RootPoolID, Link{Target: hot, Action: ActionCopy})

	id, err := a.Store([]byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitUntil(t, func() bool { _, err := a.Retrieve(id); return err == nil })

	byEntity := a.ExportIDDataForEntity(id)
	if len(byEntity) != 1 || byEntity[0].Pool != a.pools[hot].UUID() {
		t.Fatalf("ExportIDDataForEntity = %+v", byEntity)
	}

	byPool := a.ExportIDDataForPool(hot)
	if len(byPool) != 1 || byPool[0].AggregatorEntityID != id {
		t.Fatalf("ExportIDDataForPool = %+v", byPool)
	}
}

func TestExportImportPendingActionsRoundTrip(t *testing.T) {
	src := New(config.Default())
	defer src.Shutdown()
	hot, _ := src.AddPool("", "", memory.New(1000))
	cold, _ := src.AddPool("", "", memory.New(1000))
	src.AddLink("", "", storage.RootPoolID, Link{Target: hot, Action: ActionCopy})
	src.AddLink("", "", hot, Link{Target: cold, Action: ActionMove, Condition: ConditionTimed, ConditionValue: 120})

	id, err := src.Store([]byte("slow"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	waitUntil(t, func() bool {
		_, ok := src.pendingCount[id]
		return ok
	})

	exported := src.ExportPendingActions(true)
	if len(exported) == 0 {
		t.Fatalf("ExportPendingActions returned nothing")
	}
	if len(src.pendingActions) != 0 {
		t.Fatalf("discard=true left %d pending actions behind", len(src.pendingActions))
	}

	dst := New(config.Default())
	defer dst.Shutdown()
	dst.AddPool("", "", src.pools[hot])
	dst.AddPool("", "", src.pools[cold])

	if err := dst.ImportPendingActions(exported); err != nil {
		t.Fatalf("ImportPendingActions: %v", err)
	}
	if len(dst.pendingActions) != len(exported) {
		t.Fatalf("imported pending actions = %d, want %d", len(dst.pendingActions), len(exported))
	}
}

func TestImportPendingActionsRejectsWhenAlreadyPresent(t *testing.T) {
	a := New(config.Default())
	defer a.Shutdown()
	a.pendingActions = append(a.pendingActions, pendingAction{entityID: 1, runAt: time.Now()})

	if err := a.ImportPendingActions(nil); err == nil {
		t.Fatalf("ImportPendingActions succeeded with pending actions already present")
	}
}
