package memory

import (
	"bytes"
	"testing"

	"github.com/sndnv/syn-storage/storage"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	p := New(1024)

	id, err := p.Store([]byte("payload"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, err := p.Retrieve(id)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("Retrieve = %q, want %q", data, "payload")
	}
}

func TestStoreRejectsOverCapacity(t *testing.T) {
	p := New(4)
	if _, err := p.Store([]byte("toolong")); err == nil {
		t.Fatalf("Store accepted data larger than capacity")
	}
}

func TestFreeSpaceTracksUsage(t *testing.T) {
	p := New(100)
	if p.FreeSpace() != 100 {
		t.Fatalf("FreeSpace() = %d, want 100", p.FreeSpace())
	}

	id, err := p.Store(make([]byte, 30))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if p.FreeSpace() != 70 {
		t.Fatalf("FreeSpace() after store = %d, want 70", p.FreeSpace())
	}

	if err := p.Discard(id, false); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if p.FreeSpace() != 100 {
		t.Fatalf("FreeSpace() after discard = %d, want 100", p.FreeSpace())
	}
}

func TestDiscardBlockedByOutstandingStream(t *testing.T) {
	p := New(100)
	id, _ := p.Store([]byte("data"))

	in, err := p.GetInputStream(id)
	if err != nil {
		t.Fatalf("GetInputStream: %v", err)
	}
	if err := p.Discard(id, false); err == nil {
		t.Fatalf("Discard succeeded while an input stream is outstanding")
	}
	in.Close()

	if err := p.Discard(id, false); err != nil {
		t.Fatalf("Discard after stream release: %v", err)
	}
}

func TestOutputStreamLifecycle(t *testing.T) {
	p := New(100)
	out, err := p.GetOutputStream(5)
	if err != nil {
		t.Fatalf("GetOutputStream: %v", err)
	}
	id := out.EntityID()

	if _, err := p.Retrieve(id); err == nil {
		t.Fatalf("Retrieve succeeded while entity is write-locked")
	}

	if _, err := out.Write([]byte("abcde")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out.Close()

	data, err := p.Retrieve(id)
	if err != nil || !bytes.Equal(data, []byte("abcde")) {
		t.Fatalf("Retrieve after stream close = %q, %v", data, err)
	}
}

func TestClearResetsPool(t *testing.T) {
	p := New(100)
	p.Store([]byte("a"))
	p.Store([]byte("b"))

	if err := p.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if p.EntitiesCount() != 0 {
		t.Fatalf("EntitiesCount() = %d, want 0", p.EntitiesCount())
	}
	if p.FreeSpace() != 100 {
		t.Fatalf("FreeSpace() = %d, want 100", p.FreeSpace())
	}
}

func TestReadOnlyModeRejectsMutation(t *testing.T) {
	p := New(100)
	p.mode = storage.ModeReadOnly

	if _, err := p.Store([]byte("x")); err == nil {
		t.Fatalf("Store succeeded on a read-only pool")
	}
}

func TestClosedPoolRejectsOperations(t *testing.T) {
	p := New(100)
	id, _ := p.Store([]byte("x"))
	p.Close()

	if _, err := p.Retrieve(id); err == nil {
		t.Fatalf("Retrieve succeeded on a closed pool")
	}
}
