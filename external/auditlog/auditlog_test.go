package auditlog

import (
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndForEntity(t *testing.T) {
	l := newTestLogger(t)

	if err := l.Record(7, "copy", "hot", "cold", "disk full"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(7, "move", "cold", "archive", "stream reset"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(8, "copy", "hot", "cold", "unrelated entity"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	failures, err := l.ForEntity(7)
	if err != nil {
		t.Fatalf("ForEntity: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("ForEntity(7) returned %d rows, want 2", len(failures))
	}
	// Most recent first.
	if failures[0].Operation != "move" || failures[1].Operation != "copy" {
		t.Fatalf("failures not ordered most-recent-first: %+v", failures)
	}
	for _, f := range failures {
		if f.EntityID != 7 {
			t.Fatalf("failure %+v has wrong entity id", f)
		}
	}
}

func TestForEntityReturnsEmptyForUnknownEntity(t *testing.T) {
	l := newTestLogger(t)
	failures, err := l.ForEntity(123)
	if err != nil {
		t.Fatalf("ForEntity: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("ForEntity(unknown) = %v, want empty", failures)
	}
}

func TestOpenIsIdempotentAgainstExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	l1.Record(1, "copy", "a", "b", "first open")
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer l2.Close()

	failures, err := l2.ForEntity(1)
	if err != nil {
		t.Fatalf("ForEntity: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("ForEntity after reopen = %d rows, want 1", len(failures))
	}
}
