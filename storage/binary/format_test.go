package binary

import "testing"

func TestPoolHeaderRoundTrip(t *testing.T) {
	h := poolHeader{footerAddr: 0xdeadbeef}
	decoded, err := decodePoolHeader(h.encode())
	if err != nil {
		t.Fatalf("decodePoolHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
	}
}

func TestPoolHeaderDecodeWrongLength(t *testing.T) {
	if _, err := decodePoolHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("decodePoolHeader accepted a short buffer")
	}
}

func TestPoolFooterRoundTrip(t *testing.T) {
	f := poolFooter{entitiesCount: 7, firstHeaderAddr: 1234, lastDataID: 99}
	decoded, err := decodePoolFooter(f.encode())
	if err != nil {
		t.Fatalf("decodePoolFooter: %v", err)
	}
	if decoded != f {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, f)
	}
}

func TestPoolFooterDecodeWrongLength(t *testing.T) {
	if _, err := decodePoolFooter(make([]byte, poolFooterLen-1)); err == nil {
		t.Fatalf("decodePoolFooter accepted a short buffer")
	}
}

func TestEntityHeaderRoundTrip(t *testing.T) {
	h := entityHeader{id: 42, size: 1024, nextHeaderAddr: 5000}
	decoded, err := decodeEntityHeader(h.encode())
	if err != nil {
		t.Fatalf("decodeEntityHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
	}
}

func TestEntityHeaderDecodeWrongLength(t *testing.T) {
	if _, err := decodeEntityHeader(make([]byte, EntityHeaderLen+1)); err == nil {
		t.Fatalf("decodeEntityHeader accepted an over-long buffer")
	}
}

func TestPoolOverheadMatchesFixedLayout(t *testing.T) {
	want := uint32(len(Magic)) + 1 + uuidTextLen + poolHeaderLen + poolFooterLen
	if PoolOverhead != want {
		t.Fatalf("PoolOverhead = %d, want %d", PoolOverhead, want)
	}
	if bodyStart != uint32(len(Magic))+1+uuidTextLen+poolHeaderLen {
		t.Fatalf("bodyStart = %d, unexpected", bodyStart)
	}
}
