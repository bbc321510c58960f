// Package binary implements the Disk Data Pool (DDP) on-disk format: a
// single-file append/free-list store with a fixed-width header/footer and
// a chain of variable-sized entities (§3/§4.A/§6 of the storage design).
//
// # File Structure
//
//	+--------+------+---------------------------------+
//	| offset | size | field                           |
//	+--------+------+---------------------------------+
//	| 0      | 3    | magic "DDP"                     |
//	| 3      | 1    | version ('1')                   |
//	| 4      | 36   | pool UUID, canonical hyphenated  |
//	| 40     | 4    | pool header: footer address      |
//	| 44     | ...  | free space / entity chain        |
//	| footer | 12   | pool footer                      |
//	+--------+------+---------------------------------+
//
// Every integer field is fixed-width big-endian, independent of host
// byte order (§9 design note on endianness).
package binary

import (
	"encoding/binary"
	"fmt"

	"github.com/sndnv/syn-storage/storage"
)

const (
	// Magic is the 3-byte file signature.
	Magic = "DDP"
	// CurrentVersion is the single supported on-disk version byte.
	CurrentVersion byte = '1'

	uuidTextLen = 36

	// PoolOverhead is the fixed number of bytes of every DDP file that
	// are unavailable for entity storage: magic + version + uuid
	// + pool header + pool footer (§3 invariants).
	PoolOverhead = uint32(len(Magic)) + 1 + uuidTextLen + poolHeaderLen + poolFooterLen

	poolHeaderLen = 4  // footer_addr: u32
	poolFooterLen = 12 // entities_count:u32, first_header_addr:u32, last_data_id:u32

	// EntityHeaderLen is the fixed size of an on-disk entity header:
	// id:u32, size:u32, next_header_addr:u32.
	EntityHeaderLen = 12

	// bodyStart is the fixed offset at which the free space / entity
	// chain region begins (§3).
	bodyStart = uint32(len(Magic)) + 1 + uuidTextLen + poolHeaderLen
)

// poolHeader is the fixed 4-byte block immediately following the UUID.
type poolHeader struct {
	footerAddr uint32
}

func (h poolHeader) encode() []byte {
	buf := make([]byte, poolHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.footerAddr)
	return buf
}

func decodePoolHeader(buf []byte) (poolHeader, error) {
	if len(buf) != poolHeaderLen {
		return poolHeader{}, storage.NewError("decodePoolHeader", storage.KindCorruptFormat,
			fmt.Errorf("expected %d bytes, got %d", poolHeaderLen, len(buf)))
	}
	return poolHeader{footerAddr: binary.BigEndian.Uint32(buf[0:4])}, nil
}

// poolFooter is the fixed 12-byte block at footerAddr.
type poolFooter struct {
	entitiesCount   uint32
	firstHeaderAddr uint32
	lastDataID      uint32
}

func (f poolFooter) encode() []byte {
	buf := make([]byte, poolFooterLen)
	binary.BigEndian.PutUint32(buf[0:4], f.entitiesCount)
	binary.BigEndian.PutUint32(buf[4:8], f.firstHeaderAddr)
	binary.BigEndian.PutUint32(buf[8:12], f.lastDataID)
	return buf
}

func decodePoolFooter(buf []byte) (poolFooter, error) {
	if len(buf) != poolFooterLen {
		return poolFooter{}, storage.NewError("decodePoolFooter", storage.KindCorruptFormat,
			fmt.Errorf("expected %d bytes, got %d", poolFooterLen, len(buf)))
	}
	return poolFooter{
		entitiesCount:   binary.BigEndian.Uint32(buf[0:4]),
		firstHeaderAddr: binary.BigEndian.Uint32(buf[4:8]),
		lastDataID:      binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// entityHeader precedes every stored entity body (§3).
type entityHeader struct {
	id              uint32
	size            uint32
	nextHeaderAddr  uint32
}

func (h entityHeader) encode() []byte {
	buf := make([]byte, EntityHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.id)
	binary.BigEndian.PutUint32(buf[4:8], h.size)
	binary.BigEndian.PutUint32(buf[8:12], h.nextHeaderAddr)
	return buf
}

func decodeEntityHeader(buf []byte) (entityHeader, error) {
	if len(buf) != EntityHeaderLen {
		return entityHeader{}, storage.NewError("decodeEntityHeader", storage.KindCorruptFormat,
			fmt.Errorf("expected %d bytes, got %d", EntityHeaderLen, len(buf)))
	}
	return entityHeader{
		id:             binary.BigEndian.Uint32(buf[0:4]),
		size:           binary.BigEndian.Uint32(buf[4:8]),
		nextHeaderAddr: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}
