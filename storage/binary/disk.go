package binary

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sndnv/syn-storage/internal/bufpool"
	"github.com/sndnv/syn-storage/logger"
	"github.com/sndnv/syn-storage/storage"
)

// entityRecord is the in-memory index entry for one on-disk entity
// (§3's "entities" map): its address, a cached copy of its header, its
// position in the insertion-order chain, and its outstanding stream
// locks.
type entityRecord struct {
	address        uint32
	header         entityHeader
	prevID         storage.EntityID
	nextID         storage.EntityID
	readLockCount  int
	writeLocked    bool
}

// DiskPool is a Disk Data Pool: a single-file, append/free-list store
// implementing the pool contract (§4.C). All mutating operations and
// Retrieve hold mu for their duration; pool streams reacquire mu for
// each Read/Write call.
type DiskPool struct {
	mu sync.Mutex

	file *os.File
	path string

	uuid       storage.PoolUUID
	fileSize   uint64
	footerAddr uint32
	footer     poolFooter

	entities map[storage.EntityID]*entityRecord
	free     *freeSpaceIndex
	lastID   storage.EntityID // tail of the entity chain

	state storage.State
	mode  storage.Mode

	bytesRead    uint64
	bytesWritten uint64
}

// Create initializes a brand-new DDP file at path with the given total
// size (§4.C init mode). path must not already exist and size must
// exceed PoolOverhead.
func Create(path string, size uint64) (*DiskPool, error) {
	const op = "DiskPool.Create"

	if size <= uint64(PoolOverhead) {
		return nil, storage.NewError(op, storage.KindConfigurationError,
			fmt.Errorf("size %d must exceed pool overhead %d", size, PoolOverhead))
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, storage.NewError(op, storage.KindIoError, err)
	}

	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, storage.NewError(op, storage.KindIoError, err)
	}

	id := storage.NewPoolUUID()
	footerAddr := uint32(size) - poolFooterLen

	p := &DiskPool{
		file:       file,
		path:       path,
		uuid:       id,
		fileSize:   size,
		footerAddr: footerAddr,
		footer:     poolFooter{},
		entities:   make(map[storage.EntityID]*entityRecord),
		free:       newFreeSpaceIndex(),
		state:      storage.StateOpen,
		mode:       storage.ModeReadWrite,
	}
	p.free.reset(bodyStart, footerAddr-bodyStart)

	if err := p.writePreamble(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if err := p.writeFooterLocked(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, storage.NewError(op, storage.KindIoError, err)
	}

	logger.Debug("DiskPool.Create: created %s uuid=%s size=%d", path, id, size)
	return p, nil
}

// writePreamble writes magic + version + uuid + pool header. Caller must
// hold no other assumptions; used only during Create.
func (p *DiskPool) writePreamble() error {
	const op = "DiskPool.Create"

	buf := make([]byte, bodyStart)
	copy(buf[0:3], Magic)
	buf[3] = CurrentVersion
	copy(buf[4:4+uuidTextLen], p.uuid.String())
	binary.BigEndian.PutUint32(buf[bodyStart-poolHeaderLen:bodyStart], p.footerAddr)

	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return storage.NewError(op, storage.KindIoError, err)
	}
	return nil
}

// Load opens an existing DDP file (§4.C load mode). mode selects whether
// the pool accepts mutations; the file handle is always opened
// read/write so that a subsequent promotion is cheap, but ModeReadOnly
// pools refuse Store/Discard/Clear.
func Load(path string, mode storage.Mode) (*DiskPool, error) {
	const op = "DiskPool.Load"

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, storage.NewError(op, storage.KindIoError, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, storage.NewError(op, storage.KindIoError, err)
	}
	size := uint64(stat.Size())
	if size <= uint64(PoolOverhead) {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat,
			fmt.Errorf("file size %d too small for pool overhead %d", size, PoolOverhead))
	}

	preamble := make([]byte, bodyStart)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, int64(bodyStart)), preamble); err != nil {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, err)
	}
	if string(preamble[0:3]) != Magic {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("bad magic %q", preamble[0:3]))
	}
	if preamble[3] != CurrentVersion {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("unsupported version %q", preamble[3]))
	}
	id, err := storage.ParsePoolUUID(string(preamble[4 : 4+uuidTextLen]))
	if err != nil {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("bad uuid: %w", err))
	}
	hdr, err := decodePoolHeader(preamble[bodyStart-poolHeaderLen : bodyStart])
	if err != nil {
		file.Close()
		return nil, err
	}
	footerAddr := hdr.footerAddr
	if footerAddr < bodyStart || uint64(footerAddr)+poolFooterLen > size {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("footer address %d out of range", footerAddr))
	}

	footerBuf := make([]byte, poolFooterLen)
	if _, err := io.ReadFull(io.NewSectionReader(file, int64(footerAddr), poolFooterLen), footerBuf); err != nil {
		file.Close()
		return nil, storage.NewError(op, storage.KindCorruptFormat, err)
	}
	footer, err := decodePoolFooter(footerBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	p := &DiskPool{
		file:       file,
		path:       path,
		uuid:       id,
		fileSize:   size,
		footerAddr: footerAddr,
		footer:     footer,
		entities:   make(map[storage.EntityID]*entityRecord),
		free:       newFreeSpaceIndex(),
		state:      storage.StateOpen,
		mode:       mode,
	}
	p.free.reset(bodyStart, footerAddr-bodyStart)

	if err := p.loadChain(); err != nil {
		file.Close()
		return nil, err
	}

	logger.Debug("DiskPool.Load: loaded %s uuid=%s entities=%d", path, id, footer.entitiesCount)
	return p, nil
}

// loadChain walks the entity chain from firstHeaderAddr for exactly
// entitiesCount steps, building the entities index and carving occupied
// ranges out of the free-space index (§4.C load mode).
func (p *DiskPool) loadChain() error {
	const op = "DiskPool.Load"

	addr := p.footer.firstHeaderAddr
	var prev storage.EntityID

	hdrSlot := bufpool.GetByteSlice()
	defer bufpool.PutByteSlice(hdrSlot)

	for i := uint32(0); i < p.footer.entitiesCount; i++ {
		if addr == 0 || addr < bodyStart || uint64(addr)+EntityHeaderLen > uint64(p.footerAddr) {
			return storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("entity chain address %d out of range", addr))
		}

		if cap(*hdrSlot) < EntityHeaderLen {
			*hdrSlot = make([]byte, EntityHeaderLen)
		} else {
			*hdrSlot = (*hdrSlot)[:EntityHeaderLen]
		}
		if _, err := io.ReadFull(io.NewSectionReader(p.file, int64(addr), EntityHeaderLen), *hdrSlot); err != nil {
			return storage.NewError(op, storage.KindCorruptFormat, err)
		}
		hdr, err := decodeEntityHeader(*hdrSlot)
		if err != nil {
			return err
		}

		occupied := uint32(EntityHeaderLen) + hdr.size
		if err := p.free.carveOut(addr, occupied); err != nil {
			return storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("entity %d at %d overlaps another: %w", hdr.id, addr, err))
		}

		id := storage.EntityID(hdr.id)
		p.entities[id] = &entityRecord{address: addr, header: hdr, prevID: prev}
		if prev.Valid() {
			p.entities[prev].nextID = id
		}
		prev = id
		addr = hdr.nextHeaderAddr
	}

	p.lastID = prev
	if uint32(len(p.entities)) != p.footer.entitiesCount {
		return storage.NewError(op, storage.KindCorruptFormat, fmt.Errorf("expected %d entities, indexed %d", p.footer.entitiesCount, len(p.entities)))
	}
	return nil
}

func (p *DiskPool) writeFooterLocked() error {
	if _, err := p.file.WriteAt(p.footer.encode(), int64(p.footerAddr)); err != nil {
		p.state = storage.StateFailed
		return storage.NewError("DiskPool.flushFooter", storage.KindIoError, err)
	}
	if err := p.file.Sync(); err != nil {
		p.state = storage.StateFailed
		return storage.NewError("DiskPool.flushFooter", storage.KindIoError, err)
	}
	return nil
}

// Close flushes and releases the underlying file handle. No further
// operations are valid afterwards (§4.C state machine: OPEN -> CLOSED).
func (p *DiskPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == storage.StateClosed {
		return nil
	}
	p.state = storage.StateClosed
	if err := p.file.Close(); err != nil {
		return storage.NewError("DiskPool.Close", storage.KindIoError, err)
	}
	return nil
}

// Retrieve returns the full body of entity id (§4.C).
func (p *DiskPool) Retrieve(id storage.EntityID) ([]byte, error) {
	const op = "DiskPool.Retrieve"
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == storage.StateClosed {
		return nil, storage.NewError(op, storage.KindNotOpen, nil)
	}
	rec, ok := p.entities[id]
	if !ok {
		return nil, storage.NewError(op, storage.KindNotFound, nil)
	}
	if rec.writeLocked {
		return nil, storage.NewError(op, storage.KindStreamInUse, nil)
	}

	out := make([]byte, rec.header.size)
	if _, err := io.ReadFull(io.NewSectionReader(p.file, int64(rec.address)+EntityHeaderLen, int64(rec.header.size)), out); err != nil {
		p.state = storage.StateFailed
		return nil, storage.NewError(op, storage.KindIoError, err)
	}
	p.bytesRead += uint64(rec.header.size)

	return out, nil
}

// Store appends data as a new entity (§4.C).
func (p *DiskPool) Store(data []byte) (storage.EntityID, error) {
	const op = "DiskPool.Store"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return storage.InvalidEntityID, err
	}
	if len(data) == 0 {
		return storage.InvalidEntityID, storage.NewError(op, storage.KindConfigurationError, fmt.Errorf("no data supplied"))
	}

	newID := storage.EntityID(p.footer.lastDataID + 1)
	needed := uint32(EntityHeaderLen) + uint32(len(data))

	addr, ok := p.free.allocate(needed)
	if !ok {
		return storage.InvalidEntityID, storage.NewError(op, storage.KindOutOfSpace, nil)
	}

	if err := p.appendEntityLocked(op, newID, addr, uint32(len(data)), data); err != nil {
		p.discardHalfWrittenLocked(newID, addr, uint32(len(data)))
		return storage.InvalidEntityID, err
	}

	return newID, nil
}

// appendEntityLocked writes the entity header (declared at size bytes)
// and as much of data as is supplied at addr, patches the previous
// tail's next-pointer (or the footer's first-header pointer if this is
// the first entity), and commits the updated footer. data may be
// shorter than size when the remaining bytes will be filled in later
// through an output stream.
func (p *DiskPool) appendEntityLocked(op string, id storage.EntityID, addr uint32, size uint32, data []byte) error {
	hdr := entityHeader{id: uint32(id), size: size, nextHeaderAddr: 0}

	if _, err := p.file.WriteAt(hdr.encode(), int64(addr)); err != nil {
		p.state = storage.StateFailed
		return storage.NewError(op, storage.KindIoError, err)
	}
	if len(data) > 0 {
		if _, err := p.file.WriteAt(data, int64(addr)+EntityHeaderLen); err != nil {
			p.state = storage.StateFailed
			return storage.NewError(op, storage.KindIoError, err)
		}
	}

	if p.lastID.Valid() {
		prev := p.entities[p.lastID]
		prev.header.nextHeaderAddr = addr
		if _, err := p.file.WriteAt(prev.header.encode(), int64(prev.address)); err != nil {
			p.state = storage.StateFailed
			return storage.NewError(op, storage.KindIoError, err)
		}
		prev.nextID = id
	} else {
		p.footer.firstHeaderAddr = addr
	}

	p.footer.entitiesCount++
	p.footer.lastDataID = uint32(id)
	if err := p.writeFooterLocked(); err != nil {
		return err
	}

	p.entities[id] = &entityRecord{address: addr, header: hdr, prevID: p.lastID}
	p.lastID = id
	p.bytesWritten += uint64(len(data))
	return nil
}

// discardHalfWrittenLocked best-effort reclaims a partially-written
// entity after a mid-store I/O failure (§4.C store). Errors here are
// swallowed: the pool is already transitioning to FAILED.
func (p *DiskPool) discardHalfWrittenLocked(id storage.EntityID, addr uint32, size uint32) {
	delete(p.entities, id)
	if p.lastID == id {
		p.lastID = storage.InvalidEntityID
	}
	p.free.free(addr, uint32(EntityHeaderLen)+size)
	logger.Warn("DiskPool: reclaimed half-written entity %d after I/O failure", id)
}

// Discard removes entity id from the pool (§4.C).
func (p *DiskPool) Discard(id storage.EntityID, erase bool) error {
	const op = "DiskPool.Discard"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return err
	}
	rec, ok := p.entities[id]
	if !ok {
		return storage.NewError(op, storage.KindNotFound, nil)
	}
	if rec.readLockCount > 0 || rec.writeLocked {
		return storage.NewError(op, storage.KindStreamInUse, nil)
	}

	if rec.prevID.Valid() {
		prevRec := p.entities[rec.prevID]
		prevRec.header.nextHeaderAddr = rec.header.nextHeaderAddr
		if _, err := p.file.WriteAt(prevRec.header.encode(), int64(prevRec.address)); err != nil {
			p.state = storage.StateFailed
			return storage.NewError(op, storage.KindIoError, err)
		}
		prevRec.nextID = rec.nextID
	} else {
		p.footer.firstHeaderAddr = rec.header.nextHeaderAddr
	}
	if rec.nextID.Valid() {
		p.entities[rec.nextID].prevID = rec.prevID
	}
	if p.lastID == id {
		p.lastID = rec.prevID
	}

	size := uint32(EntityHeaderLen) + rec.header.size
	if erase {
		zeros := make([]byte, size)
		if _, err := p.file.WriteAt(zeros, int64(rec.address)); err != nil {
			p.state = storage.StateFailed
			return storage.NewError(op, storage.KindIoError, err)
		}
	}

	p.free.free(rec.address, size)
	delete(p.entities, id)
	p.footer.entitiesCount--

	return p.writeFooterLocked()
}

// Clear removes every entity from the pool without touching on-disk
// body bytes (§4.C).
func (p *DiskPool) Clear() error {
	const op = "DiskPool.Clear"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return err
	}

	p.entities = make(map[storage.EntityID]*entityRecord)
	p.lastID = storage.InvalidEntityID
	p.free.reset(bodyStart, p.footerAddr-bodyStart)
	p.footer.entitiesCount = 0
	p.footer.firstHeaderAddr = 0

	return p.writeFooterLocked()
}

func (p *DiskPool) requireWritableLocked(op string) error {
	if p.state != storage.StateOpen {
		return storage.NewError(op, storage.KindNotOpen, nil)
	}
	if p.mode != storage.ModeReadWrite {
		return storage.NewError(op, storage.KindReadOnly, nil)
	}
	return nil
}

// --- Pool contract getters ---

func (p *DiskPool) PoolType() storage.PoolType { return storage.PoolTypeDisk }
func (p *DiskPool) UUID() storage.PoolUUID     { return p.uuid }

func (p *DiskPool) Size() storage.Size { return storage.Size(p.fileSize) }

func (p *DiskPool) FreeSpace() storage.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return storage.Size(p.free.totalFree())
}

func (p *DiskPool) EntitiesCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.entities))
}

func (p *DiskPool) CanStore(size storage.Size) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	needed := uint64(EntityHeaderLen) + uint64(size)
	if needed > ^uint32(0) {
		return false
	}
	return p.free.canFit(uint32(needed))
}

func (p *DiskPool) EntitySize(id storage.EntityID) (storage.Size, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.entities[id]
	if !ok {
		return 0, false
	}
	return storage.Size(rec.header.size), true
}

func (p *DiskPool) PoolOverhead() storage.Size   { return storage.Size(PoolOverhead) }
func (p *DiskPool) EntityOverhead() storage.Size { return storage.Size(EntityHeaderLen) }

func (p *DiskPool) SupportsInputStreams() bool  { return true }
func (p *DiskPool) SupportsOutputStreams() bool { return true }

func (p *DiskPool) BytesRead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesRead
}

func (p *DiskPool) BytesWritten() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesWritten
}

func (p *DiskPool) Mode() storage.Mode   { return p.mode }
func (p *DiskPool) State() storage.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
