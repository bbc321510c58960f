package binary

import (
	"io"

	"github.com/sndnv/syn-storage/storage"
)

// GetInputStream returns a bounded read cursor over an existing entity
// (§4.D). The entity is marked read-locked for the lifetime of the
// stream, which blocks Discard but not Retrieve or other concurrent
// input streams.
func (p *DiskPool) GetInputStream(id storage.EntityID) (storage.InputStream, error) {
	const op = "DiskPool.GetInputStream"
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != storage.StateOpen {
		return nil, storage.NewError(op, storage.KindNotOpen, nil)
	}
	rec, ok := p.entities[id]
	if !ok {
		return nil, storage.NewError(op, storage.KindNotFound, nil)
	}
	if rec.writeLocked {
		return nil, storage.NewError(op, storage.KindStreamInUse, nil)
	}

	rec.readLockCount++
	return &diskInputStream{
		pool:   p,
		id:     id,
		offset: int64(rec.address) + EntityHeaderLen,
		remain: int64(rec.header.size),
	}, nil
}

// GetOutputStream allocates a new entity of the given size and returns a
// bounded write cursor over its body (§4.D). The entity header and its
// place in the chain are committed immediately; only the body bytes
// remain to be written as the stream is drained.
func (p *DiskPool) GetOutputStream(size storage.Size) (storage.OutputStream, error) {
	const op = "DiskPool.GetOutputStream"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, storage.NewError(op, storage.KindConfigurationError, nil)
	}

	needed := uint64(EntityHeaderLen) + uint64(size)
	if needed > uint64(^uint32(0)) {
		return nil, storage.NewError(op, storage.KindOutOfSpace, nil)
	}
	addr, ok := p.free.allocate(uint32(needed))
	if !ok {
		return nil, storage.NewError(op, storage.KindOutOfSpace, nil)
	}

	newID := storage.EntityID(p.footer.lastDataID + 1)
	if err := p.appendEntityLocked(op, newID, addr, uint32(size), nil); err != nil {
		p.discardHalfWrittenLocked(newID, addr, uint32(size))
		return nil, err
	}
	p.entities[newID].writeLocked = true

	return &diskOutputStream{
		pool:   p,
		id:     newID,
		addr:   addr,
		offset: int64(addr) + EntityHeaderLen,
		remain: int64(size),
		total:  uint32(size),
	}, nil
}

// diskInputStream is a bounded, sequential read cursor into a DiskPool
// file. It reacquires the pool's file mutex for each Read.
type diskInputStream struct {
	pool   *DiskPool
	id     storage.EntityID
	offset int64
	remain int64
	closed bool
}

func (s *diskInputStream) Read(p []byte) (int, error) {
	if s.remain == 0 {
		return 0, io.EOF
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()

	if s.pool.state != storage.StateOpen {
		return 0, storage.NewError("diskInputStream.Read", storage.KindNotOpen, nil)
	}

	want := int64(len(p))
	if want > s.remain {
		want = s.remain
	}
	n, err := s.pool.file.ReadAt(p[:want], s.offset)
	if err != nil && err != io.EOF {
		s.pool.state = storage.StateFailed
		return n, storage.NewError("diskInputStream.Read", storage.KindIoError, err)
	}
	s.offset += int64(n)
	s.remain -= int64(n)
	s.pool.bytesRead += uint64(n)

	if s.remain == 0 {
		s.releaseLocked()
	}
	return n, nil
}

func (s *diskInputStream) Remaining() storage.Size { return storage.Size(s.remain) }

func (s *diskInputStream) Close() error {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	s.releaseLocked()
	return nil
}

func (s *diskInputStream) releaseLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if rec, ok := s.pool.entities[s.id]; ok && rec.readLockCount > 0 {
		rec.readLockCount--
	}
}

// diskOutputStream is a bounded, sequential write cursor into a DiskPool
// file. It reacquires the pool's file mutex for each Write.
type diskOutputStream struct {
	pool   *DiskPool
	id     storage.EntityID
	addr   uint32
	offset int64
	remain int64
	total  uint32
	closed bool
}

func (s *diskOutputStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if int64(len(p)) > s.remain {
		return 0, storage.NewError("diskOutputStream.Write", storage.KindConfigurationError, io.ErrShortWrite)
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()

	if s.pool.state != storage.StateOpen {
		return 0, storage.NewError("diskOutputStream.Write", storage.KindNotOpen, nil)
	}

	n, err := s.pool.file.WriteAt(p, s.offset)
	if err != nil {
		s.pool.state = storage.StateFailed
		return n, storage.NewError("diskOutputStream.Write", storage.KindIoError, err)
	}
	s.offset += int64(n)
	s.remain -= int64(n)
	s.pool.bytesWritten += uint64(n)

	if s.remain == 0 {
		s.releaseLocked()
	}
	return n, nil
}

func (s *diskOutputStream) Remaining() storage.Size  { return storage.Size(s.remain) }
func (s *diskOutputStream) EntityID() storage.EntityID { return s.id }

func (s *diskOutputStream) Close() error {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	s.releaseLocked()
	return nil
}

func (s *diskOutputStream) releaseLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if rec, ok := s.pool.entities[s.id]; ok {
		rec.writeLocked = false
	}
}

