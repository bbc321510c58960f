// Package memory implements an in-memory reference Pool: a degenerate
// Disk Data Pool with no on-disk layout, used for tests, small
// short-lived tiers, and as a cache in front of slower disk pools
// (§4.E, §9).
package memory

import (
	"bytes"
	"io"
	"sync"

	"github.com/sndnv/syn-storage/logger"
	"github.com/sndnv/syn-storage/storage"
)

type entityRecord struct {
	data        []byte
	readLockCount int
	writeLocked bool
}

// Pool is a bounded, map-backed implementation of storage.Pool. Unlike
// DiskPool it has no header/footer or chain; capacity accounting is
// purely byte-count against maxSize.
type Pool struct {
	mu sync.Mutex

	id      storage.PoolUUID
	maxSize uint64
	used    uint64

	entities map[storage.EntityID]*entityRecord
	nextID   uint32

	state storage.State
	mode  storage.Mode

	bytesRead    uint64
	bytesWritten uint64
}

// New creates an empty in-memory pool with the given capacity in bytes.
func New(maxSize uint64) *Pool {
	return &Pool{
		id:       storage.NewPoolUUID(),
		maxSize:  maxSize,
		entities: make(map[storage.EntityID]*entityRecord),
		state:    storage.StateOpen,
		mode:     storage.ModeReadWrite,
	}
}

func (p *Pool) Retrieve(id storage.EntityID) ([]byte, error) {
	const op = "memory.Pool.Retrieve"
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

	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	p.bytesRead += uint64(len(out))
	return out, nil
}

func (p *Pool) Store(data []byte) (storage.EntityID, error) {
	const op = "memory.Pool.Store"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return storage.InvalidEntityID, err
	}
	if len(data) == 0 {
		return storage.InvalidEntityID, storage.NewError(op, storage.KindConfigurationError, nil)
	}
	if p.used+uint64(len(data)) > p.maxSize {
		return storage.InvalidEntityID, storage.NewError(op, storage.KindOutOfSpace, nil)
	}

	p.nextID++
	id := storage.EntityID(p.nextID)
	buf := make([]byte, len(data))
	copy(buf, data)

	p.entities[id] = &entityRecord{data: buf}
	p.used += uint64(len(buf))
	p.bytesWritten += uint64(len(buf))
	return id, nil
}

func (p *Pool) Discard(id storage.EntityID, erase bool) error {
	const op = "memory.Pool.Discard"
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

	p.used -= uint64(len(rec.data))
	if erase {
		for i := range rec.data {
			rec.data[i] = 0
		}
	}
	delete(p.entities, id)
	return nil
}

func (p *Pool) Clear() error {
	const op = "memory.Pool.Clear"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return err
	}
	p.entities = make(map[storage.EntityID]*entityRecord)
	p.used = 0
	return nil
}

func (p *Pool) requireWritableLocked(op string) error {
	if p.state != storage.StateOpen {
		return storage.NewError(op, storage.KindNotOpen, nil)
	}
	if p.mode != storage.ModeReadWrite {
		return storage.NewError(op, storage.KindReadOnly, nil)
	}
	return nil
}

func (p *Pool) GetInputStream(id storage.EntityID) (storage.InputStream, error) {
	const op = "memory.Pool.GetInputStream"
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
	return &inputStream{pool: p, id: id, reader: bytes.NewReader(rec.data)}, nil
}

func (p *Pool) GetOutputStream(size storage.Size) (storage.OutputStream, error) {
	const op = "memory.Pool.GetOutputStream"
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireWritableLocked(op); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, storage.NewError(op, storage.KindConfigurationError, nil)
	}
	if p.used+uint64(size) > p.maxSize {
		return nil, storage.NewError(op, storage.KindOutOfSpace, nil)
	}

	p.nextID++
	id := storage.EntityID(p.nextID)
	p.entities[id] = &entityRecord{data: make([]byte, 0, size), writeLocked: true}
	p.used += uint64(size)

	return &outputStream{pool: p, id: id, remain: int64(size)}, nil
}

func (p *Pool) PoolType() storage.PoolType { return storage.PoolTypeMemory }
func (p *Pool) UUID() storage.PoolUUID     { return p.id }
func (p *Pool) Size() storage.Size         { return storage.Size(p.maxSize) }

func (p *Pool) FreeSpace() storage.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return storage.Size(p.maxSize - p.used)
}

func (p *Pool) EntitiesCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.entities))
}

func (p *Pool) CanStore(size storage.Size) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used+uint64(size) <= p.maxSize
}

func (p *Pool) EntitySize(id storage.EntityID) (storage.Size, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.entities[id]
	if !ok {
		return 0, false
	}
	return storage.Size(len(rec.data)), true
}

func (p *Pool) PoolOverhead() storage.Size   { return 0 }
func (p *Pool) EntityOverhead() storage.Size { return 0 }

func (p *Pool) SupportsInputStreams() bool  { return true }
func (p *Pool) SupportsOutputStreams() bool { return true }

func (p *Pool) BytesRead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesRead
}

func (p *Pool) BytesWritten() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesWritten
}

func (p *Pool) Mode() storage.Mode { return p.mode }

func (p *Pool) State() storage.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close transitions the pool to CLOSED. There is no backing file to
// release, but Close makes the pool symmetric with DiskPool for callers
// that don't special-case pool types.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = storage.StateClosed
	return nil
}

type inputStream struct {
	pool   *Pool
	id     storage.EntityID
	reader *bytes.Reader
	closed bool
}

func (s *inputStream) Read(p []byte) (int, error) {
	if s.reader.Len() == 0 {
		s.Close()
		return 0, io.EOF
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.reader.Read(p)
	s.pool.mu.Lock()
	s.pool.bytesRead += uint64(n)
	s.pool.mu.Unlock()
	if s.reader.Len() == 0 {
		s.Close()
	}
	return n, err
}

func (s *inputStream) Remaining() storage.Size {
	return storage.Size(s.reader.Len())
}

func (s *inputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	if rec, ok := s.pool.entities[s.id]; ok && rec.readLockCount > 0 {
		rec.readLockCount--
	}
	return nil
}

type outputStream struct {
	pool   *Pool
	id     storage.EntityID
	remain int64
	closed bool
}

func (s *outputStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if int64(len(p)) > s.remain {
		return 0, storage.NewError("memory.outputStream.Write", storage.KindConfigurationError, io.ErrShortWrite)
	}

	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()

	rec, ok := s.pool.entities[s.id]
	if !ok {
		return 0, storage.NewError("memory.outputStream.Write", storage.KindNotFound, nil)
	}
	rec.data = append(rec.data, p...)
	s.remain -= int64(len(p))
	s.pool.bytesWritten += uint64(len(p))

	if s.remain == 0 {
		rec.writeLocked = false
		logger.TraceIf("stream", "memory pool entity %d fully written", s.id)
	}
	return len(p), nil
}

func (s *outputStream) Remaining() storage.Size    { return storage.Size(s.remain) }
func (s *outputStream) EntityID() storage.EntityID { return s.id }

func (s *outputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	if rec, ok := s.pool.entities[s.id]; ok {
		rec.writeLocked = false
	}
	return nil
}
