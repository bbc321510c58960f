package storage

// InputStream is a one-shot, bounded cursor for reading a single entity's
// body (§4.D). Read returns the number of bytes actually read; a
// non-nil error other than io.EOF means the underlying I/O failed and
// the stream must be treated as fatal. Reading exactly
// Remaining() bytes releases the pool-side read lock.
type InputStream interface {
	// Read copies up to len(p) bytes, never more than Remaining(), into p.
	Read(p []byte) (n int, err error)
	// Remaining is the number of unread bytes left in this entity.
	Remaining() Size
	// Close releases the stream's read lock without draining it. Safe to
	// call after the stream has already been fully drained.
	Close() error
}

// OutputStream is a one-shot, bounded cursor for writing a single new
// entity's body (§4.D). The entity header and its place in the chain are
// already committed when the stream is handed out; only the body is
// filled as the stream is written.
type OutputStream interface {
	// Write copies len(p) bytes into the entity body, failing if that
	// would exceed Remaining().
	Write(p []byte) (n int, err error)
	// Remaining is the number of unwritten bytes left in this entity.
	Remaining() Size
	// EntityID is the ID the written entity will be retrievable under
	// once the stream is fully drained.
	EntityID() EntityID
	// Close releases the stream's write lock without draining it. If
	// Remaining() > 0 the entity becomes readable with its body only
	// partly written.
	Close() error
}

// Pool is the contract every storage backend implements: disk pools,
// the in-memory reference pool, and the aggregator itself (so that
// aggregators may be nested, §4.E/§9).
type Pool interface {
	// Retrieve returns the full body of the entity identified by id.
	Retrieve(id EntityID) ([]byte, error)
	// Store appends data as a new entity and returns its ID.
	Store(data []byte) (EntityID, error)
	// Discard removes the entity identified by id. If erase is true the
	// backing bytes are overwritten with zeroes where applicable.
	Discard(id EntityID, erase bool) error
	// Clear removes every entity from the pool.
	Clear() error

	// GetInputStream returns a bounded read cursor over an existing
	// entity. Returns ErrUnsupportedOperation if SupportsInputStreams is
	// false.
	GetInputStream(id EntityID) (InputStream, error)
	// GetOutputStream allocates a new entity of the given size and
	// returns a bounded write cursor over its body. Returns
	// ErrUnsupportedOperation if SupportsOutputStreams is false.
	GetOutputStream(size Size) (OutputStream, error)

	PoolType() PoolType
	UUID() PoolUUID
	Size() Size
	FreeSpace() Size
	EntitiesCount() uint32
	CanStore(size Size) bool
	EntitySize(id EntityID) (Size, bool)
	PoolOverhead() Size
	EntityOverhead() Size
	SupportsInputStreams() bool
	SupportsOutputStreams() bool
	BytesRead() uint64
	BytesWritten() uint64
	Mode() Mode
	State() State
}
