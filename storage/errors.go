package storage

import (
	"errors"
	"fmt"
)

// Kind classifies a storage error per the taxonomy of the error-handling
// design (§7). Callers should prefer errors.Is against the sentinel
// values below rather than comparing Kind directly, since a Kind may
// eventually gain new sentinel members.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotOpen
	KindReadOnly
	KindNotFound
	KindOutOfSpace
	KindStreamInUse
	KindCorruptFormat
	KindIoError
	KindUnsupportedOperation
	KindConfigurationError
	KindPlanFailure
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotOpen:
		return "NotOpen"
	case KindReadOnly:
		return "ReadOnly"
	case KindNotFound:
		return "NotFound"
	case KindOutOfSpace:
		return "OutOfSpace"
	case KindStreamInUse:
		return "StreamInUse"
	case KindCorruptFormat:
		return "CorruptFormat"
	case KindIoError:
		return "IoError"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindConfigurationError:
		return "ConfigurationError"
	case KindPlanFailure:
		return "PlanFailure"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// Sentinel errors for the taxonomy in §7. Wrap with errors.Is, e.g.
// `errors.Is(err, storage.ErrNotFound)`.
var (
	ErrNotOpen               = errors.New("pool is not open")
	ErrReadOnly              = errors.New("pool is read-only")
	ErrNotFound              = errors.New("entity not found")
	ErrOutOfSpace            = errors.New("insufficient free space")
	ErrStreamInUse           = errors.New("entity has an outstanding stream lock")
	ErrCorruptFormat         = errors.New("on-disk data failed validation")
	ErrIoError               = errors.New("underlying I/O failed")
	ErrUnsupportedOperation  = errors.New("operation not supported by this pool")
	ErrConfigurationError    = errors.New("invalid aggregator configuration")
	ErrPlanFailure           = errors.New("could not synthesize a storage plan")
	ErrUnauthorized          = errors.New("principal not authorized for this operation")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindNotOpen:
		return ErrNotOpen
	case KindReadOnly:
		return ErrReadOnly
	case KindNotFound:
		return ErrNotFound
	case KindOutOfSpace:
		return ErrOutOfSpace
	case KindStreamInUse:
		return ErrStreamInUse
	case KindCorruptFormat:
		return ErrCorruptFormat
	case KindIoError:
		return ErrIoError
	case KindUnsupportedOperation:
		return ErrUnsupportedOperation
	case KindConfigurationError:
		return ErrConfigurationError
	case KindPlanFailure:
		return ErrPlanFailure
	case KindUnauthorized:
		return ErrUnauthorized
	default:
		return errors.New("unknown storage error")
	}
}

// Error is the structured error value returned across the pool and
// aggregator contracts. Op names the failing operation (e.g.
// "DiskPool.Store"), Kind classifies the failure per §7, and Err carries
// the underlying cause (an *os.PathError for IoError, or nil).
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Kind)
}

// Is lets errors.Is(err, storage.ErrNotFound) succeed for an *Error whose
// Kind corresponds to that sentinel, independent of whether Err is set.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// NewError builds a structured error for operation op of kind k, wrapping
// cause (which may be nil).
func NewError(op string, k Kind, cause error) *Error {
	return &Error{Op: op, Kind: k, Err: cause}
}
