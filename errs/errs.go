// Package errs defines the closed error taxonomy every core fallible
// operation returns (spec §7), and the POSIX errno projection used only
// at the FUSE/CLI boundary.
package errs

import "fmt"

// Code is one of the fixed taxonomy values from §7. It is never extended
// ad hoc: a new failure mode must be mapped onto one of these.
type Code int

const (
	Ok Code = iota
	NotFound
	AlreadyExists
	PermissionDenied
	NotCoordinator
	Stale
	Busy
	InvalidArgument
	DriverError
	NoData // transient-retryable: no free worker, no RG reachable
	IOError
	OutOfMemory
	ProtocolMismatch

	// Sub-codes of the wire-level §4.1/§4.6 contract that don't change the
	// propagation rules of §7 but need distinct identity for tests (S1, S5).
	InvalidSignature
	WrongSigner
	CorruptChunk
	DriverAbsent
	NotAManifest
	WrongCoordinator
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case PermissionDenied:
		return "PermissionDenied"
	case NotCoordinator:
		return "NotCoordinator"
	case Stale:
		return "Stale"
	case Busy:
		return "Busy"
	case InvalidArgument:
		return "InvalidArgument"
	case DriverError:
		return "DriverError"
	case NoData:
		return "NoData"
	case IOError:
		return "IOError"
	case OutOfMemory:
		return "OutOfMemory"
	case ProtocolMismatch:
		return "ProtocolMismatch"
	case InvalidSignature:
		return "InvalidSignature"
	case WrongSigner:
		return "WrongSigner"
	case CorruptChunk:
		return "CorruptChunk"
	case DriverAbsent:
		return "DriverAbsent"
	case NotAManifest:
		return "NotAManifest"
	case WrongCoordinator:
		return "WrongCoordinator"
	default:
		return "Unknown"
	}
}

// Error wraps a taxonomy Code with context, following the
// fmt.Errorf("Xxx: %w", err) wrapping idiom used throughout the teacher.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged Error; wrapped may be nil.
func New(op string, code Code, wrapped error) *Error {
	return &Error{Code: code, Op: op, Err: wrapped}
}

// CodeOf extracts the taxonomy Code from err, defaulting to IOError for
// any error that didn't originate in this package (an unmapped error is
// always treated as non-transient).
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return IOError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the propagation rule for this code is "the
// caller may retry" (§7: NoData is always retryable).
func Retryable(code Code) bool {
	return code == NoData
}

// Errno is the POSIX errno this taxonomy code maps to at the UG's
// FUSE boundary (§7 "User-visible behavior").
type Errno string

const (
	ENOENT Errno = "ENOENT"
	EEXIST Errno = "EEXIST"
	EACCES Errno = "EACCES"
	EREMOTE Errno = "EREMOTE"
	EIO     Errno = "EIO"
	EAGAIN  Errno = "EAGAIN"
	EPROTO  Errno = "EPROTO"
	EBUSY   Errno = "EBUSY"
	EINVAL  Errno = "EINVAL"
	ENOMEM  Errno = "ENOMEM"
	ESUCCESS Errno = ""
)

// ToErrno projects a taxonomy Code onto the POSIX errno a UG returns from
// a fskit-layer call.
func ToErrno(code Code) Errno {
	switch code {
	case Ok:
		return ESUCCESS
	case NotFound:
		return ENOENT
	case AlreadyExists:
		return EEXIST
	case PermissionDenied:
		return EACCES
	case NotCoordinator, Stale, WrongCoordinator:
		return EREMOTE
	case DriverError, IOError, DriverAbsent, CorruptChunk, InvalidSignature, WrongSigner, NotAManifest:
		return EIO
	case NoData:
		return EAGAIN
	case ProtocolMismatch:
		return EPROTO
	case Busy:
		return EBUSY
	case InvalidArgument:
		return EINVAL
	case OutOfMemory:
		return ENOMEM
	default:
		return EIO
	}
}
