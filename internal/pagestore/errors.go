package pagestore

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind identifies the class of a store error so callers can switch on a
// stable value instead of parsing messages.
type Kind int

const (
	KindFileNotFound Kind = iota
	KindBadSignature
	KindHeaderCorrupt
	KindBlockCorrupt
	KindFreedAddress
	KindFreedStaticAddress
	KindInvalidAddress
	KindIoRead
	KindIoWrite
	KindIoForce
	KindIoClose
	KindIoTruncate
	KindIoSize
	KindShutdown
	KindPageFull
)

// kindMessages is the static resource table mapping an error kind to its
// format string, per the "no runtime resource-loading facility" design note.
var kindMessages = map[Kind]string{
	KindFileNotFound:       "store file not found",
	KindBadSignature:       "bad store signature",
	KindHeaderCorrupt:      "header corrupt",
	KindBlockCorrupt:       "block corrupt",
	KindFreedAddress:       "address is freed",
	KindFreedStaticAddress: "static address is freed",
	KindInvalidAddress:     "invalid address",
	KindIoRead:             "read error",
	KindIoWrite:            "write error",
	KindIoForce:            "fsync error",
	KindIoClose:            "close error",
	KindIoTruncate:         "truncate error",
	KindIoSize:             "size error",
	KindShutdown:           "store is shut down",
	KindPageFull:           "page has insufficient room",
}

func (k Kind) String() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// StoreError is the store's typed error; most public operations return
// one directly. It carries a stable Kind plus the operation that failed and, for
// I/O failures, the underlying cause (annotated with github.com/juju/errors
// so a stack trace survives without losing the sentinel kind).
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrFreedAddress) style sentinel comparisons by
// kind rather than by identity.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(op string, kind Kind) *StoreError {
	return &StoreError{Kind: kind, Op: op}
}

// wrapIO annotates an I/O-causing error with a stack trace (via juju/errors)
// while preserving the store's typed Kind for the caller's type switch.
func wrapIO(op string, kind Kind, cause error) *StoreError {
	if cause == nil {
		return newErr(op, kind)
	}
	return &StoreError{Kind: kind, Op: op, Err: errors.Annotate(cause, op)}
}

// Sentinel kinds for errors.Is comparisons, e.g. errors.Is(err, ErrFreedAddress).
var (
	ErrFileNotFound       = &StoreError{Kind: KindFileNotFound}
	ErrBadSignature       = &StoreError{Kind: KindBadSignature}
	ErrHeaderCorrupt      = &StoreError{Kind: KindHeaderCorrupt}
	ErrBlockCorrupt       = &StoreError{Kind: KindBlockCorrupt}
	ErrFreedAddress       = &StoreError{Kind: KindFreedAddress}
	ErrFreedStaticAddress = &StoreError{Kind: KindFreedStaticAddress}
	ErrInvalidAddress     = &StoreError{Kind: KindInvalidAddress}
	ErrShutdown           = &StoreError{Kind: KindShutdown}
	ErrPageFull           = &StoreError{Kind: KindPageFull}
)
