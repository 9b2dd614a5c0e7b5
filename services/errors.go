package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/cppla/checkin/store"
)

// Kind classifies a failed operation for callers that pick a status or retry policy.
type Kind string

const (
	KindStoreUnavailable Kind = "store_unavailable"
	KindConflict         Kind = "conflict"
	KindTimeout          Kind = "timeout"
	KindCorruptRecord    Kind = "corrupt_record"
	KindMalformedInput   Kind = "malformed_input"
)

// Sentinels usable with errors.Is against any *ServiceError of the matching kind.
var (
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrConflict         = errors.New("concurrent check-in conflict")
	ErrTimeout          = errors.New("record store timed out")
	ErrCorruptRecord    = errors.New("stored record is corrupt")
	ErrMalformedInput   = errors.New("malformed input")
)

var kindSentinels = map[Kind]error{
	KindStoreUnavailable: ErrStoreUnavailable,
	KindConflict:         ErrConflict,
	KindTimeout:          ErrTimeout,
	KindCorruptRecord:    ErrCorruptRecord,
	KindMalformedInput:   ErrMalformedInput,
}

// ServiceError carries the failure kind, the operation that failed and the underlying cause.
type ServiceError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the kind of a *ServiceError in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// storeError maps a store-layer failure onto the service taxonomy.
func storeError(op string, err error) error {
	kind := KindStoreUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, store.ErrConflict):
		kind = KindConflict
	case errors.Is(err, store.ErrCorrupt):
		kind = KindCorruptRecord
	}
	return &ServiceError{Kind: kind, Op: op, Err: err}
}
