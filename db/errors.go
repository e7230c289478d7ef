// ABOUTME: Error taxonomy for the object store
// ABOUTME: Maps failure kinds to error classes and last-error bookkeeping
package db

import "github.com/zeebo/errs"

// Kind is the coarse failure category of a store call. Callers must check the
// returned error, not infer failure from an empty result: "no rows" and
// "query failed" are distinct conditions.
type Kind int

const (
	KindNone Kind = iota
	KindBackend
	KindLoginFailed
	KindInitFailed
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindInvalidArgument
	KindQuotaExceeded
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindBackend:
		return "backend failure"
	case KindLoginFailed:
		return "login failed"
	case KindInitFailed:
		return "init failed"
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindAlreadyExists:
		return "already exists"
	case KindInvalidArgument:
		return "invalid argument"
	case KindQuotaExceeded:
		return "quota exceeded"
	case KindSchema:
		return "schema error"
	}
	return "unknown"
}

// One error class per kind. Schema and permission violations are never
// retried; transient backend-busy conditions are retried inside the executor
// and never surface as errors.
var (
	ErrBackend          = errs.Class("backend failure")
	ErrLoginFailed      = errs.Class("login failed")
	ErrInitFailed       = errs.Class("init failed")
	ErrNotFound         = errs.Class("not found")
	ErrPermissionDenied = errs.Class("permission denied")
	ErrAlreadyExists    = errs.Class("already exists")
	ErrInvalidArgument  = errs.Class("invalid argument")
	ErrQuotaExceeded    = errs.Class("quota exceeded")
	ErrSchema           = errs.Class("schema error")
)

func classFor(k Kind) *errs.Class {
	switch k {
	case KindLoginFailed:
		return &ErrLoginFailed
	case KindInitFailed:
		return &ErrInitFailed
	case KindNotFound:
		return &ErrNotFound
	case KindPermissionDenied:
		return &ErrPermissionDenied
	case KindAlreadyExists:
		return &ErrAlreadyExists
	case KindInvalidArgument:
		return &ErrInvalidArgument
	case KindQuotaExceeded:
		return &ErrQuotaExceeded
	case KindSchema:
		return &ErrSchema
	}
	return &ErrBackend
}

// KindOf reports the taxonomy kind of an error returned by this package.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case ErrLoginFailed.Has(err):
		return KindLoginFailed
	case ErrInitFailed.Has(err):
		return KindInitFailed
	case ErrNotFound.Has(err):
		return KindNotFound
	case ErrPermissionDenied.Has(err):
		return KindPermissionDenied
	case ErrAlreadyExists.Has(err):
		return KindAlreadyExists
	case ErrInvalidArgument.Has(err):
		return KindInvalidArgument
	case ErrQuotaExceeded.Has(err):
		return KindQuotaExceeded
	case ErrSchema.Has(err):
		return KindSchema
	}
	return KindBackend
}
