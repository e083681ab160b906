// Package serrors carries coded domain errors. Every error that crosses a
// service boundary is one of the kinds below; callers branch on the kind,
// never on message text.
package serrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorised      Kind = "UNAUTHORISED"
	KindIllegalOperation  Kind = "ILLEGAL_OPERATION"
	KindIdentityExists    Kind = "IDENTITY_EXISTS"
	KindNoResultFound     Kind = "NO_RESULT_FOUND"
	KindProtected         Kind = "PROTECTED"
	KindInconsistentState Kind = "INCONSISTENT_STATE"
	KindTransient         Kind = "TRANSIENT"
)

// Base is a coded error with a human-readable message and no stack.
type Base struct {
	Code    Kind
	Message string
	Hint    string
}

func (e *Base) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any error of the same kind, so sentinel comparisons like
// errors.Is(err, serrors.Unauthorised("")) work regardless of message.
func (e *Base) Is(target error) bool {
	var other *Base
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func NewError(code Kind, message, hint string) *Base {
	return &Base{Code: code, Message: message, Hint: hint}
}

func Unauthorised(format string, args ...any) *Base {
	return &Base{Code: KindUnauthorised, Message: fmt.Sprintf(format, args...)}
}

func IllegalOperation(format string, args ...any) *Base {
	return &Base{Code: KindIllegalOperation, Message: fmt.Sprintf(format, args...)}
}

func IdentityExists(format string, args ...any) *Base {
	return &Base{Code: KindIdentityExists, Message: fmt.Sprintf(format, args...)}
}

func NoResultFound(format string, args ...any) *Base {
	return &Base{Code: KindNoResultFound, Message: fmt.Sprintf(format, args...)}
}

func Protected(format string, args ...any) *Base {
	return &Base{Code: KindProtected, Message: fmt.Sprintf(format, args...)}
}

func InconsistentState(format string, args ...any) *Base {
	return &Base{Code: KindInconsistentState, Message: fmt.Sprintf(format, args...)}
}

func Transient(format string, args ...any) *Base {
	return &Base{Code: KindTransient, Message: fmt.Sprintf(format, args...)}
}

func KindOf(err error) (Kind, bool) {
	var b *Base
	if errors.As(err, &b) {
		return b.Code, true
	}
	return "", false
}

func IsUnauthorised(err error) bool      { return isKind(err, KindUnauthorised) }
func IsIllegalOperation(err error) bool  { return isKind(err, KindIllegalOperation) }
func IsIdentityExists(err error) bool    { return isKind(err, KindIdentityExists) }
func IsNoResultFound(err error) bool     { return isKind(err, KindNoResultFound) }
func IsProtected(err error) bool         { return isKind(err, KindProtected) }
func IsInconsistentState(err error) bool { return isKind(err, KindInconsistentState) }
func IsTransient(err error) bool         { return isKind(err, KindTransient) }

func isKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
