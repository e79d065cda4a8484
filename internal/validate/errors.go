package validate

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a mission request was rejected.
type Kind string

const (
	KindMalformedSubtask    Kind = "MalformedSubtask"
	KindDuplicateSubtaskID  Kind = "DuplicateSubtaskId"
	KindDelegationForbidden Kind = "DelegationForbidden"
	KindDanglingDependency  Kind = "DanglingDependency"
	KindCyclicDependency    Kind = "CyclicDependency"
	// KindInvalidRequest covers mission-level fields such as cleanup policy or spawn budget.
	KindInvalidRequest Kind = "InvalidRequest"
)

// Sentinel errors matched by errors.Is against an *Error of the same kind.
var (
	ErrMalformedSubtask    = errors.New("malformed subtask")
	ErrDuplicateSubtaskID  = errors.New("duplicate subtask id")
	ErrDelegationForbidden = errors.New("delegation forbidden")
	ErrDanglingDependency  = errors.New("dangling dependency")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrInvalidRequest      = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindMalformedSubtask:    ErrMalformedSubtask,
	KindDuplicateSubtaskID:  ErrDuplicateSubtaskID,
	KindDelegationForbidden: ErrDelegationForbidden,
	KindDanglingDependency:  ErrDanglingDependency,
	KindCyclicDependency:    ErrCyclicDependency,
	KindInvalidRequest:      ErrInvalidRequest,
}

// Error is a structured rejection of a mission request. No mission or
// session exists when one is returned.
type Error struct {
	Kind Kind
	// SubtaskID names the offending descriptor, when there is one.
	SubtaskID string
	// Detail is a human readable explanation.
	Detail string
	// Allowed lists the permitted agents for DelegationForbidden.
	Allowed []string
	// Cycle lists the subtask IDs on the cycle for CyclicDependency.
	Cycle []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(sentinels[e.Kind].Error())
	if e.SubtaskID != "" {
		fmt.Fprintf(&b, " (subtask %q)", e.SubtaskID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Kind == KindDelegationForbidden {
		allowed := "none"
		if len(e.Allowed) > 0 {
			allowed = strings.Join(e.Allowed, ", ")
		}
		fmt.Fprintf(&b, " (allowed: %s)", allowed)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return sentinels[e.Kind] }

// IsForbidden reports whether err is a delegation rejection.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrDelegationForbidden)
}
