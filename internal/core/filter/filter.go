// Package filter gates which items may enter or leave which slots. Filters
// are plain predicates; the container core evaluates the global policy
// first, then the per-slot filter for the action, and the first failing
// check wins.
package filter

import (
	"github.com/stackvault/stackvault/internal/core/item"
)

// Action is the direction of a gated operation.
type Action uint8

const (
	ActionAdd Action = iota
	ActionRemove
)

func (a Action) String() string {
	if a == ActionAdd {
		return "add"
	}
	return "remove"
}

// Policy is the container-wide gate applied before any per-slot filter.
type Policy uint8

const (
	AllowAll Policy = iota
	DenyAll
	InputOnly
	OutputOnly
)

// Allows reports whether the policy permits the action direction at all.
func (p Policy) Allows(a Action) bool {
	switch p {
	case AllowAll:
		return true
	case DenyAll:
		return false
	case InputOnly:
		return a == ActionAdd
	case OutputOnly:
		return a == ActionRemove
	default:
		return false
	}
}

func (p Policy) String() string {
	switch p {
	case AllowAll:
		return "allow_all"
	case DenyAll:
		return "deny_all"
	case InputOnly:
		return "input_only"
	case OutputOnly:
		return "output_only"
	default:
		return "unknown"
	}
}

// SlotFilter decides whether one stack may pass one action on one slot.
// Implementations must be pure; the container calls them under its write
// lock.
type SlotFilter func(a Action, s item.Stack) bool

// Allow passes everything.
func Allow() SlotFilter {
	return func(Action, item.Stack) bool { return true }
}

// Deny rejects everything.
func Deny() SlotFilter {
	return func(Action, item.Stack) bool { return false }
}

// OfType passes only stacks of the given types.
func OfType(types ...item.TypeID) SlotFilter {
	set := make(map[item.TypeID]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(_ Action, s item.Stack) bool {
		_, ok := set[s.Type]
		return ok
	}
}

// ForAction restricts an inner filter to one action, passing the other
// action unconditionally.
func ForAction(a Action, inner SlotFilter) SlotFilter {
	return func(got Action, s item.Stack) bool {
		if got != a {
			return true
		}
		return inner(got, s)
	}
}

// All passes when every filter passes.
func All(filters ...SlotFilter) SlotFilter {
	return func(a Action, s item.Stack) bool {
		for _, f := range filters {
			if !f(a, s) {
				return false
			}
		}
		return true
	}
}
