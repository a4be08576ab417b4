package material

import (
	"github.com/stackvault/stackvault/internal/core/item"
)

// Resolver expands category tags and abstract resources into the concrete
// item types that satisfy them. The item registry implements it; this
// package only calls it.
type Resolver interface {
	TypesForTag(TagID) []item.TypeID
	TypesForResource(ResourceID) []item.TypeID
}

// Matcher is a compiled predicate for one removal request. Tag and resource
// requests resolve their type set once at construction, so matching during a
// slot scan is a map lookup regardless of kind.
type Matcher struct {
	request Quantity
	exact   item.TypeID
	set     map[item.TypeID]struct{}
}

// NewMatcher compiles a request against a resolver. The resolver may be nil
// for KindStack requests; tag and resource requests without a resolver match
// nothing.
func NewMatcher(q Quantity, r Resolver) Matcher {
	m := Matcher{request: q}
	switch q.kind {
	case KindStack:
		m.exact = q.typeID
	case KindTag:
		if r != nil {
			m.set = typeSet(r.TypesForTag(q.tag))
		}
	case KindResource:
		if r != nil {
			m.set = typeSet(r.TypesForResource(q.resource))
		}
	}
	return m
}

// Matches reports whether a stored stack counts toward the request.
// Empty stacks never match.
func (m Matcher) Matches(s item.Stack) bool {
	if s.IsEmpty() {
		return false
	}
	if m.request.kind == KindStack {
		return s.Type == m.exact
	}
	_, ok := m.set[s.Type]
	return ok
}

// Request returns the request the matcher was compiled from.
func (m Matcher) Request() Quantity { return m.request }

func typeSet(types []item.TypeID) map[item.TypeID]struct{} {
	set := make(map[item.TypeID]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
