// Package material models removal requests over three representations of
// "what to remove": a concrete item type, a category tag, or an abstract
// resource. All three share one matching algorithm; only the predicate that
// decides whether a stored stack counts toward the request differs.
package material

import (
	"fmt"

	"github.com/stackvault/stackvault/internal/core/item"
)

// Kind discriminates the Quantity union.
type Kind uint8

const (
	KindStack Kind = iota
	KindTag
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindStack:
		return "stack"
	case KindTag:
		return "tag"
	case KindResource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// TagID names an item category ("wood", "fuel").
type TagID string

// ResourceID names an abstract resource yielded by items ("carbon").
type ResourceID string

// Quantity is an immutable removal request: a kind, the id it matches
// against, and the amount wanted.
type Quantity struct {
	kind     Kind
	typeID   item.TypeID
	tag      TagID
	resource ResourceID
	amount   int
}

// ExactStack requests amount units of one concrete item type. Metadata is
// not part of the match; any stack of the type counts.
func ExactStack(t item.TypeID, amount int) Quantity {
	mustPositive(amount)
	return Quantity{kind: KindStack, typeID: t, amount: amount}
}

// Tag requests amount units drawn from any item type carrying the tag.
func Tag(id TagID, amount int) Quantity {
	mustPositive(amount)
	return Quantity{kind: KindTag, tag: id, amount: amount}
}

// Resource requests amount units drawn from any item type yielding the
// resource.
func Resource(id ResourceID, amount int) Quantity {
	mustPositive(amount)
	return Quantity{kind: KindResource, resource: id, amount: amount}
}

func (q Quantity) Kind() Kind  { return q.kind }
func (q Quantity) Amount() int { return q.amount }

// WithAmount returns the same request for a different amount.
func (q Quantity) WithAmount(amount int) Quantity {
	mustPositive(amount)
	q.amount = amount
	return q
}

func (q Quantity) String() string {
	switch q.kind {
	case KindStack:
		return fmt.Sprintf("%dx type %d", q.amount, q.typeID)
	case KindTag:
		return fmt.Sprintf("%dx tag %q", q.amount, q.tag)
	case KindResource:
		return fmt.Sprintf("%dx resource %q", q.amount, q.resource)
	default:
		return fmt.Sprintf("%dx unknown", q.amount)
	}
}

func mustPositive(amount int) {
	if amount <= 0 {
		panic(fmt.Sprintf("material: amount must be positive, got %d", amount))
	}
}
