package item

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TypeID identifies an item definition. Resolution of ids to definitions is
// owned by the registry; this package treats them as opaque integers.
type TypeID uint32

// Stack is an immutable quantity of one item type. The zero value is the
// empty stack and stands for an empty slot. A stack with Qty == 0 does not
// exist; code producing one must store the empty stack instead.
type Stack struct {
	Type TypeID
	Qty  int
	Meta []byte
}

// New builds a stack, copying the metadata blob so the caller cannot alias
// the stored bytes.
func New(t TypeID, qty int, meta []byte) Stack {
	if qty <= 0 {
		panic(fmt.Sprintf("item: stack quantity must be positive, got %d", qty))
	}
	return Stack{Type: t, Qty: qty, Meta: cloneMeta(meta)}
}

// Empty is the canonical empty-slot value.
func Empty() Stack { return Stack{} }

func (s Stack) IsEmpty() bool { return s.Qty == 0 }

// WithQty returns a copy of the stack carrying a different quantity.
// A quantity of zero yields the empty stack.
func (s Stack) WithQty(qty int) Stack {
	if qty < 0 {
		panic(fmt.Sprintf("item: negative stack quantity %d", qty))
	}
	if qty == 0 {
		return Stack{}
	}
	return Stack{Type: s.Type, Qty: qty, Meta: s.Meta}
}

// WithMeta returns a copy of the stack carrying a different metadata blob.
func (s Stack) WithMeta(meta []byte) Stack {
	if s.IsEmpty() {
		panic("item: WithMeta on empty stack")
	}
	return Stack{Type: s.Type, Qty: s.Qty, Meta: cloneMeta(meta)}
}

// SameKind reports whether two stacks may merge: same type id and identical
// metadata. The fingerprint comparison is the fast path; equal fingerprints
// are confirmed byte for byte.
func (s Stack) SameKind(o Stack) bool {
	if s.IsEmpty() || o.IsEmpty() {
		return false
	}
	if s.Type != o.Type {
		return false
	}
	if s.Fingerprint() != o.Fingerprint() {
		return false
	}
	return bytes.Equal(s.Meta, o.Meta)
}

// Equal reports value equality including quantity.
func (s Stack) Equal(o Stack) bool {
	if s.IsEmpty() && o.IsEmpty() {
		return true
	}
	return s.Qty == o.Qty && s.SameKind(o)
}

// Fingerprint hashes the stack identity (type id and metadata, not quantity).
// Container-in-item views use it to detect that a backing item was swapped
// out from under them.
func (s Stack) Fingerprint() uint64 {
	if s.IsEmpty() {
		return 0
	}
	d := xxhash.New()
	var t [4]byte
	binary.BigEndian.PutUint32(t[:], uint32(s.Type))
	_, _ = d.Write(t[:])
	_, _ = d.Write(s.Meta)
	return d.Sum64()
}

func (s Stack) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%dx#%d", s.Qty, s.Type)
}

func cloneMeta(meta []byte) []byte {
	if len(meta) == 0 {
		return nil
	}
	out := make([]byte, len(meta))
	copy(out, meta)
	return out
}
