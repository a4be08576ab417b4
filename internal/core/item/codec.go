package item

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Binary slot-array codec. Container-in-item views serialize their slots into
// the metadata blob of the backing stack with this format:
//
//	u8  version
//	u16 entry count
//	per entry: u16 slot, u32 type, u32 qty, u32 meta length, meta bytes
//
// Entries are written in ascending slot order so equal contents always
// produce equal blobs.
const codecVersion = 1

// EncodeSlots serializes a sparse slot map. Empty stacks are skipped.
func EncodeSlots(slots map[int]Stack) []byte {
	idx := make([]int, 0, len(slots))
	for i, s := range slots {
		if s.IsEmpty() {
			continue
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	size := 3
	for _, i := range idx {
		size += 14 + len(slots[i].Meta)
	}
	out := make([]byte, 0, size)
	out = append(out, codecVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(idx)))
	for _, i := range idx {
		s := slots[i]
		out = binary.BigEndian.AppendUint16(out, uint16(i))
		out = binary.BigEndian.AppendUint32(out, uint32(s.Type))
		out = binary.BigEndian.AppendUint32(out, uint32(s.Qty))
		out = binary.BigEndian.AppendUint32(out, uint32(len(s.Meta)))
		out = append(out, s.Meta...)
	}
	return out
}

// DecodeSlots parses a blob produced by EncodeSlots. A nil or empty blob
// decodes to an empty slot map, so a fresh backing item starts out empty.
func DecodeSlots(b []byte) (map[int]Stack, error) {
	slots := make(map[int]Stack)
	if len(b) == 0 {
		return slots, nil
	}
	if b[0] != codecVersion {
		return nil, fmt.Errorf("item: unknown slot codec version %d", b[0])
	}
	if len(b) < 3 {
		return nil, fmt.Errorf("item: slot blob truncated at header")
	}
	count := int(binary.BigEndian.Uint16(b[1:3]))
	off := 3
	for n := 0; n < count; n++ {
		if len(b) < off+14 {
			return nil, fmt.Errorf("item: slot blob truncated at entry %d", n)
		}
		slot := int(binary.BigEndian.Uint16(b[off : off+2]))
		typ := TypeID(binary.BigEndian.Uint32(b[off+2 : off+6]))
		qty := int(binary.BigEndian.Uint32(b[off+6 : off+10]))
		metaLen := int(binary.BigEndian.Uint32(b[off+10 : off+14]))
		off += 14
		if len(b) < off+metaLen {
			return nil, fmt.Errorf("item: slot blob truncated at entry %d metadata", n)
		}
		if qty <= 0 {
			return nil, fmt.Errorf("item: slot blob entry %d has non-positive quantity %d", n, qty)
		}
		if _, dup := slots[slot]; dup {
			return nil, fmt.Errorf("item: slot blob has duplicate slot %d", slot)
		}
		var meta []byte
		if metaLen > 0 {
			meta = make([]byte, metaLen)
			copy(meta, b[off:off+metaLen])
		}
		slots[slot] = Stack{Type: typ, Qty: qty, Meta: meta}
		off += metaLen
	}
	if off != len(b) {
		return nil, fmt.Errorf("item: slot blob has %d trailing bytes", len(b)-off)
	}
	return slots, nil
}
