package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/container"
	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/item"
)

// Frame types on the feed.
const (
	frameSnapshot = "snapshot"
	frameChange   = "change"
)

// wireStack is one slot on the wire. Empty slots serialize as null.
type wireStack struct {
	Type item.TypeID `json:"type"`
	Qty  int         `json:"qty"`
	Meta []byte      `json:"meta,omitempty"`
}

func toWireStack(s item.Stack) *wireStack {
	if s.IsEmpty() {
		return nil
	}
	return &wireStack{Type: s.Type, Qty: s.Qty, Meta: s.Meta}
}

type snapshotFrame struct {
	Frame     string       `json:"frame"`
	Container uuid.UUID    `json:"container"`
	Capacity  int          `json:"capacity"`
	Slots     []*wireStack `json:"slots"`
}

type wireSlotChange struct {
	Slot   int        `json:"slot"`
	Before *wireStack `json:"before"`
	After  *wireStack `json:"after"`
}

type changeFrame struct {
	Frame     string           `json:"frame"`
	ID        uuid.UUID        `json:"id"`
	Container uuid.UUID        `json:"container"`
	Version   uint64           `json:"version"`
	Time      time.Time        `json:"time"`
	Slots     []wireSlotChange `json:"slots"`
}

func encodeSnapshot(c container.Container) ([]byte, error) {
	stacks := c.WireSnapshot()
	slots := make([]*wireStack, len(stacks))
	for i, s := range stacks {
		slots[i] = toWireStack(s)
	}
	return json.Marshal(snapshotFrame{
		Frame:     frameSnapshot,
		Container: c.ID(),
		Capacity:  c.Capacity(),
		Slots:     slots,
	})
}

func encodeChange(ch events.Change) ([]byte, error) {
	slots := make([]wireSlotChange, len(ch.Slots))
	for i, sc := range ch.Slots {
		slots[i] = wireSlotChange{
			Slot:   sc.Slot,
			Before: toWireStack(sc.Before),
			After:  toWireStack(sc.After),
		}
	}
	return json.Marshal(changeFrame{
		Frame:     frameChange,
		ID:        ch.ID,
		Container: ch.Container,
		Version:   ch.Version,
		Time:      ch.Time,
		Slots:     slots,
	})
}
