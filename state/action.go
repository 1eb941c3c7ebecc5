// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package state

// ActionKind discriminates the executed action.
type ActionKind uint8

const (
	ActionWait ActionKind = iota
	ActionMove
	ActionAttack
	ActionUseItem
	ActionInteract
)

func (k ActionKind) String() string {
	switch k {
	case ActionWait:
		return "wait"
	case ActionMove:
		return "move"
	case ActionAttack:
		return "attack"
	case ActionUseItem:
		return "use-item"
	case ActionInteract:
		return "interact"
	default:
		return "unknown"
	}
}

// Action describes the already-validated action that produced a transition.
// The pipeline never re-checks game rules; the descriptor only rides along
// so the proving subsystem knows what it is proving.
type Action struct {
	Kind      ActionKind
	Actor     ID
	Target    ID
	To        Position
	Magnitude uint32
}

// Canonical returns the canonical byte encoding of the action descriptor.
func (a Action) Canonical() []byte {
	w := newChunkWriter(6)
	w.write(uint64(a.Kind))
	w.write(uint64(a.Actor))
	w.write(uint64(a.Target))
	w.write(uint64(a.To.X))
	w.write(uint64(a.To.Y))
	w.write(uint64(a.Magnitude))
	return w.buf
}
