// Package ids defines the identity types shared by every layer of the
// CRDT: replica identifiers, Lamport stamps, operation identifiers and
// the anchors that let one piece of text be addressed independently of
// its current position.
package ids

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ReplicaID is an opaque, total-ordered 128-bit identifier for a
// collaborating process. A fresh one is minted locally when an Engine is
// constructed (see crdt.New).
type ReplicaID uuid.UUID

// NewReplicaID mints a fresh, locally generated replica identifier.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.New())
}

// Compare returns -1, 0 or 1 as a orders before, equal to, or after b.
func (a ReplicaID) Compare(b ReplicaID) int {
	ua, ub := uuid.UUID(a), uuid.UUID(b)
	return bytes.Compare(ua[:], ub[:])
}

// Less is the total order used to break ties between concurrent stamps.
func (a ReplicaID) Less(b ReplicaID) bool {
	return a.Compare(b) < 0
}

func (a ReplicaID) String() string {
	return uuid.UUID(a).String()
}

// MarshalText/UnmarshalText let ReplicaID round-trip through JSON (and
// anything else built on encoding.TextMarshaler) as its canonical UUID
// string form; a renamed array type otherwise inherits none of
// uuid.UUID's methods.
func (a ReplicaID) MarshalText() ([]byte, error) {
	return uuid.UUID(a).MarshalText()
}

func (a *ReplicaID) UnmarshalText(text []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(text); err != nil {
		return err
	}
	*a = ReplicaID(u)
	return nil
}

// Stamp is a per-replica monotonically increasing Lamport counter.
// (replica, stamp) uniquely names every operation ever applied (§3).
type Stamp uint32

// OperationID names one operation: the replica that issued it and its
// Lamport stamp. Total order is stamp first, then replica (§3).
type OperationID struct {
	Replica ReplicaID
	Stamp   Stamp
}

// Less orders by stamp, then by replica.
func (a OperationID) Less(b OperationID) bool {
	if a.Stamp != b.Stamp {
		return a.Stamp < b.Stamp
	}
	return a.Replica.Less(b.Replica)
}

func (a OperationID) String() string {
	return fmt.Sprintf("%s@%d", a.Replica, a.Stamp)
}

// Anchor is a stable logical pointer into the document: the identity of
// the insertion that produced a codepoint, plus the codepoint's position
// within that insertion (§3, GLOSSARY).
type Anchor struct {
	Replica ReplicaID
	Stamp   Stamp
	Pos     int
}

// OperationType discriminates the five kinds of operation the engine
// understands (§3).
type OperationType uint8

const (
	OpInsert OperationType = iota
	OpDelete
	OpFormat
	OpUndo
	OpRedo
)

func (t OperationType) String() string {
	switch t {
	case OpInsert:
		return "Insert"
	case OpDelete:
		return "Delete"
	case OpFormat:
		return "Format"
	case OpUndo:
		return "Undo"
	case OpRedo:
		return "Redo"
	default:
		return "Unknown"
	}
}
