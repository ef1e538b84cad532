// Package wire defines the JSON encoding of operation records crossing
// the transport boundary (§6). It is not part of the CRDT core — the
// core never imports it — but every cmd/ binary and internal/persist
// use it to move collabtext/crdt operation requests across a wire or a
// log.
package wire

import (
	"encoding/json"
	"fmt"

	"collabtext/crdt"
	"collabtext/ids"
)

// Kind discriminates the five operation record shapes of §6.
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
	KindFormat Kind = "format"
	KindUndo   Kind = "undo"
	KindRedo   Kind = "redo"
)

// Anchor is the wire form of ids.Anchor.
type Anchor struct {
	Replica ids.ReplicaID `json:"replica"`
	Stamp   ids.Stamp     `json:"stamp"`
	Pos     int           `json:"pos"`
}

func toAnchor(a Anchor) ids.Anchor { return ids.Anchor(a) }
func fromAnchor(a ids.Anchor) Anchor {
	return Anchor{Replica: a.Replica, Stamp: a.Stamp, Pos: a.Pos}
}

// Operation is the envelope every wire message uses: exactly one of the
// payload fields is populated, selected by Kind.
type Operation struct {
	Kind    Kind          `json:"kind"`
	Replica ids.ReplicaID `json:"replica"`
	Stamp   ids.Stamp     `json:"stamp"`

	Anchor *Anchor `json:"anchor,omitempty"`
	Text   string  `json:"text,omitempty"`

	Begin *Anchor `json:"begin,omitempty"`
	End   *Anchor `json:"end,omitempty"`
	Key   string  `json:"key,omitempty"`
	Value any     `json:"value,omitempty"`

	TargetReplica ids.ReplicaID `json:"target_replica,omitzero"`
	TargetStamp   ids.Stamp     `json:"target_stamp,omitempty"`
}

// Marshal encodes op as a JSON Operation record.
func Marshal(op Operation) ([]byte, error) { return json.Marshal(op) }

// Unmarshal decodes a JSON Operation record.
func Unmarshal(data []byte) (Operation, error) {
	var op Operation
	err := json.Unmarshal(data, &op)
	return op, err
}

// FromInsertion / FromDeletion / FromFormat / FromUndo / FromRedo build
// the wire Operation for each crdt request type.
func FromInsertion(op crdt.Insertion) Operation {
	a := fromAnchor(op.Anchor)
	return Operation{Kind: KindInsert, Replica: op.Replica, Stamp: op.Stamp, Anchor: &a, Text: op.Text}
}

func FromDeletion(op crdt.Deletion) Operation {
	b, e := fromAnchor(op.Begin), fromAnchor(op.End)
	return Operation{Kind: KindDelete, Replica: op.Replica, Stamp: op.Stamp, Begin: &b, End: &e}
}

func FromFormat(op crdt.FormatOp) Operation {
	b, e := fromAnchor(op.Begin), fromAnchor(op.End)
	return Operation{Kind: KindFormat, Replica: op.Replica, Stamp: op.Stamp, Begin: &b, End: &e, Key: op.Key, Value: op.Value}
}

func FromUndo(op crdt.UndoOp) Operation {
	return Operation{Kind: KindUndo, Replica: op.Replica, Stamp: op.Stamp, TargetReplica: op.Target.Replica, TargetStamp: op.Target.Stamp}
}

func FromRedo(op crdt.RedoOp) Operation {
	return Operation{Kind: KindRedo, Replica: op.Replica, Stamp: op.Stamp, TargetReplica: op.Target.Replica, TargetStamp: op.Target.Stamp}
}

// Apply replays a decoded Operation against an engine, returning whether
// the engine accepted it.
func Apply(e *crdt.Engine, op Operation) (bool, error) {
	switch op.Kind {
	case KindInsert:
		if op.Anchor == nil {
			return false, fmt.Errorf("wire: insert record missing anchor")
		}
		return e.Insert(crdt.Insertion{Replica: op.Replica, Stamp: op.Stamp, Anchor: toAnchor(*op.Anchor), Text: op.Text}), nil
	case KindDelete:
		if op.Begin == nil || op.End == nil {
			return false, fmt.Errorf("wire: delete record missing begin/end")
		}
		return e.Delete(crdt.Deletion{Replica: op.Replica, Stamp: op.Stamp, Begin: toAnchor(*op.Begin), End: toAnchor(*op.End)}), nil
	case KindFormat:
		if op.Begin == nil || op.End == nil {
			return false, fmt.Errorf("wire: format record missing begin/end")
		}
		return e.Format(crdt.FormatOp{Replica: op.Replica, Stamp: op.Stamp, Begin: toAnchor(*op.Begin), End: toAnchor(*op.End), Key: op.Key, Value: op.Value}), nil
	case KindUndo:
		return e.Undo(crdt.UndoOp{Replica: op.Replica, Stamp: op.Stamp, Target: ids.OperationID{Replica: op.TargetReplica, Stamp: op.TargetStamp}}), nil
	case KindRedo:
		return e.Redo(crdt.RedoOp{Replica: op.Replica, Stamp: op.Stamp, Target: ids.OperationID{Replica: op.TargetReplica, Stamp: op.TargetStamp}}), nil
	default:
		return false, fmt.Errorf("wire: unknown operation kind %q", op.Kind)
	}
}
