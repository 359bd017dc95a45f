// server/store/op.go
package store

import (
	"fmt"

	"github.com/ViniZap4/tagkosha-server/domain"
)

type OpKind uint8

const (
	OpPutNote OpKind = iota + 1
	OpUpdateNote
	OpDeleteNote
	OpCreateCounter
	OpIncrementCounter
	OpSetCounter
)

func (k OpKind) String() string {
	switch k {
	case OpPutNote:
		return "put_note"
	case OpUpdateNote:
		return "update_note"
	case OpDeleteNote:
		return "delete_note"
	case OpCreateCounter:
		return "create_counter"
	case OpIncrementCounter:
		return "increment_counter"
	case OpSetCounter:
		return "set_counter"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is a single write. Build it with the constructors below.
type Op struct {
	Kind    OpKind
	ID      string
	Note    *domain.Note
	Counter *domain.TagCounter
	// Delta for OpIncrementCounter, absolute value for OpSetCounter.
	Value int64
}

// PutNote creates a note document.
func PutNote(n *domain.Note) Op {
	return Op{Kind: OpPutNote, ID: n.ID, Note: n}
}

// UpdateNote overwrites title, content, tags and updated_at of an existing
// note; created_at and owner are left alone.
func UpdateNote(n *domain.Note) Op {
	return Op{Kind: OpUpdateNote, ID: n.ID, Note: n}
}

func DeleteNote(id string) Op {
	return Op{Kind: OpDeleteNote, ID: id}
}

func CreateCounter(c *domain.TagCounter) Op {
	return Op{Kind: OpCreateCounter, ID: c.ID, Counter: c}
}

// IncrementCounter fails the enclosing write if the counter does not exist.
// Counts never drop below zero.
func IncrementCounter(id string, delta int64) Op {
	return Op{Kind: OpIncrementCounter, ID: id, Value: delta}
}

func SetCounter(id string, count int64) Op {
	return Op{Kind: OpSetCounter, ID: id, Value: count}
}
