package models

import "time"

// Operation kinds understood by the conflict resolver.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Operation is a position-addressed document edit. UserID is stamped by
// the server from the sending connection's identity.
type Operation struct {
	DocumentID  string `json:"document_id"`
	Kind        string `json:"kind"`
	Position    int    `json:"position"`
	Text        string `json:"text,omitempty"`   // insert payload
	Length      int    `json:"length,omitempty"` // delete span
	BaseVersion int64  `json:"base_version"`
	UserID      string `json:"user_id,omitempty"`
	Timestamp   int64  `json:"ts,omitempty"` // Unix ms, arrival order tie-break
}

// Delta returns the length change the operation applies to the document.
func (o Operation) Delta() int {
	switch o.Kind {
	case OpInsert:
		return len(o.Text)
	case OpDelete:
		return -o.Length
	}
	return 0
}

// CursorPosition is the last reported cursor location of a user in a
// room. Last-writer-wins, never persisted.
type CursorPosition struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ElementID string  `json:"element_id,omitempty"`
}

// DocumentLock is an advisory exclusive lock on a document. Lifetime is
// bounded by the owning connection's lifetime.
type DocumentLock struct {
	DocumentID  string    `json:"document_id"`
	LockID      string    `json:"lock_id"`
	OwnerConnID string    `json:"-"`
	OwnerUserID string    `json:"owner_id"`
	LockType    string    `json:"lock_type"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// LockExclusive is the only lock type currently supported.
const LockExclusive = "exclusive"
