package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/metrics"
	"github.com/eldtechnologies/pulse/internal/models"
)

// opHistorySize bounds the per-document operation history kept for
// transforming late-arriving concurrent edits.
const opHistorySize = 64

// Engine coordinates collaborative editing: operation acceptance with
// positional conflict resolution, and advisory exclusive document locks.
//
// Conflict resolution is a simplified positional shift, not a full OT or
// CRDT algorithm: a minimum viable policy, not a complete concurrent
// editing guarantee.
type Engine struct {
	logger     zerolog.Logger
	maxLockAge time.Duration

	mu       sync.Mutex
	locks    map[string]*models.DocumentLock
	byConn   map[string]map[string]struct{} // connID → documentIDs
	versions map[string]int64
	history  map[string][]models.Operation
}

// NewEngine creates a collaboration engine. Locks older than maxLockAge
// are treated as leaked and released by the housekeeper; 0 disables the
// age check.
func NewEngine(maxLockAge time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		logger:     logger.With().Str("component", "collab").Logger(),
		maxLockAge: maxLockAge,
		locks:      make(map[string]*models.DocumentLock),
		byConn:     make(map[string]map[string]struct{}),
		versions:   make(map[string]int64),
		history:    make(map[string][]models.Operation),
	}
}

// Accept validates an operation, transforms it against concurrent edits
// already accepted for the document, records it, and returns the
// transformed operation together with the document's new version.
func (e *Engine) Accept(op models.Operation) (models.Operation, int64, error) {
	switch op.Kind {
	case models.OpInsert:
		if op.Text == "" {
			return op, 0, fmt.Errorf("%w: insert requires text", ErrValidation)
		}
	case models.OpDelete:
		if op.Length <= 0 {
			return op, 0, fmt.Errorf("%w: delete requires a positive length", ErrValidation)
		}
	default:
		return op, 0, fmt.Errorf("%w: unknown operation kind %q", ErrValidation, op.Kind)
	}
	if op.Position < 0 {
		return op, 0, fmt.Errorf("%w: position must not be negative", ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.versions[op.DocumentID]
	if op.BaseVersion > current {
		return op, 0, fmt.Errorf("%w: base version %d is ahead of document version %d", ErrValidation, op.BaseVersion, current)
	}

	// Shift against every accepted operation the sender had not seen.
	for _, prev := range e.history[op.DocumentID] {
		if prev.BaseVersion >= op.BaseVersion {
			op = shift(op, prev)
		}
	}

	e.versions[op.DocumentID] = current + 1
	hist := append(e.history[op.DocumentID], op)
	if len(hist) > opHistorySize {
		hist = hist[len(hist)-opHistorySize:]
	}
	e.history[op.DocumentID] = hist

	return op, current + 1, nil
}

// Transform resolves a batch of concurrent operations in arrival order:
// each operation's position is adjusted by the length delta of every
// earlier operation applied at or before its target offset. The net effect
// preserves both edits' intended content.
func (e *Engine) Transform(ops []models.Operation) []models.Operation {
	out := make([]models.Operation, len(ops))
	for i, op := range ops {
		for j := 0; j < i; j++ {
			if out[j].BaseVersion == op.BaseVersion {
				op = shift(op, out[j])
			}
		}
		out[i] = op
	}
	return out
}

// shift adjusts op's position by the effect of an earlier concurrent
// operation. Earlier edits strictly after op's offset leave it untouched.
func shift(op, earlier models.Operation) models.Operation {
	if earlier.Position > op.Position {
		return op
	}
	op.Position += earlier.Delta()
	// A delete spanning past op's offset pulls it back to the deletion point
	if op.Position < earlier.Position {
		op.Position = earlier.Position
	}
	if op.Position < 0 {
		op.Position = 0
	}
	return op
}

// Version returns a document's current version.
func (e *Engine) Version(documentID string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions[documentID]
}

// Lock acquires an advisory exclusive lock on a document. A document
// already locked by another owner fails immediately with a contention
// error; there is no queueing or retry. Re-locking by the owning
// connection returns the existing lock.
func (e *Engine) Lock(connID, userID, documentID, lockType string) (*models.DocumentLock, error) {
	if lockType == "" {
		lockType = models.LockExclusive
	}
	if lockType != models.LockExclusive {
		return nil, fmt.Errorf("%w: unsupported lock type %q", ErrValidation, lockType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.locks[documentID]; ok {
		if existing.OwnerConnID == connID {
			return existing, nil
		}
		metrics.LockConflicts.Inc()
		return nil, fmt.Errorf("%w: document %q is locked by another session", ErrConflict, documentID)
	}

	lock := &models.DocumentLock{
		DocumentID:  documentID,
		LockID:      uuid.New().String(),
		OwnerConnID: connID,
		OwnerUserID: userID,
		LockType:    lockType,
		AcquiredAt:  time.Now(),
	}
	e.locks[documentID] = lock

	docs, ok := e.byConn[connID]
	if !ok {
		docs = make(map[string]struct{})
		e.byConn[connID] = docs
	}
	docs[documentID] = struct{}{}

	return lock, nil
}

// Unlock releases a lock held by the calling connection.
func (e *Engine) Unlock(connID, documentID, lockID string) (*models.DocumentLock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: document %q is not locked", ErrNotFound, documentID)
	}
	if lock.OwnerConnID != connID {
		return nil, fmt.Errorf("%w: lock on %q is owned by another session", ErrPermission, documentID)
	}
	if lockID != "" && lock.LockID != lockID {
		return nil, fmt.Errorf("%w: lock id mismatch for document %q", ErrValidation, documentID)
	}

	e.release(lock)
	return lock, nil
}

// release drops a lock from both indexes. Caller must hold e.mu.
func (e *Engine) release(lock *models.DocumentLock) {
	delete(e.locks, lock.DocumentID)
	if docs, ok := e.byConn[lock.OwnerConnID]; ok {
		delete(docs, lock.DocumentID)
		if len(docs) == 0 {
			delete(e.byConn, lock.OwnerConnID)
		}
	}
}

// LockInfo returns the active lock on a document, or nil.
func (e *Engine) LockInfo(documentID string) *models.DocumentLock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locks[documentID]
}

// ReleaseConnection releases every lock owned by a connection. Called on
// disconnect; lock lifetime never exceeds connection lifetime.
func (e *Engine) ReleaseConnection(connID string) []*models.DocumentLock {
	e.mu.Lock()
	defer e.mu.Unlock()

	var released []*models.DocumentLock
	for documentID := range e.byConn[connID] {
		if lock, ok := e.locks[documentID]; ok && lock.OwnerConnID == connID {
			e.release(lock)
			released = append(released, lock)
		}
	}
	return released
}

// sweepExpired releases locks older than maxLockAge and returns them.
func (e *Engine) sweepExpired(now time.Time) []*models.DocumentLock {
	if e.maxLockAge <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var released []*models.DocumentLock
	for _, lock := range e.locks {
		if now.Sub(lock.AcquiredAt) > e.maxLockAge {
			e.release(lock)
			released = append(released, lock)
		}
	}
	if len(released) > 0 {
		e.logger.Warn().Int("count", len(released)).Msg("released leaked locks past max age")
	}
	return released
}

// dropIdleHistory clears transform history and version counters for
// documents whose history is untouched; invoked under memory pressure.
func (e *Engine) dropIdleHistory() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := 0
	for documentID := range e.history {
		if _, locked := e.locks[documentID]; !locked {
			delete(e.history, documentID)
			dropped++
		}
	}
	return dropped
}
