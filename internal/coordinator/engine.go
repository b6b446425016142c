// Package coordinator is the in-memory LRA registry and the
// implementation of every coordinator verb in spec.md §4.1: start, join,
// leave, renew, close, cancel, status, info, list. It generalizes the
// teacher's TXManager (txmanager/txmanager.go): the teacher's
// registryCenter (a map of TCC component ids to component
// implementations) becomes Engine's registry of LRA ids to *lra.Entry;
// the teacher's single-shot Transaction/twoPhaseCommit call becomes
// StartLRA+Join+Close/Cancel as independently callable verbs, since an
// LRA's participants enlist over multiple separate HTTP requests rather
// than arriving as one batch.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lracoord/internal/driver"
	"lracoord/internal/lra"
	"lracoord/internal/lraid"
	"lracoord/internal/participant"
	"lracoord/internal/store"
)

// Engine is the coordinator's in-memory LRA registry plus the verbs that
// mutate it. One Engine owns one coordinator base URL's worth of LRAs;
// a deployment with multiple coordinator processes runs one Engine each,
// coordinated only through the shared object store and client-side
// affinity routing (spec.md §4.4), never directly with each other.
type Engine struct {
	// mu guards registry's keys only -- insertion and removal of
	// entries. Mutating an LRA already in the registry goes through
	// that entry's own mutex instead (spec.md §5, DESIGN NOTES §9).
	mu       sync.RWMutex
	registry map[string]*lra.Entry

	coordinatorBase string
	store           store.Store
	driver          *driver.Driver
	pool            *driver.Pool
	log             *zap.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPool overrides the default four-worker driving pool.
func WithPool(p *driver.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// New builds an Engine serving coordinatorBase and persisting through s.
func New(coordinatorBase string, s store.Store, drv *driver.Driver, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:        make(map[string]*lra.Entry),
		coordinatorBase: coordinatorBase,
		store:           s,
		driver:          drv,
		log:             log,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		e.pool = driver.NewPool(4)
	}
	return e
}

// Shutdown stops the driving pool. Callers must do this before closing
// the object store (DESIGN NOTES §9).
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// --- registry helpers -------------------------------------------------

func (e *Engine) get(id string) (*lra.Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.registry[id]
	return entry, ok
}

func (e *Engine) put(id string, entry *lra.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[id] = entry
}

func (e *Engine) delete(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.registry, id)
}

// Lookup implements driver.Orchestrator.
func (e *Engine) Lookup(id string) (*lra.Entry, bool) {
	return e.get(id)
}

// Rehydrate implements recovery.Engine: it loads l into the registry if
// no entry is already present (a live request may have beaten recovery
// to it), returning whichever entry ends up registered.
func (e *Engine) Rehydrate(l *lra.LRA) *lra.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.registry[l.ID]; ok {
		return entry
	}
	entry := lra.NewEntry(l)
	e.registry[l.ID] = entry
	return entry
}

// --- verbs --------------------------------------------------------------

// StartLRA creates a new LRA (spec.md §4.1). If parentID is non-empty it
// must already exist; the new LRA is linked as its child.
func (e *Engine) StartLRA(ctx context.Context, clientID string, timeLimitMillis int64, parentID string) (string, error) {
	var parentEntry *lra.Entry
	if parentID != "" {
		var ok bool
		parentEntry, ok = e.get(parentID)
		if !ok {
			return "", fmt.Errorf("%w: parent lra %s", ErrNotFound, parentID)
		}
	}

	id := lraid.New(e.coordinatorBase)
	now := time.Now().UnixMilli()
	l := &lra.LRA{
		ID:              id.String(),
		ClientID:        clientID,
		ParentID:        parentID,
		Status:          lra.StatusActive,
		StartTimeMillis: now,
	}
	e.applyTimeLimit(l, timeLimitMillis, now)

	entry := lra.NewEntry(l)

	if parentEntry != nil {
		// Canonical parent-before-child lock order (spec.md §5) avoids
		// deadlock against a concurrent close/cancel walking the same
		// parent-child edge.
		parentEntry.Lock()
		parentEntry.LRA.Children = append(parentEntry.LRA.Children, l.ID)
		perr := e.persistLocked(ctx, parentEntry.LRA)
		parentEntry.Unlock()
		if perr != nil {
			return "", perr
		}
	}

	if err := e.persistLocked(ctx, l); err != nil {
		return "", err
	}
	e.put(l.ID, entry)
	e.armDeadline(entry)
	return l.ID, nil
}

// applyTimeLimit resolves the Open Question in SPEC_FULL.md §9: zero
// disables the deadline, negative sets it already-expired, positive is
// milliseconds from now.
func (e *Engine) applyTimeLimit(l *lra.LRA, timeLimitMillis, now int64) {
	switch {
	case timeLimitMillis == 0:
		l.DeadlineMillis = 0
	case timeLimitMillis < 0:
		l.DeadlineMillis = now - 1
	default:
		l.DeadlineMillis = now + timeLimitMillis
	}
}

// Renew updates an LRA's deadline (spec.md §4.1).
func (e *Engine) Renew(ctx context.Context, id string, timeLimitMillis int64) error {
	entry, ok := e.get(id)
	if !ok {
		return fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}
	entry.Lock()
	e.applyTimeLimit(entry.LRA, timeLimitMillis, time.Now().UnixMilli())
	err := e.persistLocked(ctx, entry.LRA)
	entry.Unlock()
	if err != nil {
		return err
	}
	e.armDeadline(entry)
	return nil
}

// GetStatus returns the current status of id.
func (e *Engine) GetStatus(id string) (lra.Status, error) {
	entry, ok := e.get(id)
	if !ok {
		return "", fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}
	entry.Lock()
	defer entry.Unlock()
	return entry.LRA.Status, nil
}

// GetInfo returns a snapshot copy of id's full record.
func (e *Engine) GetInfo(id string) (*lra.LRA, error) {
	entry, ok := e.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}
	entry.Lock()
	defer entry.Unlock()
	return cloneLRA(entry.LRA), nil
}

// ListLRAs returns a snapshot of every registered LRA, optionally
// filtered by status. Each element is internally consistent but the
// overall list is not a single point-in-time view (spec.md §4.1).
func (e *Engine) ListLRAs(statusFilter string) ([]*lra.LRA, error) {
	var want lra.Status
	if statusFilter != "" {
		want = lra.Status(statusFilter)
		if !validStatus(want) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, statusFilter)
		}
	}

	e.mu.RLock()
	entries := make([]*lra.Entry, 0, len(e.registry))
	for _, entry := range e.registry {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	out := make([]*lra.LRA, 0, len(entries))
	for _, entry := range entries {
		entry.Lock()
		if want == "" || entry.LRA.Status == want {
			out = append(out, cloneLRA(entry.LRA))
		}
		entry.Unlock()
	}
	return out, nil
}

func validStatus(s lra.Status) bool {
	switch s {
	case lra.StatusActive, lra.StatusClosing, lra.StatusClosed,
		lra.StatusCancelling, lra.StatusCancelled,
		lra.StatusFailedToClose, lra.StatusFailedToCancel:
		return true
	default:
		return false
	}
}

// Join enlists a new participant (spec.md §4.1). p must already be
// populated by the HTTP layer (link header or body parsing); Join checks
// that the LRA is Active and that p passes Validate, then assigns its
// LRA id, recovery id and initial state.
func (e *Engine) Join(ctx context.Context, id string, p *participant.Record) (string, error) {
	entry, ok := e.get(id)
	if !ok {
		return "", fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}
	entry.Lock()
	defer entry.Unlock()

	if entry.LRA.Status != lra.StatusActive {
		return "", fmt.Errorf("%w: lra %s is %s", ErrGone, id, entry.LRA.Status)
	}
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	p.LRAID = id
	p.RecoveryID = fmt.Sprintf("%s/recovery/%s/%s", e.coordinatorBase, lastSegment(id), participantUID())
	p.State = participant.StateActive

	if err := entry.LRA.AddParticipant(p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	if err := e.persistLocked(ctx, entry.LRA); err != nil {
		return "", err
	}
	return p.RecoveryID, nil
}

// Leave removes a participant by recovery id (spec.md §4.1).
func (e *Engine) Leave(ctx context.Context, id, recoveryID string) error {
	entry, ok := e.get(id)
	if !ok {
		return fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}
	entry.Lock()
	defer entry.Unlock()

	if !entry.LRA.RemoveParticipant(recoveryID) {
		return fmt.Errorf("%w: participant %s", ErrBadRequest, recoveryID)
	}
	return e.persistLocked(ctx, entry.LRA)
}

// Close transitions id from Active to Closing and drives the complete
// phase to whatever state it reaches within this call (spec.md §4.1).
func (e *Engine) Close(ctx context.Context, id string) (lra.Status, error) {
	return e.endPhase(ctx, id, lra.StatusClosing)
}

// Cancel transitions id from Active to Cancelling and drives the
// compensate phase (spec.md §4.1).
func (e *Engine) Cancel(ctx context.Context, id string) (lra.Status, error) {
	return e.endPhase(ctx, id, lra.StatusCancelling)
}

func (e *Engine) endPhase(ctx context.Context, id string, target lra.Status) (lra.Status, error) {
	entry, ok := e.get(id)
	if !ok {
		return "", fmt.Errorf("%w: lra %s", ErrNotFound, id)
	}

	entry.Lock()
	if entry.LRA.Status.IsTerminal() {
		status := entry.LRA.Status
		entry.Unlock()
		return status, fmt.Errorf("%w: lra %s already %s", ErrGone, id, status)
	}
	if entry.LRA.Status == lra.StatusActive {
		entry.LRA.Status = target
	}
	entry.StopDeadlineTimer()
	started := entry.TryBeginDriving()
	snapshot := cloneLRA(entry.LRA)
	entry.Unlock()

	if started {
		// The blocking participant HTTP calls run outside the lock
		// (DESIGN NOTES §9); Drive mutates the snapshot in place.
		err := e.driver.Drive(ctx, e, snapshot)

		entry.Lock()
		entry.EndDriving()
		if _, stillRegistered := e.get(id); stillRegistered {
			entry.LRA = snapshot
		}
		entry.Unlock()
		if err != nil {
			e.log.Warn("end phase drive reported errors", zap.String("lra", id), zap.Error(err))
		}
		return snapshot.Status, nil
	}

	// Another driver is already running for this LRA; return its
	// current status without duplicating the drive (spec.md §3 "at most
	// one active end-phase driver per LRA").
	entry.Lock()
	status := entry.LRA.Status
	entry.Unlock()
	return status, nil
}

// --- driver.Orchestrator ------------------------------------------------

// CloseChild recursively drives a child's close phase to completion (or
// to whatever state it reaches in one pass).
func (e *Engine) CloseChild(ctx context.Context, childID string) (lra.Status, error) {
	return e.endPhase(ctx, childID, lra.StatusClosing)
}

// ForceCancel transitions id into Cancelling and persists it. The driver
// does not call it: when a child ends cancelled, Drive moves the parent's
// snapshot into Cancelling itself.
func (e *Engine) ForceCancel(ctx context.Context, id string) error {
	entry, ok := e.get(id)
	if !ok {
		return nil
	}
	entry.Lock()
	if !entry.LRA.Status.IsTerminal() {
		entry.LRA.Status = lra.StatusCancelling
	}
	err := e.persistLocked(ctx, entry.LRA)
	entry.Unlock()
	return err
}

// Persist write-through persists l's current serialized state.
func (e *Engine) Persist(ctx context.Context, l *lra.LRA) error {
	return e.persistLocked(ctx, l)
}

// MarkFailed moves l's record to the failed-LRA store type and drops it
// from the in-memory registry (spec.md §3 "Failed LRA"): the caller must
// have already set l.Status to FailedToClose/FailedToCancel, mirroring
// what Forget does for the all-terminal-success case.
func (e *Engine) MarkFailed(ctx context.Context, l *lra.LRA) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("coordinator: marshal failed lra: %w", err)
	}
	if err := e.store.Write(ctx, store.TypeFailedLRA, lastSegment(l.ID), data); err != nil {
		return fmt.Errorf("coordinator: write failed lra: %w", err)
	}
	e.delete(l.ID)
	if err := e.store.Remove(ctx, store.TypeLRA, lastSegment(l.ID)); err != nil {
		e.log.Warn("failed to remove live record after marking failed", zap.String("lra", l.ID), zap.Error(err))
	}
	return nil
}

// Forget removes a terminal LRA from the registry and the store.
func (e *Engine) Forget(ctx context.Context, l *lra.LRA) error {
	e.delete(l.ID)
	return e.store.Remove(ctx, store.TypeLRA, lastSegment(l.ID))
}

// --- persistence ----------------------------------------------------

func (e *Engine) persistLocked(ctx context.Context, l *lra.LRA) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("coordinator: marshal lra: %w", err)
	}
	if err := e.store.Write(ctx, store.TypeLRA, lastSegment(l.ID), data); err != nil {
		return fmt.Errorf("coordinator: persist lra: %w", err)
	}
	return nil
}

// armDeadline (re)starts id's deadline timer, if any. Must be called
// without the entry locked (it acquires the entry lock itself, and the
// Cancel it schedules acquires it again on fire).
func (e *Engine) armDeadline(entry *lra.Entry) {
	entry.Lock()
	defer entry.Unlock()
	if entry.LRA.DeadlineMillis <= 0 {
		entry.StopDeadlineTimer()
		return
	}
	delay := time.Until(time.UnixMilli(entry.LRA.DeadlineMillis))
	if delay < 0 {
		delay = 0
	}
	id := entry.LRA.ID
	entry.SetDeadlineTimer(time.AfterFunc(delay, func() {
		e.pool.Submit(func(ctx context.Context) {
			if _, err := e.Cancel(ctx, id); err != nil {
				e.log.Debug("deadline cancel no-op", zap.String("lra", id), zap.Error(err))
			}
		})
	}))
}

func cloneLRA(l *lra.LRA) *lra.LRA {
	data, _ := json.Marshal(l)
	var out lra.LRA
	_ = json.Unmarshal(data, &out)
	return &out
}

func lastSegment(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[i+1:]
		}
	}
	return id
}

var participantSeq uint64

func participantUID() string {
	seq := atomic.AddUint64(&participantSeq, 1)
	return fmt.Sprintf("p%d-%d", time.Now().UnixNano(), seq)
}
