// Package recovery implements the periodic scanner (spec.md §4.2): it
// reloads persisted LRAs that are Closing, Cancelling, or recovering,
// re-hydrates them into the coordinator's in-memory registry if absent,
// and re-invokes the end-phase driver. Generalizes the teacher's
// TXManager.run ticker loop (txmanager/txmanager.go): the teacher's
// GetHangingTXs/batchAdvanceProgress pair becomes ScanOnce's
// list-then-redrive pair. There is no store-level lock: within one
// process the per-LRA driving flag keeps a pass from driving an LRA that
// a live request is already driving, but two coordinator processes
// sharing one store are not kept from driving the same LRA.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lracoord/internal/driver"
	"lracoord/internal/lra"
	"lracoord/internal/store"
)

// Engine is the slice of coordinator.Engine the scanner needs: entry
// lookup/registration and the same driver.Orchestrator surface the
// coordinator itself implements, so a rehydrated LRA drives through the
// exact same code path a live request would use.
type Engine interface {
	driver.Orchestrator
	// Rehydrate loads l into the in-memory registry if not already
	// present, returning the (possibly pre-existing) entry.
	Rehydrate(l *lra.LRA) *lra.Entry
}

// Scanner runs the recovery pass on a fixed interval.
type Scanner struct {
	store    store.Store
	engine   Engine
	drv      *driver.Driver
	log      *zap.Logger
	interval time.Duration
	backoff  driver.Backoff

	mu          sync.RWMutex
	lastInRecovery []string

	stop chan struct{}
	done chan struct{}
}

// New builds a Scanner. interval <= 0 defaults to 10 seconds, the same
// default order of magnitude spec.md §4.2 describes.
func New(s store.Store, e Engine, drv *driver.Driver, log *zap.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scanner{
		store:    s,
		engine:   e,
		drv:      drv,
		log:      log,
		interval: interval,
		backoff:  driver.DefaultBackoff(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drives the ticker loop until Stop is called. Intended to run on
// its own long-lived goroutine (DESIGN NOTES §9 "Background tasks").
func (s *Scanner) Run(ctx context.Context) {
	defer close(s.done)
	failures := 0
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-timer.C:
			if err := s.ScanOnce(ctx); err != nil {
				failures++
				s.log.Warn("recovery pass failed", zap.Error(err), zap.Int("consecutiveFailures", failures))
				timer.Reset(s.backoff.Next(failures))
				continue
			}
			failures = 0
			timer.Reset(s.interval)
		}
	}
}

// Stop ends the scanner's loop and waits for the current pass, if any,
// to finish.
func (s *Scanner) Stop() {
	close(s.stop)
	<-s.done
}

// InRecovery returns the ids still in recovery as of the last completed
// pass, for the /recovery endpoint (spec.md §4.2 point 4).
func (s *Scanner) InRecovery() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.lastInRecovery))
	copy(out, s.lastInRecovery)
	return out
}

// ScanOnce runs a single recovery pass: list every persisted LRA,
// re-hydrate and re-drive the ones in Closing or Cancelling.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	uids, err := s.store.List(ctx, store.TypeLRA)
	if err != nil {
		return fmt.Errorf("recovery: list: %w", err)
	}

	var inRecovery []string
	for _, uid := range uids {
		data, err := s.store.Read(ctx, store.TypeLRA, uid)
		if err != nil {
			if err == store.ErrNotFound {
				continue // removed between List and Read; not an error
			}
			s.log.Warn("recovery: read failed", zap.String("uid", uid), zap.Error(err))
			continue
		}

		var l lra.LRA
		if err := json.Unmarshal(data, &l); err != nil {
			s.log.Warn("recovery: corrupt record", zap.String("uid", uid), zap.Error(err))
			continue
		}

		if l.Status != lra.StatusClosing && l.Status != lra.StatusCancelling && !l.Recovering() {
			continue
		}

		entry := s.engine.Rehydrate(&l)
		entry.Lock()
		if !entry.TryBeginDriving() {
			entry.Unlock()
			inRecovery = append(inRecovery, l.ID)
			continue
		}
		snapshot := cloneLRA(entry.LRA)
		entry.Unlock()

		if err := s.drv.Drive(ctx, s.engine, snapshot); err != nil {
			s.log.Info("recovery: participant still failing", zap.String("lra", l.ID), zap.Error(err))
		}

		entry.Lock()
		entry.EndDriving()
		entry.LRA = snapshot
		entry.Unlock()

		if !snapshot.Status.IsTerminal() {
			inRecovery = append(inRecovery, l.ID)
		}
	}

	s.mu.Lock()
	s.lastInRecovery = inRecovery
	s.mu.Unlock()
	return nil
}

func cloneLRA(l *lra.LRA) *lra.LRA {
	data, _ := json.Marshal(l)
	var out lra.LRA
	_ = json.Unmarshal(data, &out)
	return &out
}
