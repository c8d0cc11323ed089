package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when work is spawned on a stopped scheduler
var ErrStopped = errors.New("scheduler stopped")

// UnitFunc is the body of a unit of work. It must return promptly once
// ctx is cancelled.
type UnitFunc func(ctx context.Context)

// ErrorHandler handles panics raised inside a unit
type ErrorHandler func(unit *Unit, err interface{})

// Unit is one independently running, cancellable piece of work
type Unit struct {
	id     uint32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Error handling
	onError ErrorHandler

	// User data
	userData interface{}
}

// Scheduler runs units on their own goroutines and tracks them until they
// finish. Stop cancels every unit still in flight.
type Scheduler struct {
	mu      sync.Mutex
	units   map[uint32]*Unit
	nextID  uint32
	wg      sync.WaitGroup
	running atomic.Bool

	base       context.Context
	baseCancel context.CancelFunc

	defaultError ErrorHandler
}

// NewScheduler creates a new scheduler instance
func NewScheduler() *Scheduler {
	return &Scheduler{
		units:  make(map[uint32]*Unit),
		nextID: 1,
	}
}

// SetDefaultErrorHandler sets the default error handler for units
func (s *Scheduler) SetDefaultErrorHandler(handler ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultError = handler
}

// Start allows units to be spawned. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.CompareAndSwap(false, true) {
		s.base, s.baseCancel = context.WithCancel(context.Background())
	}
}

// Stop cancels all in-flight units and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return
	}
	s.baseCancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// IsRunning returns whether the scheduler accepts new units
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Spawn starts fn on its own goroutine
func (s *Scheduler) Spawn(fn UnitFunc) (*Unit, error) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	id := s.nextID
	s.nextID++

	ctx, cancel := context.WithCancel(s.base)
	unit := &Unit{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		onError: s.defaultError,
	}
	s.units[id] = unit
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(unit, fn)
	return unit, nil
}

// run executes a unit and removes it once it returns
func (s *Scheduler) run(unit *Unit, fn UnitFunc) {
	defer s.wg.Done()
	defer func() {
		unit.cancel()
		s.mu.Lock()
		delete(s.units, unit.id)
		s.mu.Unlock()
		close(unit.done)
	}()

	// Wrap body in panic recovery
	defer func() {
		if r := recover(); r != nil {
			s.handleUnitError(unit, r)
		}
	}()

	fn(unit.ctx)
}

// handleUnitError reports a panic raised by a unit
func (s *Scheduler) handleUnitError(unit *Unit, err interface{}) {
	errorMsg := fmt.Sprintf("unit %d panic: %v\n%s", unit.id, err, debug.Stack())
	if unit.onError != nil {
		unit.onError(unit, errorMsg)
	}
}

// Cancel cancels a single unit. It does not wait for it to return.
func (s *Scheduler) Cancel(unit *Unit) {
	if unit == nil {
		return
	}
	unit.cancel()
}

// GetUnit returns an in-flight unit by ID
func (s *Scheduler) GetUnit(id uint32) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

// UnitCount returns the number of in-flight units
func (s *Scheduler) UnitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// ID returns the unit's unique ID
func (u *Unit) ID() uint32 {
	return u.id
}

// Done is closed once the unit has returned
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Context returns the unit's context
func (u *Unit) Context() context.Context {
	return u.ctx
}

// SetUserData sets custom data on a unit
func (u *Unit) SetUserData(data interface{}) {
	u.userData = data
}

// GetUserData gets custom data from a unit
func (u *Unit) GetUserData() interface{} {
	return u.userData
}
