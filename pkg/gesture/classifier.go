package gesture

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/recera/livetag/pkg/dispatch"
	"github.com/recera/livetag/pkg/live"
	"github.com/recera/livetag/pkg/mapping"
	"github.com/recera/livetag/pkg/scheduler"
)

// Default timings
const (
	DefaultCaptureDelay    = 200 * time.Millisecond
	DefaultRaceWindow      = 500 * time.Millisecond
	DefaultDelegateTimeout = 5 * time.Second
	DefaultBackTrigger     = "handleBack:"
)

// Configuration is the tagging rule source consulted during classification
type Configuration interface {
	// Ready is closed once rules are loaded
	Ready() <-chan struct{}
	Lookup(key string) (mapping.Rule, bool)
}

// LiveSink receives live debugger frames
type LiveSink interface {
	SendMessage(msg []byte)
}

// State is the classification progress of a Task
type State int32

const (
	// StateCaptured means the gesture is waiting out the capture delay
	StateCaptured State = iota
	// StateAwaitingNavigationRace means a screen change may still reclassify it
	StateAwaitingNavigationRace
	// StateAwaitingDelegate means the host has not confirmed it yet
	StateAwaitingDelegate
	// StateUnclassified means no host delegate takes part
	StateUnclassified
	// StateClassified means the gesture is final and about to be dispatched
	StateClassified
	// StateDispatched means the gesture was handed to the dispatcher
	StateDispatched
	// StateDropped means a rule or the host vetoed it, or auto tracking is off
	StateDropped
	// StateCancelled means the classifier shut down first
	StateCancelled
)

var stateNames = [...]string{
	"captured",
	"awaiting-navigation-race",
	"awaiting-delegate",
	"unclassified",
	"classified",
	"dispatched",
	"dropped",
	"cancelled",
}

// String returns the state name
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateDispatched || s == StateDropped || s == StateCancelled
}

// Options configures a Classifier. Zero durations take the defaults.
type Options struct {
	Configuration Configuration
	Dispatcher    dispatch.Dispatcher
	Live          LiveSink

	LiveTagging  bool
	AutoTracking bool

	// BackTrigger is the method name of the host's back navigation
	BackTrigger string

	CaptureDelay    time.Duration
	RaceWindow      time.Duration
	DelegateTimeout time.Duration

	Logger *slog.Logger
}

// Classifier runs one classification per captured gesture, each on its
// own goroutine
type Classifier struct {
	config       Configuration
	dispatcher   dispatch.Dispatcher
	live         LiveSink
	liveTagging  bool
	autoTracking bool
	backTrigger  string

	captureDelay    time.Duration
	raceWindow      time.Duration
	delegateTimeout time.Duration

	sched    *scheduler.Scheduler
	timeline Timeline
	logger   *slog.Logger
}

// Task tracks one gesture through classification
type Task struct {
	id      uint32
	event   Event
	seq     uint64
	state   atomic.Int32
	gesture atomic.Pointer[Gesture]
	done    chan struct{}
}

// NewClassifier validates options and starts the classifier
func NewClassifier(opts Options) (*Classifier, error) {
	if opts.AutoTracking && opts.Dispatcher == nil {
		return nil, errors.New("auto tracking requires a dispatcher")
	}
	if opts.LiveTagging && opts.Live == nil {
		return nil, errors.New("live tagging requires a live sink")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Classifier{
		config:          opts.Configuration,
		dispatcher:      opts.Dispatcher,
		live:            opts.Live,
		liveTagging:     opts.LiveTagging,
		autoTracking:    opts.AutoTracking,
		backTrigger:     opts.BackTrigger,
		captureDelay:    opts.CaptureDelay,
		raceWindow:      opts.RaceWindow,
		delegateTimeout: opts.DelegateTimeout,
		sched:           scheduler.NewScheduler(),
		logger:          logger.With("component", "gesture"),
	}
	if c.backTrigger == "" {
		c.backTrigger = DefaultBackTrigger
	}
	if c.captureDelay <= 0 {
		c.captureDelay = DefaultCaptureDelay
	}
	if c.raceWindow <= 0 {
		c.raceWindow = DefaultRaceWindow
	}
	if c.delegateTimeout <= 0 {
		c.delegateTimeout = DefaultDelegateTimeout
	}

	c.sched.SetDefaultErrorHandler(func(unit *scheduler.Unit, err interface{}) {
		attrs := []any{"unit", unit.ID(), "panic", err}
		if task, ok := unit.GetUserData().(*Task); ok {
			attrs = append(attrs, "kind", task.event.Kind.String(), "method", task.event.Method)
		}
		c.logger.Error("classification panicked", attrs...)
	})
	c.sched.Start()
	return c, nil
}

// Classify starts classifying ev and returns immediately
func (c *Classifier) Classify(ev Event) *Task {
	task := &Task{
		event: ev,
		seq:   c.timeline.RecordGesture(),
		done:  make(chan struct{}),
	}
	task.state.Store(int32(StateCaptured))

	ready := make(chan struct{})
	unit, err := c.sched.Spawn(func(ctx context.Context) {
		<-ready
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				task.setState(StateDropped)
				panic(r)
			}
		}()
		c.run(ctx, task)
	})
	if err != nil {
		// Classifier is shut down
		task.setState(StateCancelled)
		close(task.done)
		return task
	}

	task.id = unit.ID()
	unit.SetUserData(task)
	close(ready)
	return task
}

// ScreenChanged records a screen transition. Gestures still inside their
// race window become navigations. The screen is mirrored to the live
// debugger when live tagging is on.
func (c *Classifier) ScreenChanged(screen *Screen) {
	c.timeline.RecordScreen()

	if !c.liveTagging || screen == nil {
		return
	}
	frame, err := live.Encode(live.EventScreen, map[string]interface{}{
		"className": screen.ClassName,
		"title":     screen.Title,
	})
	if err != nil {
		c.logger.Warn("failed to encode screen frame", "error", err)
		return
	}
	c.live.SendMessage(frame)
}

// InFlight returns the number of classifications still running
func (c *Classifier) InFlight() int {
	return c.sched.UnitCount()
}

// Close cancels every running classification and waits for them to stop.
// Cancelled gestures are neither sent live nor dispatched.
func (c *Classifier) Close() {
	c.sched.Stop()
}

// run drives one task to a terminal state
func (c *Classifier) run(ctx context.Context, task *Task) {
	ev := task.event
	log := c.logger.With("task", task.id, "kind", ev.Kind.String(), "method", ev.Method)

	if !wait(ctx, c.captureDelay) {
		task.setState(StateCancelled)
		return
	}

	if c.liveTagging {
		if frame, err := gestureFrame(ev); err != nil {
			log.Warn("failed to encode gesture frame", "error", err)
		} else {
			c.live.SendMessage(frame)
		}
	}

	if !c.autoTracking {
		task.setState(StateDropped)
		return
	}

	g := newGesture(ev)
	isBack := ev.Method == c.backTrigger
	if isBack {
		g.SetAction(Navigate)
	}
	task.gesture.Store(g)

	// Give a screen transition caused by this gesture time to show up
	task.setState(StateAwaitingNavigationRace)
	if !wait(ctx, c.raceWindow) {
		task.setState(StateCancelled)
		return
	}
	if c.timeline.NavigatedSince(task.seq) {
		g.SetAction(Navigate)
	}

	send, err := c.applyRules(ctx, ev, g)
	if err != nil {
		task.setState(StateCancelled)
		return
	}
	if !send {
		log.Debug("gesture ignored by rule")
		task.setState(StateDropped)
		return
	}
	if isBack {
		g.SetAction(Navigate)
	}

	if ev.Delegate != nil {
		task.setState(StateAwaitingDelegate)
		if !c.awaitDelegate(ctx, ev.Delegate, g, log) {
			task.setState(StateCancelled)
			return
		}
	} else {
		task.setState(StateUnclassified)
		g.MarkReady()
	}
	task.setState(StateClassified)

	if g.Suppressed() {
		log.Debug("gesture suppressed by host")
		task.setState(StateDropped)
		return
	}
	if ctx.Err() != nil {
		task.setState(StateCancelled)
		return
	}

	c.dispatcher.Dispatch([]dispatch.Record{g})
	task.setState(StateDispatched)
	log.Debug("gesture dispatched", "name", g.Name(), "action", g.Action().String())
}

// applyRules renames g from the tagging rules. It returns false when a
// rule vetoes the gesture. Waits for the rules to load first.
func (c *Classifier) applyRules(ctx context.Context, ev Event, g *Gesture) (bool, error) {
	if c.config == nil {
		return true, nil
	}

	select {
	case <-c.config.Ready():
	case <-ctx.Done():
		return false, ctx.Err()
	}

	if key := ev.Kind.IgnoreRule(); key != "" {
		if rule, ok := c.config.Lookup(key); ok && rule.Ignored() {
			return false, nil
		}
	}

	for _, key := range RuleKeys(ev) {
		rule, ok := c.config.Lookup(key)
		if !ok {
			continue
		}
		if rule.Ignored() {
			return false, nil
		}
		if rule.Title != nil {
			g.SetName(*rule.Title)
			break
		}
	}
	return true, nil
}

// awaitDelegate hands g to the host and waits for it to become ready or
// for the timeout. Returns false if ctx was cancelled.
func (c *Classifier) awaitDelegate(ctx context.Context, d Delegate, g *Gesture, log *slog.Logger) bool {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("gesture delegate panicked", "panic", r)
			}
		}()
		d.GestureWasDetected(g)
	}()

	timer := time.NewTimer(c.delegateTimeout)
	defer timer.Stop()

	select {
	case <-g.Ready():
		return true
	case <-timer.C:
		log.Debug("gesture delegate timed out", "timeout", c.delegateTimeout)
		g.MarkReady()
		return true
	case <-ctx.Done():
		return false
	}
}

// wait sleeps for d unless ctx is cancelled first
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// gestureFrame builds the live mirror of a captured gesture
func gestureFrame(ev Event) ([]byte, error) {
	data := map[string]interface{}{
		"type":      ev.Kind.String(),
		"method":    ev.Method,
		"direction": ev.Direction,
	}
	if ev.View != nil {
		data["view"] = ev.View
	}
	if ev.Screen != nil {
		data["screen"] = ev.Screen
	}
	return live.Encode(live.EventGesture, data)
}

// ID returns the task's unit ID, or 0 if it never ran
func (t *Task) ID() uint32 {
	return t.id
}

// Event returns the captured event
func (t *Task) Event() Event {
	return t.event
}

// State returns the current classification state
func (t *Task) State() State {
	return State(t.state.Load())
}

// Done is closed when the task reaches a terminal state
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Gesture returns the gesture being classified, or nil before it is built
func (t *Task) Gesture() *Gesture {
	return t.gesture.Load()
}

// Wait blocks until the task is done or ctx ends, and returns its state
func (t *Task) Wait(ctx context.Context) (State, error) {
	select {
	case <-t.done:
		return t.State(), nil
	case <-ctx.Done():
		return t.State(), ctx.Err()
	}
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}
