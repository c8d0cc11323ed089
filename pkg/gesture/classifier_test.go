package gesture

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recera/livetag/pkg/dispatch"
	"github.com/recera/livetag/pkg/live"
	"github.com/recera/livetag/pkg/logging"
	"github.com/recera/livetag/pkg/mapping"
)

// liveRecorder collects frames sent to the live debugger
type liveRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (l *liveRecorder) SendMessage(msg []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, msg)
}

func (l *liveRecorder) events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.frames))
	for i, f := range l.frames {
		out[i] = live.EventName(f)
	}
	return out
}

func loadedStore(t *testing.T, doc string) *mapping.Store {
	t.Helper()
	store := mapping.NewStore(mapping.Options{Logger: logging.Discard()})
	if err := store.Load([]byte(doc)); err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	return store
}

func newTestClassifier(t *testing.T, opts Options) (*Classifier, *dispatch.Recorder) {
	t.Helper()
	rec := dispatch.NewRecorder()
	if opts.Dispatcher == nil {
		opts.Dispatcher = rec
	}
	opts.AutoTracking = true
	if opts.CaptureDelay == 0 {
		opts.CaptureDelay = time.Millisecond
	}
	if opts.RaceWindow == 0 {
		opts.RaceWindow = 10 * time.Millisecond
	}
	if opts.DelegateTimeout == 0 {
		opts.DelegateTimeout = 200 * time.Millisecond
	}
	opts.Logger = logging.Discard()

	c, err := NewClassifier(opts)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	t.Cleanup(c.Close)
	return c, rec
}

func waitTask(t *testing.T, task *Task) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("Task did not finish, stuck in %s", state)
	}
	return state
}

func dispatched(t *testing.T, rec *dispatch.Recorder) []*Gesture {
	t.Helper()
	var out []*Gesture
	for _, r := range rec.Records() {
		g, ok := r.(*Gesture)
		if !ok {
			t.Fatalf("Unexpected record type %T", r)
		}
		out = append(out, g)
	}
	return out
}

func tapEvent() Event {
	return Event{
		Kind:      Tap,
		Method:    "handleTap:",
		Direction: "single",
		View:      &View{ClassName: "LoginButton", Position: 0},
		Screen:    &Screen{ClassName: "LoginScreen"},
	}
}

func TestClassifier_DispatchesWithoutDelegate(t *testing.T) {
	c, rec := newTestClassifier(t, Options{DelegateTimeout: time.Hour})

	start := time.Now()
	task := c.Classify(tapEvent())
	if state := waitTask(t, task); state != StateDispatched {
		t.Fatalf("Expected dispatched, got %s", state)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Gesture without delegate should not wait for the timeout, took %s", elapsed)
	}

	gestures := dispatched(t, rec)
	if len(gestures) != 1 {
		t.Fatalf("Expected exactly one dispatch, got %d", len(gestures))
	}
	g := gestures[0]
	if g.Name() != "handleTap:" || g.Action() != Tap {
		t.Errorf("Unexpected gesture %s/%s", g.Name(), g.Action())
	}
	if !g.IsReady() {
		t.Error("Dispatched gesture should be ready")
	}
}

func TestClassifier_BackTriggerIsNavigation(t *testing.T) {
	c, rec := newTestClassifier(t, Options{})

	ev := Event{Kind: Tap, Method: DefaultBackTrigger, Direction: "single"}
	waitTask(t, c.Classify(ev))

	gestures := dispatched(t, rec)
	if len(gestures) != 1 || gestures[0].Action() != Navigate {
		t.Fatalf("Expected one navigation, got %v", gestures)
	}
	if gestures[0].Kind() != Tap {
		t.Errorf("Captured kind should be kept, got %s", gestures[0].Kind())
	}
}

func TestClassifier_CustomBackTrigger(t *testing.T) {
	c, rec := newTestClassifier(t, Options{BackTrigger: "goBack"})

	waitTask(t, c.Classify(Event{Kind: Swipe, Method: "goBack", Direction: "right"}))
	waitTask(t, c.Classify(Event{Kind: Tap, Method: DefaultBackTrigger}))

	gestures := dispatched(t, rec)
	if len(gestures) != 2 {
		t.Fatalf("Expected 2 dispatches, got %d", len(gestures))
	}
	if gestures[0].Action() != Navigate {
		t.Error("Configured back trigger should navigate")
	}
	if gestures[1].Action() != Tap {
		t.Error("Default trigger should not navigate once overridden")
	}
}

func TestClassifier_ScreenChangeInsideRaceWindow(t *testing.T) {
	c, rec := newTestClassifier(t, Options{RaceWindow: 200 * time.Millisecond})

	task := c.Classify(tapEvent())
	c.ScreenChanged(&Screen{ClassName: "HomeScreen"})
	waitTask(t, task)

	gestures := dispatched(t, rec)
	if len(gestures) != 1 || gestures[0].Action() != Navigate {
		t.Fatalf("Expected gesture reclassified as navigation, got %v", gestures)
	}
}

func TestClassifier_LaterGestureHidesScreenChange(t *testing.T) {
	c, rec := newTestClassifier(t, Options{RaceWindow: 200 * time.Millisecond})

	first := c.Classify(tapEvent())
	c.ScreenChanged(&Screen{ClassName: "HomeScreen"})
	second := c.Classify(Event{Kind: Scroll, Method: "scroll:", Direction: "down"})
	waitTask(t, first)
	waitTask(t, second)

	for _, g := range dispatched(t, rec) {
		if g.Action() == Navigate {
			t.Errorf("%s should not be a navigation", g.Name())
		}
	}
}

func TestClassifier_ScreenChangeAfterRaceWindow(t *testing.T) {
	c, rec := newTestClassifier(t, Options{})

	waitTask(t, c.Classify(tapEvent()))
	c.ScreenChanged(&Screen{ClassName: "HomeScreen"})

	if g := dispatched(t, rec)[0]; g.Action() != Tap {
		t.Errorf("Late screen change should not reclassify, got %s", g.Action())
	}
}

func TestClassifier_GlobalIgnoreRules(t *testing.T) {
	kinds := []Kind{Tap, Swipe, Scroll, Pinch, Pan, Refresh}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			store := loadedStore(t, "configuration:\n  rules:\n    "+kind.IgnoreRule()+": true\n")
			c, rec := newTestClassifier(t, Options{Configuration: store})

			task := c.Classify(Event{Kind: kind, Method: "m:", Direction: "d"})
			if state := waitTask(t, task); state != StateDropped {
				t.Errorf("Expected dropped, got %s", state)
			}

			// Other kinds still go through
			other := Tap
			if kind == Tap {
				other = Swipe
			}
			waitTask(t, c.Classify(Event{Kind: other, Method: "m:", Direction: "d"}))
			if rec.Len() != 1 {
				t.Errorf("Expected only the other kind dispatched, got %d", rec.Len())
			}
		})
	}
}

func TestClassifier_GlobalRuleFalseKeepsGesture(t *testing.T) {
	store := loadedStore(t, "configuration:\n  rules:\n    ignoreTap: false\n")
	c, rec := newTestClassifier(t, Options{Configuration: store})

	if state := waitTask(t, c.Classify(tapEvent())); state != StateDispatched {
		t.Errorf("Expected dispatched, got %s", state)
	}
	if rec.Len() != 1 {
		t.Errorf("Expected one dispatch, got %d", rec.Len())
	}
}

func TestClassifier_MostSpecificTitleWins(t *testing.T) {
	store := loadedStore(t, `
configuration:
  events:
    "tap.single.handleTap:.LoginButton.LoginScreen":
      title: login
    "tap.single.handleTap:":
      title: generic-tap
    "tap":
      title: any-tap
`)
	c, rec := newTestClassifier(t, Options{Configuration: store})

	waitTask(t, c.Classify(tapEvent()))
	waitTask(t, c.Classify(Event{Kind: Tap, Method: "handleTap:", Direction: "single"}))
	waitTask(t, c.Classify(Event{Kind: Tap, Method: "other:", Direction: "double"}))

	gestures := dispatched(t, rec)
	if len(gestures) != 3 {
		t.Fatalf("Expected 3 dispatches, got %d", len(gestures))
	}
	names := map[string]bool{}
	for _, g := range gestures {
		names[g.Name()] = true
	}
	for _, want := range []string{"login", "generic-tap", "any-tap"} {
		if !names[want] {
			t.Errorf("Expected a gesture named %q, got %v", want, names)
		}
	}
}

func TestClassifier_ElementIgnore(t *testing.T) {
	store := loadedStore(t, `
configuration:
  events:
    "tap.single.handleTap:.LoginButton":
      ignoreElement: true
    "tap":
      title: any-tap
`)
	c, rec := newTestClassifier(t, Options{Configuration: store})

	if state := waitTask(t, c.Classify(tapEvent())); state != StateDropped {
		t.Errorf("Expected ignored element to be dropped, got %s", state)
	}
	if rec.Len() != 0 {
		t.Errorf("Expected no dispatch, got %d", rec.Len())
	}
}

func TestClassifier_WaitsForRules(t *testing.T) {
	store := mapping.NewStore(mapping.Options{Logger: logging.Discard()})
	c, rec := newTestClassifier(t, Options{Configuration: store})

	task := c.Classify(tapEvent())

	time.Sleep(50 * time.Millisecond)
	if rec.Len() != 0 {
		t.Fatal("Gesture dispatched before rules were loaded")
	}
	if task.State().Terminal() {
		t.Fatalf("Task finished early in %s", task.State())
	}

	if err := store.Load([]byte("configuration:\n  events:\n    tap:\n      title: late\n")); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	waitTask(t, task)

	gestures := dispatched(t, rec)
	if len(gestures) != 1 || gestures[0].Name() != "late" {
		t.Errorf("Expected gesture renamed by late rules, got %v", gestures)
	}
}

func TestClassifier_DelegateConfirms(t *testing.T) {
	c, rec := newTestClassifier(t, Options{DelegateTimeout: time.Hour})

	ev := tapEvent()
	ev.Delegate = DelegateFunc(func(g *Gesture) {
		g.SetName("confirmed")
		g.SetAction(Navigate)
		g.MarkReady()
	})
	if state := waitTask(t, c.Classify(ev)); state != StateDispatched {
		t.Fatalf("Expected dispatched, got %s", state)
	}

	g := dispatched(t, rec)[0]
	if g.Name() != "confirmed" || g.Action() != Navigate {
		t.Errorf("Delegate changes lost: %s/%s", g.Name(), g.Action())
	}
}

func TestClassifier_DelegateTimeout(t *testing.T) {
	const (
		capture = time.Millisecond
		race    = 10 * time.Millisecond
		timeout = 100 * time.Millisecond
		slack   = 50 * time.Millisecond
	)
	c, rec := newTestClassifier(t, Options{
		CaptureDelay:    capture,
		RaceWindow:      race,
		DelegateTimeout: timeout,
	})

	var called atomic.Bool
	ev := tapEvent()
	ev.Delegate = DelegateFunc(func(g *Gesture) {
		called.Store(true)
	})

	start := time.Now()
	task := c.Classify(ev)
	waitTask(t, task)
	elapsed := time.Since(start)

	if !called.Load() {
		t.Error("Delegate was never called")
	}
	if elapsed < capture+race+timeout {
		t.Errorf("Dispatched before the delegate timeout: %s", elapsed)
	}
	if limit := capture + race + timeout + slack; elapsed > limit {
		t.Errorf("Dispatch should follow the timeout within %s, took %s", slack, elapsed)
	}
	if rec.Len() != 1 {
		t.Errorf("Expected exactly one dispatch, got %d", rec.Len())
	}
	if !task.Gesture().IsReady() {
		t.Error("Timed out gesture should be marked ready")
	}
}

func TestClassifier_DelegateSuppresses(t *testing.T) {
	c, rec := newTestClassifier(t, Options{})

	ev := tapEvent()
	ev.Delegate = DelegateFunc(func(g *Gesture) {
		g.Suppress()
		g.MarkReady()
	})
	if state := waitTask(t, c.Classify(ev)); state != StateDropped {
		t.Errorf("Expected dropped, got %s", state)
	}
	if rec.Len() != 0 {
		t.Errorf("Suppressed gesture was dispatched")
	}
}

func TestClassifier_DelegatePanics(t *testing.T) {
	c, rec := newTestClassifier(t, Options{DelegateTimeout: 20 * time.Millisecond})

	ev := tapEvent()
	ev.Delegate = DelegateFunc(func(g *Gesture) {
		panic("host bug")
	})
	if state := waitTask(t, c.Classify(ev)); state != StateDispatched {
		t.Errorf("Expected dispatch after timeout, got %s", state)
	}
	if rec.Len() != 1 {
		t.Errorf("Expected one dispatch, got %d", rec.Len())
	}
}

func TestClassifier_DispatcherPanicDropsTask(t *testing.T) {
	c, _ := newTestClassifier(t, Options{
		Dispatcher: dispatch.Func(func([]dispatch.Record) { panic("pipeline bug") }),
	})

	if state := waitTask(t, c.Classify(tapEvent())); state != StateDropped {
		t.Errorf("Expected dropped after panic, got %s", state)
	}

	// Classifier keeps working
	task := c.Classify(tapEvent())
	waitTask(t, task)
}

func TestClassifier_CloseCancelsInFlight(t *testing.T) {
	sink := &liveRecorder{}
	c, rec := newTestClassifier(t, Options{
		CaptureDelay: time.Hour,
		LiveTagging:  true,
		Live:         sink,
	})

	tasks := []*Task{c.Classify(tapEvent()), c.Classify(tapEvent())}
	if c.InFlight() != 2 {
		t.Errorf("Expected 2 in flight, got %d", c.InFlight())
	}

	c.Close()

	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatal("Close should wait for tasks to finish")
		}
		if task.State() != StateCancelled {
			t.Errorf("Expected cancelled, got %s", task.State())
		}
	}
	if rec.Len() != 0 {
		t.Error("Cancelled gestures were dispatched")
	}
	if len(sink.events()) != 0 {
		t.Error("Cancelled gestures were sent live")
	}

	// Gestures after Close are cancelled immediately
	late := c.Classify(tapEvent())
	if late.State() != StateCancelled {
		t.Errorf("Expected late gesture cancelled, got %s", late.State())
	}
	<-late.Done()
}

func TestClassifier_CloseDuringDelegateWait(t *testing.T) {
	c, rec := newTestClassifier(t, Options{DelegateTimeout: time.Hour})

	entered := make(chan struct{})
	ev := tapEvent()
	ev.Delegate = DelegateFunc(func(g *Gesture) { close(entered) })
	task := c.Classify(ev)

	<-entered
	c.Close()

	if task.State() != StateCancelled {
		t.Errorf("Expected cancelled, got %s", task.State())
	}
	if rec.Len() != 0 {
		t.Error("Cancelled gesture was dispatched")
	}
}

func TestClassifier_ConcurrentGestures(t *testing.T) {
	c, rec := newTestClassifier(t, Options{RaceWindow: 50 * time.Millisecond})

	const n = 20
	var wg sync.WaitGroup
	tasks := make([]*Task, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tasks[i] = c.Classify(Event{Kind: Pan, Method: "pan:", Direction: "any"})
		}(i)
	}
	wg.Wait()

	start := time.Now()
	for _, task := range tasks {
		waitTask(t, task)
	}
	if rec.Len() != n {
		t.Errorf("Expected %d dispatches, got %d", n, rec.Len())
	}
	// Tasks run side by side rather than one after another
	if elapsed := time.Since(start); elapsed > time.Duration(n)*50*time.Millisecond {
		t.Errorf("Gestures appear to be serialized, took %s", elapsed)
	}
}

func TestClassifier_LiveMirror(t *testing.T) {
	sink := &liveRecorder{}
	c, _ := newTestClassifier(t, Options{LiveTagging: true, Live: sink})

	c.ScreenChanged(&Screen{ClassName: "LoginScreen", Title: "Login"})
	waitTask(t, c.Classify(tapEvent()))

	events := sink.events()
	if len(events) != 2 || events[0] != live.EventScreen || events[1] != live.EventGesture {
		t.Errorf("Unexpected live frames %v", events)
	}
}

func TestClassifier_AutoTrackingOff(t *testing.T) {
	sink := &liveRecorder{}
	c, err := NewClassifier(Options{
		LiveTagging:  true,
		Live:         sink,
		CaptureDelay: time.Millisecond,
		Logger:       logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	defer c.Close()

	task := c.Classify(tapEvent())
	if state := waitTask(t, task); state != StateDropped {
		t.Errorf("Expected dropped, got %s", state)
	}
	if task.Gesture() != nil {
		t.Error("No gesture should be built without auto tracking")
	}
	if len(sink.events()) != 1 {
		t.Errorf("Gesture should still be mirrored live, got %v", sink.events())
	}
}

func TestNewClassifier_Validation(t *testing.T) {
	if _, err := NewClassifier(Options{AutoTracking: true}); err == nil {
		t.Error("Expected error without dispatcher")
	}
	if _, err := NewClassifier(Options{LiveTagging: true}); err == nil {
		t.Error("Expected error without live sink")
	}
}
