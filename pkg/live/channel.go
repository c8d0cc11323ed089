package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultBeaconInterval is how often the pairing beacon is sent
const DefaultBeaconInterval = 2 * time.Second

// Options configures a Channel
type Options struct {
	Transport Transport

	// AppSnapshot builds the application frame. It is called on every
	// (re)connect since the app state may have changed.
	AppSnapshot func() []byte

	// Beacon builds the pairing beacon frame
	Beacon func() []byte

	BeaconInterval time.Duration

	// RequirePairing keeps the channel in Connecting after the socket opens
	// until the debugger sends EventAcceptedLive.
	RequirePairing bool

	// OnStateChange is called with the channel lock held; it must not call
	// back into the channel.
	OnStateChange func(from, to ConnectionState)

	Logger *slog.Logger
}

// Channel buffers live frames and delivers them in order once connected
type Channel struct {
	transport      Transport
	appSnapshot    func() []byte
	beacon         func() []byte
	beaconInterval time.Duration
	requirePairing bool
	onStateChange  func(from, to ConnectionState)
	logger         *slog.Logger

	// mu serializes queue mutation, state transitions and drains
	mu            sync.Mutex
	queue         *EventQueue
	state         ConnectionState
	currentScreen []byte

	beaconCancel context.CancelFunc
	beaconDone   chan struct{}
}

// NewChannel creates a channel and registers it with the transport
func NewChannel(opts Options) (*Channel, error) {
	if opts.Transport == nil {
		return nil, errors.New("live channel requires a transport")
	}
	interval := opts.BeaconInterval
	if interval <= 0 {
		interval = DefaultBeaconInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		transport:      opts.Transport,
		appSnapshot:    opts.AppSnapshot,
		beacon:         opts.Beacon,
		beaconInterval: interval,
		requirePairing: opts.RequirePairing,
		onStateChange:  opts.OnStateChange,
		logger:         logger.With("component", "live.channel"),
		queue:          NewEventQueue(),
		state:          Disconnected,
	}

	c.transport.SetHandlers(Handlers{
		OnOpen:    c.handleOpen,
		OnMessage: c.handleMessage,
		OnClose:   c.handleClose,
	})
	return c, nil
}

// Open asks the transport for a socket. It is a no-op unless the channel
// is Disconnected.
func (c *Channel) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return
	}
	if err := c.transport.Open(); err != nil {
		c.logger.Debug("open skipped", "reason", err)
		return
	}
	c.setStateLocked(Connecting)
}

// Close stops the beacon and closes the socket. The Disconnected
// transition is driven by the transport's close callback.
func (c *Channel) Close() {
	c.mu.Lock()
	c.stopBeaconLocked()
	c.mu.Unlock()

	c.transport.Close()
}

// State returns the current connection state
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of frames waiting for a connection
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// CurrentScreen returns the retained screen frame, if any
func (c *Channel) CurrentScreen() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentScreen
}

// SendMessage buffers msg and delivers it if connected. A screen
// appearance replaces the retained screen frame and is not queued while
// disconnected; it goes out with the next SendBuffer instead.
func (c *Channel) SendMessage(msg []byte) {
	isScreen := IsScreenAppearance(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if isScreen {
		c.currentScreen = msg
		if c.state == Disconnected {
			return
		}
	}

	c.queue.Push(msg)
	if c.state == Connected {
		c.sendAllLocked()
	}
}

// SendAll drains the queue in order
func (c *Channel) SendAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendAllLocked()
}

// SendBuffer sends the app snapshot then the retained screen
func (c *Channel) SendBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendBufferLocked()
}

// SendMessageForce writes msg immediately, bypassing the queue and the
// pairing state. The frame is dropped if the socket is not open.
func (c *Channel) SendMessageForce(msg []byte) {
	if !c.transport.IsConnected() {
		return
	}
	if err := c.transport.Send(msg); err != nil {
		c.logger.Debug("forced send dropped", "error", err)
	}
}

// StartAskingForLive (re)starts the pairing beacon. The first beacon is
// sent immediately.
func (c *Channel) StartAskingForLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startBeaconLocked()
}

// StopAskingForLive stops the pairing beacon and waits for it to exit
func (c *Channel) StopAskingForLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopBeaconLocked()
}

// AskingForLive reports whether the beacon is running
func (c *Channel) AskingForLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beaconCancel != nil
}

// sendAllLocked pops and sends until empty. A popped frame is never
// retried, even if the write fails.
func (c *Channel) sendAllLocked() {
	for {
		msg, ok := c.queue.Pop()
		if !ok {
			return
		}
		if err := c.transport.Send(msg); err != nil {
			c.logger.Debug("queued frame dropped", "event", EventName(msg), "error", err)
		}
	}
}

func (c *Channel) sendBufferLocked() {
	if c.appSnapshot != nil {
		if app := c.appSnapshot(); app != nil {
			if err := c.transport.Send(app); err != nil {
				c.logger.Debug("app snapshot dropped", "error", err)
			}
		}
	}
	if c.currentScreen != nil {
		if err := c.transport.Send(c.currentScreen); err != nil {
			c.logger.Debug("screen snapshot dropped", "error", err)
		}
	}
}

func (c *Channel) setStateLocked(to ConnectionState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Info("live state changed", "from", from.String(), "to", to.String())
	if c.onStateChange != nil {
		c.onStateChange(from, to)
	}
}

// enterConnectedLocked flushes context then backlog
func (c *Channel) enterConnectedLocked() {
	c.stopBeaconLocked()
	c.setStateLocked(Connected)
	c.sendBufferLocked()
	c.sendAllLocked()
}

func (c *Channel) startBeaconLocked() {
	c.stopBeaconLocked()
	if c.beacon == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.beaconCancel = cancel
	c.beaconDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.beaconInterval)
		defer ticker.Stop()

		c.SendMessageForce(c.beacon())
		for {
			select {
			case <-ticker.C:
				c.SendMessageForce(c.beacon())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stopBeaconLocked never deadlocks: the beacon goroutine does not take mu
func (c *Channel) stopBeaconLocked() {
	if c.beaconCancel == nil {
		return
	}
	c.beaconCancel()
	<-c.beaconDone
	c.beaconCancel = nil
	c.beaconDone = nil
}

// handleOpen runs when the socket opens
func (c *Channel) handleOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connecting {
		return
	}
	if c.requirePairing {
		c.startBeaconLocked()
		return
	}
	c.enterConnectedLocked()
}

// handleMessage reacts to debugger control frames
func (c *Channel) handleMessage(data []byte) {
	event := EventName(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch event {
	case EventAcceptedLive:
		if c.state == Connecting {
			c.enterConnectedLocked()
		}
	case EventStoppedLive:
		if c.state == Connected && c.requirePairing {
			c.setStateLocked(Connecting)
			c.startBeaconLocked()
		}
	case EventRefusedLive:
		c.logger.Info("debugger refused pairing")
	default:
		c.logger.Debug("ignoring incoming frame", "event", event)
	}
}

// handleClose runs when the socket goes away
func (c *Channel) handleClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopBeaconLocked()
	c.setStateLocked(Disconnected)
}
