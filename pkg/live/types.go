package live

// ConnectionState is the pairing state of a live channel
type ConnectionState int32

const (
	// Disconnected means no socket, or the socket was lost
	Disconnected ConnectionState = iota
	// Connecting means a socket was requested but events are not flowing yet
	Connecting
	// Connected means queued events are delivered as they arrive
	Connected
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ReadyState is the transport-level socket state
type ReadyState int32

const (
	// StateClosed means there is no socket
	StateClosed ReadyState = iota
	// StateOpening means a dial is in progress
	StateOpening
	// StateOpen means frames can be written
	StateOpen
)

// String returns the ready state name
func (s ReadyState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Event tags understood by the live debugger
const (
	// EventApp carries the application snapshot
	EventApp = "app"

	// EventScreen is sent when a screen appears. Only the latest one is kept
	// while disconnected.
	EventScreen = "viewDidAppear"

	// EventGesture mirrors a captured gesture
	EventGesture = "gesture"

	// EventAskingForLive is the pairing beacon
	EventAskingForLive = "DeviceAskingForLive"

	// EventAcceptedLive is sent by the debugger when it pairs
	EventAcceptedLive = "InterfaceAcceptedLive"

	// EventStoppedLive is sent by the debugger when it leaves
	EventStoppedLive = "InterfaceStoppedLive"

	// EventRefusedLive is sent by the debugger when it declines to pair
	EventRefusedLive = "InterfaceRefusedLive"
)

// Message is the envelope for every live frame
type Message struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// AppInfo describes the instrumented application
type AppInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Device      string `json:"device,omitempty"`
	OS          string `json:"os,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// DeviceInfo identifies this device in the pairing beacon
type DeviceInfo struct {
	Name    string `json:"name"`
	Model   string `json:"model,omitempty"`
	Token   string `json:"token,omitempty"`
	Version string `json:"version,omitempty"`
}
