package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoEvent is returned when a frame has no event tag
var ErrNoEvent = errors.New("message has no event tag")

// Encode builds a frame for event. An "id" is added to data when absent.
func Encode(event string, data map[string]interface{}) ([]byte, error) {
	if event == "" {
		return nil, ErrNoEvent
	}
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if _, ok := payload["id"]; !ok {
		payload["id"] = uuid.NewString()
	}

	out, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", event, err)
	}
	return out, nil
}

// Decode parses a frame
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Event == "" {
		return Message{}, ErrNoEvent
	}
	return msg, nil
}

// EventName returns the event tag of a frame, or "" if it has none
func EventName(raw []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Event
}

// IsScreenAppearance reports whether a frame is a screen appearance
func IsScreenAppearance(raw []byte) bool {
	return EventName(raw) == EventScreen
}

// EncodeApp builds the application snapshot frame
func EncodeApp(app AppInfo) ([]byte, error) {
	return Encode(EventApp, map[string]interface{}{
		"name":        app.Name,
		"version":     app.Version,
		"device":      app.Device,
		"os":          app.OS,
		"orientation": app.Orientation,
	})
}

// EncodeBeacon builds the pairing beacon frame
func EncodeBeacon(device DeviceInfo) ([]byte, error) {
	return Encode(EventAskingForLive, map[string]interface{}{
		"name":    device.Name,
		"model":   device.Model,
		"token":   device.Token,
		"version": device.Version,
	})
}

// EncodeControl builds a debugger control frame (accept, stop, refuse)
func EncodeControl(event string) []byte {
	out, _ := json.Marshal(Message{Event: event})
	return out
}
