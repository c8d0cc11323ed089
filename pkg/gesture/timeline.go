package gesture

import "sync"

// Timeline orders gestures and screen transitions so a gesture can tell
// whether it was followed by a navigation.
type Timeline struct {
	mu           sync.Mutex
	seq          uint64
	lastIsScreen bool
}

// RecordGesture notes a captured gesture and returns its position
func (t *Timeline) RecordGesture() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.lastIsScreen = false
	return t.seq
}

// RecordScreen notes a screen transition and returns its position
func (t *Timeline) RecordScreen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.lastIsScreen = true
	return t.seq
}

// NavigatedSince reports whether the most recent event is a screen
// transition recorded after position seq
func (t *Timeline) NavigatedSince(seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastIsScreen && t.seq > seq
}
