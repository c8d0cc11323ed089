package gesture

import (
	"strconv"
)

// RuleKeys returns the tagging rule keys for ev, most specific first.
//
// The base key is kind.direction.method. View position, view class and
// screen class are appended when known, in that order. The bare kind is
// the last resort.
func RuleKeys(ev Event) []string {
	base := ev.Kind.String() + "." + ev.Direction + "." + ev.Method

	var position, view, screen string
	if ev.View != nil {
		position = "." + strconv.Itoa(ev.View.Position)
		view = "." + ev.View.ClassName
	}
	if ev.Screen != nil {
		screen = "." + ev.Screen.ClassName
	}

	candidates := []string{
		base + position + view + screen,
		base + view + screen,
		base + position + view,
		base + position + screen,
		base + view,
		base + screen,
		base + position,
		base,
		ev.Kind.String(),
	}

	keys := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, k := range candidates {
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
