package reminder

import (
	"time"

	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/window"
)

// InQuietHours reports whether now falls inside the owner's quiet-hours
// window. The window may wrap midnight; the end minute is exclusive, so a
// 22:00–06:00 window suppresses 22:00 through 05:59. Nil, disabled, or
// malformed preferences never suppress.
func InQuietHours(q *model.QuietHours, now time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}

	start, err := window.ParseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := window.ParseClock(q.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	m := now.Hour()*60 + now.Minute()
	if end > start {
		return m >= start && m < end
	}
	// Overnight wrap.
	return m >= start || m < end
}
