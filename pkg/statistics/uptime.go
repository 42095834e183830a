package statistics

import (
	"fmt"
	"time"
)

// FormatUptime renders HH:MM:SS below a day and "{d}d {h}h {m}m" from one day on.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours >= 24 {
		return fmt.Sprintf("%dd %dh %dm", hours/24, hours%24, minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
