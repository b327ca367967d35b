package cli

import (
	"fmt"
	"time"
)

// FormatDuration renders the wall time of a command for status lines:
// milliseconds under a second, then seconds with one decimal, then minutes.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := d / time.Minute
	rest := d - mins*time.Minute
	return fmt.Sprintf("%dm%.1fs", mins, rest.Seconds())
}

// byteUnits are the binary units used for model file sizes.
var byteUnits = []string{"KB", "MB", "GB", "TB"}

// FormatBytes renders a file size with two decimals in the largest binary
// unit that keeps the value at or above one.
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[unit])
}
