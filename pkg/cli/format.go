package cli

import (
	"fmt"
	"time"
)

// FormatDuration renders d as 850ms, 1.5s or 2m5.5s.
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	return fmt.Sprintf("%dm%.1fs", mins, secs-float64(mins*60))
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const (
		KB = 1 << 10
		MB = 1 << 20
		GB = 1 << 30
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatRate renders a bytes-per-second figure.
func FormatRate(bps float64) string {
	return FormatBytes(int64(bps)) + "/s"
}

// FormatPercent renders a 0..1 fraction.
func FormatPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
