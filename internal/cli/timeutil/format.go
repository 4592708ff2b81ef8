// Package timeutil formats timestamps and durations for CLI display.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// localTimeFormat renders times like "Mon Jan 2 15:04:05 2006".
const localTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUptime renders a Go duration string (e.g. "72h30m15s") as
// "3d 0h 30m 15s", omitting leading zero units. Input that does not
// parse is returned as-is.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	total := int(d.Seconds())
	units := []struct {
		n      int
		suffix string
	}{
		{total / 86400, "d"},
		{total / 3600 % 24, "h"},
		{total / 60 % 60, "m"},
		{total % 60, "s"},
	}

	var parts []string
	for _, u := range units {
		if len(parts) == 0 && u.n == 0 && u.suffix != "s" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", u.n, u.suffix))
	}
	return strings.Join(parts, " ")
}

// FormatTime converts an RFC3339 timestamp to local time for display.
// Input that does not parse is returned as-is.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(localTimeFormat)
}
