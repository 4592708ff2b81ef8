// Package bytesize provides a byte count that unmarshals from
// human-readable strings, so configuration can say "500Mi" instead of
// 524288000.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. It parses plain numbers, decimal units
// (KB, MB, GB, TB at x1000), and binary units (Ki/KiB and friends at
// x1024), case-insensitively: "1024", "100MB", "1Gi", "1.5GiB".
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// Parse converts a human-readable size string into a ByteSize.
func Parse(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	// Split the leading number from the unit suffix.
	cut := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	numStr := s[:cut]
	unit := strings.ToLower(strings.TrimSpace(s[cut:]))

	if numStr == "" {
		return 0, fmt.Errorf("byte size %q has no number", s)
	}
	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("byte size %q has unknown unit %q", s, strings.TrimSpace(s[cut:]))
	}

	// Whole numbers keep full 64-bit precision; fractions like "1.5Gi"
	// go through float math.
	if !strings.Contains(numStr, ".") {
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
		}
		return ByteSize(n) * mult, nil
	}
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(f * float64(mult)), nil
}

// UnmarshalText lets ByteSize fields decode from strings wherever the
// config layer's mapstructure hook finds a TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String renders the size with the largest binary unit it fills.
func (b ByteSize) String() string {
	for _, u := range []struct {
		scale ByteSize
		name  string
	}{{TiB, "TiB"}, {GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if b >= u.scale {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.scale), u.name)
		}
	}
	return fmt.Sprintf("%dB", uint64(b))
}

// Int64 returns the size as an int64 for APIs that count bytes signed.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
