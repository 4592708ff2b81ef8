package bytesize

import "testing"

func TestParse(t *testing.T) {
	valid := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1073741824", GiB},

		{"1024B", 1024},
		{"1024b", 1024},

		{"1Ki", KiB},
		{"1KiB", KiB},
		{"100Mi", 100 * MiB},
		{"1Gi", GiB},
		{"1TiB", TiB},

		{"1K", KB},
		{"1KB", KB},
		{"100MB", 100 * MB},
		{"1G", GB},
		{"1TB", TB},

		{"1gi", GiB},
		{"1GI", GiB},

		{"  1Gi", GiB},
		{"1Gi  ", GiB},
		{"1 Gi", GiB},

		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"0.5Gi", 512 * MiB},

		// Typical configuration values.
		{"500Mi", 500 * MiB},
		{"512Ki", 512 * KiB},
	}
	for _, tc := range valid {
		got, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	invalid := []string{"", "   ", "1Xi", "-1Gi", "Gi", "abc", "1.2.3Mi", "1 000"}
	for _, in := range invalid {
		if got, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) = %d, want error", in, got)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("1Gi")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if b != GiB {
		t.Fatalf("UnmarshalText(1Gi) = %d, want %d", b, GiB)
	}

	if err := b.UnmarshalText([]byte("a lot")); err == nil {
		t.Fatal("UnmarshalText accepted garbage")
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{100 * MiB, "100.00MiB"},
		{GiB, "1.00GiB"},
		{ByteSize(1.5 * float64(GiB)), "1.50GiB"},
		{2 * TiB, "2.00TiB"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tc.in), got, tc.want)
		}
	}
}

func TestInt64(t *testing.T) {
	if got := GiB.Int64(); got != 1<<30 {
		t.Fatalf("GiB.Int64() = %d, want %d", got, 1<<30)
	}
}
