package bufpool

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSelectsSmallestFittingTier(t *testing.T) {
	cases := []struct {
		size    int
		wantCap int
	}{
		{0, SmallSize},
		{100, SmallSize},
		{SmallSize, SmallSize},
		{SmallSize + 1, MediumSize},
		{10 << 10, MediumSize},
		{MediumSize, MediumSize},
		{MediumSize + 1, LargeSize},
		{LargeSize, LargeSize},
	}
	for _, tc := range cases {
		buf := Get(tc.size)
		assert.Equal(t, tc.size, len(buf), "len for Get(%d)", tc.size)
		assert.Equal(t, tc.wantCap, cap(buf), "cap for Get(%d)", tc.size)
		Put(buf)
	}
}

func TestGetOversizedAllocatesExactly(t *testing.T) {
	buf := Get(LargeSize + 1)
	assert.Equal(t, LargeSize+1, len(buf))
	assert.Equal(t, len(buf), cap(buf))
	Put(buf) // matches no tier, dropped
}

func TestPutToleratesForeignBuffers(t *testing.T) {
	require.NotPanics(t, func() {
		Put(nil)
		Put([]byte{})
		Put(make([]byte, 999))
	})
}

func TestNewPoolSortsTiers(t *testing.T) {
	p := NewPool(65536, 1024, 8192)

	assert.Equal(t, 1024, cap(p.Get(500)))
	assert.Equal(t, 8192, cap(p.Get(2000)))
	assert.Equal(t, 65536, cap(p.Get(10000)))
}

func TestNewPoolIgnoresNonPositiveSizes(t *testing.T) {
	p := NewPool(-1, 0, 2048)

	assert.Len(t, p.tiers, 1)
	assert.Equal(t, 2048, cap(p.Get(100)))
}

func TestNewPoolDefaultTiers(t *testing.T) {
	p := NewPool()

	assert.Equal(t, SmallSize, cap(p.Get(100)))
	assert.Equal(t, LargeSize, cap(p.Get(MediumSize+1)))
}

func TestCopyRoundTrip(t *testing.T) {
	payload := make([]byte, 3*LargeSize+17)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	var dst bytes.Buffer
	n, err := Copy(&dst, bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), n)
	assert.True(t, bytes.Equal(payload, dst.Bytes()))
}

func TestCopyEmptySource(t *testing.T) {
	var dst bytes.Buffer
	n, err := Copy(&dst, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := Get((g*31 + i*7919) % (LargeSize + 2048))
				if len(buf) > 0 {
					buf[len(buf)-1] = byte(g)
				}
				Put(buf)
			}
		}(g)
	}
	wg.Wait()
}

func BenchmarkCopy(b *testing.B) {
	payload := make([]byte, 4<<20)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Copy(io.Discard, bytes.NewReader(payload))
	}
}

func BenchmarkGetPut(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := Get(64 << 10)
			Put(buf)
		}
	})
}
