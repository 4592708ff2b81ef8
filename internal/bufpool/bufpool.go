// Package bufpool provides a tiered buffer pool for payload streaming.
//
// Ingestion digests every upload, the filesystem object store spools
// payloads to temp files, and the ops listener streams payloads back out.
// All of those are copy loops; pooling their buffers keeps a busy server
// from allocating a fresh slice per transfer.
//
// Requests are served from the smallest tier that fits. Anything larger
// than the top tier is allocated directly and never pooled, so an
// occasional huge request does not pin memory. All operations are safe
// for concurrent use.
package bufpool

import (
	"io"
	"slices"
	"sync"
)

// Default tier sizes.
const (
	// SmallSize covers index entries and journal lines (4KB).
	SmallSize = 4 << 10

	// MediumSize covers typical document payload chunks (64KB).
	MediumSize = 64 << 10

	// LargeSize covers bulk payload streaming (1MB).
	LargeSize = 1 << 20
)

// Pool hands out byte slices from a set of size tiers.
type Pool struct {
	tiers []tier
}

type tier struct {
	size int
	pool *sync.Pool
}

// NewPool builds a pool with one tier per given size. With no sizes it
// uses the default small/medium/large tiers. Sizes that are not positive
// are ignored.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{SmallSize, MediumSize, LargeSize}
	}
	sizes = slices.Clone(sizes)
	slices.Sort(sizes)

	p := &Pool{}
	for _, size := range sizes {
		if size <= 0 {
			continue
		}
		p.tiers = append(p.tiers, tier{
			size: size,
			pool: &sync.Pool{
				New: func() any {
					buf := make([]byte, size)
					return &buf
				},
			},
		})
	}
	return p
}

// Get returns a byte slice of length size backed by the smallest tier
// that fits. The capacity may exceed the request; pair with Put.
// Requests above the top tier are allocated directly and never pooled.
func (p *Pool) Get(size int) []byte {
	for i := range p.tiers {
		if size <= p.tiers[i].size {
			buf := *p.tiers[i].pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get, which must not be used
// afterwards. Slices that match no tier are left for the garbage
// collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.tiers {
		if cap(buf) == p.tiers[i].size {
			buf = buf[:p.tiers[i].size]
			p.tiers[i].pool.Put(&buf)
			return
		}
	}
}

// Copy copies from src to dst through a pooled top-tier buffer. It is a
// drop-in replacement for io.Copy on payload streaming paths.
func (p *Pool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := p.Get(p.tiers[len(p.tiers)-1].size)
	defer p.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}

// global serves the package-level Get, Put, and Copy.
var global = NewPool()

// Get returns a byte slice of at least the requested size from the
// shared pool. Pair with Put.
func Get(size int) []byte {
	return global.Get(size)
}

// Put returns a buffer to the shared pool.
func Put(buf []byte) {
	global.Put(buf)
}

// Copy copies from src to dst through the shared pool.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return global.Copy(dst, src)
}
