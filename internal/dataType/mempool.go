package dataType

import (
	"errors"
	"sync/atomic"
)

var ErrOutOfMemory = errors.New("memory pool exhausted")

// PoolKind identifies the backing strategy of a Pool
type PoolKind int

const (
	PoolHeap  PoolKind = iota // plain heap, process local
	PoolArena                 // request scoped, released as a unit
	PoolSlab                  // fixed region shared by all workers
)

func (k PoolKind) String() string {
	switch k {
	case PoolHeap:
		return "heap"
	case PoolArena:
		return "arena"
	case PoolSlab:
		return "slab"
	default:
		return "unknown"
	}
}

// Pool is the allocator every structure in this package goes through.
// A block must be released to the pool it was allocated from.
type Pool interface {
	Allocate(size int) ([]byte, error)
	Release(block []byte)
	UsedBytes() int64
	Kind() PoolKind
}

// HeapPool allocates from the Go heap and only keeps bookkeeping.
type HeapPool struct {
	used  atomic.Int64
	limit int64
}

// NewHeapPool returns a heap pool. A limit of 0 means unlimited.
func NewHeapPool(limit int64) *HeapPool {
	return &HeapPool{limit: limit}
}

func (p *HeapPool) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrOutOfMemory
	}
	if n := p.used.Add(int64(size)); p.limit > 0 && n > p.limit {
		p.used.Add(-int64(size))
		return nil, ErrOutOfMemory
	}
	return make([]byte, size), nil
}

func (p *HeapPool) Release(block []byte) {
	if block == nil {
		return
	}
	p.used.Add(-int64(cap(block)))
}

func (p *HeapPool) UsedBytes() int64 { return p.used.Load() }

func (p *HeapPool) Kind() PoolKind { return PoolHeap }

const defaultArenaChunk = 4096

// ArenaPool is a bump allocator over chunks. Release is a no-op; Reset
// drops every chunk at once. It is not safe for concurrent use.
type ArenaPool struct {
	chunkSize int
	limit     int64
	used      int64
	chunks    [][]byte
	cur       []byte
}

// NewArenaPool returns an arena allocating chunkSize bytes at a time. A
// limit of 0 means unlimited.
func NewArenaPool(chunkSize int, limit int64) *ArenaPool {
	if chunkSize <= 0 {
		chunkSize = defaultArenaChunk
	}
	return &ArenaPool{chunkSize: chunkSize, limit: limit}
}

func (a *ArenaPool) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrOutOfMemory
	}
	if a.limit > 0 && a.used+int64(size) > a.limit {
		return nil, ErrOutOfMemory
	}
	a.used += int64(size)

	// oversized blocks get a chunk of their own
	if size > a.chunkSize {
		chunk := make([]byte, size)
		a.chunks = append(a.chunks, chunk)
		return chunk[:size:size], nil
	}
	if len(a.cur)+size > cap(a.cur) {
		a.cur = make([]byte, 0, a.chunkSize)
		a.chunks = append(a.chunks, a.cur)
	}
	start := len(a.cur)
	a.cur = a.cur[:start+size]
	return a.cur[start : start+size : start+size], nil
}

func (a *ArenaPool) Release([]byte) {}

// Reset frees everything allocated from the arena.
func (a *ArenaPool) Reset() {
	a.chunks = nil
	a.cur = nil
	a.used = 0
}

func (a *ArenaPool) UsedBytes() int64 { return a.used }

func (a *ArenaPool) Kind() PoolKind { return PoolArena }
