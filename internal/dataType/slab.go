package dataType

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	slabPageSize   = 4096
	slabHeaderSize = 64
	slabMinShift   = 4  // 16 bytes
	slabMaxShift   = 11 // 2048 bytes
	slabClasses    = slabMaxShift - slabMinShift + 1
	slabMaxSlot    = 1 << slabMaxShift

	pageFree      int8 = -1
	pageLargeHead int8 = -2
	pageLargeTail int8 = -3
)

type slabPage struct {
	class int8
	inUse uint16
	run   int32
}

// SlabPool carves a fixed size region into pages. Small blocks come from
// per size class slots, anything above slabMaxSlot takes a run of whole
// pages. The first bytes of the region hold the guard word, so every
// worker mapping the region agrees on the lock.
//
// Pages handed to a size class stay with that class.
type SlabPool struct {
	mu     sync.Mutex
	region []byte
	unmap  func([]byte) error
	pages  []slabPage
	free   [slabClasses][]int32
	used   atomic.Int64
	guard  spinLock
}

// NewSlabPool maps a region of size bytes. The region has to fit the
// header and at least one page.
func NewSlabPool(size int64) (*SlabPool, error) {
	if size < slabHeaderSize+slabPageSize {
		return nil, fmt.Errorf("slab pool size %d too small, need at least %d bytes", size, slabHeaderSize+slabPageSize)
	}
	region, unmap, err := mapSharedRegion(int(size))
	if err != nil {
		return nil, err
	}
	p := &SlabPool{
		region: region,
		unmap:  unmap,
		pages:  make([]slabPage, (len(region)-slabHeaderSize)/slabPageSize),
	}
	for i := range p.pages {
		p.pages[i].class = pageFree
	}
	p.guard.word = (*uint32)(unsafe.Pointer(&region[0]))
	return p, nil
}

// Guard returns the lock that structures backed by this pool take around
// each operation.
func (p *SlabPool) Guard() sync.Locker { return &p.guard }

func (p *SlabPool) Kind() PoolKind { return PoolSlab }

func (p *SlabPool) UsedBytes() int64 { return p.used.Load() }

// Capacity is the number of bytes available for blocks.
func (p *SlabPool) Capacity() int64 { return int64(len(p.pages)) * slabPageSize }

func (p *SlabPool) Allocate(size int) ([]byte, error) {
	if size < 0 || int64(size) > p.Capacity() {
		return nil, ErrOutOfMemory
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if size <= slabMaxSlot {
		c := slabClass(size)
		if len(p.free[c]) == 0 && !p.carve(c) {
			return nil, ErrOutOfMemory
		}
		n := len(p.free[c]) - 1
		off := int(p.free[c][n])
		p.free[c] = p.free[c][:n]
		p.pages[p.pageOf(off)].inUse++

		slot := 1 << (c + slabMinShift)
		p.used.Add(int64(slot))
		block := p.region[off : off+size : off+slot]
		clear(block)
		return block, nil
	}

	n := (size + slabPageSize - 1) / slabPageSize
	start := p.findRun(n)
	if start < 0 {
		return nil, ErrOutOfMemory
	}
	p.pages[start] = slabPage{class: pageLargeHead, run: int32(n)}
	for i := start + 1; i < start+n; i++ {
		p.pages[i].class = pageLargeTail
	}
	p.used.Add(int64(n) * slabPageSize)

	off := slabHeaderSize + start*slabPageSize
	block := p.region[off : off+size : off+n*slabPageSize]
	clear(block)
	return block, nil
}

func (p *SlabPool) Release(block []byte) {
	if cap(block) == 0 {
		return
	}
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(block))) - uintptr(unsafe.Pointer(unsafe.SliceData(p.region))))
	if off < slabHeaderSize || off >= len(p.region) {
		panic("dataType: block released to a slab pool it was not allocated from")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.pageOf(off)
	page := &p.pages[idx]
	switch {
	case page.class >= 0:
		page.inUse--
		p.free[page.class] = append(p.free[page.class], int32(off))
		p.used.Add(-int64(1 << (int(page.class) + slabMinShift)))
	case page.class == pageLargeHead:
		n := int(page.run)
		for i := idx; i < idx+n; i++ {
			p.pages[i] = slabPage{class: pageFree}
		}
		p.used.Add(-int64(n) * slabPageSize)
	default:
		panic("dataType: double release or foreign block in slab pool")
	}
}

// Close unmaps the region. The pool must not be used afterwards.
func (p *SlabPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := p.unmap(p.region)
	p.region = nil
	p.pages = nil
	return err
}

func (p *SlabPool) pageOf(off int) int {
	return (off - slabHeaderSize) / slabPageSize
}

// carve assigns a free page to class c and fills its free list.
func (p *SlabPool) carve(c int) bool {
	idx := p.findRun(1)
	if idx < 0 {
		return false
	}
	p.pages[idx] = slabPage{class: int8(c)}
	slot := 1 << (c + slabMinShift)
	base := slabHeaderSize + idx*slabPageSize
	for off := base + slabPageSize - slot; off >= base; off -= slot {
		p.free[c] = append(p.free[c], int32(off))
	}
	return true
}

// findRun returns the first index of n consecutive free pages, or -1.
func (p *SlabPool) findRun(n int) int {
	run := 0
	for i := range p.pages {
		if p.pages[i].class != pageFree {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

func slabClass(size int) int {
	if size <= 1<<slabMinShift {
		return 0
	}
	return bits.Len(uint(size-1)) - slabMinShift
}

// spinLock keeps its state in the shared region instead of process memory.
type spinLock struct {
	word *uint32
}

func (l *spinLock) Lock() {
	for spins := 0; !atomic.CompareAndSwapUint32(l.word, 0, 1); spins++ {
		if spins >= 32 {
			runtime.Gosched()
		}
	}
}

func (l *spinLock) Unlock() {
	atomic.StoreUint32(l.word, 0)
}
