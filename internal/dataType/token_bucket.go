package dataType

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
	"unsafe"

	"torii_shield/internal/action"
)

// TokenBucket is the per address record. It holds no Go pointers so it can
// live inside a pool block, including one in the shared slab.
type TokenBucket struct {
	Addr            [16]byte
	Count           uint64
	LastBanTime     int64 // unix nano
	LastActive      int64 // unix nano
	BadVerification uint32
	Banned          bool
}

const tokenBucketSize = int(unsafe.Sizeof(TokenBucket{}))

func bucketAt(block []byte) *TokenBucket {
	return (*TokenBucket)(unsafe.Pointer(unsafe.SliceData(block)))
}

// TokenBucketConfig holds the parameters shared by every bucket in a set.
type TokenBucketConfig struct {
	InitCount    uint64        // tokens granted on creation and refill
	BanDuration  time.Duration // how long an exhausted bucket stays banned
	RefillPeriod time.Duration // minimum time between global refills
	ClearPeriod  time.Duration // idle time after which a bucket is dropped
}

// TokenBucketSet rate limits source addresses. Every exported operation
// holds the set's guard until it returns; for a set on a SlabPool that is
// the pool's shared lock.
type TokenBucketSet struct {
	guard     sync.Locker
	pool      Pool
	cfg       TokenBucketConfig
	lastPut   time.Time
	lastClear time.Time
	buckets   map[netip.Addr][]byte
}

type guarded interface {
	Guard() sync.Locker
}

func lockFor(pool Pool) sync.Locker {
	if g, ok := pool.(guarded); ok {
		return g.Guard()
	}
	return &sync.Mutex{}
}

func NewTokenBucketSet(pool Pool, cfg TokenBucketConfig, now time.Time) (*TokenBucketSet, error) {
	if cfg.InitCount == 0 {
		return nil, fmt.Errorf("token bucket init count must be positive")
	}
	if cfg.RefillPeriod <= 0 || cfg.ClearPeriod <= 0 {
		return nil, fmt.Errorf("token bucket refill and clear periods must be positive")
	}
	return &TokenBucketSet{
		guard:     lockFor(pool),
		pool:      pool,
		cfg:       cfg,
		lastPut:   now,
		lastClear: now,
		buckets:   make(map[netip.Addr][]byte),
	}, nil
}

// Admit spends one token of addr's bucket. An exhausted bucket is banned
// for BanDuration. Refill and Clear run first when they are due.
func (s *TokenBucketSet) Admit(addr netip.Addr, now time.Time) action.Decision {
	s.guard.Lock()
	defer s.guard.Unlock()

	s.refill(now)
	s.clear(now)

	addr = addr.Unmap()
	b := s.bucket(addr, now)
	if b == nil {
		return action.Allowed(action.ReasonPoolExhausted)
	}
	b.LastActive = now.UnixNano()

	if b.Banned {
		if now.UnixNano()-b.LastBanTime < int64(s.cfg.BanDuration) {
			return action.Denied(action.ReasonBanned)
		}
		b.Banned = false
	}
	if b.Count == 0 {
		b.Banned = true
		b.LastBanTime = now.UnixNano()
		return action.Denied(action.ReasonRateExceeded)
	}
	b.Count--
	return action.Allowed(action.ReasonNone)
}

// Refill restores every bucket to InitCount once RefillPeriod has passed
// since the last refill. Ban state is left alone.
func (s *TokenBucketSet) Refill(now time.Time) bool {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.refill(now)
}

func (s *TokenBucketSet) refill(now time.Time) bool {
	if now.Sub(s.lastPut) < s.cfg.RefillPeriod {
		return false
	}
	for _, block := range s.buckets {
		bucketAt(block).Count = s.cfg.InitCount
	}
	s.lastPut = now
	return true
}

// Clear drops buckets idle for ClearPeriod once that period has passed
// since the last clear. Buckets still serving a ban are kept.
func (s *TokenBucketSet) Clear(now time.Time) int {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.clear(now)
}

func (s *TokenBucketSet) clear(now time.Time) int {
	if now.Sub(s.lastClear) < s.cfg.ClearPeriod {
		return 0
	}
	s.lastClear = now

	removed := 0
	nowNano := now.UnixNano()
	for addr, block := range s.buckets {
		b := bucketAt(block)
		if nowNano-b.LastActive < int64(s.cfg.ClearPeriod) {
			continue
		}
		if b.Banned && nowNano-b.LastBanTime < int64(s.cfg.BanDuration) {
			continue
		}
		delete(s.buckets, addr)
		s.pool.Release(block)
		removed++
	}
	return removed
}

// RecordBadVerification counts a failed secondary verification for addr
// and returns the new count.
func (s *TokenBucketSet) RecordBadVerification(addr netip.Addr, now time.Time) (uint32, error) {
	s.guard.Lock()
	defer s.guard.Unlock()

	b := s.bucket(addr.Unmap(), now)
	if b == nil {
		return 0, fmt.Errorf("record bad verification for %s: %w", addr, ErrOutOfMemory)
	}
	b.BadVerification++
	b.LastActive = now.UnixNano()
	return b.BadVerification, nil
}

// ResetBan lifts the ban on addr and refills its bucket, so the next
// Admit is served. It reports whether a bucket existed.
func (s *TokenBucketSet) ResetBan(addr netip.Addr) bool {
	s.guard.Lock()
	defer s.guard.Unlock()

	block, ok := s.buckets[addr.Unmap()]
	if !ok {
		return false
	}
	b := bucketAt(block)
	b.Banned = false
	b.LastBanTime = 0
	b.Count = s.cfg.InitCount
	return true
}

// Lookup returns a copy of addr's bucket.
func (s *TokenBucketSet) Lookup(addr netip.Addr) (TokenBucket, bool) {
	s.guard.Lock()
	defer s.guard.Unlock()

	block, ok := s.buckets[addr.Unmap()]
	if !ok {
		return TokenBucket{}, false
	}
	return *bucketAt(block), true
}

// Len is the number of tracked addresses.
func (s *TokenBucketSet) Len() int {
	s.guard.Lock()
	defer s.guard.Unlock()
	return len(s.buckets)
}

// bucket finds or creates the record for addr. It returns nil when the
// pool cannot hold another bucket.
func (s *TokenBucketSet) bucket(addr netip.Addr, now time.Time) *TokenBucket {
	if block, ok := s.buckets[addr]; ok {
		return bucketAt(block)
	}
	block, err := s.pool.Allocate(tokenBucketSize)
	if err != nil {
		return nil
	}
	b := bucketAt(block)
	*b = TokenBucket{
		Addr:       addr.As16(),
		Count:      s.cfg.InitCount,
		LastActive: now.UnixNano(),
	}
	s.buckets[addr] = block
	return b
}
