package dataType

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// IPStatistic counts one address's activity within the current cycle.
type IPStatistic struct {
	Count           int64
	IsBlocked       bool
	BadCaptchaCount int64
	RecordTime      time.Time
	BlockTime       time.Time
}

type IPStatisticsConfig struct {
	Capacity      int
	Cycle         time.Duration // counters restart after a cycle
	BlockDuration time.Duration
	MaxBadCaptcha int64 // failed verifications that turn into a block
}

// IPStatistics keeps an IPStatistic per address in an LRU cache, so the
// least recently seen address is dropped once capacity is reached.
type IPStatistics struct {
	guard sync.Locker
	cfg   IPStatisticsConfig
	cache *LRUCache[IPStatistic]
}

func NewIPStatistics(pool Pool, cfg IPStatisticsConfig) (*IPStatistics, error) {
	if cfg.Cycle <= 0 {
		return nil, fmt.Errorf("ip statistics cycle must be positive")
	}
	cache, err := NewLRUCache[IPStatistic](pool, LRUCacheOptions{Capacity: cfg.Capacity})
	if err != nil {
		return nil, err
	}
	return &IPStatistics{guard: lockFor(pool), cfg: cfg, cache: cache}, nil
}

func statisticKey(addr netip.Addr) []byte {
	raw := addr.Unmap().As16()
	return raw[:]
}

// Touch counts a request from addr and returns the updated record. Cycle
// resets and block expiry are applied first.
func (s *IPStatistics) Touch(addr netip.Addr, now time.Time) (IPStatistic, error) {
	s.guard.Lock()
	defer s.guard.Unlock()

	stat, err := s.load(statisticKey(addr), now)
	if err != nil {
		return IPStatistic{}, err
	}
	stat.Count++
	return *stat, nil
}

// RecordBadCaptcha counts a failed verification. Reaching MaxBadCaptcha
// blocks the address for BlockDuration.
func (s *IPStatistics) RecordBadCaptcha(addr netip.Addr, now time.Time) (IPStatistic, error) {
	s.guard.Lock()
	defer s.guard.Unlock()

	stat, err := s.load(statisticKey(addr), now)
	if err != nil {
		return IPStatistic{}, err
	}
	stat.BadCaptchaCount++
	if s.cfg.MaxBadCaptcha > 0 && stat.BadCaptchaCount >= s.cfg.MaxBadCaptcha && !stat.IsBlocked {
		stat.IsBlocked = true
		stat.BlockTime = now
	}
	return *stat, nil
}

// ClearBadCaptcha forgets failed verifications after a successful one.
func (s *IPStatistics) ClearBadCaptcha(addr netip.Addr) {
	s.guard.Lock()
	defer s.guard.Unlock()

	s.cache.Update(statisticKey(addr), func(stat *IPStatistic) {
		stat.BadCaptchaCount = 0
	})
}

// Blocked reports whether addr is inside a block window.
func (s *IPStatistics) Blocked(addr netip.Addr, now time.Time) bool {
	s.guard.Lock()
	defer s.guard.Unlock()

	stat, ok := s.cache.Peek(statisticKey(addr))
	return ok && stat.IsBlocked && now.Sub(stat.BlockTime) < s.cfg.BlockDuration
}

func (s *IPStatistics) Len() int {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.cache.Len()
}

// load returns the live record for key, creating it when missing. The
// pointer is only valid until the next cache mutation.
func (s *IPStatistics) load(key []byte, now time.Time) (*IPStatistic, error) {
	var stat *IPStatistic
	found := s.cache.Update(key, func(v *IPStatistic) { stat = v })
	if !found {
		if err := s.cache.Put(key, IPStatistic{RecordTime: now}, now); err != nil {
			return nil, err
		}
		s.cache.Update(key, func(v *IPStatistic) { stat = v })
	}

	if stat.IsBlocked && now.Sub(stat.BlockTime) >= s.cfg.BlockDuration {
		stat.IsBlocked = false
		stat.BadCaptchaCount = 0
	}
	if now.Sub(stat.RecordTime) >= s.cfg.Cycle {
		stat.Count = 0
		stat.RecordTime = now
	}
	return stat, nil
}
