package dataType

import (
	"net/netip"
	"testing"
	"time"
)

var statT0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStatistics(t *testing.T, pool Pool, cfg IPStatisticsConfig) *IPStatistics {
	t.Helper()
	s, err := NewIPStatistics(pool, cfg)
	if err != nil {
		t.Fatalf("NewIPStatistics error: %v", err)
	}
	return s
}

func TestIPStatisticsTouchCycle(t *testing.T) {
	s := newTestStatistics(t, NewHeapPool(0), IPStatisticsConfig{Capacity: 8, Cycle: time.Minute, BlockDuration: time.Hour})
	addr := netip.MustParseAddr("192.0.2.1")

	for want := int64(1); want <= 3; want++ {
		stat, err := s.Touch(addr, statT0.Add(time.Duration(want)*time.Second))
		if err != nil || stat.Count != want {
			t.Fatalf("Touch = %d, %v; want %d", stat.Count, err, want)
		}
	}
	stat, err := s.Touch(addr, statT0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if stat.Count != 1 || !stat.RecordTime.Equal(statT0.Add(time.Minute)) {
		t.Errorf("after a cycle = %+v", stat)
	}

	// mapped and plain forms share a record
	stat, _ = s.Touch(netip.MustParseAddr("::ffff:192.0.2.1"), statT0.Add(time.Minute))
	if stat.Count != 2 || s.Len() != 1 {
		t.Errorf("mapped Touch Count=%d Len=%d", stat.Count, s.Len())
	}
}

func TestIPStatisticsBadCaptchaBlocks(t *testing.T) {
	s := newTestStatistics(t, NewHeapPool(0), IPStatisticsConfig{
		Capacity: 8, Cycle: time.Hour, BlockDuration: time.Hour, MaxBadCaptcha: 3,
	})
	addr := netip.MustParseAddr("198.51.100.7")

	for i := 1; i <= 2; i++ {
		stat, err := s.RecordBadCaptcha(addr, statT0)
		if err != nil || stat.IsBlocked {
			t.Fatalf("record %d: %+v, %v", i, stat, err)
		}
	}
	stat, _ := s.RecordBadCaptcha(addr, statT0.Add(time.Second))
	if !stat.IsBlocked || !stat.BlockTime.Equal(statT0.Add(time.Second)) {
		t.Fatalf("third failure did not block: %+v", stat)
	}

	if !s.Blocked(addr, statT0.Add(time.Minute)) {
		t.Error("Blocked = false inside the block window")
	}
	if s.Blocked(netip.MustParseAddr("198.51.100.8"), statT0) {
		t.Error("unknown address reported blocked")
	}
	if s.Blocked(addr, statT0.Add(2*time.Hour)) {
		t.Error("Blocked = true after the block window")
	}

	stat, _ = s.Touch(addr, statT0.Add(2*time.Hour))
	if stat.IsBlocked || stat.BadCaptchaCount != 0 {
		t.Errorf("expired block not reset: %+v", stat)
	}
}

func TestIPStatisticsClearBadCaptcha(t *testing.T) {
	s := newTestStatistics(t, NewHeapPool(0), IPStatisticsConfig{
		Capacity: 8, Cycle: time.Hour, BlockDuration: time.Hour, MaxBadCaptcha: 3,
	})
	addr := netip.MustParseAddr("203.0.113.3")

	s.RecordBadCaptcha(addr, statT0)
	s.RecordBadCaptcha(addr, statT0)
	s.ClearBadCaptcha(addr)
	stat, _ := s.RecordBadCaptcha(addr, statT0)
	if stat.BadCaptchaCount != 1 || stat.IsBlocked {
		t.Errorf("after ClearBadCaptcha = %+v", stat)
	}

	// clearing an unknown address is a no-op
	s.ClearBadCaptcha(netip.MustParseAddr("203.0.113.4"))
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestIPStatisticsCapacity(t *testing.T) {
	pool := newTestSlab(t, 1)
	s := newTestStatistics(t, pool, IPStatisticsConfig{Capacity: 2, Cycle: time.Hour, BlockDuration: time.Hour})
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	c := netip.MustParseAddr("10.0.0.3")

	s.Touch(a, statT0)
	s.Touch(a, statT0)
	s.Touch(b, statT0)
	s.Touch(c, statT0)
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	stat, _ := s.Touch(a, statT0)
	if stat.Count != 1 {
		t.Errorf("evicted address kept Count %d", stat.Count)
	}
	if pool.UsedBytes() != 2*16 {
		t.Errorf("UsedBytes = %d, want %d", pool.UsedBytes(), 2*16)
	}
}

func TestNewIPStatisticsRejectsBadCycle(t *testing.T) {
	if _, err := NewIPStatistics(NewHeapPool(0), IPStatisticsConfig{Capacity: 1}); err == nil {
		t.Error("zero cycle accepted")
	}
	if _, err := NewIPStatistics(NewHeapPool(0), IPStatisticsConfig{Capacity: 0, Cycle: time.Second}); err == nil {
		t.Error("zero capacity accepted")
	}
}
