package dataType

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"torii_shield/internal/action"
)

var bucketT0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBuckets(t *testing.T, pool Pool, cfg TokenBucketConfig) *TokenBucketSet {
	t.Helper()
	s, err := NewTokenBucketSet(pool, cfg, bucketT0)
	if err != nil {
		t.Fatalf("NewTokenBucketSet error: %v", err)
	}
	return s
}

func assertDecision(t *testing.T, d action.Decision, want action.Action, reason action.Reason) {
	t.Helper()
	if d.Get() != want || d.Reason() != reason {
		t.Fatalf("decision = %s/%s, want %s/%s", d.Get(), d.Reason(), want, reason)
	}
}

func TestTokenBucketSetConfig(t *testing.T) {
	bad := []TokenBucketConfig{
		{InitCount: 0, RefillPeriod: time.Second, ClearPeriod: time.Second},
		{InitCount: 1, RefillPeriod: 0, ClearPeriod: time.Second},
		{InitCount: 1, RefillPeriod: time.Second, ClearPeriod: 0},
	}
	for _, cfg := range bad {
		if _, err := NewTokenBucketSet(NewHeapPool(0), cfg, bucketT0); err == nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
}

func TestTokenBucketAdmitBansWhenExhausted(t *testing.T) {
	s := newTestBuckets(t, newTestSlab(t, 1), TokenBucketConfig{
		InitCount: 3, BanDuration: time.Minute, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("192.0.2.1")

	for i := 0; i < 3; i++ {
		assertDecision(t, s.Admit(addr, bucketT0), action.Allow, action.ReasonNone)
	}
	assertDecision(t, s.Admit(addr, bucketT0), action.Block, action.ReasonRateExceeded)
	assertDecision(t, s.Admit(addr, bucketT0.Add(30*time.Second)), action.Block, action.ReasonBanned)

	b, ok := s.Lookup(addr)
	if !ok || !b.Banned || b.Count != 0 || b.LastBanTime != bucketT0.UnixNano() {
		t.Errorf("bucket = %+v", b)
	}
	if netip.AddrFrom16(b.Addr).Unmap() != addr {
		t.Errorf("bucket address = %v", netip.AddrFrom16(b.Addr))
	}

	// other addresses are independent
	assertDecision(t, s.Admit(netip.MustParseAddr("2001:db8::1"), bucketT0), action.Allow, action.ReasonNone)
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestTokenBucketBanExpiresWithRefill(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(0), TokenBucketConfig{
		InitCount: 2, BanDuration: time.Minute, RefillPeriod: time.Minute, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("198.51.100.4")

	s.Admit(addr, bucketT0)
	s.Admit(addr, bucketT0)
	assertDecision(t, s.Admit(addr, bucketT0), action.Block, action.ReasonRateExceeded)

	later := bucketT0.Add(61 * time.Second)
	assertDecision(t, s.Admit(addr, later), action.Allow, action.ReasonNone)
	b, _ := s.Lookup(addr)
	if b.Banned || b.Count != 1 {
		t.Errorf("bucket after refill = %+v", b)
	}
}

func TestTokenBucketExpiredBanWithoutRefill(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(0), TokenBucketConfig{
		InitCount: 1, BanDuration: time.Minute, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("198.51.100.5")
	s.Admit(addr, bucketT0)
	s.Admit(addr, bucketT0)

	// the ban is over but the bucket is still empty, so it is banned again
	at := bucketT0.Add(2 * time.Minute)
	assertDecision(t, s.Admit(addr, at), action.Block, action.ReasonRateExceeded)
	b, _ := s.Lookup(addr)
	if b.LastBanTime != at.UnixNano() {
		t.Errorf("LastBanTime not renewed: %+v", b)
	}
}

func TestTokenBucketRefill(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(0), TokenBucketConfig{
		InitCount: 5, BanDuration: time.Minute, RefillPeriod: 10 * time.Second, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("203.0.113.9")
	for i := 0; i < 5; i++ {
		s.Admit(addr, bucketT0)
	}

	if s.Refill(bucketT0.Add(9 * time.Second)) {
		t.Error("Refill ran before the period elapsed")
	}
	if !s.Refill(bucketT0.Add(10 * time.Second)) {
		t.Error("Refill did not run once the period elapsed")
	}
	b, _ := s.Lookup(addr)
	if b.Count != 5 {
		t.Errorf("Count = %d after refill, want 5", b.Count)
	}
	if s.Refill(bucketT0.Add(15 * time.Second)) {
		t.Error("Refill ran twice within one period")
	}
}

func TestTokenBucketClear(t *testing.T) {
	pool := NewHeapPool(0)
	s := newTestBuckets(t, pool, TokenBucketConfig{
		InitCount: 1, BanDuration: time.Hour, RefillPeriod: time.Hour, ClearPeriod: 10 * time.Minute,
	})
	idle := netip.MustParseAddr("192.0.2.10")
	banned := netip.MustParseAddr("192.0.2.11")
	active := netip.MustParseAddr("192.0.2.12")

	s.Admit(idle, bucketT0)
	s.Admit(banned, bucketT0)
	s.Admit(banned, bucketT0)
	s.Admit(active, bucketT0.Add(9*time.Minute))

	if n := s.Clear(bucketT0.Add(5 * time.Minute)); n != 0 {
		t.Errorf("Clear before the period removed %d", n)
	}
	if n := s.Clear(bucketT0.Add(11 * time.Minute)); n != 1 {
		t.Errorf("Clear removed %d, want 1", n)
	}
	if _, ok := s.Lookup(idle); ok {
		t.Error("idle bucket survived Clear")
	}
	if b, ok := s.Lookup(banned); !ok || !b.Banned {
		t.Error("bucket with an active ban was cleared")
	}
	if _, ok := s.Lookup(active); !ok {
		t.Error("recently active bucket was cleared")
	}
	if pool.UsedBytes() != int64(2*tokenBucketSize) {
		t.Errorf("UsedBytes = %d, want %d", pool.UsedBytes(), 2*tokenBucketSize)
	}
}

func TestTokenBucketVerification(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(0), TokenBucketConfig{
		InitCount: 1, BanDuration: time.Hour, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("192.0.2.20")

	if s.ResetBan(addr) {
		t.Error("ResetBan reported a bucket that does not exist")
	}
	for want := uint32(1); want <= 3; want++ {
		n, err := s.RecordBadVerification(addr, bucketT0)
		if err != nil || n != want {
			t.Fatalf("RecordBadVerification = %d, %v; want %d", n, err, want)
		}
	}

	s.Admit(addr, bucketT0)
	assertDecision(t, s.Admit(addr, bucketT0), action.Block, action.ReasonRateExceeded)
	if !s.ResetBan(addr) {
		t.Fatal("ResetBan missed an existing bucket")
	}
	b, _ := s.Lookup(addr)
	if b.Banned || b.LastBanTime != 0 || b.BadVerification != 3 || b.Count != 1 {
		t.Errorf("bucket after ResetBan = %+v", b)
	}

	// a verified client is served again right away
	assertDecision(t, s.Admit(addr, bucketT0.Add(time.Second)), action.Allow, action.ReasonNone)
	assertDecision(t, s.Admit(addr, bucketT0.Add(time.Second)), action.Block, action.ReasonRateExceeded)
}

func TestTokenBucketMappedAddressesShareBucket(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(0), TokenBucketConfig{
		InitCount: 2, BanDuration: time.Minute, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	s.Admit(netip.MustParseAddr("192.0.2.30"), bucketT0)
	s.Admit(netip.MustParseAddr("::ffff:192.0.2.30"), bucketT0)
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	assertDecision(t, s.Admit(netip.MustParseAddr("192.0.2.30"), bucketT0), action.Block, action.ReasonRateExceeded)
}

func TestTokenBucketPoolExhaustedFailsOpen(t *testing.T) {
	s := newTestBuckets(t, NewHeapPool(int64(tokenBucketSize)), TokenBucketConfig{
		InitCount: 1, BanDuration: time.Minute, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	s.Admit(netip.MustParseAddr("192.0.2.40"), bucketT0)
	for i := 0; i < 3; i++ {
		assertDecision(t, s.Admit(netip.MustParseAddr("192.0.2.41"), bucketT0), action.Allow, action.ReasonPoolExhausted)
	}
	if _, err := s.RecordBadVerification(netip.MustParseAddr("192.0.2.41"), bucketT0); err == nil {
		t.Error("RecordBadVerification succeeded without memory")
	}
}

func TestTokenBucketConcurrentAdmit(t *testing.T) {
	const budget = 100
	s := newTestBuckets(t, newTestSlab(t, 1), TokenBucketConfig{
		InitCount: budget, BanDuration: time.Hour, RefillPeriod: time.Hour, ClearPeriod: time.Hour,
	})
	addr := netip.MustParseAddr("192.0.2.50")

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if s.Admit(addr, bucketT0).Get() == action.Allow {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != budget {
		t.Errorf("allowed %d requests, want %d", allowed.Load(), budget)
	}
}
