package dataType

import (
	"net/netip"
	"time"
)

// ToriiShieldVersion is set at build time with -ldflags "-X".
var ToriiShieldVersion = "dev"

type UserRequest struct {
	RemoteIP  string
	Addr      netip.Addr
	RequestID string
	Host      string
	Uri       string
	Args      string
	UserAgent string
	Referer   string
	Cookie    string
	Body      []byte
}

// Field is an inspected part of a request. Each field has its own verdict
// cache.
type Field uint8

const (
	FieldURL Field = iota
	FieldArgs
	FieldUserAgent
	FieldReferer
	FieldCookie
	FieldBody
	FieldURLAllow
	FieldRefererAllow
	fieldCount
)

// Fields lists every field in inspection order.
var Fields = []Field{FieldURL, FieldArgs, FieldUserAgent, FieldReferer, FieldCookie, FieldBody, FieldURLAllow, FieldRefererAllow}

func (f Field) String() string {
	switch f {
	case FieldURL:
		return "url"
	case FieldArgs:
		return "args"
	case FieldUserAgent:
		return "user_agent"
	case FieldReferer:
		return "referer"
	case FieldCookie:
		return "cookie"
	case FieldBody:
		return "body"
	case FieldURLAllow:
		return "url_allow"
	case FieldRefererAllow:
		return "referer_allow"
	default:
		return "unknown"
	}
}

// Verdict is the remembered outcome of matching one field value against a
// rule list.
type Verdict struct {
	Matched bool
	Detail  string
}

type CacheRule struct {
	Enabled       bool          `yaml:"enabled"`
	Capacity      int           `yaml:"capacity" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	MaxKeySize    int           `yaml:"max_key_size" validate:"gte=0"`
}

type CCRule struct {
	Enabled            bool          `yaml:"enabled"`
	Mode               string        `yaml:"mode" validate:"oneof=block captcha"`
	Rate               string        `yaml:"rate"`
	BanDuration        time.Duration `yaml:"ban_duration" validate:"gte=0"`
	ClearPeriod        time.Duration `yaml:"clear_period" validate:"gte=0"`
	StatisticsCapacity int           `yaml:"statistics_capacity" validate:"gte=0"`
	Cycle              time.Duration `yaml:"cycle" validate:"gte=0"`
	BlockDuration      time.Duration `yaml:"block_duration" validate:"gte=0"`
	MaxBadVerification int64         `yaml:"max_bad_verification" validate:"gte=0"`

	// filled from Rate
	InitCount    uint64        `yaml:"-"`
	RefillPeriod time.Duration `yaml:"-"`
}

// SharedMemory is the state every worker sees. It is allocated from one
// slab pool and guarded by that pool's lock.
type SharedMemory struct {
	Slab         *SlabPool
	TokenBuckets *TokenBucketSet
	Statistics   *IPStatistics
}

// InspectionCache holds one verdict cache per field. It belongs to a
// single worker.
type InspectionCache struct {
	pool   Pool
	caches [fieldCount]*LRUCache[Verdict]
}

func NewInspectionCache(pool Pool, opts LRUCacheOptions) (*InspectionCache, error) {
	ic := &InspectionCache{pool: pool}
	for _, f := range Fields {
		c, err := NewLRUCache[Verdict](pool, opts)
		if err != nil {
			return nil, err
		}
		ic.caches[f] = c
	}
	return ic, nil
}

func (ic *InspectionCache) For(f Field) *LRUCache[Verdict] {
	return ic.caches[f]
}

// UsedBytes is what the caches hold in their pool.
func (ic *InspectionCache) UsedBytes() int64 {
	return ic.pool.UsedBytes()
}
