package stats

import (
	"net/http"
	"time"
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricDecisions     = "decisions_total"
	MetricCacheLookups  = "cache_lookups_total"
	MetricRuleReloads   = "rule_reloads_total"
	MetricRuleVersion   = "rule_set_info"
	MetricClientReqs    = "client_requests_per_cycle"
	MetricSlabUsed      = "shared_memory_used_bytes"
	MetricSlabCapacity  = "shared_memory_capacity_bytes"
	MetricTokenBuckets  = "token_buckets"
	MetricIPStatistics  = "ip_statistics"
	MetricCheckDuration = "check_duration_seconds"

	TagAction = "action"
	TagReason = "reason"
	TagField  = "field"
	TagResult = "result"

	TagResultHit  = "hit"
	TagResultMiss = "miss"
)

// Prometheus collects WAF metrics into its own registry and exposes them
// through Handler.
type Prometheus struct {
	registry *prometheus.Registry
	handler  http.Handler

	metricDecisions    *prometheus.CounterVec
	metricCacheLookups *prometheus.CounterVec
	metricRuleReloads  prometheus.Counter
	metricRuleVersion  *prometheus.GaugeVec
	metricCheckTime    prometheus.Histogram
	metricClientReqs   prometheus.Histogram
	metricBuildInfo    *prometheus.GaugeVec
}

func NewPrometheus(metricPrefix, version string) *Prometheus {
	registry := prometheus.NewPedanticRegistry()

	p := &Prometheus{
		registry: registry,
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),

		metricDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricDecisions,
			Help:      "Requests decided by the pipeline.",
		}, []string{TagAction, TagReason}),
		metricCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricCacheLookups,
			Help:      "Verdict cache lookups per inspected field.",
		}, []string{TagField, TagResult}),
		metricRuleReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricPrefix,
			Name:      MetricRuleReloads,
			Help:      "Successful rule set reloads.",
		}),
		metricRuleVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricPrefix,
			Name:      MetricRuleVersion,
			Help:      "Version hash of the active rule set.",
		}, []string{"version"}),
		metricCheckTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricPrefix,
			Name:      MetricCheckDuration,
			Help:      "Time spent running the check pipeline.",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}),
		metricClientReqs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricPrefix,
			Name:      MetricClientReqs,
			Help:      "Requests a client has made in its current statistics cycle, sampled on every request.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),
		metricBuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricPrefix,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version"}),
	}

	registry.MustRegister(p.metricDecisions)
	registry.MustRegister(p.metricCacheLookups)
	registry.MustRegister(p.metricRuleReloads)
	registry.MustRegister(p.metricRuleVersion)
	registry.MustRegister(p.metricCheckTime)
	registry.MustRegister(p.metricClientReqs)
	registry.MustRegister(p.metricBuildInfo)
	p.metricBuildInfo.WithLabelValues(version).Set(1)

	return p
}

// WatchSharedMemory exports the shared region's gauges. They are read at
// scrape time.
func (p *Prometheus) WatchSharedMemory(metricPrefix string, shm *dataType.SharedMemory) {
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricPrefix,
		Name:      MetricSlabUsed,
		Help:      "Bytes allocated from the shared slab.",
	}, func() float64 { return float64(shm.Slab.UsedBytes()) }))
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricPrefix,
		Name:      MetricSlabCapacity,
		Help:      "Usable size of the shared slab.",
	}, func() float64 { return float64(shm.Slab.Capacity()) }))
	if shm.TokenBuckets != nil {
		p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricPrefix,
			Name:      MetricTokenBuckets,
			Help:      "Addresses holding a token bucket.",
		}, func() float64 { return float64(shm.TokenBuckets.Len()) }))
	}
	if shm.Statistics != nil {
		p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricPrefix,
			Name:      MetricIPStatistics,
			Help:      "Addresses tracked by the request statistics.",
		}, func() float64 { return float64(shm.Statistics.Len()) }))
	}
}

func (p *Prometheus) Handler() http.Handler {
	return p.handler
}

func (p *Prometheus) ObserveDecision(d action.Decision) {
	p.metricDecisions.WithLabelValues(d.Get().String(), d.Reason().String()).Inc()
}

func (p *Prometheus) ObserveCacheLookup(field dataType.Field, hit bool) {
	result := TagResultMiss
	if hit {
		result = TagResultHit
	}
	p.metricCacheLookups.WithLabelValues(field.String(), result).Inc()
}

func (p *Prometheus) ObserveCheckDuration(d time.Duration) {
	p.metricCheckTime.Observe(d.Seconds())
}

func (p *Prometheus) ObserveClientRequests(count int64) {
	p.metricClientReqs.Observe(float64(count))
}

// SetRuleVersion marks version as the active rule set.
func (p *Prometheus) SetRuleVersion(version string) {
	p.metricRuleVersion.Reset()
	p.metricRuleVersion.WithLabelValues(version).Set(1)
}

// ObserveRuleReload records a new active rule set version.
func (p *Prometheus) ObserveRuleReload(version string) {
	p.metricRuleReloads.Inc()
	p.SetRuleVersion(version)
}
