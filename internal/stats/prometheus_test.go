package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"torii_shield/internal/action"
	"torii_shield/internal/dataType"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PrometheusTestSuite struct {
	suite.Suite

	prom *Prometheus
	shm  *dataType.SharedMemory
}

func (suite *PrometheusTestSuite) SetupTest() {
	slab, err := dataType.NewSlabPool(1 << 16)
	suite.Require().NoError(err)
	suite.shm = &dataType.SharedMemory{Slab: slab}

	suite.prom = NewPrometheus("torii", "test")
	suite.prom.WatchSharedMemory("torii", suite.shm)
}

func (suite *PrometheusTestSuite) TearDownTest() {
	_ = suite.shm.Slab.Close()
}

func (suite *PrometheusTestSuite) scrape() string {
	rec := httptest.NewRecorder()
	suite.prom.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	suite.Equal(http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	suite.Require().NoError(err)
	return string(body)
}

func (suite *PrometheusTestSuite) TestDecisions() {
	suite.prom.ObserveDecision(action.Denied(action.ReasonRateExceeded))
	suite.prom.ObserveDecision(action.Allowed(action.ReasonNone))

	body := suite.scrape()
	suite.Contains(body, `torii_decisions_total{action="block",reason="rate_exceeded"} 1`)
	suite.Contains(body, `torii_decisions_total{action="allow",reason="none"} 1`)
	suite.Contains(body, `torii_build_info{version="test"} 1`)
}

func (suite *PrometheusTestSuite) TestCacheLookupsAndDuration() {
	suite.prom.ObserveCacheLookup(dataType.FieldURL, true)
	suite.prom.ObserveCacheLookup(dataType.FieldURL, false)
	suite.prom.ObserveCacheLookup(dataType.FieldURL, false)
	suite.prom.ObserveCheckDuration(200 * time.Microsecond)

	body := suite.scrape()
	suite.Contains(body, `torii_cache_lookups_total{field="url",result="hit"} 1`)
	suite.Contains(body, `torii_cache_lookups_total{field="url",result="miss"} 2`)
	suite.Contains(body, `torii_check_duration_seconds_count 1`)
}

func (suite *PrometheusTestSuite) TestClientRequests() {
	suite.prom.ObserveClientRequests(1)
	suite.prom.ObserveClientRequests(7)

	body := suite.scrape()
	suite.Contains(body, `torii_client_requests_per_cycle_count 2`)
	suite.Contains(body, `torii_client_requests_per_cycle_sum 8`)
	suite.Contains(body, `torii_client_requests_per_cycle_bucket{le="5"} 1`)
}

func (suite *PrometheusTestSuite) TestRuleReloadKeepsOneVersion() {
	suite.prom.ObserveRuleReload("0000000000000001")
	suite.prom.ObserveRuleReload("0000000000000002")

	body := suite.scrape()
	suite.Contains(body, `torii_rule_reloads_total 2`)
	suite.Contains(body, `torii_rule_set_info{version="0000000000000002"} 1`)
	suite.NotContains(body, `version="0000000000000001"`)
}

func (suite *PrometheusTestSuite) TestInitialRuleVersionIsNotAReload() {
	suite.prom.SetRuleVersion("00000000000000aa")

	body := suite.scrape()
	suite.Contains(body, `torii_rule_set_info{version="00000000000000aa"} 1`)
	suite.Contains(body, `torii_rule_reloads_total 0`)
}

func (suite *PrometheusTestSuite) TestSharedMemoryGauges() {
	_, err := suite.shm.Slab.Allocate(100)
	suite.Require().NoError(err)

	body := suite.scrape()
	suite.Contains(body, `torii_shared_memory_used_bytes 128`)
	suite.NotContains(body, "torii_token_buckets")
}

func TestPrometheus(t *testing.T) {
	t.Parallel()
	suite.Run(t, &PrometheusTestSuite{})
}

func TestWatchSharedMemoryBuckets(t *testing.T) {
	slab, err := dataType.NewSlabPool(1 << 16)
	require.NoError(t, err)
	defer slab.Close()

	buckets, err := dataType.NewTokenBucketSet(slab, dataType.TokenBucketConfig{
		InitCount: 1, BanDuration: time.Minute, RefillPeriod: time.Minute, ClearPeriod: time.Minute,
	}, time.Now())
	require.NoError(t, err)

	prom := NewPrometheus("torii", "test")
	prom.WatchSharedMemory("torii", &dataType.SharedMemory{Slab: slab, TokenBuckets: buckets})

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "torii_token_buckets 0")
}
