package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"
	"torii_shield/internal/check"
	"torii_shield/internal/config"
	"torii_shield/internal/dataType"
	"torii_shield/internal/stats"
	"torii_shield/internal/utils"

	"github.com/google/uuid"
)

// worker is the process local state one request uses at a time.
type worker struct {
	cache *dataType.InspectionCache
	arena *dataType.ArenaPool
}

type Server struct {
	cfg        *config.MainConfig
	ruleSet    atomic.Pointer[config.RuleSet]
	sharedMem  *dataType.SharedMemory
	metrics    *stats.Prometheus
	workers    chan *worker
	httpServer *http.Server
}

// NewServer builds the server and its worker set. metrics may be nil.
func NewServer(cfg *config.MainConfig, ruleSet *config.RuleSet, sharedMem *dataType.SharedMemory, metrics *stats.Prometheus) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		sharedMem: sharedMem,
		metrics:   metrics,
		workers:   make(chan *worker, cfg.Workers),
	}
	s.ruleSet.Store(ruleSet)
	if metrics != nil {
		metrics.SetRuleVersion(fmt.Sprintf("%016x", ruleSet.Version))
	}

	for i := 0; i < cfg.Workers; i++ {
		wk := &worker{arena: dataType.NewArenaPool(0, 0)}
		if cfg.Cache.Enabled {
			cache, err := dataType.NewInspectionCache(dataType.NewHeapPool(0), dataType.LRUCacheOptions{
				Capacity:      cfg.Cache.Capacity,
				TTL:           cfg.Cache.TTL,
				SweepInterval: cfg.Cache.SweepInterval,
			})
			if err != nil {
				return nil, fmt.Errorf("worker %d: %w", i, err)
			}
			wk.cache = cache
		}
		s.workers <- wk
	}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// SwapRules makes rs the rule set for requests that start from now on.
func (s *Server) SwapRules(rs *config.RuleSet) {
	s.ruleSet.Store(rs)
	if s.metrics != nil {
		s.metrics.ObserveRuleReload(fmt.Sprintf("%016x", rs.Version))
	}
}

// StartServer starts the HTTP server and blocks until it stops.
func (s *Server) StartServer() error {
	log.Printf("HTTP Server listening on :%s ...", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) acquire(ctx context.Context) (*worker, error) {
	select {
	case wk := <-s.workers:
		return wk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) release(wk *worker) {
	wk.arena.Reset()
	s.workers <- wk
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	reqData := processRequestData(s.cfg, r)
	w.Header().Set("Torii-Request-ID", reqData.RequestID)

	switch reqData.Uri {
	case s.cfg.WebPath + "/health_check":
		handleHealthCheck(w, reqData, s.ruleSet.Load(), s.cfg, s.sharedMem)
		return
	case s.cfg.WebPath + "/verification":
		handleVerification(w, r, reqData, s.cfg, s.sharedMem)
		return
	}

	if s.cfg.MaxBodySize > 0 && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodySize))
		if err != nil {
			utils.LogError(reqData, fmt.Sprintf("Error reading body: %v", err), "handleRequest")
		}
		reqData.Body = body
	}

	wk, err := s.acquire(r.Context())
	if err != nil {
		return
	}
	defer s.release(wk)

	env := &check.Env{
		RuleSet:   s.ruleSet.Load(),
		SharedMem: s.sharedMem,
		Cache:     wk.cache,
		Arena:     wk.arena,
		CacheRule: s.cfg.Cache,
		CCRule:    s.cfg.CC,
		Now:       time.Now(),
	}
	if s.metrics != nil {
		env.Observer = s.metrics
	}

	start := time.Now()
	decision := check.Run(reqData, env, check.Pipeline)
	if s.metrics != nil {
		s.metrics.ObserveCheckDuration(time.Since(start))
		s.metrics.ObserveDecision(decision)
	}
	CheckMain(w, reqData, decision, s.cfg)
}

func processRequestData(cfg *config.MainConfig, r *http.Request) dataType.UserRequest {
	clientIP := firstHeader(r, cfg.ConnectingIPHeaders)
	if i := strings.IndexByte(clientIP, ','); i >= 0 {
		clientIP = strings.TrimSpace(clientIP[:i])
	}
	if clientIP == "" {
		ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		} else {
			clientIP = ipStr
		}
	}

	clientHost := firstHeader(r, cfg.ConnectingHostHeaders)
	if clientHost == "" {
		clientHost = r.Host
	}

	clientURI := firstHeader(r, cfg.ConnectingURIHeaders)
	if clientURI == "" {
		clientURI = r.RequestURI
	}
	path, args := utils.CleanURIPath(clientURI)

	reqData := dataType.UserRequest{
		RemoteIP:  clientIP,
		RequestID: uuid.NewString(),
		Host:      clientHost,
		Uri:       path,
		Args:      args,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Cookie:    r.Header.Get("Cookie"),
	}
	if addr, err := netip.ParseAddr(clientIP); err == nil {
		reqData.Addr = addr.Unmap()
	} else {
		utils.LogDebug(reqData, fmt.Sprintf("unparsable client ip %q", clientIP), "processRequestData")
	}
	return reqData
}

func firstHeader(r *http.Request, names []string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}
