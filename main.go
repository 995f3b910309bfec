package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"
	"torii_shield/internal/config"
	"torii_shield/internal/dataType"
	"torii_shield/internal/server"
	"torii_shield/internal/stats"
	"torii_shield/internal/utils"

	"github.com/alecthomas/kong"
)

type CLI struct {
	Prefix  string           `kong:"help='Config file base path.'"`
	Version kong.VersionFlag `kong:"help='Print version.',short='v'"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("torii_shield"),
		kong.Description("Auth request WAF with shared rate limiting."),
		kong.Vars{"version": dataType.ToriiShieldVersion},
	)

	// Load MainConfig
	cfg, err := config.LoadMainConfig(cli.Prefix)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	logx := utils.InitLogx(cfg.LogPath)
	defer logx.Close()

	sharedMem, err := newSharedMemory(cfg)
	if err != nil {
		log.Fatalf("Init shared memory failed: %v", err)
	}
	defer sharedMem.Slab.Close()

	// Load rules
	rulePool := dataType.NewHeapPool(0)
	ruleSet, err := config.LoadRules(cfg.RulePath, rulePool)
	if err != nil {
		log.Fatalf("Load rules failed: %v", err)
	}
	log.Printf("Rules loaded, version %016x", ruleSet.Version)

	metrics := stats.NewPrometheus("torii", dataType.ToriiShieldVersion)
	metrics.WatchSharedMemory("torii", sharedMem)

	srv, err := server.NewServer(cfg, ruleSet, sharedMem, metrics)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := config.WatchRules(ctx, cfg.RulePath, rulePool, srv.SwapRules); err != nil {
			log.Printf("Rule watcher stopped: %v", err)
		}
	}()

	log.Printf("Ready to start server on port %s", cfg.Port)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.StartServer()
	}()

	select {
	case <-ctx.Done():
		log.Println("Stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown failed: %v", err)
		}
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}

	log.Println("Server stopped")
}

// newSharedMemory maps the slab and places the CC state in it.
func newSharedMemory(cfg *config.MainConfig) (*dataType.SharedMemory, error) {
	slab, err := dataType.NewSlabPool(cfg.SharedMemoryBytes)
	if err != nil {
		return nil, err
	}
	sharedMem := &dataType.SharedMemory{Slab: slab}
	if !cfg.CC.Enabled {
		return sharedMem, nil
	}

	sharedMem.TokenBuckets, err = dataType.NewTokenBucketSet(slab, dataType.TokenBucketConfig{
		InitCount:    cfg.CC.InitCount,
		BanDuration:  cfg.CC.BanDuration,
		RefillPeriod: cfg.CC.RefillPeriod,
		ClearPeriod:  cfg.CC.ClearPeriod,
	}, time.Now())
	if err != nil {
		_ = slab.Close()
		return nil, err
	}
	sharedMem.Statistics, err = dataType.NewIPStatistics(slab, dataType.IPStatisticsConfig{
		Capacity:      cfg.CC.StatisticsCapacity,
		Cycle:         cfg.CC.Cycle,
		BlockDuration: cfg.CC.BlockDuration,
		MaxBadCaptcha: cfg.CC.MaxBadVerification,
	})
	if err != nil {
		_ = slab.Close()
		return nil, err
	}
	return sharedMem, nil
}
