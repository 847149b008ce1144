// Command atlasd is the Atlas DNS server: it listens on UDP/TCP, resolves
// queries through the local zone/forwarding/recursive resolver chain, and
// (optionally) exposes the reference HTTP management collaborator.
package main

import (
	"context"
	"errors"
	"fmt"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasdns/atlas/internal/api"
	"github.com/atlasdns/atlas/internal/api/handlers"
	"github.com/atlasdns/atlas/internal/config"
	"github.com/atlasdns/atlas/internal/database"
	"github.com/atlasdns/atlas/internal/logging"
	"github.com/atlasdns/atlas/internal/server"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	host       string
	port       int
	workers    int
	noTCP      bool
	jsonLogs   bool
	debug      bool
	noAPI      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override DNS server bind host")
	flag.IntVar(&f.port, "port", 0, "Override DNS server bind port")
	flag.IntVar(&f.workers, "workers", -1, "Clamp GOMAXPROCS (can only reduce; -1 means default/auto)")
	flag.BoolVar(&f.noTCP, "no-tcp", false, "Disable TCP server")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.noAPI, "no-api", false, "Disable the HTTP management API")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.workers >= 0 {
		cfg.Server.Workers.Mode = config.WorkersFixed
		cfg.Server.Workers.Value = f.workers
	}
	if f.noTCP {
		cfg.Server.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("atlas starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"tcp", cfg.Server.EnableTCP,
		"upstreams", cfg.Upstream.Servers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Build the filtering policy engine up front (even if disabled) so the
	// same instance can be shared between the resolver chain and the API.
	policy := server.BuildPolicyEngine(cfg, logger)
	runner := server.NewRunner(logger)
	runner.SetPolicyEngine(policy)

	var apiSrv *api.Server
	var db *database.DB
	if !flags.noAPI && cfg.API.Enabled {
		db, err = database.Open(cfg.API.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open management database: %w", err)
		}
		apiSrv = api.New(cfg, db, logger)
		apiSrv.Handler().SetPolicyEngine(policy)

		dnsStats := runner.DNSStats()
		apiSrv.Handler().SetDNSStatsFunc(func() handlers.DNSStatsSnapshot {
			snapshot := dnsStats.Snapshot()
			return handlers.DNSStatsSnapshot{
				QueriesTotal: snapshot.QueriesTotal,
				QueriesUDP:   snapshot.QueriesUDP,
				QueriesTCP:   snapshot.QueriesTCP,
				ResponsesNX:  snapshot.ResponsesNX,
				ResponsesErr: snapshot.ResponsesErr,
				AvgLatencyMs: snapshot.AvgLatencyMs,
			}
		})

		logger.Info("management API starting", "addr", apiSrv.Addr(), "db_path", cfg.API.DBPath)
		go func() {
			serveErr := apiSrv.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("management API error", "err", serveErr)
		}()
		go reportHostGauges(ctx, logger)
	}

	err = runner.Run(cfg)

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		logger.Info("management API stopped")
	}
	if db != nil {
		db.Close()
	}

	if err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}

// reportHostGauges samples host CPU/memory on an interval and logs them as
// the metrics sink's host-level gauges, giving gopsutil a home outside the
// per-query hot path.
func reportHostGauges(ctx context.Context, logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			var cpuPct float64
			if err == nil && len(percents) > 0 {
				cpuPct = percents[0]
			}
			vm, err := mem.VirtualMemoryWithContext(ctx)
			var memPct float64
			if err == nil && vm != nil {
				memPct = vm.UsedPercent
			}
			logger.InfoContext(ctx, "host gauges", "cpu_percent", cpuPct, "mem_percent", memPct)
		}
	}
}
