// Command bookingengine is the national-park booking scheduler.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Initialise the rotating logger.
//  3. Derive the configured timezone and open the job store.
//  4. Build the HTTP client factory, capacity prober, protocol driver, and
//     metrics.
//  5. Wire the status sink (log-backed until a chat transport is attached).
//  6. Start the clock wheel's worker pool and rehydrate every future job
//     from the store.
//  7. Monitor metrics in a background goroutine.
//  8. Block until OS signals SIGINT or SIGTERM, then perform a clean
//     shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npbooking/bookingengine/internal/applog"
	"github.com/npbooking/bookingengine/internal/capacity"
	"github.com/npbooking/bookingengine/internal/clock"
	"github.com/npbooking/bookingengine/internal/config"
	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
	"github.com/npbooking/bookingengine/internal/metrics"
	"github.com/npbooking/bookingengine/internal/netpool"
	"github.com/npbooking/bookingengine/internal/orchestrator"
	"github.com/npbooking/bookingengine/internal/protocol"
	"github.com/npbooking/bookingengine/internal/schemawatch"
	"github.com/npbooking/bookingengine/internal/status"
	"github.com/npbooking/bookingengine/internal/store"

	"github.com/jonboulle/clockwork"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bookingengine: failed to load config from %q: %v\n", *configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	log := buildLogger(cfg)
	log.Infof("bookingengine starting up, base_url=%s", cfg.BaseURL)

	loc, err := cfg.Location()
	if err != nil {
		log.Errorf("failed to load timezone %q: %v", cfg.Timezone, err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Errorf("failed to open store %q: %v", cfg.StorePath, err)
		os.Exit(1)
	}
	log.Infof("job store opened at %q", cfg.StorePath)

	factory := httpclient.NewFactory(cfg.RequestTimeout, cfg.MaxIdleConns, cfg.MaxIdleConnsPerHost, cfg.MaxConnsPerHost, loadProxy(cfg, log))

	prober := capacity.New(cfg.BaseURL, cfg.Bromo.IDSite, cfg.Semeru.IDSite)
	sites := map[domain.Site]protocol.SiteEndpoints{
		domain.SiteBromo:  {BookingPath: "/booking/site/" + cfg.Bromo.Slug, IDSite: cfg.Bromo.IDSite, Sector: cfg.Bromo.Sector},
		domain.SiteSemeru: {BookingPath: "/booking/site/" + cfg.Semeru.Slug, IDSite: cfg.Semeru.IDSite, Sector: cfg.Semeru.Sector},
	}
	driver := protocol.New(cfg.BaseURL, prober, sites)

	m := metrics.New()

	sink := &status.MultiSink{Sinks: []status.Sink{&status.LogSink{Logger: log}}}

	driver.OnDrift = func(mismatches []schemawatch.Mismatch) {
		log.Warnf("schema drift detected: %s", schemawatch.FormatMismatches(mismatches))
	}

	pool := netpool.New(cfg.MaxConnsPerHost)
	pool.Start()
	log.Infof("worker pool started with %d workers", cfg.MaxConnsPerHost)

	wheel := clock.New(clockwork.NewRealClock(), pool, loc)

	orch := orchestrator.New(wheel, st, factory, driver, cfg, sink, m, sites, loc)

	rehydrateCtx, cancelRehydrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Rehydrate(rehydrateCtx); err != nil {
		log.Errorf("rehydrate failed: %v", err)
	}
	cancelRehydrate()
	log.Info("rehydration complete; scheduler is now active")

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go monitorMetrics(monitorCtx, m, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)

	cancelMonitor()
	pool.Stop()

	snap := m.Snapshot()
	log.Infof("final metrics - attempts: %d | successes: %d | quota_misses: %d | failures: %d | polls: %d",
		snap.Attempts, snap.Successes, snap.QuotaMisses, snap.Failures, snap.Polls)
	if err := log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingengine: error closing log: %v\n", err)
	}
}

// buildLogger wires a rotating file logger when cfg.LogFile is set,
// otherwise logs to stderr at info level.
func buildLogger(cfg *config.Config) *applog.Logger {
	if cfg.LogFile == "" {
		return applog.New(applog.LevelInfo)
	}
	return applog.NewRotating(applog.LevelInfo, applog.RotationConfig{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

// loadProxy returns the first proxy configured in cfg.ProxyFile, if any.
// The booking engine runs one client per job rather than a session fleet,
// so it needs at most one proxy URL per Factory rather than a rotator
// across thousands of sessions.
func loadProxy(cfg *config.Config, log *applog.Logger) string {
	if cfg.ProxyFile == "" {
		return ""
	}
	var rotator httpclient.ProxyRotator
	if err := rotator.LoadProxies(cfg.ProxyFile); err != nil {
		log.Errorf("failed to load proxies from %q: %v", cfg.ProxyFile, err)
		return ""
	}
	return rotator.Next()
}

// monitorMetrics logs a metrics summary every 10 seconds until ctx is
// cancelled.
func monitorMetrics(ctx context.Context, m *metrics.Metrics, log *applog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Snapshot()
			log.Infof("metrics - attempts: %d | successes: %d | quota_misses: %d | failures: %d | polls: %d | attempts/s: %.2f",
				snap.Attempts, snap.Successes, snap.QuotaMisses, snap.Failures, snap.Polls, m.AttemptsPerSecond())
		}
	}
}
