// Command rubidium is a minimal embedder example for the runtime core:
// it starts the five subsystems, serves the Prometheus scrape endpoint,
// prints periodic snapshots, and shuts down cleanly on SIGINT/SIGTERM.
// Grounded on the teacher's root main.go (flag-driven CLI,
// signal-driven graceful shutdown, JSON snapshot dump).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dequackdealer/rubidium/core"
)

func main() {
	var (
		dataDir        string
		tickPeriod     time.Duration
		globalBudget   time.Duration
		metricsAddr    string
		metricsBackend string
		snapshotEvery  time.Duration
	)

	flag.StringVar(&dataDir, "data-dir", "data", "runtime data directory (config/ and modules/ live here)")
	flag.DurationVar(&tickPeriod, "tick-period", 50*time.Millisecond, "fixed tick period")
	flag.DurationVar(&globalBudget, "global-budget", 45*time.Millisecond, "global per-tick time budget")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve the metrics scrape endpoint on (empty disables)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prometheus", "metrics backend: prometheus or noop")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 10*time.Second, "interval between stderr snapshot dumps (0 disables)")
	flag.Parse()

	cfg := core.Defaults()
	cfg.DataDir = dataDir
	cfg.TickPeriod = tickPeriod
	cfg.GlobalBudget = globalBudget
	cfg.MetricsBackend = metricsBackend

	rt, err := core.New(cfg, nil)
	if err != nil {
		log.Fatalf("construct runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	if metricsAddr != "" && rt.Metrics.Handler() != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.Metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
	}

	log.Printf("runtime started: tick_period=%s global_budget=%s data_dir=%s", tickPeriod, globalBudget, dataDir)

loop:
	for {
		select {
		case <-sigCh:
			log.Println("signal received; initiating graceful shutdown")
			break loop
		case <-tickerC(ticker):
			dumpSnapshot(rt)
		}
	}

	if err := rt.Stop(); err != nil {
		log.Printf("stop runtime: %v", err)
	}
	dumpSnapshot(rt)
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func dumpSnapshot(rt *core.Runtime) {
	snap := rt.Snapshot()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("marshal snapshot: %v", err)
		return
	}
	fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
}
