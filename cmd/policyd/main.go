package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"policylink.ai/internal/config"
	"policylink.ai/internal/persistence/indexdb"
	"policylink.ai/internal/policy"
	"policylink.ai/internal/recorder"
	"policylink.ai/internal/transport/ws"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to policyd.yaml (empty: built-in defaults)")
		addr      = flag.String("addr", "", "http listen address (overrides config)")
		recordDir = flag.String("record", "", "server record directory (overrides config)")
		disableDB = flag.Bool("disable_db", false, "disable the sqlite step index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[policyd] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadServer(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.ListenAddr = *addr
	}
	if strings.TrimSpace(*recordDir) != "" {
		cfg.RecordDir = *recordDir
	}

	layout, err := cfg.Layout.Layout()
	if err != nil {
		logger.Fatalf("layout: %v", err)
	}
	stats, err := cfg.Normalization.Stats(layout)
	if err != nil {
		logger.Fatalf("normalization: %v", err)
	}

	var rec *recorder.Server
	if cfg.RecordDir != "" {
		rec = recorder.OpenServer(cfg.RecordDir, logger)
		defer rec.Close()
	}

	var index *indexdb.SQLiteIndex
	if cfg.IndexPath != "" && !*disableDB {
		index, err = indexdb.OpenSQLite(cfg.IndexPath)
		if err != nil {
			logger.Fatalf("open step index: %v", err)
		}
		defer index.Close()
	}

	svcCfg := policy.ServiceConfig{
		Layout:  layout,
		Stats:   stats,
		Model:   policy.RampModel{Goal: cfg.ModelGoal},
		Horizon: cfg.Horizon,
		Log:     logger,
		Rec:     rec,
	}
	if index != nil {
		svcCfg.Index = index
	}
	svc, err := policy.NewService(svcCfg)
	if err != nil {
		logger.Fatalf("policy service: %v", err)
	}

	wsSrv := ws.NewServer(svc.HandleRequest, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := svc.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP policylink_requests_total Handled inference requests.\n")
		fmt.Fprintf(rw, "# TYPE policylink_requests_total counter\n")
		fmt.Fprintf(rw, "policylink_requests_total %d\n", m.Requests)

		fmt.Fprintf(rw, "# HELP policylink_failures_total Rejected or failed requests.\n")
		fmt.Fprintf(rw, "# TYPE policylink_failures_total counter\n")
		fmt.Fprintf(rw, "policylink_failures_total %d\n", m.Failures)

		fmt.Fprintf(rw, "# HELP policylink_inference_ms Last inference duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE policylink_inference_ms gauge\n")
		fmt.Fprintf(rw, "policylink_inference_ms %.3f\n", m.LastMS)

		if index != nil {
			fmt.Fprintf(rw, "# HELP policylink_index_dropped_total Step index rows dropped under backpressure.\n")
			fmt.Fprintf(rw, "# TYPE policylink_index_dropped_total counter\n")
			fmt.Fprintf(rw, "policylink_index_dropped_total %d\n", index.Dropped())
		}
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	ctx, cancel := signalContext()
	defer cancel()

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()

	logger.Printf("listening on %s (horizon=%d, dof=%d)", cfg.ListenAddr, cfg.Horizon, layout.ControlledDOF())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
