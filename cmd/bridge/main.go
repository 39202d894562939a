package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"policylink.ai/internal/bridge"
	"policylink.ai/internal/config"
	"policylink.ai/internal/recorder"
	"policylink.ai/internal/sim/env"
	"policylink.ai/internal/transport/ws"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to bridge.yaml (empty: built-in defaults)")
		serverURL = flag.String("server", "", "policy server ws url (overrides config)")
		episode   = flag.String("episode", "", "episode name (default: timestamp)")
		ticks     = flag.Int("ticks", 0, "episode length in ticks (overrides config)")
		noRecord  = flag.Bool("no_record", false, "disable diagnostic recording")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadBridge(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*serverURL) != "" {
		cfg.ServerURL = *serverURL
	}
	if *ticks > 0 {
		cfg.EpisodeTicks = *ticks
	}

	layout, err := cfg.Layout.Layout()
	if err != nil {
		logger.Fatalf("layout: %v", err)
	}

	var rec *recorder.Episode
	if !*noRecord {
		name := strings.TrimSpace(*episode)
		if name == "" {
			name = time.Now().UTC().Format("ep-20060102-150405")
		}
		dir := filepath.Join(cfg.Recorder.Dir, name)
		rec, err = recorder.OpenEpisode(dir, logger, recorder.Options{
			FrameQueue:    cfg.Recorder.FrameQueue,
			DisableFrames: cfg.Recorder.DisableFrames,
		})
		if err != nil {
			logger.Fatalf("open episode: %v", err)
		}
		defer rec.Close()
		logger.Printf("recording to %s", dir)
	}

	world, err := env.New(env.Options{
		Layout:      layout,
		FrameWidth:  cfg.Camera.Width,
		FrameHeight: cfg.Camera.Height,
		Seed:        cfg.Seed,
	})
	if err != nil {
		logger.Fatalf("env: %v", err)
	}
	if !world.AbsoluteTargets() {
		logger.Fatalf("environment applies commands as offsets; policy output is absolute joint targets")
	}

	client := ws.NewClient(cfg.ServerURL, ws.ClientOptions{
		Horizon:      cfg.Horizon,
		Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		RetryBackoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	}, logger)
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Fatalf("connect %s: %v", cfg.ServerURL, err)
	}
	logger.Printf("connected to %s (horizon=%d, task=%q)", cfg.ServerURL, cfg.Horizon, cfg.Task)

	b, err := bridge.New(bridge.Config{
		Layout:  layout,
		Horizon: cfg.Horizon,
		Task:    cfg.Task,
		Client:  client,
		Log:     logger,
		Rec:     rec,
	})
	if err != nil {
		logger.Fatalf("bridge: %v", err)
	}

	for tick := 0; tick < cfg.EpisodeTicks; tick++ {
		if ctx.Err() != nil {
			logger.Printf("interrupted at tick %d", tick)
			break
		}
		raw, frame := world.Observe()
		cmd, err := b.Step(ctx, raw, frame)
		if err != nil {
			logger.Fatalf("tick %d: %v", tick, err)
		}
		if err := world.Apply(cmd); err != nil {
			logger.Fatalf("tick %d: apply: %v", tick, err)
		}
		after, _ := world.Observe()
		b.RecordState(after, world.Reward())
	}

	logger.Printf("episode done: %d ticks, %d inferences", world.Tick(), b.Inferences())
	if rec != nil {
		if n := rec.DroppedFrames(); n > 0 {
			logger.Printf("dropped %d frames under backpressure", n)
		}
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
