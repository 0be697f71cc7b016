// Profiling:
// go build ./cmd/nucleus
// ./nucleus -frames 10000 -entities 50000 -profile cpu
// go tool pprof -http=":8000" ./nucleus cpu.pprof

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/zeusync/nucleus/internal/config"
	"github.com/zeusync/nucleus/internal/core/observability/log"
	"github.com/zeusync/nucleus/internal/core/systems/physics"
	"github.com/zeusync/nucleus/internal/injector"
)

func main() {
	if err := run(); err != nil {
		// The app logger when it was built, else a default one
		logger := log.Provide()
		logger.Error("nucleus failed", log.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to nucleus.yaml (defaults when empty)")
		frames     = flag.Int("frames", 0, "frames to run headless, 0 runs in real time until interrupted")
		entities   = flag.Int("entities", 1000, "demo entities to spawn")
		seed       = flag.Uint64("seed", 1, "spawn seed")
		profiling  = flag.String("profile", "", "cpu or mem profile written to the working directory")
		snapshot   = flag.String("snapshot", "", "write a world snapshot to this path on exit")
		restore    = flag.String("restore", "", "load the world from this snapshot instead of spawning")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	switch *profiling {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile %q, want cpu or mem", *profiling)
	}

	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	world, err := physics.Register(app.Manager, physics.Options{
		PerSecond: true,
		Width:     1000,
		Height:    1000,
	})
	if err != nil {
		return err
	}

	if *restore != "" {
		if err := loadSnapshot(app.Manager, *restore); err != nil {
			return err
		}
	} else {
		world.Spawn(app.Manager, rand.New(rand.NewPCG(*seed, *seed)), *entities, 50)
	}
	app.Logger.Info("world ready",
		log.Int("entities", app.Manager.Entities()),
		log.Int("archetypes", app.Manager.Archetypes()),
		log.Bool("parallel", cfg.Engine.Parallel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *frames > 0 {
		err = app.Runner.RunFrames(*frames)
	} else {
		err = app.Runner.Run(ctx)
	}
	if err != nil {
		return err
	}

	last := app.Runner.Last()
	app.Logger.Info("run finished",
		log.Uint64("frames", app.Runner.Frames()),
		log.Uint64("budget_exceeded", app.Runner.BudgetExceeded()),
		log.Duration("last_frame", last.Duration),
		log.Float64("energy", world.Energy.Total()),
	)

	if *snapshot != "" {
		return saveSnapshot(app.Manager, *snapshot)
	}
	return nil
}
