package injector

import (
	"context"
	"time"

	"github.com/google/wire"

	"github.com/zeusync/nucleus/internal/config"
	"github.com/zeusync/nucleus/internal/core/ecs"
	"github.com/zeusync/nucleus/internal/core/events/bus"
	"github.com/zeusync/nucleus/internal/core/observability/log"
	"github.com/zeusync/nucleus/internal/core/runner"
	"github.com/zeusync/nucleus/internal/inspector"
)

// App is the wired application. Inspector is nil when disabled.
type App struct {
	Config    *config.Config
	Logger    log.Log
	Bus       bus.EventBus
	Manager   *ecs.Manager
	Runner    *runner.Runner
	Inspector *inspector.Server
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideBus,
	ProvideManager,
	ProvideRunner,
	ProvideInspector,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg *config.Config) (*log.Logger, func()) {
	logger := log.New(log.Options{
		Level:    log.ParseLevel(cfg.Log.Level),
		Encoding: cfg.Log.Encoding,
	})
	return logger, func() { _ = logger.Sync() }
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

// ProvideManager builds the manager and declares the configured stages.
func ProvideManager(cfg *config.Config, logger log.Log, events bus.EventBus) (*ecs.Manager, error) {
	m := ecs.NewManager(
		ecs.WithLogger(logger),
		ecs.WithBus(events),
		ecs.WithStageBudget(cfg.Engine.MaxStageInvocations),
		ecs.WithParallel(cfg.Engine.Parallel),
		ecs.WithEntityCapacity(cfg.Engine.EntityCapacity),
	)
	for _, stage := range cfg.Stages {
		if err := m.AddStage(stage.Name, stage.Period); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func ProvideRunner(cfg *config.Config, m *ecs.Manager, logger log.Log) *runner.Runner {
	return runner.New(m, cfg.Engine, logger)
}

// ProvideInspector starts the inspector when enabled. The cleanup stops it.
func ProvideInspector(cfg *config.Config, events bus.EventBus, logger log.Log) (*inspector.Server, func(), error) {
	if !cfg.Inspector.Enabled {
		return nil, func() {}, nil
	}
	s, err := inspector.New(cfg.Inspector, events, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Start(); err != nil {
		return nil, nil, err
	}
	return s, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			logger.Warn("inspector shutdown", log.Error(err))
		}
	}, nil
}
