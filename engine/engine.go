package engine

import (
	"time"

	"github.com/spaghettifunk/vortex/engine/config"
	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/platform"
	"github.com/spaghettifunk/vortex/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	platform     *platform.Platform
	renderer     *renderer.Renderer
	cfg          *config.Config
	watcher      *config.Watcher
	configPath   string

	clock    *core.Clock
	lastTime float64

	isRunning   bool
	isSuspended bool
}

func New(configPath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	p, err := platform.New()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		platform:     p,
		renderer:     renderer.New(p, cfg),
		cfg:          cfg,
		configPath:   configPath,
		clock:        core.NewClock(),
		isRunning:    true,
		isSuspended:  false,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	appCfg := e.cfg.Application
	if err := e.platform.Startup(appCfg.Name,
		appCfg.StartPosX,
		appCfg.StartPosY,
		appCfg.StartWidth,
		appCfg.StartHeight); err != nil {
		return err
	}

	if err := e.renderer.Initialize(); err != nil {
		return err
	}

	// Hot reload: staged here, applied by the renderer between frames.
	watcher, err := config.Watch(e.configPath, e.renderer.ApplyConfig)
	if err != nil {
		core.LogWarn("config watcher unavailable for %s: %s", e.configPath, err)
	} else {
		e.watcher = watcher
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	targetFrameSeconds := 1.0 / 60.0
	if hz := e.cfg.Pacing.RefreshRateHz; hz > 0 {
		targetFrameSeconds = 1.0 / hz
	}

	const statsIntervalNs = 5 * float64(time.Second)
	nextStatsLog := e.lastTime + statsIntervalNs

	for e.isRunning {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			e.isRunning = false
			break
		}

		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime) / float64(time.Second)
		frameStart := time.Now()

		if err := e.renderer.DrawFrame(nil); err != nil {
			core.LogError("frame draw failed, shutting down: %s", err)
			e.isRunning = false
			break
		}

		frameElapsed := time.Since(frameStart)
		remaining := time.Duration(targetFrameSeconds*float64(time.Second)) - frameElapsed
		e.renderer.Pace(remaining)

		core.MetricsUpdate(delta)
		core.MetricsObservePacing(e.renderer.SleepBudgetMs(), e.renderer.SmoothedDelta()*1000.0)
		if currentTime >= nextStatsLog {
			budget, smoothed := core.MetricsPacing()
			core.LogDebug("fps %.0f, frame avg %.2f ms, sleep budget %.2f ms, smoothed delta %.2f ms",
				core.MetricsFPS(), core.MetricsFrameTimeMs(), budget, smoothed)
			nextStatsLog = currentTime + statsIntervalNs
		}
		e.lastTime = currentTime
	}

	return e.Shutdown()
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.platform.FramebufferExtent()
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("config watcher close failed: %s", err)
		}
	}
	if err := e.renderer.Shutdown(); err != nil {
		core.LogError("renderer shutdown failed: %s", err)
	}
	return e.platform.Shutdown()
}
