package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vortex/engine/core"
)

type ApplicationConfig struct {
	Name        string `toml:"name"`
	StartPosX   uint32 `toml:"start_pos_x"`
	StartPosY   uint32 `toml:"start_pos_y"`
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
}

type RendererConfig struct {
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Size of a single bump-allocatable memory page, in bytes.
	PageSize uint64 `toml:"page_size"`
	// Number of pages reserved up front; the allocator grows past this with
	// a warning rather than failing.
	InitialPages uint32 `toml:"initial_pages"`
	// Destroy and recreate page memory on reset so stale handles trip
	// validation instead of silently reading recycled memory.
	ValidationMode bool `toml:"validation_mode"`

	DeleteQueueCapacity     uint32  `toml:"delete_queue_capacity"`
	DeleteQueueWarnFraction float64 `toml:"delete_queue_warn_fraction"`

	// Render target sizes are declared against this virtual resolution.
	VirtualWidth  uint32 `toml:"virtual_width"`
	VirtualHeight uint32 `toml:"virtual_height"`
	// Maximum number of window-relative render targets.
	RenderTargetCapacity uint32 `toml:"render_target_capacity"`
	// A resize at least this many times larger in one dimension recreates
	// render targets immediately, skipping the quiescence window.
	ResizeScaleThreshold float64 `toml:"resize_scale_threshold"`
	// How long a drag-resize must stay quiet before targets are recreated.
	ResizeQuiescenceMs float64 `toml:"resize_quiescence_ms"`
}

type PacingConfig struct {
	// 0 disables pacing entirely; only the smoothed delta is maintained.
	RefreshRateHz  float64 `toml:"refresh_rate_hz"`
	HeadroomMs     float64 `toml:"headroom_ms"`
	OvershootMs    float64 `toml:"overshoot_ms"`
	OvershootScale float64 `toml:"overshoot_scale"`
	SleepRwa       float64 `toml:"sleep_rwa"`
	SmoothedRwa    float64 `toml:"smoothed_rwa"`
	MaxSmoothedS   float64 `toml:"max_smoothed_s"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Pacing      PacingConfig      `toml:"pacing"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:        "Vortex Application",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Renderer: RendererConfig{
			FramesInFlight:          2,
			PageSize:                64 * 1024 * 1024,
			InitialPages:            4,
			ValidationMode:          false,
			DeleteQueueCapacity:     256,
			DeleteQueueWarnFraction: 0.75,
			VirtualWidth:            1920,
			VirtualHeight:           1080,
			RenderTargetCapacity:    32,
			ResizeScaleThreshold:    8.0,
			ResizeQuiescenceMs:      100.0,
		},
		Pacing: PacingConfig{
			RefreshRateHz:  0,
			HeadroomMs:     0.5,
			OvershootMs:    1.0,
			OvershootScale: 0.5,
			SleepRwa:       0.1,
			SmoothedRwa:    0.05,
			MaxSmoothedS:   0.1,
		},
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error;
// the defaults are returned untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watcher re-reads the config file on change and hands the result to the
// subscriber. The subscriber is expected to apply changes at a frame
// boundary, never mid-frame.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	closed   sync.Once
}

func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(path); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	go func() {
		for {
			select {
			case event, ok := <-fsWatch.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					core.LogWarn("config reload failed for %s: %s", path, err)
					continue
				}
				core.LogInfo("config reloaded from %s", path)
				onChange(cfg)
			case err, ok := <-fsWatch.Errors:
				if !ok {
					return
				}
				core.LogWarn("config watcher error: %s", err)
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

func (w *Watcher) Close() error {
	w.closed.Do(func() { close(w.done) })
	return w.fsnotify.Close()
}
