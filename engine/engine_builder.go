package engine

import (
	"time"

	"github.com/Carmen-Shannon/pointfield/engine/profiler"
	"github.com/Carmen-Shannon/pointfield/engine/window"
	"github.com/sirupsen/logrus"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithProfiler replaces the default profiler.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithWindow sets the window the engine polls and presents to. Without a window the engine runs
// headless and needs WithMaxFrames.
//
// Parameters:
//   - w: the window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithMaxFrames stops the run after n frames. 0 runs until the window closes.
//
// Parameters:
//   - n: the frame budget
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaxFrames(n int) EngineBuilderOption {
	return func(e *engine) {
		if n >= 0 {
			e.maxFrames = n
		}
	}
}

// WithFixedTimestep passes dt to every Compute instead of the measured frame time.
//
// Parameters:
//   - dt: the timestep in seconds
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFixedTimestep(dt float32) EngineBuilderOption {
	return func(e *engine) {
		e.fixedStep = dt
	}
}

// WithLogger sets the logger for frame loop events.
//
// Parameters:
//   - logger: the logrus entry
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *logrus.Entry) EngineBuilderOption {
	return func(e *engine) {
		e.logger = logger
	}
}
