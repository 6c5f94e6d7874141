package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/Carmen-Shannon/pointfield/engine/profiler"
	"github.com/Carmen-Shannon/pointfield/engine/window"
	"github.com/sirupsen/logrus"
)

// Stage is one compute-then-draw workload driven by the engine. The engine owns the ownership
// protocol around it: Compute is only called while every set is OwnedByCompute and Draw only while
// every set is OwnedByRender.
type Stage interface {
	// Sets returns the attribute sets the stage's kernel reads and writes.
	Sets() []interop.Transferable

	// Queue returns the compute queue transfers are issued on.
	Queue() interop.QueueHandle

	// Compute updates kernel arguments and dispatches the kernel.
	//
	// Parameters:
	//   - dt: seconds since the previous frame
	//
	// Returns:
	//   - error: a dispatch or argument error; the engine stops on any error
	Compute(dt float32) error

	// Draw records and submits the draw of the stage's sets.
	//
	// Returns:
	//   - error: a draw error; the engine stops on any error
	Draw() error
}

// Engine drives frames of a Stage on the calling goroutine: push every set to compute, dispatch,
// pop every set back, draw. Both subsystems are reached only from that goroutine.
type Engine interface {
	// Run drives frames until the window closes, the frame budget is spent or Quit is called.
	//
	// Returns:
	//   - error: the first frame error, wrapped with the frame number; nil on a clean stop
	Run() error

	// Frames returns the number of frames completed.
	Frames() int

	// Window returns the window frames are presented to, or nil for headless runs.
	Window() window.Window

	// Quit asks Run to return after the current frame. Safe to call from any goroutine.
	Quit()
}

// engine implements the Engine interface.
type engine struct {
	stage  Stage
	window window.Window

	profiler         *profiler.Profiler
	profilingEnabled bool

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
	maxFrames        int           // 0 = unbounded
	fixedStep        float32       // 0 = measured

	frames int
	quit   atomic.Bool
	logger *logrus.Entry
}

var _ Engine = &engine{}

// NewEngine creates a frame driver for stage.
//
// Parameters:
//   - stage: the workload to drive
//   - options: functional options (window, profiling, frame limits, logger)
//
// Returns:
//   - Engine: the engine
func NewEngine(stage Stage, options ...EngineBuilderOption) Engine {
	e := &engine{
		stage: stage,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.logger))
	}
	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Frames() int {
	return e.frames
}

func (e *engine) Quit() {
	e.quit.Store(true)
}

func (e *engine) Run() error {
	if e.stage == nil {
		return errors.New("engine: no stage to run")
	}
	if e.window == nil && e.maxFrames == 0 {
		return errors.New("engine: a headless run needs a frame budget")
	}

	e.logger.WithFields(logrus.Fields{"sets": len(e.stage.Sets()), "max_frames": e.maxFrames}).Info("frame loop started")
	lastFrame := time.Now()
	for !e.quit.Load() {
		if e.maxFrames > 0 && e.frames >= e.maxFrames {
			break
		}
		if e.window != nil && !e.window.PollEvents() {
			break
		}

		now := time.Now()
		dt := float32(now.Sub(lastFrame).Seconds())
		if e.fixedStep > 0 {
			dt = e.fixedStep
		}
		lastFrame = now

		if err := e.frame(dt); err != nil {
			e.logger.WithError(err).WithField("frame", e.frames).Error("frame failed")
			return fmt.Errorf("frame %d: %w", e.frames, err)
		}
		e.frames++

		if e.profilingEnabled {
			e.profiler.Tick()
		}
		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
	e.logger.WithField("frames", e.frames).Info("frame loop stopped")
	return nil
}

// frame runs one push/compute/pop/draw cycle. If compute fails after the push succeeded, the sets
// are still popped so teardown finds them render-owned.
func (e *engine) frame(dt float32) error {
	sets := e.stage.Sets()
	queue := e.stage.Queue()

	start := time.Now()
	if err := interop.PushAll(queue, sets...); err != nil {
		return err
	}
	e.profiler.RecordTransfer(time.Since(start))

	if err := interop.RequireOwner(interop.OwnedByCompute, sets...); err != nil {
		return err
	}
	computeErr := e.stage.Compute(dt)

	start = time.Now()
	popErr := interop.PopAll(queue, sets...)
	e.profiler.RecordTransfer(time.Since(start))
	if computeErr != nil {
		return errors.Join(computeErr, popErr)
	}
	if popErr != nil {
		return popErr
	}

	if err := interop.RequireOwner(interop.OwnedByRender, sets...); err != nil {
		return err
	}
	if err := e.stage.Draw(); err != nil {
		return err
	}
	if e.window != nil {
		e.window.SwapBuffers()
	}
	return nil
}
