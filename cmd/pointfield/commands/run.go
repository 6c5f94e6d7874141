package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Carmen-Shannon/pointfield/common"
	"github.com/Carmen-Shannon/pointfield/engine"
	"github.com/Carmen-Shannon/pointfield/engine/config"
	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/gldev"
	"github.com/Carmen-Shannon/pointfield/engine/device/hostdev"
	"github.com/Carmen-Shannon/pointfield/engine/device/wgpudev"
	"github.com/Carmen-Shannon/pointfield/engine/field"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/Carmen-Shannon/pointfield/engine/logging"
	"github.com/Carmen-Shannon/pointfield/engine/profiler"
	"github.com/Carmen-Shannon/pointfield/engine/window"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the point field",
		Long: `Seed the point field on the configured backend and drive frames until the
window closes, the frame budget is spent or the process is interrupted.

Settings come from the config file, POINTFIELD_* environment variables and the
flags below, in increasing precedence.`,
		Args: cobra.NoArgs,
		RunE: runField,
	}

	flags := cmd.Flags()
	flags.String("backend", "", "device backend (host, wgpu, gl)")
	flags.Int("points", 0, "number of points")
	flags.Int("frames", 0, "stop after this many frames (0 runs until the window closes)")
	flags.Float64("frame-limit", 0, "cap frames per second (0 is uncapped)")
	flags.Bool("profiling", false, "log frame and transfer statistics")
	flags.Int("workers", 0, "CPU kernel workers (0 uses every CPU)")

	for key, flag := range map[string]string{
		"backend":     "backend",
		"points":      "points",
		"frames":      "frames",
		"frame_limit": "frame-limit",
		"profiling":   "profiling",
		"workers":     "workers",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

// backend is an opened device with everything a swirl stage needs.
type backend struct {
	device interop.Device
	draw   field.Device
	queue  interop.QueueHandle
	kernel interop.KernelHandle
	window window.Window
	close  func()
}

func runField(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log := logging.Component("cli")

	b, err := openBackend(cfg)
	if err != nil {
		log.WithError(err).WithField("backend", cfg.Backend).Error("device unavailable")
		return err
	}
	defer b.close()

	ctx, err := interop.NewDeviceContext(b.device, interop.WithLogger(logging.Component("interop")))
	if err != nil {
		return err
	}

	opts := []field.FieldBuilderOption{
		field.WithRadius(cfg.Field.Radius),
		field.WithSeed(cfg.Field.Seed),
	}
	if cfg.Field.Velocities {
		opts = append(opts, field.WithVelocities())
	}
	if cfg.Field.Lifetimes > 0 {
		opts = append(opts, field.WithLifetimes(cfg.Field.Lifetimes))
	}
	if cfg.Field.CellSize > 0 {
		opts = append(opts, field.WithCells(cfg.Field.CellSize))
	}
	f, err := field.NewField(ctx, cfg.Points, opts...)
	if err != nil {
		return err
	}
	if err := f.Init(); err != nil {
		log.WithError(err).Error("field initialization failed")
		return err
	}
	defer func() {
		if err := f.Teardown(); err != nil {
			log.WithError(err).Warn("field teardown incomplete")
		}
	}()

	stage, err := field.NewSwirlStage(ctx, f, b.draw, b.queue, b.kernel, field.WithSpeed(cfg.Field.Speed))
	if err != nil {
		return err
	}

	engineOpts := []engine.EngineBuilderOption{
		engine.WithLogger(logging.Component("engine")),
		engine.WithMaxFrames(cfg.Frames),
		engine.WithRenderFrameLimit(cfg.FrameLimit),
		engine.WithProfiling(cfg.Profiling),
		engine.WithProfiler(profiler.NewProfiler(profiler.WithLogger(logging.Component("profiler")))),
	}
	if b.window != nil {
		engineOpts = append(engineOpts, engine.WithWindow(b.window))
	} else {
		engineOpts = append(engineOpts, engine.WithFixedTimestep(1.0/60))
	}
	e := engine.NewEngine(stage, engineOpts...)

	if b.window != nil {
		b.window.SetKeyDownCallback(func(key uint32) {
			if key == common.KeyQ {
				e.Quit()
			}
		})
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		if _, ok := <-signals; ok {
			e.Quit()
		}
	}()

	log.WithField("backend", cfg.Backend).WithField("points", cfg.Points).Info("running point field")
	if err := e.Run(); err != nil {
		return err
	}
	log.WithField("frames", e.Frames()).Info("point field stopped")
	return nil
}

func openBackend(cfg *config.Config) (*backend, error) {
	workers := common.Coalesce(cfg.Workers, runtime.NumCPU())
	switch cfg.Backend {
	case config.BackendHost:
		dev := hostdev.NewDevice(
			hostdev.WithLogger(logging.Component("device")),
			hostdev.WithKernelRegistry(cpukernel.NewRegistry(cpukernel.WithWorkers(workers))),
		)
		return &backend{
			device: dev,
			draw:   dev,
			queue:  dev.CreateQueue(),
			kernel: dev.Kernels().Register("swirl", field.SwirlArity, field.SwirlKernel),
			close:  func() {},
		}, nil

	case config.BackendWGPU:
		win, err := openWindow(cfg, window.APIWebGPU)
		if err != nil {
			return nil, err
		}
		dev, err := wgpudev.NewDevice(
			wgpudev.WithLogger(logging.Component("device")),
			wgpudev.WithSurface(win.SurfaceDescriptor()),
			wgpudev.WithTargetSize(win.Width(), win.Height()),
			wgpudev.WithVSync(cfg.Window.VSync),
		)
		if err != nil {
			return nil, errors.Join(err, win.Close())
		}
		k, err := dev.CreateKernel(swirlKernelSpec())
		if err != nil {
			dev.Release()
			return nil, errors.Join(err, win.Close())
		}
		win.SetResizeCallback(func(width, height int) {
			if err := dev.ConfigureSurface(width, height); err != nil {
				logging.Component("device").WithError(err).Warn("surface resize failed")
			}
		})
		return &backend{
			device: dev,
			draw:   dev,
			queue:  dev.CreateQueue(),
			kernel: k,
			window: win,
			close: func() {
				dev.Release()
				_ = win.Close()
			},
		}, nil

	case config.BackendGL:
		win, err := openWindow(cfg, window.APIOpenGL)
		if err != nil {
			return nil, err
		}
		dev, err := gldev.NewDevice(
			gldev.WithLogger(logging.Component("device")),
			gldev.WithKernelRegistry(cpukernel.NewRegistry(cpukernel.WithWorkers(workers))),
		)
		if err != nil {
			return nil, errors.Join(err, win.Close())
		}
		dev.SetViewport(win.Width(), win.Height())
		win.SetResizeCallback(dev.SetViewport)
		return &backend{
			device: dev,
			draw:   dev,
			queue:  dev.CreateQueue(),
			kernel: dev.Kernels().Register("swirl", field.SwirlArity, field.SwirlKernel),
			window: win,
			close: func() {
				dev.Release()
				_ = win.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openWindow(cfg *config.Config, api window.API) (window.Window, error) {
	win, err := window.NewWindow(
		window.WithTitle(cfg.Window.Title),
		window.WithWidth(cfg.Window.Width),
		window.WithHeight(cfg.Window.Height),
		window.WithAPI(api),
		window.WithVSync(cfg.Window.VSync),
	)
	if err != nil {
		return nil, fmt.Errorf("opening %s window: %w", api, err)
	}
	return win, nil
}
