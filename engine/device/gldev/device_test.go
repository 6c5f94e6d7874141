package gldev_test

import (
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/gldev"
	"github.com/Carmen-Shannon/pointfield/engine/field"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newDevice creates a hidden 3.3 core context and skips the test when no display is available.
func newDevice(t *testing.T) (gldev.Device, *interop.GpuContext) {
	t.Helper()
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		t.Skipf("no display: %v", err)
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	win, err := glfw.CreateWindow(64, 64, "gldev test", nil, nil)
	if err != nil {
		glfw.Terminate()
		t.Skipf("no OpenGL 3.3 context: %v", err)
	}
	win.MakeContextCurrent()
	t.Cleanup(func() {
		win.Destroy()
		glfw.Terminate()
	})

	dev, err := gldev.NewDevice(
		gldev.WithLogger(quietLogger()),
		gldev.WithKernelRegistry(cpukernel.NewRegistry(cpukernel.WithWorkers(1))),
	)
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	t.Cleanup(dev.Release)
	ctx, err := interop.NewDeviceContext(dev, interop.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	return dev, ctx
}

func TestMappedKernelWritesReachTheBuffer(t *testing.T) {
	dev, ctx := newDevice(t)
	s, err := interop.NewAttributeSet(ctx, interop.Int1(), 100, interop.WithLabel("ids"))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = s.Teardown() }()

	k := dev.Kernels().Register("fill", 1, func(start, end int, args cpukernel.Args) error {
		ids := args.Int32s(0)
		for i := start; i < end; i++ {
			ids[i] = int32(i * 2)
		}
		return nil
	})
	if err := s.Bind(k, 0); err != nil {
		t.Fatalf("bind: %v", err)
	}

	queue := dev.CreateQueue()
	if err := s.Push(queue); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := dev.Dispatch(queue, k, 100); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := dev.DrawPoints([]interop.RenderBinding{s.RenderBinding()}, 100); err == nil {
		t.Fatal("draw from a mapped buffer accepted")
	}
	if err := s.Pop(queue); err != nil {
		t.Fatalf("pop: %v", err)
	}

	// Mapping again exposes what the kernel wrote.
	if err := dev.AcquireForCompute(queue, []interop.AllocationHandle{s.Allocation()}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	check := dev.Kernels().Register("check", 1, func(start, end int, args cpukernel.Args) error {
		ids := args.Int32s(0)
		for i := start; i < end; i++ {
			if ids[i] != int32(i*2) {
				return errors.New("kernel write lost")
			}
		}
		return nil
	})
	if err := dev.SetKernelArgument(check, 0, interop.BufferArgument(s.Allocation())); err != nil {
		t.Fatalf("set argument: %v", err)
	}
	if err := dev.Dispatch(queue, check, 100); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := dev.ReleaseFromCompute(queue, []interop.AllocationHandle{s.Allocation()}); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestSwirlStageDraws(t *testing.T) {
	dev, ctx := newDevice(t)
	f, err := field.NewField(ctx, 500)
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = f.Teardown() }()

	k := dev.Kernels().Register("swirl", field.SwirlArity, field.SwirlKernel)
	queue := dev.CreateQueue()
	stage, err := field.NewSwirlStage(ctx, f, dev, queue, k)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := interop.PushAll(queue, stage.Sets()...); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := stage.Compute(0.1); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := interop.PopAll(queue, stage.Sets()...); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if err := stage.Draw(); err != nil {
		t.Fatalf("draw: %v", err)
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	dev, ctx := newDevice(t)
	s, err := interop.NewAttributeSet(ctx, interop.Float4(), 4)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = s.Teardown() }()

	err = dev.ReleaseFromCompute(dev.CreateQueue(), []interop.AllocationHandle{s.Allocation()})
	var de *interop.DriverError
	if !errors.As(err, &de) || de.Code != cpukernel.CodeInvalidOperation || de.Index != 0 {
		t.Fatalf("got %v", err)
	}
}

func TestLostMappingStaysComputeOwned(t *testing.T) {
	dev, ctx := newDevice(t)
	positions, err := interop.NewAttributeSet(ctx, interop.Float4(), 16, interop.WithLabel("positions"))
	require.NoError(t, err)
	colors, err := interop.NewAttributeSet(ctx, interop.Color4(), 16, interop.WithLabel("colors"), interop.WithSlot(1))
	require.NoError(t, err)
	require.NoError(t, positions.Init())
	require.NoError(t, colors.Init())

	queue := dev.CreateQueue()
	require.NoError(t, interop.PushAll(queue, positions, colors))

	unmaps := 0
	gldev.SetUnmap(dev, func(buf uint32) bool {
		unmaps++
		return gldev.UnmapArrayBuffer(buf) && unmaps != 2
	})
	err = interop.PopAll(queue, positions, colors)
	var be *interop.BatchError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Failures, 1)
	assert.Equal(t, "colors", be.Failures[0].Label)
	code, ok := be.Failures[0].DriverCode()
	assert.True(t, ok)
	assert.Equal(t, cpukernel.CodeInvalidGLObject, code)

	assert.Equal(t, interop.OwnedByRender, positions.Owner())
	assert.Equal(t, interop.OwnedByCompute, colors.Owner())
	assert.Error(t, dev.DrawPoints([]interop.RenderBinding{colors.RenderBinding()}, 16), "draw from a buffer still owned by compute")

	assert.NoError(t, colors.Teardown())
	assert.NoError(t, positions.Teardown())
	assert.Equal(t, 2, unmaps)
}
