package engine_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/pointfield/engine"
	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/hostdev"
	"github.com/Carmen-Shannon/pointfield/engine/field"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/Carmen-Shannon/pointfield/engine/profiler"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type harness struct {
	dev    hostdev.Device
	ctx    *interop.GpuContext
	field  field.Field
	stage  *field.SwirlStage
	logger *logrus.Entry
	hook   *test.Hook
}

func newHarness(t *testing.T, points int) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	entry := logrus.NewEntry(logger)

	dev := hostdev.NewDevice(hostdev.WithLogger(entry), hostdev.WithKernelRegistry(cpukernel.NewRegistry(cpukernel.WithWorkers(1))))
	ctx, err := interop.NewDeviceContext(dev, interop.WithLogger(entry))
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	f, err := field.NewField(ctx, points, field.WithSeed(5))
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatalf("field init: %v", err)
	}
	t.Cleanup(func() { _ = f.Teardown() })

	k := dev.Kernels().Register("swirl", field.SwirlArity, field.SwirlKernel)
	stage, err := field.NewSwirlStage(ctx, f, dev, dev.CreateQueue(), k)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	return &harness{dev: dev, ctx: ctx, field: f, stage: stage, logger: entry, hook: hook}
}

func TestRunsFrameBudget(t *testing.T) {
	h := newHarness(t, 64)
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(10), engine.WithFixedTimestep(1.0/60), engine.WithLogger(h.logger))

	if err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Frames() != 10 {
		t.Fatalf("Frames() = %d, want 10", e.Frames())
	}
	if h.dev.Calls(hostdev.OpAcquire) != 10 || h.dev.Calls(hostdev.OpRelease) != 10 {
		t.Fatalf("acquire/release calls = %d/%d", h.dev.Calls(hostdev.OpAcquire), h.dev.Calls(hostdev.OpRelease))
	}
	// One draw per vertex array (positions and colors) per frame.
	if h.dev.Draws() != 20 {
		t.Fatalf("Draws() = %d, want 20", h.dev.Draws())
	}
	for _, s := range h.field.Sets() {
		if s.Owner() != interop.OwnedByRender {
			t.Fatalf("%s left %v", s.Label(), s.Owner())
		}
	}
}

func TestAcquireFailureIsFatal(t *testing.T) {
	h := newHarness(t, 16)
	h.dev.InjectFault(hostdev.Fault{Op: hostdev.OpAcquire, Skip: 3, Code: cpukernel.CodeInvalidGLObject})
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(10), engine.WithLogger(h.logger))

	err := e.Run()
	if !interop.IsFatal(err) || !errors.Is(err, interop.ErrAcquire) {
		t.Fatalf("got %v, want fatal acquire error", err)
	}
	if e.Frames() != 3 {
		t.Fatalf("Frames() = %d, want 3", e.Frames())
	}
	msg := err.Error()
	if !strings.Contains(msg, "frame 3") || !strings.Contains(msg, `push "positions"`) {
		t.Fatalf("error does not name the frame, direction and attribute: %s", msg)
	}
	if h.hook.LastEntry() == nil || h.hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatal("frame failure was not logged at error level")
	}
}

func TestComputeFailureStillReleases(t *testing.T) {
	h := newHarness(t, 16)
	h.dev.InjectFault(hostdev.Fault{Op: hostdev.OpDispatch, Code: cpukernel.CodeOutOfResources})
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(5), engine.WithLogger(h.logger))

	err := e.Run()
	var de *interop.DriverError
	if !errors.As(err, &de) || de.Code != cpukernel.CodeOutOfResources {
		t.Fatalf("got %v", err)
	}
	for _, s := range h.field.Sets() {
		if s.Owner() != interop.OwnedByRender {
			t.Fatalf("%s left %v", s.Label(), s.Owner())
		}
	}
}

func TestDrawFailureStops(t *testing.T) {
	h := newHarness(t, 16)
	h.dev.InjectFault(hostdev.Fault{Op: hostdev.OpDraw, Skip: 1, Code: cpukernel.CodeInvalidOperation})
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(5), engine.WithLogger(h.logger))

	if err := e.Run(); err == nil || !strings.Contains(err.Error(), "draw points") {
		t.Fatalf("got %v", err)
	}
	if e.Frames() != 0 {
		t.Fatalf("Frames() = %d, want 0", e.Frames())
	}
}

func TestQuitStopsTheLoop(t *testing.T) {
	h := newHarness(t, 4)
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(1000), engine.WithLogger(h.logger))
	e.Quit()
	if err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Frames() != 0 {
		t.Fatalf("Frames() = %d, want 0", e.Frames())
	}
}

func TestHeadlessRunNeedsBudget(t *testing.T) {
	h := newHarness(t, 4)
	if err := engine.NewEngine(h.stage, engine.WithLogger(h.logger)).Run(); err == nil {
		t.Fatal("unbounded headless run accepted")
	}
	if err := engine.NewEngine(nil, engine.WithMaxFrames(1), engine.WithLogger(h.logger)).Run(); err == nil {
		t.Fatal("nil stage accepted")
	}
}

func TestProfilerReportsTransfers(t *testing.T) {
	h := newHarness(t, 8)
	p := profiler.NewProfiler(profiler.WithLogger(h.logger), profiler.WithInterval(time.Nanosecond))
	e := engine.NewEngine(h.stage, engine.WithMaxFrames(2), engine.WithProfiling(true), engine.WithProfiler(p), engine.WithLogger(h.logger))
	if err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	found := false
	for _, entry := range h.hook.AllEntries() {
		if entry.Message == "profiler" {
			found = true
			if entry.Data["transfers"] != 2 {
				t.Fatalf("transfers = %v, want 2", entry.Data["transfers"])
			}
		}
	}
	if !found {
		t.Fatal("profiler did not log")
	}
}
