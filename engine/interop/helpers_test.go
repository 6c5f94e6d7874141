package interop_test

import (
	"io"
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/hostdev"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newContext(t *testing.T, options ...hostdev.DeviceBuilderOption) (hostdev.Device, *interop.GpuContext) {
	t.Helper()
	options = append([]hostdev.DeviceBuilderOption{
		hostdev.WithLogger(quietLogger()),
		hostdev.WithKernelRegistry(cpukernel.NewRegistry(cpukernel.WithWorkers(1))),
	}, options...)
	dev := hostdev.NewDevice(options...)
	ctx, err := interop.NewDeviceContext(dev, interop.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return dev, ctx
}

func newFloat4(t *testing.T, ctx *interop.GpuContext, n int, label string) interop.AttributeSet[float32] {
	t.Helper()
	s, err := interop.NewAttributeSet(ctx, interop.Float4(), n, interop.WithLabel(label))
	if err != nil {
		t.Fatalf("new attribute set: %v", err)
	}
	return s
}

func mustInit(t *testing.T, s interop.Transferable) {
	t.Helper()
	if err := s.Init(); err != nil {
		t.Fatalf("init %s: %v", s.Label(), err)
	}
}
