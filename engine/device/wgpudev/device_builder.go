package wgpudev

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/sirupsen/logrus"
)

// DeviceBuilderOption is a functional option for configuring a Device.
type DeviceBuilderOption func(*device)

// WithLogger sets the logger the device reports driver calls through.
//
// Parameters:
//   - logger: the logrus entry
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithLogger(logger *logrus.Entry) DeviceBuilderOption {
	return func(d *device) {
		d.logger = logger
	}
}

// WithSurface presents draws to a window surface instead of an offscreen target.
//
// Parameters:
//   - descriptor: the platform surface descriptor from the window
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithSurface(descriptor *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceDescriptor = descriptor
	}
}

// WithTargetSize sets the initial size of the surface or offscreen target.
//
// Parameters:
//   - width: the target width in pixels
//   - height: the target height in pixels
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithTargetSize(width, height int) DeviceBuilderOption {
	return func(d *device) {
		if width > 0 && height > 0 {
			d.width = width
			d.height = height
		}
	}
}

// WithVSync selects FIFO presentation instead of immediate presentation.
//
// Parameters:
//   - enabled: whether to wait for vertical blank
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithVSync(enabled bool) DeviceBuilderOption {
	return func(d *device) {
		if enabled {
			d.presentMode = wgpu.PresentModeFifo
		} else {
			d.presentMode = wgpu.PresentModeImmediate
		}
	}
}

// WithFallbackAdapter forces the software adapter, useful on machines without a GPU.
//
// Parameters:
//   - force: whether to request the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithFallbackAdapter(force bool) DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = force
	}
}

// WithPointShader replaces the WGSL source of the point render pipeline. It must expose vs_main
// and fs_main and read one vertex attribute per drawn binding at the binding's slot.
//
// Parameters:
//   - source: the WGSL source
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithPointShader(source string) DeviceBuilderOption {
	return func(d *device) {
		d.pointShader = source
	}
}
