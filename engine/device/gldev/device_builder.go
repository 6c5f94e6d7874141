package gldev

import (
	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
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

// WithKernelRegistry sets the CPU kernel registry that runs kernels over mapped buffers.
//
// Parameters:
//   - r: the registry
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithKernelRegistry(r *cpukernel.Registry) DeviceBuilderOption {
	return func(d *device) {
		d.kernels = r
	}
}

// WithPointSize sets the rasterized size of each point in pixels (default 2).
//
// Parameters:
//   - size: the point size
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithPointSize(size float32) DeviceBuilderOption {
	return func(d *device) {
		if size > 0 {
			d.pointSize = size
		}
	}
}

// WithPointShaders replaces the GLSL sources of the point program.
//
// Parameters:
//   - vertex: the vertex shader source
//   - fragment: the fragment shader source
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithPointShaders(vertex, fragment string) DeviceBuilderOption {
	return func(d *device) {
		d.vertexSource = vertex
		d.fragmentSource = fragment
	}
}
