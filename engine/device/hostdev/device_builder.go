package hostdev

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

// WithKernelRegistry shares an existing CPU kernel registry instead of creating a private one.
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

// WithMaxBufferSize caps the size of a single buffer upload. Larger uploads fail with
// cpukernel.CodeOutOfResources. Zero means unlimited.
//
// Parameters:
//   - bytes: the cap in bytes
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithMaxBufferSize(bytes int) DeviceBuilderOption {
	return func(d *device) {
		d.maxBufferSize = bytes
	}
}

// WithMaxVertexAttributes sets the number of vertex attribute slots (default 16).
//
// Parameters:
//   - n: the slot count
//
// Returns:
//   - DeviceBuilderOption: option function to apply
func WithMaxVertexAttributes(n uint32) DeviceBuilderOption {
	return func(d *device) {
		if n > 0 {
			d.maxAttributes = n
		}
	}
}
