package interop

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Native object handles. The zero value of every handle is the null handle.
type (
	// VertexArrayHandle names a render-side vertex array object.
	VertexArrayHandle uint32
	// BufferHandle names a render-side vertex buffer object.
	BufferHandle uint32
	// AllocationHandle names the compute-side view of a shared buffer.
	AllocationHandle uint64
	// QueueHandle names a compute command queue.
	QueueHandle uint64
	// KernelHandle names a compute kernel.
	KernelHandle uint64
)

// RenderSubsystem is the rendering side of the device. The interop layer calls it only from
// AttributeSet.Init and AttributeSet.Teardown.
type RenderSubsystem interface {
	// CreateVertexArray creates an empty vertex array object.
	//
	// Returns:
	//   - VertexArrayHandle: the new vertex array
	//   - error: a *DriverError if the driver rejected the call
	CreateVertexArray() (VertexArrayHandle, error)

	// CreateVertexBuffer creates an empty vertex buffer object.
	//
	// Returns:
	//   - BufferHandle: the new vertex buffer
	//   - error: a *DriverError if the driver rejected the call
	CreateVertexBuffer() (BufferHandle, error)

	// UploadBufferData replaces the contents of buf with data, sizing the buffer to len(data).
	//
	// Parameters:
	//   - buf: the vertex buffer to fill
	//   - data: the packed little-endian element data
	//
	// Returns:
	//   - error: a *DriverError if the driver rejected the upload
	UploadBufferData(buf BufferHandle, data []byte) error

	// BindVertexAttribute attaches buf to vao as the source of the vertex attribute at slot,
	// reading componentCount tightly packed scalars of the given kind per vertex.
	//
	// Parameters:
	//   - vao: the vertex array to configure
	//   - buf: the vertex buffer that holds the attribute
	//   - slot: the shader attribute location
	//   - componentCount: components per vertex, 1 through 4
	//   - kind: the scalar type of each component
	//
	// Returns:
	//   - error: a *DriverError if the driver rejected the binding
	BindVertexAttribute(vao VertexArrayHandle, buf BufferHandle, slot uint32, componentCount int, kind ScalarKind) error

	// DestroyBuffer releases a vertex buffer.
	DestroyBuffer(buf BufferHandle) error

	// DestroyVertexArray releases a vertex array.
	DestroyVertexArray(vao VertexArrayHandle) error
}

// ComputeSubsystem is the compute side of the device. The acquire/release protocol is a thin
// fail-fast layer over exactly these calls.
type ComputeSubsystem interface {
	// CreateSharedBuffer creates a compute allocation aliasing the storage of a render buffer.
	//
	// Parameters:
	//   - buf: the render buffer to share
	//
	// Returns:
	//   - AllocationHandle: the compute-side handle
	//   - error: a *DriverError if sharing is not possible
	CreateSharedBuffer(buf BufferHandle) (AllocationHandle, error)

	// AcquireForCompute transfers allocs to the compute subsystem, blocking until the driver has
	// confirmed the transfer. On failure the returned *DriverError's Index names the first handle
	// that was not acquired; handles before it were.
	//
	// Parameters:
	//   - queue: the command queue performing the transfer
	//   - allocs: the allocations to acquire
	//
	// Returns:
	//   - error: a *DriverError on rejection
	AcquireForCompute(queue QueueHandle, allocs []AllocationHandle) error

	// ReleaseFromCompute transfers allocs back to the rendering subsystem, blocking until the
	// driver has confirmed the transfer. Index semantics match AcquireForCompute.
	//
	// Parameters:
	//   - queue: the command queue performing the transfer
	//   - allocs: the allocations to release
	//
	// Returns:
	//   - error: a *DriverError on rejection
	ReleaseFromCompute(queue QueueHandle, allocs []AllocationHandle) error

	// SetKernelArgument binds value at position index of kernel.
	//
	// Parameters:
	//   - kernel: the kernel to configure
	//   - index: the positional argument slot
	//   - value: a buffer or scalar argument
	//
	// Returns:
	//   - error: a *DriverError on rejection
	SetKernelArgument(kernel KernelHandle, index int, value ArgumentValue) error

	// ReleaseAllocation releases a compute allocation created by CreateSharedBuffer.
	ReleaseAllocation(alloc AllocationHandle) error
}

// Device is a single physical device exposing both subsystems, as every backend in this module does.
type Device interface {
	RenderSubsystem
	ComputeSubsystem
}

// GpuContext threads the two subsystems and the logger into every interop component. Its lifetime
// is owned by whoever created the device; the interop layer only borrows it.
type GpuContext struct {
	render  RenderSubsystem
	compute ComputeSubsystem
	logger  *logrus.Entry
}

// GpuContextBuilderOption is a functional option applied to a GpuContext by NewGpuContext.
type GpuContextBuilderOption func(*GpuContext)

// WithLogger sets the structured logger used for lifecycle diagnostics.
//
// Parameters:
//   - logger: the logrus entry to log through
//
// Returns:
//   - GpuContextBuilderOption: a function that sets the logger
func WithLogger(logger *logrus.Entry) GpuContextBuilderOption {
	return func(c *GpuContext) {
		c.logger = logger
	}
}

// NewGpuContext creates a GpuContext from the rendering and compute subsystems of one device.
//
// Parameters:
//   - render: the rendering subsystem
//   - compute: the compute subsystem
//   - options: functional options (logger)
//
// Returns:
//   - *GpuContext: the context
//   - error: an error if either subsystem is nil
func NewGpuContext(render RenderSubsystem, compute ComputeSubsystem, options ...GpuContextBuilderOption) (*GpuContext, error) {
	if render == nil || compute == nil {
		return nil, errors.New("interop: both render and compute subsystems are required")
	}
	c := &GpuContext{render: render, compute: compute}
	for _, opt := range options {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c, nil
}

// NewDeviceContext is a convenience for devices implementing both subsystems.
func NewDeviceContext(d Device, options ...GpuContextBuilderOption) (*GpuContext, error) {
	if d == nil {
		return nil, errors.New("interop: device is required")
	}
	return NewGpuContext(d, d, options...)
}

// Render returns the rendering subsystem.
func (c *GpuContext) Render() RenderSubsystem {
	return c.render
}

// Compute returns the compute subsystem.
func (c *GpuContext) Compute() ComputeSubsystem {
	return c.compute
}

// Logger returns the structured logger.
func (c *GpuContext) Logger() *logrus.Entry {
	return c.logger
}
