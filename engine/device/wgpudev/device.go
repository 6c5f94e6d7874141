// Package wgpudev implements the interop device on WebGPU. Vertex buffers are created with storage
// usage so the compute allocation of a shared buffer is the render buffer itself; acquire and
// release are ownership bookkeeping that the device enforces on uploads, draws and dispatches.
package wgpudev

import (
	_ "embed"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/sirupsen/logrus"
)

// pointsWGSL is the default point pipeline: slot 0 positions, slot 1 colors.
//
//go:embed assets/points.wgsl
var pointsWGSL string

// Driver operation names reported in *interop.DriverError.
const (
	OpCreateVertexArray   = "create-vertex-array"
	OpCreateVertexBuffer  = "create-vertex-buffer"
	OpUploadBufferData    = "upload-buffer-data"
	OpBindVertexAttribute = "bind-vertex-attribute"
	OpDestroyBuffer       = "destroy-buffer"
	OpDestroyVertexArray  = "destroy-vertex-array"
	OpCreateSharedBuffer  = "create-shared-buffer"
	OpAcquire             = "acquire"
	OpRelease             = "release"
	OpSetKernelArgument   = "set-kernel-argument"
	OpReleaseAllocation   = "release-allocation"
	OpCreateKernel        = "create-kernel"
	OpDispatch            = "dispatch"
	OpDraw                = "draw"
)

// Device is a WebGPU implementation of interop.Device that also dispatches WGSL kernels and draws
// point lists.
type Device interface {
	interop.Device

	// DrawPoints draws count points, reading the attribute at each binding's slot from that
	// binding's vertex buffer.
	//
	// Parameters:
	//   - bindings: the render bindings of the drawn sets
	//   - count: the number of points
	//
	// Returns:
	//   - error: a *interop.DriverError if a binding is unknown, too short or acquired for compute
	DrawPoints(bindings []interop.RenderBinding, count int) error

	// CreateQueue creates a compute queue token. WebGPU exposes a single queue per device; the
	// token scopes acquire and dispatch the way a native compute queue would.
	//
	// Returns:
	//   - interop.QueueHandle: the new queue
	CreateQueue() interop.QueueHandle

	// CreateKernel compiles a WGSL compute shader whose group 0 bindings follow spec.Arguments.
	//
	// Parameters:
	//   - spec: the kernel source, entry point and argument bindings
	//
	// Returns:
	//   - interop.KernelHandle: the new kernel
	//   - error: a *interop.DriverError if compilation or layout creation failed
	CreateKernel(spec KernelSpec) (interop.KernelHandle, error)

	// ConfigureSurface resizes the presentation surface or offscreen target.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: an error if the target could not be recreated
	ConfigureSurface(width, height int) error

	// Release frees every native object the device holds.
	Release()
}

type vertexAttribute struct {
	buf        interop.BufferHandle
	components int
	kind       interop.ScalarKind
}

type vertexArray struct {
	attributes map[uint32]vertexAttribute
}

type allocation struct {
	buf      interop.BufferHandle
	acquired bool
	queue    interop.QueueHandle
}

type device struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	surfaceDescriptor    *wgpu.SurfaceDescriptor
	surface              *wgpu.Surface
	surfaceFormat        wgpu.TextureFormat
	presentMode          wgpu.PresentMode
	forceFallbackAdapter bool
	width, height        int

	// offscreen target used when there is no surface
	target     *wgpu.Texture
	targetView *wgpu.TextureView

	pointShader string
	pipelines   map[string]*wgpu.RenderPipeline

	next    uint64
	vaos    map[interop.VertexArrayHandle]*vertexArray
	bufs    map[interop.BufferHandle]*wgpu.Buffer
	allocs  map[interop.AllocationHandle]*allocation
	queues  map[interop.QueueHandle]bool
	kernels map[interop.KernelHandle]*kernel

	logger *logrus.Entry
}

var _ Device = &device{}

// NewDevice requests an adapter and device, and configures the surface or offscreen target.
//
// Parameters:
//   - options: functional options (logger, surface, target size, present mode)
//
// Returns:
//   - Device: the device
//   - error: an error if no adapter or device is available
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	runtime.LockOSThread()
	d := &device{
		presentMode:   wgpu.PresentModeFifo,
		surfaceFormat: wgpu.TextureFormatRGBA8Unorm,
		width:         256,
		height:        256,
		pointShader:   pointsWGSL,
		pipelines:     make(map[string]*wgpu.RenderPipeline),
		vaos:          make(map[interop.VertexArrayHandle]*vertexArray),
		bufs:          make(map[interop.BufferHandle]*wgpu.Buffer),
		allocs:        make(map[interop.AllocationHandle]*allocation),
		queues:        make(map[interop.QueueHandle]bool),
		kernels:       make(map[interop.KernelHandle]*kernel),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	d.logger = d.logger.WithField("device", "wgpu")

	d.instance = wgpu.CreateInstance(nil)
	if d.surfaceDescriptor != nil {
		d.surface = d.instance.CreateSurface(d.surfaceDescriptor)
	}

	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		d.Release()
		return nil, fmt.Errorf("requesting adapter: %w", err)
	}
	d.adapter = adapter

	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "pointfield device",
	})
	if err != nil {
		d.Release()
		return nil, fmt.Errorf("requesting device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	if err := d.ConfigureSurface(d.width, d.height); err != nil {
		d.Release()
		return nil, err
	}
	d.logger.WithField("surface", d.surface != nil).Debug("wgpu device ready")
	return d, nil
}

func (d *device) ConfigureSurface(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", width, height)
	}
	d.width, d.height = width, height

	if d.surface != nil {
		capabilities := d.surface.GetCapabilities(d.adapter)
		if d.surfaceFormat != capabilities.Formats[0] {
			d.surfaceFormat = capabilities.Formats[0]
			d.releasePipelines()
		}
		d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
			Usage:       wgpu.TextureUsageRenderAttachment,
			Format:      d.surfaceFormat,
			Width:       uint32(width),
			Height:      uint32(height),
			PresentMode: d.presentMode,
			AlphaMode:   capabilities.AlphaModes[0],
		})
		return nil
	}

	if d.targetView != nil {
		d.targetView.Release()
		d.target.Release()
		d.targetView, d.target = nil, nil
	}
	target, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "pointfield offscreen target",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        d.surfaceFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("creating offscreen target: %w", err)
	}
	view, err := target.CreateView(nil)
	if err != nil {
		target.Release()
		return fmt.Errorf("creating offscreen target view: %w", err)
	}
	d.target, d.targetView = target, view
	return nil
}

func (d *device) handle() uint64 {
	d.next++
	return d.next
}

func (d *device) CreateVertexArray() (interop.VertexArrayHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := interop.VertexArrayHandle(d.handle())
	d.vaos[h] = &vertexArray{attributes: make(map[uint32]vertexAttribute)}
	return h, nil
}

func (d *device) CreateVertexBuffer() (interop.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := interop.BufferHandle(d.handle())
	d.bufs[h] = nil
	return h, nil
}

// UploadBufferData recreates the buffer at the size of data. Usage covers vertex input, storage
// binding and copies, so the same buffer serves both subsystems. A buffer that is already shared
// cannot be re-uploaded since recreating it would break the alias.
func (d *device) UploadBufferData(buf interop.BufferHandle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	old, ok := d.bufs[buf]
	if !ok {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidValue, fmt.Sprintf("size %d is not a positive multiple of 4", len(data)))
	}
	if d.sharedAllocation(buf) != 0 {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is shared with compute", buf))
	}

	created, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("vertex buffer %d", buf),
		Size:  uint64(len(data)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeOutOfResources, err.Error())
	}
	d.queue.WriteBuffer(created, 0, data)
	if old != nil {
		old.Release()
	}
	d.bufs[buf] = created
	return nil
}

func (d *device) BindVertexAttribute(vao interop.VertexArrayHandle, buf interop.BufferHandle, slot uint32, componentCount int, kind interop.ScalarKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	va, ok := d.vaos[vao]
	if !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if _, err := vertexFormat(componentCount, kind); err != nil {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, err.Error())
	}
	va.attributes[slot] = vertexAttribute{buf: buf, components: componentCount, kind: kind}
	return nil
}

func (d *device) DestroyBuffer(buf interop.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bufs[buf]
	if !ok {
		return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if h := d.sharedAllocation(buf); h != 0 {
		return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is still shared as allocation %d", buf, h))
	}
	if b != nil {
		b.Release()
	}
	delete(d.bufs, buf)
	return nil
}

func (d *device) DestroyVertexArray(vao interop.VertexArrayHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vaos[vao]; !ok {
		return interop.NewDriverError(OpDestroyVertexArray, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	delete(d.vaos, vao)
	return nil
}

func (d *device) CreateSharedBuffer(buf interop.BufferHandle) (interop.AllocationHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bufs[buf]
	if !ok || b == nil {
		return 0, interop.NewDriverError(OpCreateSharedBuffer, cpukernel.CodeInvalidGLObject, fmt.Sprintf("buffer %d has no data store", buf))
	}
	h := interop.AllocationHandle(d.handle())
	d.allocs[h] = &allocation{buf: buf}
	return h, nil
}

func (d *device) CreateQueue() interop.QueueHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := interop.QueueHandle(d.handle())
	d.queues[h] = true
	return h
}

func (d *device) AcquireForCompute(queue interop.QueueHandle, allocs []interop.AllocationHandle) error {
	return d.transfer(OpAcquire, queue, allocs, true)
}

// ReleaseFromCompute waits for submitted compute work before handing buffers back, so a draw
// recorded afterwards observes every kernel write.
func (d *device) ReleaseFromCompute(queue interop.QueueHandle, allocs []interop.AllocationHandle) error {
	d.device.Poll(true, nil)
	return d.transfer(OpRelease, queue, allocs, false)
}

// transfer moves allocs in order and stops at the first one it cannot move.
func (d *device) transfer(op string, queue interop.QueueHandle, allocs []interop.AllocationHandle, acquire bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.queues[queue] {
		return indexed(interop.NewDriverError(op, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue)), 0)
	}
	for i, h := range allocs {
		a, ok := d.allocs[h]
		if !ok {
			return indexed(interop.NewDriverError(op, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", h)), i)
		}
		if a.acquired == acquire {
			state := "not acquired"
			if a.acquired {
				state = "already acquired"
			}
			return indexed(interop.NewDriverError(op, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is %s", h, state)), i)
		}
		a.acquired = acquire
		a.queue = queue
	}
	return nil
}

func indexed(err *interop.DriverError, i int) *interop.DriverError {
	err.Index = i
	return err
}

func (d *device) ReleaseAllocation(alloc interop.AllocationHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.allocs[alloc]
	if !ok {
		return interop.NewDriverError(OpReleaseAllocation, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", alloc))
	}
	if a.acquired {
		return interop.NewDriverError(OpReleaseAllocation, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is still acquired", alloc))
	}
	for _, k := range d.kernels {
		k.forget(alloc)
	}
	delete(d.allocs, alloc)
	return nil
}

// sharedAllocation returns the allocation aliasing buf, or 0. Caller holds d.mu.
func (d *device) sharedAllocation(buf interop.BufferHandle) interop.AllocationHandle {
	for h, a := range d.allocs {
		if a.buf == buf {
			return h
		}
	}
	return 0
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range d.kernels {
		k.release()
	}
	clear(d.kernels)
	d.releasePipelines()
	for _, b := range d.bufs {
		if b != nil {
			b.Release()
		}
	}
	clear(d.bufs)
	if d.targetView != nil {
		d.targetView.Release()
		d.target.Release()
		d.targetView, d.target = nil, nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.surface != nil {
		d.surface.Release()
		d.surface = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
