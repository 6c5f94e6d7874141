// Package gldev implements the interop device on OpenGL 3.3 core. Acquiring a buffer for compute
// maps it into host memory, kernels run on the CPU kernel registry over the mapped bytes, and
// releasing it unmaps the buffer so draws see the result.
//
// Every call must happen on the goroutine that owns the current GL context.
package gldev

import (
	_ "embed"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/sirupsen/logrus"
)

// Default point program: location 0 positions, location 1 colors.
var (
	//go:embed assets/points.vert.glsl
	pointsVertexGLSL string
	//go:embed assets/points.frag.glsl
	pointsFragmentGLSL string
)

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
	OpDispatch            = "dispatch"
	OpDraw                = "draw"
)

// Device is an OpenGL implementation of interop.Device that runs CPU kernels over mapped buffers
// and draws point lists.
type Device interface {
	interop.Device

	// DrawPoints draws count points through a vertex array assembled from the bindings.
	//
	// Parameters:
	//   - bindings: the render bindings of the drawn sets
	//   - count: the number of points
	//
	// Returns:
	//   - error: a *interop.DriverError if a binding is unknown, too short or mapped for compute
	DrawPoints(bindings []interop.RenderBinding, count int) error

	// CreateQueue creates a compute queue token.
	//
	// Returns:
	//   - interop.QueueHandle: the new queue
	CreateQueue() interop.QueueHandle

	// Kernels returns the CPU kernel registry used by Dispatch.
	Kernels() *cpukernel.Registry

	// SetViewport resizes the GL viewport, typically from a window resize callback.
	//
	// Parameters:
	//   - width: the viewport width in pixels
	//   - height: the viewport height in pixels
	SetViewport(width, height int)

	// Release deletes the point program and composite vertex arrays.
	Release()
}

type vertexAttribute struct {
	buf        interop.BufferHandle
	components int
	kind       interop.ScalarKind
}

type allocation struct {
	buf      interop.BufferHandle
	acquired bool
	queue    interop.QueueHandle
	mapped   []byte
}

type device struct {
	mu sync.Mutex

	// sizes of live buffers in bytes
	bufs   map[interop.BufferHandle]int
	vaos   map[interop.VertexArrayHandle]map[uint32]vertexAttribute
	allocs map[interop.AllocationHandle]*allocation
	queues map[interop.QueueHandle]bool
	next   uint64

	maxAttributes uint32
	kernels       *cpukernel.Registry

	vertexSource   string
	fragmentSource string
	program        uint32
	pointSizeLoc   int32
	pointSize      float32
	composites     map[string]*compositeArray

	// unmap unbinds the mapping of a buffer and reports whether its contents survived.
	unmap func(buf uint32) bool

	logger *logrus.Entry
}

var _ Device = &device{}

// NewDevice loads the GL function pointers of the current context and builds the point program.
//
// Parameters:
//   - options: functional options (logger, kernel registry, point size, shaders)
//
// Returns:
//   - Device: the device
//   - error: an error if GL could not be initialized or the point program failed to build
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	runtime.LockOSThread()
	d := &device{
		bufs:           make(map[interop.BufferHandle]int),
		vaos:           make(map[interop.VertexArrayHandle]map[uint32]vertexAttribute),
		allocs:         make(map[interop.AllocationHandle]*allocation),
		queues:         make(map[interop.QueueHandle]bool),
		vertexSource:   pointsVertexGLSL,
		fragmentSource: pointsFragmentGLSL,
		pointSize:      2,
		composites:     make(map[string]*compositeArray),
		unmap:          unmapArrayBuffer,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.kernels == nil {
		d.kernels = cpukernel.NewRegistry()
	}
	if d.logger == nil {
		d.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	d.logger = d.logger.WithField("device", "gl")

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	var maxAttribs int32
	gl.GetIntegerv(gl.MAX_VERTEX_ATTRIBS, &maxAttribs)
	d.maxAttributes = uint32(maxAttribs)

	program, err := linkProgram(d.vertexSource, d.fragmentSource)
	if err != nil {
		return nil, fmt.Errorf("point program: %w", err)
	}
	d.program = program
	d.pointSizeLoc = gl.GetUniformLocation(program, gl.Str("pointSize\x00"))
	gl.Enable(gl.PROGRAM_POINT_SIZE)

	d.logger.WithField("version", gl.GoStr(gl.GetString(gl.VERSION))).Debug("gl device ready")
	return d, nil
}

// glError drains the GL error flag and converts it to a driver error, or returns nil.
func glError(op string) *interop.DriverError {
	code := gl.GetError()
	if code == gl.NO_ERROR {
		return nil
	}
	for gl.GetError() != gl.NO_ERROR {
	}
	status := cpukernel.CodeInvalidOperation
	switch code {
	case gl.INVALID_ENUM, gl.INVALID_VALUE:
		status = cpukernel.CodeInvalidValue
	case gl.OUT_OF_MEMORY:
		status = cpukernel.CodeOutOfResources
	}
	return interop.NewDriverError(op, status, fmt.Sprintf("GL error 0x%04x", code))
}

func (d *device) handle() uint64 {
	d.next++
	return d.next
}

func (d *device) CreateVertexArray() (interop.VertexArrayHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var vao uint32
	gl.GenVertexArrays(1, &vao)
	if vao == 0 {
		return 0, interop.NewDriverError(OpCreateVertexArray, cpukernel.CodeOutOfResources, "glGenVertexArrays returned 0")
	}
	h := interop.VertexArrayHandle(vao)
	d.vaos[h] = make(map[uint32]vertexAttribute)
	return h, nil
}

func (d *device) CreateVertexBuffer() (interop.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf uint32
	gl.GenBuffers(1, &buf)
	if buf == 0 {
		return 0, interop.NewDriverError(OpCreateVertexBuffer, cpukernel.CodeOutOfResources, "glGenBuffers returned 0")
	}
	h := interop.BufferHandle(buf)
	d.bufs[h] = 0
	return h, nil
}

func (d *device) UploadBufferData(buf interop.BufferHandle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if len(data) == 0 {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidValue, "empty upload")
	}
	if a := d.aliasOf(buf); a != nil && a.acquired {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is mapped for compute", buf))
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(buf))
	gl.BufferData(gl.ARRAY_BUFFER, len(data), gl.Ptr(data), gl.DYNAMIC_DRAW)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	if err := glError(OpUploadBufferData); err != nil {
		return err
	}
	d.bufs[buf] = len(data)
	return nil
}

func (d *device) BindVertexAttribute(vao interop.VertexArrayHandle, buf interop.BufferHandle, slot uint32, componentCount int, kind interop.ScalarKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	attrs, ok := d.vaos[vao]
	if !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if slot >= d.maxAttributes {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("slot %d exceeds %d attributes", slot, d.maxAttributes))
	}
	attr := vertexAttribute{buf: buf, components: componentCount, kind: kind}
	gl.BindVertexArray(uint32(vao))
	pointAttribute(slot, attr)
	gl.BindVertexArray(0)
	if err := glError(OpBindVertexAttribute); err != nil {
		return err
	}
	attrs[slot] = attr
	return nil
}

// pointAttribute configures slot of the bound vertex array to read attr. Integer layouts stay
// integers in the shader.
func pointAttribute(slot uint32, attr vertexAttribute) {
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(attr.buf))
	gl.EnableVertexAttribArray(slot)
	if attr.kind == interop.ScalarInt32 {
		gl.VertexAttribIPointerWithOffset(slot, int32(attr.components), gl.INT, 0, 0)
	} else {
		gl.VertexAttribPointerWithOffset(slot, int32(attr.components), gl.FLOAT, false, 0, 0)
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
}

func (d *device) DestroyBuffer(buf interop.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if d.aliasOf(buf) != nil {
		return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is still shared", buf))
	}
	d.dropComposites(buf)
	b := uint32(buf)
	gl.DeleteBuffers(1, &b)
	delete(d.bufs, buf)
	return nil
}

func (d *device) DestroyVertexArray(vao interop.VertexArrayHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.vaos[vao]; !ok {
		return interop.NewDriverError(OpDestroyVertexArray, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	v := uint32(vao)
	gl.DeleteVertexArrays(1, &v)
	delete(d.vaos, vao)
	return nil
}

func (d *device) CreateSharedBuffer(buf interop.BufferHandle) (interop.AllocationHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if size, ok := d.bufs[buf]; !ok || size == 0 {
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

// AcquireForCompute maps each buffer read-write in order. glMapBufferRange implicitly waits for
// pending draws that read the buffer.
func (d *device) AcquireForCompute(queue interop.QueueHandle, allocs []interop.AllocationHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.queues[queue] {
		return indexed(interop.NewDriverError(OpAcquire, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue)), 0)
	}
	for i, h := range allocs {
		a, ok := d.allocs[h]
		if !ok {
			return indexed(interop.NewDriverError(OpAcquire, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", h)), i)
		}
		if a.acquired {
			return indexed(interop.NewDriverError(OpAcquire, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is already acquired", h)), i)
		}
		size := d.bufs[a.buf]
		gl.BindBuffer(gl.ARRAY_BUFFER, uint32(a.buf))
		ptr := gl.MapBufferRange(gl.ARRAY_BUFFER, 0, size, gl.MAP_READ_BIT|gl.MAP_WRITE_BIT)
		gl.BindBuffer(gl.ARRAY_BUFFER, 0)
		if ptr == nil {
			err := glError(OpAcquire)
			if err == nil {
				err = interop.NewDriverError(OpAcquire, cpukernel.CodeInvalidGLObject, fmt.Sprintf("buffer %d could not be mapped", a.buf))
			}
			return indexed(err, i)
		}
		a.mapped = unsafe.Slice((*byte)(ptr), size)
		a.acquired = true
		a.queue = queue
	}
	return nil
}

// ReleaseFromCompute unmaps each buffer in order. A buffer whose contents were lost while mapped
// is unmapped but stays acquired and is reported at its index; releasing it again hands it back.
func (d *device) ReleaseFromCompute(queue interop.QueueHandle, allocs []interop.AllocationHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.queues[queue] {
		return indexed(interop.NewDriverError(OpRelease, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue)), 0)
	}
	for i, h := range allocs {
		a, ok := d.allocs[h]
		if !ok {
			return indexed(interop.NewDriverError(OpRelease, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", h)), i)
		}
		if !a.acquired {
			return indexed(interop.NewDriverError(OpRelease, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is not acquired", h)), i)
		}
		if a.mapped != nil {
			intact := d.unmap(uint32(a.buf))
			a.mapped = nil
			if !intact {
				return indexed(interop.NewDriverError(OpRelease, cpukernel.CodeInvalidGLObject, fmt.Sprintf("buffer %d was corrupted while mapped", a.buf)), i)
			}
		}
		a.acquired = false
	}
	return nil
}

func unmapArrayBuffer(buf uint32) bool {
	gl.BindBuffer(gl.ARRAY_BUFFER, buf)
	defer gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	return gl.UnmapBuffer(gl.ARRAY_BUFFER)
}

func indexed(err *interop.DriverError, i int) *interop.DriverError {
	err.Index = i
	return err
}

func (d *device) SetKernelArgument(kernel interop.KernelHandle, index int, value interop.ArgumentValue) error {
	d.mu.Lock()
	if value.Kind == interop.ArgumentBuffer {
		if _, ok := d.allocs[value.Allocation]; !ok {
			d.mu.Unlock()
			return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", value.Allocation)), index)
		}
	}
	d.mu.Unlock()
	return d.kernels.SetArgument(kernel, index, value)
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
	delete(d.allocs, alloc)
	return nil
}

// aliasOf returns the allocation sharing buf, or nil. Caller holds d.mu.
func (d *device) aliasOf(buf interop.BufferHandle) *allocation {
	for _, a := range d.allocs {
		if a.buf == buf {
			return a
		}
	}
	return nil
}

func (d *device) Kernels() *cpukernel.Registry {
	return d.kernels
}

// Dispatch runs a registered CPU kernel over the mapped bytes of its buffer arguments.
func (d *device) Dispatch(queue interop.QueueHandle, kernel interop.KernelHandle, globalSize int) error {
	d.mu.Lock()
	known := d.queues[queue]
	d.mu.Unlock()
	if !known {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue))
	}
	return d.kernels.Dispatch(kernel, globalSize, mappedMemory{d: d, queue: queue})
}

// mappedMemory resolves allocations to their mapped bytes for the kernel registry.
type mappedMemory struct {
	d     *device
	queue interop.QueueHandle
}

func (m mappedMemory) Resolve(alloc interop.AllocationHandle) ([]byte, error) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	a, ok := m.d.allocs[alloc]
	if !ok {
		return nil, interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", alloc))
	}
	if !a.acquired || a.queue != m.queue {
		return nil, interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is not mapped on queue %d", alloc, m.queue))
	}
	if a.mapped == nil {
		return nil, interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidGLObject, fmt.Sprintf("allocation %d lost its mapping", alloc))
	}
	return a.mapped, nil
}

func (d *device) SetViewport(width, height int) {
	gl.Viewport(0, 0, int32(width), int32(height))
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, c := range d.composites {
		gl.DeleteVertexArrays(1, &c.vao)
		delete(d.composites, key)
	}
	if d.program != 0 {
		gl.DeleteProgram(d.program)
		d.program = 0
	}
}
