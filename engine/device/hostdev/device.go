// Package hostdev is a headless device whose render and compute subsystems share host memory.
// It backs the interop tests and the "host" backend of the pointfield CLI, and reports the same
// driver status codes as a real device so every failure path of the interop layer can be driven.
package hostdev

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/sirupsen/logrus"
)

// Device is a host-memory implementation of interop.Device with draw, dispatch and inspection hooks.
type Device interface {
	interop.Device

	// CreateQueue creates a compute command queue.
	//
	// Returns:
	//   - interop.QueueHandle: the new queue
	CreateQueue() interop.QueueHandle

	// Kernels returns the CPU kernel registry used by Dispatch.
	Kernels() *cpukernel.Registry

	// Dispatch runs a registered kernel over globalSize elements on queue. Every buffer argument
	// must be acquired for compute on that queue.
	//
	// Parameters:
	//   - queue: the command queue
	//   - kernel: the kernel
	//   - globalSize: the number of elements
	//
	// Returns:
	//   - error: a *interop.DriverError on rejection, or the kernel's own error
	Dispatch(queue interop.QueueHandle, kernel interop.KernelHandle, globalSize int) error

	// Draw validates a point draw of count vertices from vao. It fails if any attribute buffer is
	// acquired for compute or holds fewer than count elements.
	//
	// Parameters:
	//   - vao: the vertex array
	//   - count: the vertex count
	//
	// Returns:
	//   - error: a *interop.DriverError on rejection
	Draw(vao interop.VertexArrayHandle, count int) error

	// DrawPoints validates one point draw sourcing an attribute from each binding's vertex array.
	//
	// Parameters:
	//   - bindings: the render bindings of the attribute sets to draw
	//   - count: the vertex count
	//
	// Returns:
	//   - error: the first *interop.DriverError from Draw
	DrawPoints(bindings []interop.RenderBinding, count int) error

	// InjectFault arms a fault for a future driver call.
	InjectFault(f Fault)

	// Calls returns how many times op has been invoked, including failed calls.
	Calls(op string) int

	// Live returns the number of native objects currently alive.
	Live() Live

	// BufferContents returns a copy of a vertex buffer's bytes.
	BufferContents(buf interop.BufferHandle) ([]byte, bool)

	// VertexAttribute returns the attribute bound at slot of vao.
	VertexAttribute(vao interop.VertexArrayHandle, slot uint32) (Attribute, bool)

	// Draws returns the number of successful draws.
	Draws() int
}

// Live counts the native objects a device currently holds.
type Live struct {
	VertexArrays int
	Buffers      int
	Allocations  int
}

// Total returns the sum of all live objects.
func (l Live) Total() int {
	return l.VertexArrays + l.Buffers + l.Allocations
}

// Attribute describes one vertex attribute binding.
type Attribute struct {
	Buffer     interop.BufferHandle
	Components int
	Kind       interop.ScalarKind
}

type vertexArray struct {
	attributes map[uint32]Attribute
}

type buffer struct {
	data []byte
}

type allocation struct {
	buf      interop.BufferHandle
	acquired bool
	queue    interop.QueueHandle
}

type device struct {
	mu     sync.Mutex
	next   uint64
	vaos   map[interop.VertexArrayHandle]*vertexArray
	bufs   map[interop.BufferHandle]*buffer
	allocs map[interop.AllocationHandle]*allocation
	queues map[interop.QueueHandle]bool

	kernels       *cpukernel.Registry
	maxBufferSize int
	maxAttributes uint32
	faults        []Fault
	calls         map[string]int
	draws         int
	logger        *logrus.Entry
}

var _ Device = &device{}

// NewDevice creates an empty host device.
//
// Parameters:
//   - options: functional options (logger, kernel registry, limits)
//
// Returns:
//   - Device: the device
func NewDevice(options ...DeviceBuilderOption) Device {
	d := &device{
		vaos:          make(map[interop.VertexArrayHandle]*vertexArray),
		bufs:          make(map[interop.BufferHandle]*buffer),
		allocs:        make(map[interop.AllocationHandle]*allocation),
		queues:        make(map[interop.QueueHandle]bool),
		maxAttributes: 16,
		calls:         make(map[string]int),
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
	d.logger = d.logger.WithField("device", "host")
	return d
}

func (d *device) handle() uint64 {
	d.next++
	return d.next
}

func (d *device) fault(op string) error {
	f, ok := d.takeFault(op)
	if !ok {
		return nil
	}
	d.logger.WithField("op", op).WithField("code", f.Code).Debug("injected driver fault")
	return interop.NewDriverError(op, f.Code, "injected fault")
}

func (d *device) CreateVertexArray() (interop.VertexArrayHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateVertexArray); err != nil {
		return 0, err
	}
	h := interop.VertexArrayHandle(d.handle())
	d.vaos[h] = &vertexArray{attributes: make(map[uint32]Attribute)}
	return h, nil
}

func (d *device) CreateVertexBuffer() (interop.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateVertexBuffer); err != nil {
		return 0, err
	}
	h := interop.BufferHandle(d.handle())
	d.bufs[h] = &buffer{}
	return h, nil
}

func (d *device) UploadBufferData(buf interop.BufferHandle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpUploadBufferData); err != nil {
		return err
	}
	b, ok := d.bufs[buf]
	if !ok {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if d.maxBufferSize > 0 && len(data) > d.maxBufferSize {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeOutOfResources, fmt.Sprintf("%d bytes exceeds the %d byte limit", len(data), d.maxBufferSize))
	}
	if d.acquiredAlias(buf) {
		return interop.NewDriverError(OpUploadBufferData, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is acquired for compute", buf))
	}
	b.data = append(b.data[:0:0], data...)
	return nil
}

func (d *device) BindVertexAttribute(vao interop.VertexArrayHandle, buf interop.BufferHandle, slot uint32, componentCount int, kind interop.ScalarKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpBindVertexAttribute); err != nil {
		return err
	}
	va, ok := d.vaos[vao]
	if !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	if componentCount < 1 || componentCount > interop.MaxComponents {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("component count %d", componentCount))
	}
	if slot >= d.maxAttributes {
		return interop.NewDriverError(OpBindVertexAttribute, cpukernel.CodeInvalidValue, fmt.Sprintf("slot %d exceeds %d attributes", slot, d.maxAttributes))
	}
	va.attributes[slot] = Attribute{Buffer: buf, Components: componentCount, Kind: kind}
	return nil
}

func (d *device) DestroyBuffer(buf interop.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpDestroyBuffer); err != nil {
		return err
	}
	if _, ok := d.bufs[buf]; !ok {
		return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown buffer %d", buf))
	}
	for h, a := range d.allocs {
		if a.buf == buf {
			return interop.NewDriverError(OpDestroyBuffer, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is still shared as allocation %d", buf, h))
		}
	}
	delete(d.bufs, buf)
	return nil
}

func (d *device) DestroyVertexArray(vao interop.VertexArrayHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpDestroyVertexArray); err != nil {
		return err
	}
	if _, ok := d.vaos[vao]; !ok {
		return interop.NewDriverError(OpDestroyVertexArray, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	delete(d.vaos, vao)
	return nil
}

func (d *device) CreateSharedBuffer(buf interop.BufferHandle) (interop.AllocationHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateSharedBuffer); err != nil {
		return 0, err
	}
	b, ok := d.bufs[buf]
	if !ok || len(b.data) == 0 {
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

func (d *device) ReleaseFromCompute(queue interop.QueueHandle, allocs []interop.AllocationHandle) error {
	return d.transfer(OpRelease, queue, allocs, false)
}

// transfer moves allocs in order and stops at the first one it cannot move.
func (d *device) transfer(op string, queue interop.QueueHandle, allocs []interop.AllocationHandle, acquire bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	failAt := -1
	var injected Fault
	if f, ok := d.takeFault(op); ok {
		injected = f
		failAt = min(max(f.Index, 0), max(len(allocs)-1, 0))
	}
	if !d.queues[queue] {
		return indexed(interop.NewDriverError(op, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue)), 0)
	}

	for i, h := range allocs {
		if i == failAt {
			d.logger.WithField("op", op).WithField("code", injected.Code).Debug("injected driver fault")
			return indexed(interop.NewDriverError(op, injected.Code, "injected fault"), i)
		}
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
	if failAt == 0 && len(allocs) == 0 {
		return indexed(interop.NewDriverError(op, injected.Code, "injected fault"), 0)
	}
	return nil
}

func indexed(err *interop.DriverError, i int) *interop.DriverError {
	err.Index = i
	return err
}

func (d *device) SetKernelArgument(kernel interop.KernelHandle, index int, value interop.ArgumentValue) error {
	d.mu.Lock()
	if err := d.fault(OpSetKernelArgument); err != nil {
		d.mu.Unlock()
		return err
	}
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
	if err := d.fault(OpReleaseAllocation); err != nil {
		return err
	}
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

func (d *device) Kernels() *cpukernel.Registry {
	return d.kernels
}

func (d *device) Dispatch(queue interop.QueueHandle, kernel interop.KernelHandle, globalSize int) error {
	d.mu.Lock()
	if err := d.fault(OpDispatch); err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.queues[queue] {
		d.mu.Unlock()
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue))
	}
	d.mu.Unlock()
	return d.kernels.Dispatch(kernel, globalSize, resolver{d: d, queue: queue})
}

type resolver struct {
	d     *device
	queue interop.QueueHandle
}

func (r resolver) Resolve(alloc interop.AllocationHandle) ([]byte, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	a, ok := r.d.allocs[alloc]
	if !ok {
		return nil, interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", alloc))
	}
	if !a.acquired || a.queue != r.queue {
		return nil, interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is not acquired on queue %d", alloc, r.queue))
	}
	return r.d.bufs[a.buf].data, nil
}

func (d *device) Draw(vao interop.VertexArrayHandle, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpDraw); err != nil {
		return err
	}
	va, ok := d.vaos[vao]
	if !ok {
		return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", vao))
	}
	for slot, attr := range va.attributes {
		b, ok := d.bufs[attr.Buffer]
		if !ok {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("slot %d: buffer %d was destroyed", slot, attr.Buffer))
		}
		if d.acquiredAlias(attr.Buffer) {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("slot %d: buffer %d is acquired for compute", slot, attr.Buffer))
		}
		if need := count * attr.Components * 4; need > len(b.data) {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("slot %d: %d vertices need %d bytes, buffer holds %d", slot, count, need, len(b.data)))
		}
	}
	d.draws++
	return nil
}

func (d *device) DrawPoints(bindings []interop.RenderBinding, count int) error {
	for _, b := range bindings {
		if err := d.Draw(b.VertexArray, count); err != nil {
			return err
		}
	}
	return nil
}

// acquiredAlias reports whether any allocation sharing buf is acquired for compute. Caller holds d.mu.
func (d *device) acquiredAlias(buf interop.BufferHandle) bool {
	for _, a := range d.allocs {
		if a.buf == buf && a.acquired {
			return true
		}
	}
	return false
}

func (d *device) InjectFault(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, f)
}

func (d *device) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *device) Live() Live {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Live{VertexArrays: len(d.vaos), Buffers: len(d.bufs), Allocations: len(d.allocs)}
}

func (d *device) BufferContents(buf interop.BufferHandle) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bufs[buf]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

func (d *device) VertexAttribute(vao interop.VertexArrayHandle, slot uint32) (Attribute, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	va, ok := d.vaos[vao]
	if !ok {
		return Attribute{}, false
	}
	a, ok := va.attributes[slot]
	return a, ok
}

func (d *device) Draws() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}
