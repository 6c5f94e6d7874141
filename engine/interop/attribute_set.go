package interop

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RenderBinding is the render-side descriptor needed to draw from an attribute set's allocation.
type RenderBinding struct {
	VertexArray  VertexArrayHandle
	VertexBuffer BufferHandle
	Slot         uint32
}

// Transferable is the layout-independent view of an attribute set. The interop protocol (batch
// transfers, kernel binding, ownership checks) works on Transferables so sets of different
// layouts can share one frame. Only this package can implement it.
type Transferable interface {
	// Label returns the debug label of the attribute set.
	Label() string

	// LayoutName returns the name of the set's layout (e.g. "float4").
	LayoutName() string

	// Size returns the element count fixed at construction.
	Size() int

	// Owner returns the subsystem that currently owns the GPU allocation.
	Owner() BindingOwner

	// Context returns the GPU context the set was created with.
	Context() *GpuContext

	// Allocation returns the compute allocation handle, or 0 before Init and after Teardown.
	Allocation() AllocationHandle

	// RenderBinding returns the render-side descriptor, zero before Init and after Teardown.
	RenderBinding() RenderBinding

	// Init packs the component arrays, uploads them into a single GPU allocation and creates the
	// render-side descriptor, leaving the set OwnedByRender. It must be called exactly once.
	//
	// Returns:
	//   - error: KindReinitialization if the set is not Unbound, KindAllocation if any native
	//     resource could not be created (everything created so far is released)
	Init() error

	// Bind registers the set's allocation as argument index of kernel.
	//
	// Parameters:
	//   - kernel: the compute kernel
	//   - index: the positional argument slot
	//
	// Returns:
	//   - error: KindBinding if the set is not initialized or the compute driver rejected it
	Bind(kernel KernelHandle, index int) error

	// Push transfers ownership from render to compute, blocking until the driver confirms.
	//
	// Parameters:
	//   - queue: the compute queue performing the acquire
	//
	// Returns:
	//   - error: KindAcquire if the set is not OwnedByRender or the driver rejected the acquire
	Push(queue QueueHandle) error

	// Pop transfers ownership from compute back to render, blocking until the driver confirms.
	//
	// Parameters:
	//   - queue: the compute queue performing the release
	//
	// Returns:
	//   - error: KindRelease if the set is not OwnedByCompute or the driver rejected the release
	Pop(queue QueueHandle) error

	// Teardown releases the GPU allocation and the render-side objects, then frees the host
	// arrays. Every release is attempted even if an earlier one fails. A second call is a no-op.
	//
	// Returns:
	//   - error: KindTeardown aggregating every failed release, or nil
	Teardown() error

	core() *setCore
}

// AttributeSet is a host+GPU paired container holding one per-element attribute of a point field.
// T and the Layout fix the component count, scalar type and default fill; the ownership protocol
// is shared by every layout.
type AttributeSet[T Scalar] interface {
	Transferable

	// Layout returns the layout descriptor of the set.
	Layout() Layout[T]

	// Component returns the live host array of component c. It is nil after Teardown.
	// Writes after Init do not reach the GPU allocation; the kernel owns the content from then on.
	//
	// Parameters:
	//   - c: the component index
	//
	// Returns:
	//   - []T: the component array of length Size(), or nil if c is out of range
	Component(c int) []T

	// Element returns a copy of element i across all components.
	//
	// Parameters:
	//   - i: the element index
	//
	// Returns:
	//   - []T: one value per component, or nil if i is out of range
	Element(i int) []T

	// SetElement writes the leading components of element i. Components not given keep their values.
	//
	// Parameters:
	//   - i: the element index
	//   - values: up to Layout().Components() values
	//
	// Returns:
	//   - error: an error if i is out of range, too many values are given or the set was torn down
	SetElement(i int, values ...T) error

	// Packed returns the host arrays interleaved element-major (x0,y0,z0,w0,x1,...).
	Packed() []T
}

// AttributeSetBuilderOption is a functional option applied during NewAttributeSet.
type AttributeSetBuilderOption func(*attributeSetConfig)

type attributeSetConfig struct {
	label string
	slot  uint32
}

// WithLabel sets the debug label that identifies the set in logs and errors.
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - AttributeSetBuilderOption: a function that sets the label
func WithLabel(label string) AttributeSetBuilderOption {
	return func(c *attributeSetConfig) {
		c.label = label
	}
}

// WithSlot sets the vertex attribute location the set is bound to for drawing.
//
// Parameters:
//   - slot: the shader attribute location
//
// Returns:
//   - AttributeSetBuilderOption: a function that sets the slot
func WithSlot(slot uint32) AttributeSetBuilderOption {
	return func(c *attributeSetConfig) {
		c.slot = slot
	}
}

// setCore holds the layout-independent state of an attribute set: the ownership flag and the native
// handles. It carries no lock; only the frame-driving goroutine may touch it.
type setCore struct {
	label      string
	layoutName string
	size       int
	ctx        *GpuContext
	owner      BindingOwner

	alloc   AllocationHandle
	binding RenderBinding
	// queue is the queue of the last successful push, reused to release a compute-owned set on teardown.
	queue QueueHandle
}

// attributeSet is the implementation of AttributeSet.
type attributeSet[T Scalar] struct {
	setCore

	layout     Layout[T]
	components [][]T
}

var _ AttributeSet[float32] = &attributeSet[float32]{}

// NewAttributeSet allocates count-length component arrays filled with the layout's defaults.
// No GPU resources are created until Init.
//
// Parameters:
//   - ctx: the GPU context the set will live in
//   - layout: the per-element layout
//   - count: the number of elements, fixed for the lifetime of the set
//   - options: functional options (label, slot)
//
// Returns:
//   - AttributeSet[T]: the new, Unbound attribute set
//   - error: KindAllocation if ctx is nil, count is not positive or above layout.MaxElements(), or the
//     layout has no components
func NewAttributeSet[T Scalar](ctx *GpuContext, layout Layout[T], count int, options ...AttributeSetBuilderOption) (AttributeSet[T], error) {
	cfg := attributeSetConfig{label: layout.Name()}
	for _, opt := range options {
		opt(&cfg)
	}

	if ctx == nil {
		return nil, newError(KindAllocation, "construct", cfg.label, layout.Name(), "nil GPU context", nil)
	}
	if layout.Components() == 0 {
		return nil, newError(KindAllocation, "construct", cfg.label, layout.Name(), "layout has zero components", nil)
	}
	if count <= 0 {
		return nil, newError(KindAllocation, "construct", cfg.label, layout.Name(), fmt.Sprintf("element count %d must be positive", count), nil)
	}
	if count > layout.MaxElements() {
		return nil, newError(KindAllocation, "construct", cfg.label, layout.Name(),
			fmt.Sprintf("element count %d exceeds the %d-byte buffer limit", count, MaxBufferBytes), nil)
	}

	components := make([][]T, layout.Components())
	for c := range components {
		arr := make([]T, count)
		if d := layout.Default(c); d != 0 {
			for i := range arr {
				arr[i] = d
			}
		}
		components[c] = arr
	}

	return &attributeSet[T]{
		setCore: setCore{
			label:      cfg.label,
			layoutName: layout.Name(),
			size:       count,
			ctx:        ctx,
			owner:      Unbound,
			binding:    RenderBinding{Slot: cfg.slot},
		},
		layout:     layout,
		components: components,
	}, nil
}

func (s *attributeSet[T]) Layout() Layout[T] {
	return s.layout
}

func (s *attributeSet[T]) Component(c int) []T {
	if c < 0 || c >= len(s.components) {
		return nil
	}
	return s.components[c]
}

func (s *attributeSet[T]) Element(i int) []T {
	if s.components == nil || i < 0 || i >= s.size {
		return nil
	}
	out := make([]T, len(s.components))
	for c, arr := range s.components {
		out[c] = arr[i]
	}
	return out
}

func (s *attributeSet[T]) SetElement(i int, values ...T) error {
	if s.components == nil {
		return fmt.Errorf("attribute set %q has been released", s.label)
	}
	if i < 0 || i >= s.size {
		return fmt.Errorf("element index %d out of range [0, %d)", i, s.size)
	}
	if len(values) > len(s.components) {
		return fmt.Errorf("%d values given for %d components", len(values), len(s.components))
	}
	for c, v := range values {
		s.components[c][i] = v
	}
	return nil
}

func (s *attributeSet[T]) Packed() []T {
	if s.components == nil {
		return nil
	}
	n := len(s.components)
	out := make([]T, s.size*n)
	for i := 0; i < s.size; i++ {
		for c, arr := range s.components {
			out[i*n+c] = arr[i]
		}
	}
	return out
}

func (s *attributeSet[T]) Init() error {
	if s.owner != Unbound {
		return newError(KindReinitialization, "init", s.label, s.layoutName, "attribute set is "+s.owner.String(), nil)
	}

	// The staging buffer only lives for the duration of this call.
	staging, err := Pack(s.components)
	if err != nil {
		return newError(KindAllocation, "init", s.label, s.layoutName, "packing staging buffer", err)
	}

	render := s.ctx.render
	var rollback []func() error
	fail := func(reason string, cause error) error {
		for i := len(rollback) - 1; i >= 0; i-- {
			if rerr := rollback[i](); rerr != nil {
				s.log().WithError(rerr).Warn("rollback after failed init")
			}
		}
		return newError(KindAllocation, "init", s.label, s.layoutName, reason, cause)
	}

	vao, err := render.CreateVertexArray()
	if err != nil {
		return fail("creating vertex array", err)
	}
	rollback = append(rollback, func() error { return render.DestroyVertexArray(vao) })

	vbo, err := render.CreateVertexBuffer()
	if err != nil {
		return fail("creating vertex buffer", err)
	}
	rollback = append(rollback, func() error { return render.DestroyBuffer(vbo) })

	if err := render.UploadBufferData(vbo, staging); err != nil {
		return fail(fmt.Sprintf("uploading %d bytes", len(staging)), err)
	}
	if err := render.BindVertexAttribute(vao, vbo, s.binding.Slot, s.layout.Components(), s.layout.Kind()); err != nil {
		return fail("binding vertex attribute", err)
	}

	alloc, err := s.ctx.compute.CreateSharedBuffer(vbo)
	if err != nil {
		return fail("creating shared compute allocation", err)
	}

	s.alloc = alloc
	s.binding.VertexArray = vao
	s.binding.VertexBuffer = vbo
	s.owner = OwnedByRender
	s.log().WithField("bytes", len(staging)).Debug("attribute set initialized")
	return nil
}

func (s *attributeSet[T]) Teardown() error {
	if s.owner == Released {
		return nil
	}
	errs := s.setCore.releaseNative()
	s.components = nil
	s.owner = Released
	if len(errs) > 0 {
		return newError(KindTeardown, "teardown", s.label, s.layoutName, fmt.Sprintf("%d release(s) failed", len(errs)), errors.Join(errs...))
	}
	s.log().Debug("attribute set released")
	return nil
}

func (c *setCore) core() *setCore {
	return c
}

func (c *setCore) Label() string {
	return c.label
}

func (c *setCore) LayoutName() string {
	return c.layoutName
}

func (c *setCore) Size() int {
	return c.size
}

func (c *setCore) Owner() BindingOwner {
	return c.owner
}

func (c *setCore) Context() *GpuContext {
	return c.ctx
}

func (c *setCore) Allocation() AllocationHandle {
	return c.alloc
}

func (c *setCore) RenderBinding() RenderBinding {
	return c.binding
}

func (c *setCore) Bind(kernel KernelHandle, index int) error {
	if c.owner == Unbound || c.owner == Released {
		e := newError(KindBinding, "bind", c.label, c.layoutName, "attribute set is "+c.owner.String(), nil)
		e.Index = index
		return e
	}
	if err := SetArgument(c.ctx, kernel, index, BufferArgument(c.alloc)); err != nil {
		e := newError(KindBinding, "bind", c.label, c.layoutName, "", err)
		e.Index = index
		return e
	}
	return nil
}

func (c *setCore) Push(queue QueueHandle) error {
	if failures := transferAll(pushTransition, queue, []*setCore{c}); len(failures) > 0 {
		return failures[0]
	}
	return nil
}

func (c *setCore) Pop(queue QueueHandle) error {
	if failures := transferAll(popTransition, queue, []*setCore{c}); len(failures) > 0 {
		return failures[0]
	}
	return nil
}

// releaseNative frees every native object the set holds, best effort, in dependency order:
// hand a compute-owned allocation back, drop the compute alias, then the render objects.
func (c *setCore) releaseNative() []error {
	var errs []error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		c.log().WithError(err).WithField("resource", what).Warn("teardown release failed")
		errs = append(errs, fmt.Errorf("%s: %w", what, err))
	}

	compute := c.ctx.compute
	render := c.ctx.render
	if c.owner == OwnedByCompute && c.alloc != 0 {
		record("release from compute", compute.ReleaseFromCompute(c.queue, []AllocationHandle{c.alloc}))
	}
	if c.alloc != 0 {
		record("compute allocation", compute.ReleaseAllocation(c.alloc))
		c.alloc = 0
	}
	if c.binding.VertexArray != 0 {
		record("vertex array", render.DestroyVertexArray(c.binding.VertexArray))
		c.binding.VertexArray = 0
	}
	if c.binding.VertexBuffer != 0 {
		record("vertex buffer", render.DestroyBuffer(c.binding.VertexBuffer))
		c.binding.VertexBuffer = 0
	}
	return errs
}

func (c *setCore) log() *logrus.Entry {
	return c.ctx.logger.WithFields(logrus.Fields{
		"attribute": c.label,
		"layout":    c.layoutName,
	})
}
