package interop

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ArgumentKind identifies what an ArgumentValue carries.
type ArgumentKind int

const (
	// ArgumentBuffer is a compute allocation passed by reference.
	ArgumentBuffer ArgumentKind = iota
	// ArgumentInt32 is a signed 32-bit scalar passed by value.
	ArgumentInt32
	// ArgumentUint32 is an unsigned 32-bit scalar passed by value.
	ArgumentUint32
	// ArgumentFloat32 is a 32-bit float scalar passed by value.
	ArgumentFloat32
)

func (k ArgumentKind) String() string {
	switch k {
	case ArgumentBuffer:
		return "buffer"
	case ArgumentInt32:
		return "int32"
	case ArgumentUint32:
		return "uint32"
	case ArgumentFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// ArgumentValue is one positional kernel argument: either an allocation reference or a scalar
// encoded as 4 little-endian bytes.
type ArgumentValue struct {
	Kind       ArgumentKind
	Allocation AllocationHandle
	Bytes      [4]byte
}

// BufferArgument wraps a compute allocation as a kernel argument.
func BufferArgument(alloc AllocationHandle) ArgumentValue {
	return ArgumentValue{Kind: ArgumentBuffer, Allocation: alloc}
}

// Int32Argument wraps a signed scalar as a kernel argument.
func Int32Argument(v int32) ArgumentValue {
	a := ArgumentValue{Kind: ArgumentInt32}
	binary.LittleEndian.PutUint32(a.Bytes[:], uint32(v))
	return a
}

// Uint32Argument wraps an unsigned scalar as a kernel argument.
func Uint32Argument(v uint32) ArgumentValue {
	a := ArgumentValue{Kind: ArgumentUint32}
	binary.LittleEndian.PutUint32(a.Bytes[:], v)
	return a
}

// Float32Argument wraps a float scalar as a kernel argument.
func Float32Argument(v float32) ArgumentValue {
	a := ArgumentValue{Kind: ArgumentFloat32}
	binary.LittleEndian.PutUint32(a.Bytes[:], math.Float32bits(v))
	return a
}

// IsScalar reports whether the argument is passed by value.
func (a ArgumentValue) IsScalar() bool {
	return a.Kind != ArgumentBuffer
}

// Int32 decodes a scalar argument as int32.
func (a ArgumentValue) Int32() int32 {
	return int32(binary.LittleEndian.Uint32(a.Bytes[:]))
}

// Uint32 decodes a scalar argument as uint32.
func (a ArgumentValue) Uint32() uint32 {
	return binary.LittleEndian.Uint32(a.Bytes[:])
}

// Float32 decodes a scalar argument as float32.
func (a ArgumentValue) Float32() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(a.Bytes[:]))
}

func (a ArgumentValue) String() string {
	switch a.Kind {
	case ArgumentBuffer:
		return fmt.Sprintf("buffer(%d)", a.Allocation)
	case ArgumentInt32:
		return fmt.Sprintf("int32(%d)", a.Int32())
	case ArgumentUint32:
		return fmt.Sprintf("uint32(%d)", a.Uint32())
	case ArgumentFloat32:
		return fmt.Sprintf("float32(%g)", a.Float32())
	default:
		return "unknown"
	}
}

// SetArgument validates and binds a single positional argument of kernel.
//
// Parameters:
//   - ctx: the GPU context whose compute subsystem owns the kernel
//   - kernel: the kernel to configure
//   - index: the positional argument slot
//   - value: the argument
//
// Returns:
//   - error: an *Error of kind KindArgument naming the index and reason on rejection
func SetArgument(ctx *GpuContext, kernel KernelHandle, index int, value ArgumentValue) error {
	if ctx == nil {
		return argumentError(index, "nil GPU context", nil)
	}
	if kernel == 0 {
		return argumentError(index, "invalid kernel handle", nil)
	}
	if index < 0 {
		return argumentError(index, "negative argument index", nil)
	}
	if value.Kind == ArgumentBuffer && value.Allocation == 0 {
		return argumentError(index, "null allocation", nil)
	}
	if value.Kind < ArgumentBuffer || value.Kind > ArgumentFloat32 {
		return argumentError(index, "type mismatch: unknown argument kind", nil)
	}
	if err := ctx.compute.SetKernelArgument(kernel, index, value); err != nil {
		return argumentError(index, "rejected by compute driver", err)
	}
	return nil
}

func argumentError(index int, reason string, err error) *Error {
	e := newError(KindArgument, "set-argument", "", "", reason, err)
	e.Index = index
	return e
}

// KernelBinder keeps the positional argument table of one kernel. Attribute sets are bound once;
// scalars such as the point count and time tick are updated on the host and re-sent by value on
// every Apply.
type KernelBinder struct {
	ctx    *GpuContext
	kernel KernelHandle
	sets   map[int]Transferable
	values map[int]ArgumentValue
}

// NewKernelBinder creates an empty argument table for kernel.
//
// Parameters:
//   - ctx: the GPU context
//   - kernel: the kernel whose arguments are managed
//
// Returns:
//   - *KernelBinder: the binder
func NewKernelBinder(ctx *GpuContext, kernel KernelHandle) *KernelBinder {
	return &KernelBinder{
		ctx:    ctx,
		kernel: kernel,
		sets:   make(map[int]Transferable),
		values: make(map[int]ArgumentValue),
	}
}

// Kernel returns the kernel handle the binder targets.
func (b *KernelBinder) Kernel() KernelHandle {
	return b.kernel
}

// BindSet binds an attribute set's allocation at index immediately and remembers it.
//
// Parameters:
//   - index: the argument slot
//   - set: the attribute set
//
// Returns:
//   - error: a KindBinding *Error if the set could not be bound
func (b *KernelBinder) BindSet(index int, set Transferable) error {
	if err := set.Bind(b.kernel, index); err != nil {
		return err
	}
	delete(b.values, index)
	b.sets[index] = set
	return nil
}

// SetScalar stores a by-value argument. It is sent on the next Apply.
//
// Parameters:
//   - index: the argument slot
//   - value: a scalar argument
//
// Returns:
//   - error: a KindArgument *Error if value is not a scalar or the slot holds an attribute set
func (b *KernelBinder) SetScalar(index int, value ArgumentValue) error {
	if !value.IsScalar() {
		return argumentError(index, "type mismatch: expected scalar", nil)
	}
	if _, ok := b.sets[index]; ok {
		return argumentError(index, "type mismatch: slot holds an attribute set", nil)
	}
	b.values[index] = value
	return nil
}

// Apply re-sends every scalar argument in ascending index order.
//
// Returns:
//   - error: the first KindArgument *Error encountered
func (b *KernelBinder) Apply() error {
	indices := make([]int, 0, len(b.values))
	for i := range b.values {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		if err := SetArgument(b.ctx, b.kernel, i, b.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Sets returns the attribute sets bound to this kernel keyed by argument index.
func (b *KernelBinder) Sets() map[int]Transferable {
	return b.sets
}
