package cpukernel

import (
	"fmt"
	"unsafe"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

// Args gives one kernel invocation typed access to its positional arguments. Buffer arguments are
// views straight onto the acquired allocation, so writes land in the shared memory without a copy.
// Views assume a little-endian host, matching the packed layout written by interop.Pack.
type Args struct {
	values []interop.ArgumentValue
	views  [][]byte
}

// Len returns the number of positional arguments.
func (a Args) Len() int {
	return len(a.values)
}

// Kind returns the kind of argument i.
func (a Args) Kind(i int) interop.ArgumentKind {
	if i < 0 || i >= len(a.values) {
		return -1
	}
	return a.values[i].Kind
}

// Bytes returns the raw view of buffer argument i.
//
// Parameters:
//   - i: the argument index
//
// Returns:
//   - []byte: the live allocation bytes
//   - error: an error if i is not a buffer argument
func (a Args) Bytes(i int) ([]byte, error) {
	if a.Kind(i) != interop.ArgumentBuffer {
		return nil, fmt.Errorf("argument %d is not a buffer", i)
	}
	return a.views[i], nil
}

// Float32s returns buffer argument i viewed as float32 scalars.
//
// Parameters:
//   - i: the argument index
//
// Returns:
//   - []float32: the live view
//   - error: an error if i is not a buffer argument or its size is not a multiple of 4
func (a Args) Float32s(i int) ([]float32, error) {
	b, err := a.Bytes(i)
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("argument %d: %d bytes is not a whole number of float32", i, len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4), nil
}

// Int32s returns buffer argument i viewed as int32 scalars.
//
// Parameters:
//   - i: the argument index
//
// Returns:
//   - []int32: the live view
//   - error: an error if i is not a buffer argument or its size is not a multiple of 4
func (a Args) Int32s(i int) ([]int32, error) {
	b, err := a.Bytes(i)
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("argument %d: %d bytes is not a whole number of int32", i, len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4), nil
}

// Scalar returns scalar argument i.
//
// Parameters:
//   - i: the argument index
//
// Returns:
//   - interop.ArgumentValue: the by-value argument
//   - error: an error if i is out of range or a buffer
func (a Args) Scalar(i int) (interop.ArgumentValue, error) {
	if i < 0 || i >= len(a.values) {
		return interop.ArgumentValue{}, fmt.Errorf("argument %d out of range", i)
	}
	if !a.values[i].IsScalar() {
		return interop.ArgumentValue{}, fmt.Errorf("argument %d is not a scalar", i)
	}
	return a.values[i], nil
}
