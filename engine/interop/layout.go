package interop

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// Scalar is the set of host scalar types an attribute component can hold.
// Both members are 4 bytes wide so a packed element never needs padding.
type Scalar interface {
	~int32 | ~float32
}

// ScalarKind identifies the GPU-side scalar type of a layout's components.
type ScalarKind int

const (
	// ScalarInt32 is a signed 32-bit integer component.
	ScalarInt32 ScalarKind = iota
	// ScalarFloat32 is a 32-bit IEEE-754 float component.
	ScalarFloat32
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarInt32:
		return "int32"
	case ScalarFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// MaxComponents is the widest element any layout may describe.
const MaxComponents = 4

// MaxBufferBytes is the largest packed allocation an attribute set may request. Counts whose
// packed size would exceed it are rejected at construction.
const MaxBufferBytes = math.MaxInt32

// Layout describes the per-element shape of an AttributeSet: how many components each element has,
// which scalar type they are and what every component defaults to at construction.
//
// Layouts are plain values. The four layouts used by the point field are returned by Int1, Int4,
// Float4 and Color4; custom layouts can be built with NewLayout.
type Layout[T Scalar] struct {
	name       string
	components int
	defaults   [MaxComponents]T
}

// NewLayout creates a layout descriptor.
//
// Parameters:
//   - name: a short name used in diagnostics (e.g. "float4")
//   - components: the number of components per element, 0 through MaxComponents
//   - defaults: the default value of each component; missing trailing defaults are zero
//
// Returns:
//   - Layout[T]: the layout descriptor
//   - error: an error if components is out of range or too many defaults are given
func NewLayout[T Scalar](name string, components int, defaults ...T) (Layout[T], error) {
	if components < 0 || components > MaxComponents {
		return Layout[T]{}, fmt.Errorf("layout %q: component count %d out of range [0, %d]", name, components, MaxComponents)
	}
	if len(defaults) > components {
		return Layout[T]{}, fmt.Errorf("layout %q: %d defaults given for %d components", name, len(defaults), components)
	}
	l := Layout[T]{name: name, components: components}
	copy(l.defaults[:], defaults)
	return l, nil
}

// Int1 returns the single-component integer layout, defaulting to 0.
func Int1() Layout[int32] {
	return Layout[int32]{name: "int1", components: 1}
}

// Int4 returns the four-component integer layout, defaulting to 0 in every component.
func Int4() Layout[int32] {
	return Layout[int32]{name: "int4", components: 4}
}

// Float4 returns the four-component float layout used for positions, defaulting to 0 in every component.
func Float4() Layout[float32] {
	return Layout[float32]{name: "float4", components: 4}
}

// Color4 returns the four-component float color layout. Red, green and blue default to 0 and
// alpha defaults to 1 so a freshly constructed color is opaque black.
func Color4() Layout[float32] {
	return Layout[float32]{name: "color4", components: 4, defaults: [MaxComponents]float32{0, 0, 0, 1}}
}

// Name returns the diagnostic name of the layout.
func (l Layout[T]) Name() string {
	return l.name
}

// Components returns the number of components per element.
func (l Layout[T]) Components() int {
	return l.components
}

// Default returns the default value of component c.
//
// Parameters:
//   - c: the component index
//
// Returns:
//   - T: the default value, or zero if c is out of range
func (l Layout[T]) Default(c int) T {
	if c < 0 || c >= l.components {
		var zero T
		return zero
	}
	return l.defaults[c]
}

// Kind returns the GPU scalar kind matching T.
func (l Layout[T]) Kind() ScalarKind {
	if isFloat[T]() {
		return ScalarFloat32
	}
	return ScalarInt32
}

// ScalarSize returns the size in bytes of one component.
func (l Layout[T]) ScalarSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// ElementSize returns the size in bytes of one packed element (the vertex stride).
func (l Layout[T]) ElementSize() int {
	return l.components * l.ScalarSize()
}

// MaxElements returns the largest element count whose packed size fits in MaxBufferBytes.
// It is zero for a layout with no components.
func (l Layout[T]) MaxElements() int {
	if l.ElementSize() == 0 {
		return 0
	}
	return MaxBufferBytes / l.ElementSize()
}

// ByteSize returns the size in bytes of a packed buffer holding count elements.
//
// Parameters:
//   - count: the number of elements
//
// Returns:
//   - int: count × components × scalar size, or -1 if count is negative or above MaxElements
func (l Layout[T]) ByteSize(count int) int {
	if count < 0 || count > l.MaxElements() {
		return -1
	}
	return count * l.ElementSize()
}

func (l Layout[T]) String() string {
	return fmt.Sprintf("%s(%d×%s)", l.name, l.components, l.Kind())
}

// isFloat reports whether T has float32 as its underlying type.
func isFloat[T Scalar]() bool {
	var half T = 1
	half /= 2
	return half != 0
}

// Pack interleaves component arrays into a little-endian byte buffer laid out element-major:
// x0,y0,z0,w0,x1,y1,z1,w1,...
//
// Parameters:
//   - components: one array per component, all of equal length
//
// Returns:
//   - []byte: the packed staging buffer
//   - error: an error if the arrays have unequal lengths
func Pack[T Scalar](components [][]T) ([]byte, error) {
	if len(components) == 0 {
		return nil, nil
	}
	n := len(components[0])
	for c, arr := range components {
		if len(arr) != n {
			return nil, fmt.Errorf("component %d has length %d, expected %d", c, len(arr), n)
		}
	}

	var zero T
	size := int(unsafe.Sizeof(zero))
	stride := size * len(components)
	buf := make([]byte, n*stride)
	for i := 0; i < n; i++ {
		for c, arr := range components {
			putScalar(buf[i*stride+c*size:], arr[i])
		}
	}
	return buf, nil
}

// Unpack is the inverse of Pack: it splits an element-major byte buffer back into componentCount
// arrays.
//
// Parameters:
//   - data: the packed little-endian buffer
//   - componentCount: the number of components per element
//
// Returns:
//   - [][]T: one array per component
//   - error: an error if data is not a whole number of elements
func Unpack[T Scalar](data []byte, componentCount int) ([][]T, error) {
	if componentCount <= 0 {
		return nil, fmt.Errorf("component count %d must be positive", componentCount)
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	stride := size * componentCount
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a multiple of the %d byte stride", len(data), stride)
	}
	n := len(data) / stride
	out := make([][]T, componentCount)
	for c := range out {
		out[c] = make([]T, n)
	}
	for i := 0; i < n; i++ {
		for c := range out {
			out[c][i] = getScalar[T](data[i*stride+c*size:])
		}
	}
	return out, nil
}

func putScalar[T Scalar](dst []byte, v T) {
	if isFloat[T]() {
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		return
	}
	binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
}

func getScalar[T Scalar](src []byte) T {
	bits := binary.LittleEndian.Uint32(src)
	if isFloat[T]() {
		return T(math.Float32frombits(bits))
	}
	return T(int32(bits))
}
