package interop_test

import (
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutDefaults(t *testing.T) {
	tests := []struct {
		name       string
		describe   func() (string, int, interop.ScalarKind, []float64)
		components int
		kind       interop.ScalarKind
		defaults   []float64
	}{
		{"int1", func() (string, int, interop.ScalarKind, []float64) { return describeLayout(interop.Int1()) }, 1, interop.ScalarInt32, []float64{0}},
		{"int4", func() (string, int, interop.ScalarKind, []float64) { return describeLayout(interop.Int4()) }, 4, interop.ScalarInt32, []float64{0, 0, 0, 0}},
		{"float4", func() (string, int, interop.ScalarKind, []float64) { return describeLayout(interop.Float4()) }, 4, interop.ScalarFloat32, []float64{0, 0, 0, 0}},
		{"color4", func() (string, int, interop.ScalarKind, []float64) { return describeLayout(interop.Color4()) }, 4, interop.ScalarFloat32, []float64{0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, components, kind, defaults := tt.describe()
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.components, components)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.defaults, defaults)
		})
	}
}

func describeLayout[T interop.Scalar](l interop.Layout[T]) (string, int, interop.ScalarKind, []float64) {
	defaults := make([]float64, l.Components())
	for c := range defaults {
		defaults[c] = float64(l.Default(c))
	}
	return l.Name(), l.Components(), l.Kind(), defaults
}

func TestLayoutSizes(t *testing.T) {
	l := interop.Color4()
	assert.Equal(t, 4, l.ScalarSize())
	assert.Equal(t, 16, l.ElementSize())
	assert.Equal(t, 48, l.ByteSize(3))
	assert.Equal(t, 4, interop.Int1().ElementSize())
	assert.Equal(t, interop.MaxBufferBytes/16, l.MaxElements())
}

func TestNewLayoutRejectsBadShapes(t *testing.T) {
	_, err := interop.NewLayout[float32]("wide", 5)
	assert.Error(t, err, "five components accepted")
	_, err = interop.NewLayout[int32]("neg", -1)
	assert.Error(t, err, "negative components accepted")
	_, err = interop.NewLayout[float32]("over", 2, 1, 2, 3)
	assert.Error(t, err, "more defaults than components accepted")

	l, err := interop.NewLayout[float32]("uv", 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), l.Default(0))
	assert.Zero(t, l.Default(1))
	assert.Zero(t, l.Default(7))

	empty, err := interop.NewLayout[float32]("empty", 0)
	require.NoError(t, err)
	assert.Zero(t, empty.MaxElements())
}

func TestPackInterleavesElementMajor(t *testing.T) {
	components := [][]float32{
		{1, 5},
		{2, 6},
		{3, 7},
		{4, 8},
	}
	data, err := interop.Pack(components)
	require.NoError(t, err)
	require.Len(t, data, 32)

	flat, err := interop.Unpack[float32](data, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, flat[0])

	back, err := interop.Unpack[float32](data, 4)
	require.NoError(t, err)
	assert.Equal(t, components, back)
}

func TestPackSignedIntegers(t *testing.T) {
	data, err := interop.Pack([][]int32{{-1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 2, 0, 0, 0}, data)
}

func TestPackRejectsRaggedComponents(t *testing.T) {
	_, err := interop.Pack([][]int32{{1, 2}, {3}})
	assert.Error(t, err, "ragged components accepted")
	_, err = interop.Unpack[int32](make([]byte, 6), 1)
	assert.Error(t, err, "partial element accepted")
}
