package interop_test

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/hostdev"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAttributeSetFillsDefaults(t *testing.T) {
	_, ctx := newContext(t)

	colors, err := interop.NewAttributeSet(ctx, interop.Color4(), 3)
	require.NoError(t, err)
	for c, want := range []float32{0, 0, 0, 1} {
		assert.Equal(t, []float32{want, want, want}, colors.Component(c), "component %d", c)
	}
	assert.Equal(t, interop.Unbound, colors.Owner())
	assert.Equal(t, "color4", colors.Label())

	ids, err := interop.NewAttributeSet(ctx, interop.Int1(), 5, interop.WithLabel("ids"))
	require.NoError(t, err)
	assert.Len(t, ids.Component(0), 5)
	assert.Nil(t, ids.Component(1))
}

func TestNewAttributeSetRejectsBadCounts(t *testing.T) {
	dev, ctx := newContext(t)

	tests := []struct {
		name  string
		count int
	}{
		{"negative", -1},
		{"zero", 0},
		{"above buffer limit", interop.Float4().MaxElements() + 1},
		{"huge", math.MaxInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := interop.NewAttributeSet(ctx, interop.Float4(), tt.count)
			assert.ErrorIs(t, err, interop.ErrAllocation)
			assert.Nil(t, s)
		})
	}

	_, err := interop.NewAttributeSet(nil, interop.Float4(), 4)
	assert.ErrorIs(t, err, interop.ErrAllocation, "nil context")
	empty, _ := interop.NewLayout[float32]("empty", 0)
	_, err = interop.NewAttributeSet(ctx, empty, 4)
	assert.ErrorIs(t, err, interop.ErrAllocation, "empty layout")

	assert.Zero(t, dev.Calls(hostdev.OpCreateVertexArray))
	assert.Zero(t, dev.Live().Total(), "native objects created for rejected sets")
}

func TestNewAttributeSetAcceptsTheBufferLimit(t *testing.T) {
	_, ctx := newContext(t)
	limit := interop.Int1().MaxElements()
	assert.Equal(t, interop.MaxBufferBytes/4, limit)
	assert.Equal(t, -1, interop.Int1().ByteSize(limit+1))
	assert.Equal(t, -1, interop.Int1().ByteSize(-1))

	s, err := interop.NewAttributeSet(ctx, interop.Int4(), 1<<10)
	require.NoError(t, err)
	assert.Equal(t, 1<<10, s.Size())
}

func TestElementAccess(t *testing.T) {
	_, ctx := newContext(t)
	s := newFloat4(t, ctx, 2, "positions")

	require.NoError(t, s.SetElement(1, 1, 2))
	assert.Equal(t, []float32{1, 2, 0, 0}, s.Element(1))
	assert.Error(t, s.SetElement(2, 1), "out-of-range element accepted")
	assert.Error(t, s.SetElement(0, 1, 2, 3, 4, 5), "five values accepted")
	assert.Nil(t, s.Element(-1))
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 2, 0, 0}, s.Packed())
}

func TestInitTeardownLeavesNoObjects(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 8, "positions")

	mustInit(t, s)
	assert.Equal(t, interop.OwnedByRender, s.Owner())
	live := dev.Live()
	assert.Equal(t, 1, live.VertexArrays)
	assert.Equal(t, 1, live.Buffers)
	assert.Equal(t, 1, live.Allocations)
	assert.NotZero(t, s.Allocation())
	assert.NotZero(t, s.RenderBinding().VertexArray)
	assert.NotZero(t, s.RenderBinding().VertexBuffer)

	require.NoError(t, s.Teardown())
	assert.Zero(t, dev.Live().Total(), "leaked objects: %+v", dev.Live())
	assert.Equal(t, interop.Released, s.Owner())
	assert.Nil(t, s.Component(0))
	assert.Zero(t, s.Allocation())
}

func TestInitUploadsPackedData(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 4, "positions")
	for i := 0; i < 4; i++ {
		f := float32(i)
		require.NoError(t, s.SetElement(i, f, f+0.25, f+0.5, 1))
	}
	mustInit(t, s)

	data, ok := dev.BufferContents(s.RenderBinding().VertexBuffer)
	require.True(t, ok, "vertex buffer missing")
	got, err := interop.Unpack[float32](data, 4)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{
		{0, 1, 2, 3},
		{0.25, 1.25, 2.25, 3.25},
		{0.5, 1.5, 2.5, 3.5},
		{1, 1, 1, 1},
	}, got)

	attr, ok := dev.VertexAttribute(s.RenderBinding().VertexArray, s.RenderBinding().Slot)
	require.True(t, ok)
	assert.Equal(t, 4, attr.Components)
	assert.Equal(t, interop.ScalarFloat32, attr.Kind)
	assert.Equal(t, s.RenderBinding().VertexBuffer, attr.Buffer)
}

func TestInitTwiceIsReinitialization(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 2, "positions")
	mustInit(t, s)

	assert.ErrorIs(t, s.Init(), interop.ErrReinitialization)
	assert.Equal(t, 1, dev.Live().Buffers, "second init created objects")

	_ = s.Teardown()
	assert.ErrorIs(t, s.Init(), interop.ErrReinitialization, "init after teardown")
}

func TestInitRollsBackOnDriverFailure(t *testing.T) {
	ops := []string{
		hostdev.OpCreateVertexArray,
		hostdev.OpCreateVertexBuffer,
		hostdev.OpUploadBufferData,
		hostdev.OpBindVertexAttribute,
		hostdev.OpCreateSharedBuffer,
	}
	for _, op := range ops {
		t.Run(op, func(t *testing.T) {
			dev, ctx := newContext(t)
			s := newFloat4(t, ctx, 4, "positions")
			dev.InjectFault(hostdev.Fault{Op: op, Code: cpukernel.CodeOutOfResources})

			err := s.Init()
			require.ErrorIs(t, err, interop.ErrAllocation)
			var ie *interop.Error
			require.ErrorAs(t, err, &ie)
			code, ok := ie.DriverCode()
			assert.True(t, ok)
			assert.Equal(t, cpukernel.CodeOutOfResources, code)
			assert.Zero(t, dev.Live().Total(), "objects left behind: %+v", dev.Live())
			assert.Equal(t, interop.Unbound, s.Owner())

			mustInit(t, s)
			assert.Equal(t, interop.OwnedByRender, s.Owner())
		})
	}
}

func TestPushPopRoundTrips(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()
	s := newFloat4(t, ctx, 4, "positions")
	want := make([][]float32, 4)
	for i := range want {
		want[i] = []float32{float32(i), float32(2 * i), float32(3 * i), 1}
		require.NoError(t, s.SetElement(i, want[i]...))
	}
	mustInit(t, s)
	before, _ := dev.BufferContents(s.RenderBinding().VertexBuffer)

	for k := 0; k < 5; k++ {
		require.NoError(t, s.Push(q), "push %d", k)
		require.Equal(t, interop.OwnedByCompute, s.Owner())
		require.NoError(t, s.Pop(q), "pop %d", k)
		require.Equal(t, interop.OwnedByRender, s.Owner())
	}

	after, _ := dev.BufferContents(s.RenderBinding().VertexBuffer)
	assert.Equal(t, before, after, "buffer changed without a kernel running")
	assert.Equal(t, 4, s.Size())
	for i := range want {
		assert.Equal(t, want[i], s.Element(i), "element %d", i)
	}
}

func TestPushRequiresInit(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()
	s := newFloat4(t, ctx, 4, "positions")

	assert.ErrorIs(t, s.Push(q), interop.ErrAcquire)
	assert.ErrorIs(t, s.Pop(q), interop.ErrRelease)
	assert.Zero(t, dev.Calls(hostdev.OpAcquire), "driver was called for an uninitialized set")
}

func TestDoubleTransfersAreRejected(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)

	assert.ErrorIs(t, s.Pop(q), interop.ErrRelease, "pop while render-owned")
	require.NoError(t, s.Push(q))
	assert.ErrorIs(t, s.Push(q), interop.ErrAcquire, "double push")
	assert.Equal(t, interop.OwnedByCompute, s.Owner())
	assert.Equal(t, 1, dev.Calls(hostdev.OpAcquire))
}

func TestPushDriverFailureKeepsOwner(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)

	dev.InjectFault(hostdev.Fault{Op: hostdev.OpAcquire, Code: cpukernel.CodeInvalidGLObject})
	err := s.Push(q)
	require.ErrorIs(t, err, interop.ErrAcquire)
	var de *interop.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, cpukernel.CodeInvalidGLObject, de.Code)
	assert.Equal(t, interop.OwnedByRender, s.Owner())
	assert.True(t, interop.IsFatal(err), "acquire failure should be fatal")
}

func TestTeardownIsIdempotent(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)

	require.NoError(t, s.Teardown())
	require.NoError(t, s.Teardown())
	assert.Equal(t, 1, dev.Calls(hostdev.OpReleaseAllocation))
	assert.Equal(t, 1, dev.Calls(hostdev.OpDestroyBuffer))
}

func TestTeardownBeforeInit(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 4, "positions")
	require.NoError(t, s.Teardown())
	assert.Equal(t, interop.Released, s.Owner())
	assert.Zero(t, dev.Calls(hostdev.OpDestroyBuffer), "driver called for an uninitialized set")
}

func TestTeardownFromCompute(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)
	require.NoError(t, s.Push(q))

	require.NoError(t, s.Teardown())
	assert.Equal(t, 1, dev.Calls(hostdev.OpRelease))
	assert.Zero(t, dev.Live().Total(), "leaked objects: %+v", dev.Live())
}

func TestTeardownAttemptsEveryRelease(t *testing.T) {
	dev, ctx := newContext(t)
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)
	dev.InjectFault(hostdev.Fault{Op: hostdev.OpDestroyVertexArray, Code: cpukernel.CodeInvalidValue})

	err := s.Teardown()
	require.ErrorIs(t, err, interop.ErrTeardown)
	assert.False(t, interop.IsFatal(err), "teardown failure should not be fatal")
	assert.Equal(t, 1, dev.Calls(hostdev.OpDestroyBuffer))
	assert.Zero(t, dev.Live().Buffers)
	assert.Zero(t, dev.Live().Allocations)
	assert.Equal(t, interop.Released, s.Owner())
}

func TestLayoutsShareTheProtocol(t *testing.T) {
	dev, ctx := newContext(t)
	q := dev.CreateQueue()

	ids, _ := interop.NewAttributeSet(ctx, interop.Int1(), 3, interop.WithLabel("ids"), interop.WithSlot(2))
	cells, _ := interop.NewAttributeSet(ctx, interop.Int4(), 3, interop.WithLabel("cells"), interop.WithSlot(3))
	colors, _ := interop.NewAttributeSet(ctx, interop.Color4(), 3, interop.WithLabel("colors"), interop.WithSlot(1))
	sets := []interop.Transferable{ids, cells, colors}
	for _, s := range sets {
		mustInit(t, s)
	}

	attr, _ := dev.VertexAttribute(ids.RenderBinding().VertexArray, 2)
	assert.Equal(t, 1, attr.Components)
	assert.Equal(t, interop.ScalarInt32, attr.Kind)

	require.NoError(t, interop.PushAll(q, sets...))
	require.NoError(t, interop.PopAll(q, sets...))
	for _, s := range sets {
		assert.NoError(t, s.Teardown(), "teardown %s", s.Label())
	}
	assert.Zero(t, dev.Live().Total(), "leaked objects: %+v", dev.Live())
}
