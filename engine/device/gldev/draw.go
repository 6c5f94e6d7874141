package gldev

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/go-gl/gl/v3.3-core/gl"
)

// DrawPoints draws count points through a composite vertex array that takes the attribute at each
// binding's slot from that binding's own vertex array.
func (d *device) DrawPoints(bindings []interop.RenderBinding, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(bindings) == 0 || count < 0 {
		return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, "draw needs at least one binding and a non-negative count")
	}

	slots := make([]uint32, len(bindings))
	attrs := make([]vertexAttribute, len(bindings))
	keys := make([]string, len(bindings))
	for i, b := range bindings {
		va, ok := d.vaos[b.VertexArray]
		if !ok {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", b.VertexArray))
		}
		attr, ok := va[b.Slot]
		if !ok {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("vertex array %d has no attribute at slot %d", b.VertexArray, b.Slot))
		}
		if a := d.aliasOf(attr.buf); a != nil && a.acquired {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is mapped for compute", attr.buf))
		}
		if d.bufs[attr.buf] < count*attr.components*4 {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d holds fewer than %d vertices", attr.buf, count))
		}
		slots[i], attrs[i] = b.Slot, attr
		keys[i] = fmt.Sprintf("%d:%d:%d:%d", b.Slot, attr.buf, attr.components, attr.kind)
	}

	vao := d.composite(strings.Join(keys, ","), slots, attrs)

	gl.ClearColor(0.1, 0.1, 0.1, 1.0)
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.UseProgram(d.program)
	gl.Uniform1f(d.pointSizeLoc, d.pointSize)
	gl.BindVertexArray(vao)
	if count > 0 {
		gl.DrawArrays(gl.POINTS, 0, int32(count))
	}
	gl.BindVertexArray(0)
	gl.UseProgram(0)
	if err := glError(OpDraw); err != nil {
		return err
	}
	return nil
}

type compositeArray struct {
	vao  uint32
	bufs []interop.BufferHandle
}

// composite returns the vertex array for a combination of attributes, creating it on first use.
// Caller holds d.mu.
func (d *device) composite(key string, slots []uint32, attrs []vertexAttribute) uint32 {
	if c, ok := d.composites[key]; ok {
		return c.vao
	}
	c := &compositeArray{}
	gl.GenVertexArrays(1, &c.vao)
	gl.BindVertexArray(c.vao)
	for i, slot := range slots {
		pointAttribute(slot, attrs[i])
		c.bufs = append(c.bufs, attrs[i].buf)
	}
	gl.BindVertexArray(0)
	d.composites[key] = c
	return c.vao
}

// dropComposites deletes the composite vertex arrays that read buf. Caller holds d.mu.
func (d *device) dropComposites(buf interop.BufferHandle) {
	for key, c := range d.composites {
		if slices.Contains(c.bufs, buf) {
			gl.DeleteVertexArrays(1, &c.vao)
			delete(d.composites, key)
		}
	}
}
