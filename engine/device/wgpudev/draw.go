package wgpudev

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/cogentcore/webgpu/wgpu"
)

var float32Formats = [...]wgpu.VertexFormat{
	wgpu.VertexFormatFloat32,
	wgpu.VertexFormatFloat32x2,
	wgpu.VertexFormatFloat32x3,
	wgpu.VertexFormatFloat32x4,
}

var sint32Formats = [...]wgpu.VertexFormat{
	wgpu.VertexFormatSint32,
	wgpu.VertexFormatSint32x2,
	wgpu.VertexFormatSint32x3,
	wgpu.VertexFormatSint32x4,
}

// vertexFormat maps a tightly packed attribute to its WebGPU vertex format.
func vertexFormat(components int, kind interop.ScalarKind) (wgpu.VertexFormat, error) {
	if components < 1 || components > interop.MaxComponents {
		return 0, fmt.Errorf("component count %d", components)
	}
	switch kind {
	case interop.ScalarFloat32:
		return float32Formats[components-1], nil
	case interop.ScalarInt32:
		return sint32Formats[components-1], nil
	default:
		return 0, fmt.Errorf("scalar kind %v", kind)
	}
}

// DrawPoints renders count points into the surface or offscreen target, taking vertex buffer i from
// bindings[i] and presenting the frame when a surface is configured.
func (d *device) DrawPoints(bindings []interop.RenderBinding, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(bindings) == 0 || count < 0 {
		return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, "draw needs at least one binding and a non-negative count")
	}

	attrs := make([]vertexAttribute, len(bindings))
	buffers := make([]*wgpu.Buffer, len(bindings))
	for i, b := range bindings {
		va, ok := d.vaos[b.VertexArray]
		if !ok {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, fmt.Sprintf("unknown vertex array %d", b.VertexArray))
		}
		attr, ok := va.attributes[b.Slot]
		if !ok {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("vertex array %d has no attribute at slot %d", b.VertexArray, b.Slot))
		}
		if h := d.sharedAllocation(attr.buf); h != 0 && d.allocs[h].acquired {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d is acquired for compute", attr.buf))
		}
		buf := d.bufs[attr.buf]
		if buf == nil || buf.GetSize() < uint64(count*attr.components*4) {
			return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("buffer %d holds fewer than %d vertices", attr.buf, count))
		}
		attrs[i] = attr
		buffers[i] = buf
	}

	pipeline, err := d.pointPipeline(bindings, attrs)
	if err != nil {
		return err
	}

	view, frame, err := d.beginFrame()
	if err != nil {
		return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, err.Error())
	}
	defer d.endFrame(view, frame)

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return interop.NewDriverError(OpDraw, cpukernel.CodeOutOfResources, err.Error())
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: 0.1, G: 0.1, B: 0.1, A: 1.0,
				},
			},
		},
	})
	pass.SetPipeline(pipeline)
	for i, buf := range buffers {
		pass.SetVertexBuffer(uint32(i), buf, 0, wgpu.WholeSize)
	}
	if count > 0 {
		pass.Draw(uint32(count), 1, 0, 0)
	}
	pass.End()
	pass.Release()

	commands, err := encoder.Finish(nil)
	if err != nil {
		return interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, err.Error())
	}
	d.queue.Submit(commands)
	commands.Release()
	if frame != nil {
		d.surface.Present()
	}
	return nil
}

// beginFrame returns the view to render into and, with a surface, the acquired surface texture.
// Caller holds d.mu.
func (d *device) beginFrame() (*wgpu.TextureView, *wgpu.Texture, error) {
	if d.surface == nil {
		return d.targetView, nil, nil
	}
	texture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return nil, nil, err
	}
	view, err := texture.CreateView(nil)
	if err != nil {
		texture.Release()
		return nil, nil, err
	}
	return view, texture, nil
}

func (d *device) endFrame(view *wgpu.TextureView, frame *wgpu.Texture) {
	if frame == nil {
		return
	}
	view.Release()
	frame.Release()
}

// pointPipeline returns the point-list pipeline for the attribute formats of a draw, creating it on
// first use. Caller holds d.mu.
func (d *device) pointPipeline(bindings []interop.RenderBinding, attrs []vertexAttribute) (*wgpu.RenderPipeline, error) {
	layouts := make([]wgpu.VertexBufferLayout, len(attrs))
	keys := make([]string, len(attrs))
	for i, attr := range attrs {
		format, err := vertexFormat(attr.components, attr.kind)
		if err != nil {
			return nil, interop.NewDriverError(OpDraw, cpukernel.CodeInvalidValue, err.Error())
		}
		layouts[i] = wgpu.VertexBufferLayout{
			ArrayStride: uint64(attr.components * 4),
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: format, Offset: 0, ShaderLocation: bindings[i].Slot},
			},
		}
		keys[i] = fmt.Sprintf("%d:%d", bindings[i].Slot, format)
	}
	key := strings.Join(keys, ",")
	if p, ok := d.pipelines[key]; ok {
		return p, nil
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "points",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: d.pointShader,
		},
	})
	if err != nil {
		return nil, interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("point shader: %v", err))
	}
	defer module.Release()

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label: "points",
	})
	if err != nil {
		return nil, interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, err.Error())
	}
	defer layout.Release()

	pipeline, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "points Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers:    layouts,
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    d.surfaceFormat,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyPointList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, interop.NewDriverError(OpDraw, cpukernel.CodeInvalidOperation, fmt.Sprintf("point pipeline: %v", err))
	}
	d.pipelines[key] = pipeline
	d.logger.WithField("layout", key).Debug("point pipeline created")
	return pipeline, nil
}

// releasePipelines drops cached render pipelines. Caller holds d.mu.
func (d *device) releasePipelines() {
	for key, p := range d.pipelines {
		p.Release()
		delete(d.pipelines, key)
	}
}
