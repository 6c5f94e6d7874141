package wgpudev

import (
	"fmt"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
	"github.com/cogentcore/webgpu/wgpu"
)

// uniformSize is the size of the uniform buffer backing one scalar argument.
const uniformSize = 16

// KernelSpec describes a WGSL compute kernel. Argument i of the kernel is bound at
// @group(0) @binding(i): buffer arguments to storage bindings, scalar arguments to uniforms.
type KernelSpec struct {
	Label         string
	Source        string
	EntryPoint    string
	WorkgroupSize int
	Arguments     []wgpu.BufferBindingType
}

type kernel struct {
	spec     KernelSpec
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout

	args     []interop.ArgumentValue
	set      []bool
	uniforms []*wgpu.Buffer

	bindGroup *wgpu.BindGroup
	dirty     bool
}

func (d *device) CreateKernel(spec KernelSpec) (interop.KernelHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if spec.WorkgroupSize <= 0 || len(spec.Arguments) == 0 {
		return 0, interop.NewDriverError(OpCreateKernel, cpukernel.CodeInvalidValue, "kernel needs a workgroup size and at least one argument")
	}
	if spec.EntryPoint == "" {
		spec.EntryPoint = "main"
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: spec.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: spec.Source,
		},
	})
	if err != nil {
		return 0, interop.NewDriverError(OpCreateKernel, cpukernel.CodeInvalidKernel, err.Error())
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, len(spec.Arguments))
	for i, t := range spec.Arguments {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}
	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   spec.Label + " Bind Group Layout",
		Entries: entries,
	})
	if err != nil {
		return 0, interop.NewDriverError(OpCreateKernel, cpukernel.CodeInvalidKernel, fmt.Sprintf("bind group layout: %v", err))
	}

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            spec.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return 0, interop.NewDriverError(OpCreateKernel, cpukernel.CodeInvalidKernel, fmt.Sprintf("pipeline layout: %v", err))
	}
	defer layout.Release()

	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  spec.Label + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: spec.EntryPoint,
		},
	})
	if err != nil {
		bgl.Release()
		return 0, interop.NewDriverError(OpCreateKernel, cpukernel.CodeInvalidKernel, err.Error())
	}

	h := interop.KernelHandle(d.handle())
	d.kernels[h] = &kernel{
		spec:     spec,
		pipeline: pipeline,
		layout:   bgl,
		args:     make([]interop.ArgumentValue, len(spec.Arguments)),
		set:      make([]bool, len(spec.Arguments)),
		uniforms: make([]*wgpu.Buffer, len(spec.Arguments)),
	}
	d.logger.WithField("kernel", spec.Label).Debug("compute kernel created")
	return h, nil
}

// SetKernelArgument records buffer arguments for the next bind group and writes scalar arguments
// to their uniform buffers immediately.
func (d *device) SetKernelArgument(kh interop.KernelHandle, index int, value interop.ArgumentValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k, ok := d.kernels[kh]
	if !ok {
		return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidKernel, fmt.Sprintf("unknown kernel %d", kh)), index)
	}
	if index < 0 || index >= len(k.args) {
		return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidArgIndex, fmt.Sprintf("kernel %q takes %d arguments", k.spec.Label, len(k.args))), index)
	}

	uniform := k.spec.Arguments[index] == wgpu.BufferBindingTypeUniform
	if value.Kind == interop.ArgumentBuffer {
		if uniform {
			return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidArgValue, "buffer passed to a uniform binding"), index)
		}
		if _, ok := d.allocs[value.Allocation]; !ok {
			return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidMemObject, fmt.Sprintf("unknown allocation %d", value.Allocation)), index)
		}
		if !k.set[index] || k.args[index] != value {
			k.dirty = true
		}
	} else {
		if !uniform {
			return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeInvalidArgSize, "scalar passed to a storage binding"), index)
		}
		if k.uniforms[index] == nil {
			buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: fmt.Sprintf("%s argument %d", k.spec.Label, index),
				Size:  uniformSize,
				Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
			})
			if err != nil {
				return indexed(interop.NewDriverError(OpSetKernelArgument, cpukernel.CodeOutOfResources, err.Error()), index)
			}
			k.uniforms[index] = buf
			k.dirty = true
		}
		d.queue.WriteBuffer(k.uniforms[index], 0, scalarBytes(value))
	}
	k.args[index] = value
	k.set[index] = true
	return nil
}

func scalarBytes(v interop.ArgumentValue) []byte {
	out := make([]byte, uniformSize)
	copy(out, v.Bytes[:])
	return out
}

// Dispatch records one compute pass over ceil(globalSize/WorkgroupSize) workgroups and submits it.
// Completion is awaited by ReleaseFromCompute.
func (d *device) Dispatch(queue interop.QueueHandle, kh interop.KernelHandle, globalSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.queues[queue] {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidQueue, fmt.Sprintf("unknown queue %d", queue))
	}
	k, ok := d.kernels[kh]
	if !ok {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidKernel, fmt.Sprintf("unknown kernel %d", kh))
	}
	if globalSize < 0 {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidValue, fmt.Sprintf("global size %d", globalSize))
	}
	for i, ok := range k.set {
		if !ok {
			return indexed(interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidKernelArgs, fmt.Sprintf("argument %d is not set", i)), i)
		}
		if k.args[i].Kind != interop.ArgumentBuffer {
			continue
		}
		a := d.allocs[k.args[i].Allocation]
		if a == nil || !a.acquired || a.queue != queue {
			return indexed(interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidOperation, fmt.Sprintf("allocation %d is not acquired on queue %d", k.args[i].Allocation, queue)), i)
		}
	}
	if globalSize == 0 {
		return nil
	}

	if k.dirty || k.bindGroup == nil {
		if err := d.rebuildBindGroup(k); err != nil {
			return err
		}
	}

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeOutOfResources, err.Error())
	}
	defer encoder.Release()

	groups := (globalSize + k.spec.WorkgroupSize - 1) / k.spec.WorkgroupSize
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(uint32(groups), 1, 1)
	pass.End()
	pass.Release()

	commands, err := encoder.Finish(nil)
	if err != nil {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidOperation, err.Error())
	}
	d.queue.Submit(commands)
	commands.Release()
	return nil
}

// rebuildBindGroup binds the current argument buffers. Caller holds d.mu.
func (d *device) rebuildBindGroup(k *kernel) error {
	entries := make([]wgpu.BindGroupEntry, len(k.args))
	for i, arg := range k.args {
		buf := k.uniforms[i]
		if arg.Kind == interop.ArgumentBuffer {
			buf = d.bufs[d.allocs[arg.Allocation].buf]
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.spec.Label + " Bind Group",
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return interop.NewDriverError(OpDispatch, cpukernel.CodeInvalidKernelArgs, err.Error())
	}
	if k.bindGroup != nil {
		k.bindGroup.Release()
	}
	k.bindGroup = bg
	k.dirty = false
	return nil
}

// forget clears buffer arguments that reference alloc.
func (k *kernel) forget(alloc interop.AllocationHandle) {
	for i, arg := range k.args {
		if arg.Kind == interop.ArgumentBuffer && arg.Allocation == alloc {
			k.args[i] = interop.ArgumentValue{}
			k.set[i] = false
			k.dirty = true
		}
	}
	if k.dirty && k.bindGroup != nil {
		k.bindGroup.Release()
		k.bindGroup = nil
	}
}

func (k *kernel) release() {
	if k.bindGroup != nil {
		k.bindGroup.Release()
	}
	for _, u := range k.uniforms {
		if u != nil {
			u.Release()
		}
	}
	k.layout.Release()
	k.pipeline.Release()
}
