package commands

import (
	"github.com/Carmen-Shannon/pointfield/engine/device/wgpudev"
	"github.com/Carmen-Shannon/pointfield/engine/field"
	"github.com/cogentcore/webgpu/wgpu"
)

// swirlKernelSpec is the WGSL build of field.SwirlKernel.
func swirlKernelSpec() wgpudev.KernelSpec {
	return wgpudev.KernelSpec{
		Label:         "swirl",
		Source:        field.SwirlWGSL,
		EntryPoint:    "main",
		WorkgroupSize: field.SwirlWorkgroupSize,
		Arguments: []wgpu.BufferBindingType{
			field.ArgPositions: wgpu.BufferBindingTypeStorage,
			field.ArgColors:    wgpu.BufferBindingTypeStorage,
			field.ArgCount:     wgpu.BufferBindingTypeUniform,
			field.ArgTime:      wgpu.BufferBindingTypeUniform,
		},
	}
}
