package field

import (
	_ "embed"
)

// SwirlWGSL is the GPU version of SwirlKernel. Bindings follow the kernel argument order:
// 0 positions, 1 colors, 2 count (uniform u32), 3 dt (uniform f32). Entry point "main".
//
//go:embed assets/swirl.wgsl
var SwirlWGSL string

// SwirlWorkgroupSize is the @workgroup_size of SwirlWGSL.
const SwirlWorkgroupSize = 64

// Attribute slots of the field's sets. Positions and colors use the slots the devices' built-in
// point shaders read.
const (
	PositionSlot uint32 = 0
	ColorSlot    uint32 = 1
	VelocitySlot uint32 = 2
	LifetimeSlot uint32 = 3
	CellSlot     uint32 = 4
)

// Swirl kernel argument indices.
const (
	ArgPositions = 0
	ArgColors    = 1
	ArgCount     = 2
	ArgTime      = 3

	SwirlArity = 4
)
