package field

import (
	"math"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
)

// SwirlKernel rotates each point about the origin by dt/(0.25+r) radians, so inner points turn
// faster than outer ones, and recolors it by its new angle. Radius, z, w and alpha are preserved.
// It is the CPU twin of SwirlWGSL and takes the same arguments.
func SwirlKernel(start, end int, args cpukernel.Args) error {
	positions, err := args.Float32s(ArgPositions)
	if err != nil {
		return err
	}
	colors, err := args.Float32s(ArgColors)
	if err != nil {
		return err
	}
	count, err := args.Scalar(ArgCount)
	if err != nil {
		return err
	}
	dt, err := args.Scalar(ArgTime)
	if err != nil {
		return err
	}

	n := min(end, int(count.Uint32()), len(positions)/4, len(colors)/4)
	step := float64(dt.Float32())
	for i := start; i < n; i++ {
		p := positions[4*i : 4*i+4]
		x, y := float64(p[0]), float64(p[1])
		a := step / (0.25 + math.Hypot(x, y))
		s, c := math.Sincos(a)
		qx, qy := x*c-y*s, x*s+y*c
		p[0], p[1] = float32(qx), float32(qy)

		r, g, b := Hue(math.Atan2(qy, qx) / (2 * math.Pi))
		col := colors[4*i : 4*i+4]
		col[0], col[1], col[2] = r, g, b
	}
	return nil
}

// Hue maps h around the color wheel at full saturation and value. h wraps, so -0.25 and 0.75 are
// the same hue.
func Hue(h float64) (r, g, b float32) {
	channel := func(k float64) float32 {
		f := h + k
		f -= math.Floor(f)
		v := math.Abs(f*6-3) - 1
		return float32(math.Max(0, math.Min(1, v)))
	}
	return channel(1), channel(2.0 / 3.0), channel(1.0 / 3.0)
}
