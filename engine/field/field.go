// Package field builds the point field rendered by pointfield: a disc of points whose attributes
// live in interop attribute sets shared between the draw and the swirl kernel.
package field

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

// Field owns the attribute sets of one point field.
type Field interface {
	// Count returns the number of points.
	Count() int

	// Positions returns the float4 position set (x, y, z, 1).
	Positions() interop.AttributeSet[float32]

	// Colors returns the color4 set.
	Colors() interop.AttributeSet[float32]

	// Velocities returns the float4 velocity set, or nil unless WithVelocities was given.
	Velocities() interop.AttributeSet[float32]

	// Lifetimes returns the int1 lifetime set, or nil unless WithLifetimes was given.
	Lifetimes() interop.AttributeSet[int32]

	// Cells returns the int4 grid cell set, or nil unless WithCells was given.
	Cells() interop.AttributeSet[int32]

	// Sets returns every attribute set of the field in a fixed order, positions first.
	Sets() []interop.Transferable

	// Init initializes every set. If one fails, the sets already initialized are torn down.
	//
	// Returns:
	//   - error: the first initialization error
	Init() error

	// Teardown tears every set down, continuing past failures.
	//
	// Returns:
	//   - error: every teardown failure joined, or nil
	Teardown() error
}

type field struct {
	count  int
	radius float32
	seed   uint64

	withVelocities bool
	maxLifetime    int32
	cellSize       float32

	positions  interop.AttributeSet[float32]
	colors     interop.AttributeSet[float32]
	velocities interop.AttributeSet[float32]
	lifetimes  interop.AttributeSet[int32]
	cells      interop.AttributeSet[int32]
}

var _ Field = &field{}

// NewField creates the attribute sets of a field with count points and seeds their host arrays.
// No GPU resources are created until Init.
//
// Parameters:
//   - ctx: the GPU context the sets live in
//   - count: the number of points
//   - options: functional options (radius, seed, optional sets)
//
// Returns:
//   - Field: the field
//   - error: an interop allocation error if any set could not be constructed
func NewField(ctx *interop.GpuContext, count int, options ...FieldBuilderOption) (Field, error) {
	f := &field{
		count:  count,
		radius: 0.9,
		seed:   1,
	}
	for _, opt := range options {
		opt(f)
	}

	var err error
	if f.positions, err = interop.NewAttributeSet(ctx, interop.Float4(), count, interop.WithLabel("positions"), interop.WithSlot(PositionSlot)); err != nil {
		return nil, err
	}
	if f.colors, err = interop.NewAttributeSet(ctx, interop.Color4(), count, interop.WithLabel("colors"), interop.WithSlot(ColorSlot)); err != nil {
		return nil, err
	}
	if f.withVelocities {
		if f.velocities, err = interop.NewAttributeSet(ctx, interop.Float4(), count, interop.WithLabel("velocities"), interop.WithSlot(VelocitySlot)); err != nil {
			return nil, err
		}
	}
	if f.maxLifetime > 0 {
		if f.lifetimes, err = interop.NewAttributeSet(ctx, interop.Int1(), count, interop.WithLabel("lifetimes"), interop.WithSlot(LifetimeSlot)); err != nil {
			return nil, err
		}
	}
	if f.cellSize > 0 {
		if f.cells, err = interop.NewAttributeSet(ctx, interop.Int4(), count, interop.WithLabel("cells"), interop.WithSlot(CellSlot)); err != nil {
			return nil, err
		}
	}

	f.seedPoints()
	return f, nil
}

// seedPoints scatters points uniformly over the disc and colors them by angle.
func (f *field) seedPoints() {
	rng := rand.New(rand.NewPCG(f.seed, f.seed^0x9e3779b97f4a7c15))
	for i := 0; i < f.count; i++ {
		r := float64(f.radius) * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi
		s, c := math.Sincos(theta)
		x, y := float32(r*c), float32(r*s)

		_ = f.positions.SetElement(i, x, y, 0, 1)
		red, green, blue := Hue(theta / (2 * math.Pi))
		_ = f.colors.SetElement(i, red, green, blue)

		if f.velocities != nil {
			speed := float32(1 / (0.25 + r))
			_ = f.velocities.SetElement(i, -y*speed, x*speed, 0, 0)
		}
		if f.lifetimes != nil {
			_ = f.lifetimes.SetElement(i, 1+rng.Int32N(f.maxLifetime))
		}
		if f.cells != nil {
			_ = f.cells.SetElement(i, int32(math.Floor(float64(x/f.cellSize))), int32(math.Floor(float64(y/f.cellSize))))
		}
	}
}

func (f *field) Count() int {
	return f.count
}

func (f *field) Positions() interop.AttributeSet[float32] {
	return f.positions
}

func (f *field) Colors() interop.AttributeSet[float32] {
	return f.colors
}

func (f *field) Velocities() interop.AttributeSet[float32] {
	return f.velocities
}

func (f *field) Lifetimes() interop.AttributeSet[int32] {
	return f.lifetimes
}

func (f *field) Cells() interop.AttributeSet[int32] {
	return f.cells
}

func (f *field) Sets() []interop.Transferable {
	sets := []interop.Transferable{f.positions, f.colors}
	if f.velocities != nil {
		sets = append(sets, f.velocities)
	}
	if f.lifetimes != nil {
		sets = append(sets, f.lifetimes)
	}
	if f.cells != nil {
		sets = append(sets, f.cells)
	}
	return sets
}

func (f *field) Init() error {
	sets := f.Sets()
	for i, s := range sets {
		if err := s.Init(); err != nil {
			for _, done := range sets[:i] {
				_ = done.Teardown()
			}
			return err
		}
	}
	return nil
}

func (f *field) Teardown() error {
	var errs []error
	for _, s := range f.Sets() {
		if err := s.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("field teardown: %w", errors.Join(errs...))
	}
	return nil
}
