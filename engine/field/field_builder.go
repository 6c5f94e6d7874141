package field

// FieldBuilderOption is a functional option for configuring a Field.
type FieldBuilderOption func(*field)

// WithRadius sets the radius of the seeded disc in clip-space units. Values <= 0 are ignored.
//
// Parameters:
//   - r: the disc radius (default 0.9)
//
// Returns:
//   - FieldBuilderOption: option function to apply
func WithRadius(r float32) FieldBuilderOption {
	return func(f *field) {
		if r > 0 {
			f.radius = r
		}
	}
}

// WithSeed sets the random seed used to scatter points so runs are reproducible.
//
// Parameters:
//   - seed: the seed
//
// Returns:
//   - FieldBuilderOption: option function to apply
func WithSeed(seed uint64) FieldBuilderOption {
	return func(f *field) {
		f.seed = seed
	}
}

// WithVelocities adds a float4 velocity set holding each point's initial tangential velocity.
//
// Returns:
//   - FieldBuilderOption: option function to apply
func WithVelocities() FieldBuilderOption {
	return func(f *field) {
		f.withVelocities = true
	}
}

// WithLifetimes adds an int1 set holding each point's remaining lifetime in frames.
//
// Parameters:
//   - maxFrames: the upper bound of the random lifetime
//
// Returns:
//   - FieldBuilderOption: option function to apply
func WithLifetimes(maxFrames int32) FieldBuilderOption {
	return func(f *field) {
		if maxFrames > 0 {
			f.maxLifetime = maxFrames
		}
	}
}

// WithCells adds an int4 set holding each point's grid cell (x, y, 0, 0).
//
// Parameters:
//   - size: the edge length of a grid cell
//
// Returns:
//   - FieldBuilderOption: option function to apply
func WithCells(size float32) FieldBuilderOption {
	return func(f *field) {
		if size > 0 {
			f.cellSize = size
		}
	}
}
