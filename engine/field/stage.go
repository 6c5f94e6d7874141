package field

import (
	"fmt"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

// Device is what a SwirlStage needs from a backend beyond the interop subsystems.
type Device interface {
	// Dispatch runs kernel over globalSize elements on queue and blocks until it has finished.
	Dispatch(queue interop.QueueHandle, kernel interop.KernelHandle, globalSize int) error

	// DrawPoints draws count points, taking one vertex attribute from each binding.
	DrawPoints(bindings []interop.RenderBinding, count int) error
}

// SwirlStage drives the swirl kernel over a field and draws the result. It satisfies engine.Stage.
type SwirlStage struct {
	field  Field
	device Device
	queue  interop.QueueHandle
	binder *interop.KernelBinder
	speed  float32
}

// SwirlStageBuilderOption is a functional option for configuring a SwirlStage.
type SwirlStageBuilderOption func(*SwirlStage)

// WithSpeed scales the timestep passed to the kernel. Values <= 0 are ignored.
//
// Parameters:
//   - speed: the angular speed multiplier (default 1)
//
// Returns:
//   - SwirlStageBuilderOption: option function to apply
func WithSpeed(speed float32) SwirlStageBuilderOption {
	return func(s *SwirlStage) {
		if speed > 0 {
			s.speed = speed
		}
	}
}

// NewSwirlStage binds an initialized field's positions and colors to a swirl kernel.
//
// Parameters:
//   - ctx: the GPU context of the field
//   - f: the field, already initialized
//   - device: the backend dispatching and drawing
//   - queue: the compute queue
//   - kernel: a kernel implementing the swirl with the argument order of SwirlKernel
//   - options: functional options (speed)
//
// Returns:
//   - *SwirlStage: the stage
//   - error: an interop binding or argument error
func NewSwirlStage(ctx *interop.GpuContext, f Field, device Device, queue interop.QueueHandle, kernel interop.KernelHandle, options ...SwirlStageBuilderOption) (*SwirlStage, error) {
	s := &SwirlStage{
		field:  f,
		device: device,
		queue:  queue,
		binder: interop.NewKernelBinder(ctx, kernel),
		speed:  1,
	}
	for _, opt := range options {
		opt(s)
	}

	if err := s.binder.BindSet(ArgPositions, f.Positions()); err != nil {
		return nil, err
	}
	if err := s.binder.BindSet(ArgColors, f.Colors()); err != nil {
		return nil, err
	}
	if err := s.binder.SetScalar(ArgCount, interop.Uint32Argument(uint32(f.Count()))); err != nil {
		return nil, err
	}
	if err := s.binder.SetScalar(ArgTime, interop.Float32Argument(0)); err != nil {
		return nil, err
	}
	return s, nil
}

// Sets returns the sets the swirl kernel reads and writes. Optional field sets stay with the
// render side.
func (s *SwirlStage) Sets() []interop.Transferable {
	return []interop.Transferable{s.field.Positions(), s.field.Colors()}
}

func (s *SwirlStage) Queue() interop.QueueHandle {
	return s.queue
}

func (s *SwirlStage) Compute(dt float32) error {
	if err := s.binder.SetScalar(ArgTime, interop.Float32Argument(dt*s.speed)); err != nil {
		return err
	}
	if err := s.binder.Apply(); err != nil {
		return err
	}
	if err := s.device.Dispatch(s.queue, s.binder.Kernel(), s.field.Count()); err != nil {
		return fmt.Errorf("swirl dispatch: %w", err)
	}
	return nil
}

func (s *SwirlStage) Draw() error {
	bindings := []interop.RenderBinding{
		s.field.Positions().RenderBinding(),
		s.field.Colors().RenderBinding(),
	}
	if err := s.device.DrawPoints(bindings, s.field.Count()); err != nil {
		return fmt.Errorf("draw points: %w", err)
	}
	return nil
}
