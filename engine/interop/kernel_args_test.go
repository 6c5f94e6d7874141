package interop_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/device/cpukernel"
	"github.com/Carmen-Shannon/pointfield/engine/device/hostdev"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

func noopKernel(int, int, cpukernel.Args) error { return nil }

func TestSetArgumentValidation(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 2, noopKernel)

	tests := []struct {
		name   string
		ctx    *interop.GpuContext
		kernel interop.KernelHandle
		index  int
		value  interop.ArgumentValue
		reason string
	}{
		{"nil context", nil, k, 0, interop.Int32Argument(1), "nil GPU context"},
		{"null kernel", ctx, 0, 0, interop.Int32Argument(1), "invalid kernel handle"},
		{"negative index", ctx, k, -1, interop.Int32Argument(1), "negative argument index"},
		{"null allocation", ctx, k, 0, interop.BufferArgument(0), "null allocation"},
		{"unknown kind", ctx, k, 0, interop.ArgumentValue{Kind: 42}, "type mismatch"},
		{"index beyond arity", ctx, k, 2, interop.Int32Argument(1), "rejected by compute driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := interop.SetArgument(tt.ctx, tt.kernel, tt.index, tt.value)
			var ie *interop.Error
			if !errors.As(err, &ie) || ie.Kind != interop.KindArgument {
				t.Fatalf("got %v, want argument error", err)
			}
			if ie.Index != tt.index {
				t.Fatalf("index = %d, want %d", ie.Index, tt.index)
			}
			if !strings.Contains(ie.Reason, tt.reason) {
				t.Fatalf("reason = %q, want %q", ie.Reason, tt.reason)
			}
		})
	}

	if err := interop.SetArgument(ctx, k, 1, interop.Float32Argument(0.5)); err != nil {
		t.Fatalf("valid argument: %v", err)
	}
	args, _ := dev.Kernels().Arguments(k)
	if args[1].Float32() != 0.5 {
		t.Fatalf("stored argument = %v", args[1])
	}
}

func TestSetArgumentPropagatesDriverCode(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 1, noopKernel)

	err := interop.SetArgument(ctx, k, 3, interop.Int32Argument(1))
	var ie *interop.Error
	if !errors.As(err, &ie) {
		t.Fatalf("got %v", err)
	}
	if code, ok := ie.DriverCode(); !ok || code != cpukernel.CodeInvalidArgIndex {
		t.Fatalf("driver code = %d, %v", code, ok)
	}
}

func TestBindRequiresInitializedSet(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 1, noopKernel)
	s := newFloat4(t, ctx, 4, "positions")

	err := s.Bind(k, 0)
	if !errors.Is(err, interop.ErrBinding) {
		t.Fatalf("bind before init: got %v", err)
	}
	mustInit(t, s)
	if err := s.Bind(k, 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := s.Bind(k, 7); !errors.Is(err, interop.ErrBinding) {
		t.Fatalf("bind beyond arity: got %v", err)
	}
	_ = s.Teardown()
	if err := s.Bind(k, 0); !errors.Is(err, interop.ErrBinding) {
		t.Fatalf("bind after teardown: got %v", err)
	}
}

func TestBindWhileComputeOwned(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 1, noopKernel)
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)
	_ = s.Push(dev.CreateQueue())

	if err := s.Bind(k, 0); err != nil {
		t.Fatalf("bind while compute-owned: %v", err)
	}
}

func TestBindDriverFault(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 1, noopKernel)
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)
	dev.InjectFault(hostdev.Fault{Op: hostdev.OpSetKernelArgument, Code: cpukernel.CodeInvalidArgValue})

	err := s.Bind(k, 0)
	var ie *interop.Error
	if !errors.As(err, &ie) || ie.Kind != interop.KindBinding || ie.Index != 0 {
		t.Fatalf("got %v", err)
	}
	if code, ok := ie.DriverCode(); !ok || code != cpukernel.CodeInvalidArgValue {
		t.Fatalf("driver code = %d, %v", code, ok)
	}
	if !interop.IsFatal(err) {
		t.Fatal("binding failure should be fatal")
	}
}

func TestKernelBinderScalars(t *testing.T) {
	dev, ctx := newContext(t)
	k := dev.Kernels().Register("noop", 3, noopKernel)
	s := newFloat4(t, ctx, 4, "positions")
	mustInit(t, s)

	b := interop.NewKernelBinder(ctx, k)
	if err := b.BindSet(0, s); err != nil {
		t.Fatalf("bind set: %v", err)
	}
	if err := b.SetScalar(0, interop.Int32Argument(1)); !errors.Is(err, interop.ErrArgument) {
		t.Fatalf("scalar over a set slot: got %v", err)
	}
	if err := b.SetScalar(1, interop.BufferArgument(s.Allocation())); !errors.Is(err, interop.ErrArgument) {
		t.Fatalf("buffer as scalar: got %v", err)
	}
	_ = b.SetScalar(2, interop.Float32Argument(0.25))
	_ = b.SetScalar(1, interop.Uint32Argument(4))
	if err := b.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}

	args, _ := dev.Kernels().Arguments(k)
	if args[0].Allocation != s.Allocation() || args[1].Uint32() != 4 || args[2].Float32() != 0.25 {
		t.Fatalf("arguments = %v", args)
	}
	if len(b.Sets()) != 1 || b.Kernel() != k {
		t.Fatalf("binder state: %v, %v", b.Sets(), b.Kernel())
	}
}

func TestArgumentValueEncoding(t *testing.T) {
	if v := interop.Int32Argument(-7); v.Int32() != -7 || v.String() != "int32(-7)" {
		t.Fatalf("int32 = %v", v)
	}
	if v := interop.Uint32Argument(9); v.Uint32() != 9 || !v.IsScalar() {
		t.Fatalf("uint32 = %v", v)
	}
	if v := interop.Float32Argument(2.5); v.Float32() != 2.5 || v.String() != "float32(2.5)" {
		t.Fatalf("float32 = %v", v)
	}
	if v := interop.BufferArgument(3); v.IsScalar() || v.String() != "buffer(3)" {
		t.Fatalf("buffer = %v", v)
	}
}
