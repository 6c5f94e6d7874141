package interop_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *interop.Error
		want string
	}{
		{
			name: "set with driver cause",
			err: &interop.Error{
				Kind: interop.KindAcquire, Op: "push", Label: "positions", Layout: "float4", Index: -1,
				Reason: "rejected by compute driver", Err: interop.NewDriverError("acquire", -60, ""),
			},
			want: `interop: push "positions" (float4): acquire error: rejected by compute driver: driver error -60 in acquire`,
		},
		{
			name: "bare argument",
			err:  &interop.Error{Kind: interop.KindArgument, Op: "set-argument", Index: 3, Reason: "null allocation"},
			want: "interop: set-argument argument 3: argument error: null allocation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error() = %q\nwant      %q", got, tt.want)
			}
		})
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	pairs := map[interop.ErrorKind]error{
		interop.KindAllocation:       interop.ErrAllocation,
		interop.KindReinitialization: interop.ErrReinitialization,
		interop.KindAcquire:          interop.ErrAcquire,
		interop.KindRelease:          interop.ErrRelease,
		interop.KindBinding:          interop.ErrBinding,
		interop.KindArgument:         interop.ErrArgument,
		interop.KindTeardown:         interop.ErrTeardown,
	}
	for kind, sentinel := range pairs {
		wrapped := fmt.Errorf("frame 3: %w", &interop.Error{Kind: kind, Op: "x", Index: -1})
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("%v does not match %v", kind, sentinel)
		}
		if errors.Is(wrapped, interop.ErrAllocation) != (kind == interop.KindAllocation) {
			t.Errorf("%v matches the wrong sentinel", kind)
		}
	}
}

func TestIsFatal(t *testing.T) {
	fatal := []interop.ErrorKind{interop.KindAcquire, interop.KindRelease, interop.KindBinding, interop.KindArgument}
	for _, k := range fatal {
		if !interop.IsFatal(&interop.Error{Kind: k}) {
			t.Errorf("%v should be fatal", k)
		}
	}
	for _, k := range []interop.ErrorKind{interop.KindAllocation, interop.KindReinitialization, interop.KindTeardown} {
		if interop.IsFatal(&interop.Error{Kind: k}) {
			t.Errorf("%v should not be fatal", k)
		}
	}
	if interop.IsFatal(errors.New("plain")) || interop.IsFatal(nil) {
		t.Error("non-interop errors should not be fatal")
	}
}

func TestBatchErrorMessage(t *testing.T) {
	be := &interop.BatchError{Op: "push", Failures: []*interop.Error{
		{Kind: interop.KindAcquire, Op: "push", Label: "a", Index: -1, Reason: "r1"},
		{Kind: interop.KindAcquire, Op: "push", Label: "b", Index: -1, Reason: "r2"},
	}}
	want := `interop: batch push failed for 2 attribute set(s): interop: push "a": acquire error: r1; interop: push "b": acquire error: r2`
	if be.Error() != want {
		t.Fatalf("Error() = %q", be.Error())
	}
}
