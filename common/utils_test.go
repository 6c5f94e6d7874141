package common

import "testing"

func TestCoalesce(t *testing.T) {
	if got := Coalesce(0, 0, 3, 4); got != 3 {
		t.Fatalf("Coalesce(0, 0, 3, 4) = %d", got)
	}
	if got := Coalesce("", "wgpu"); got != "wgpu" {
		t.Fatalf("Coalesce(\"\", \"wgpu\") = %q", got)
	}
	if got := Coalesce[float32](); got != 0 {
		t.Fatalf("Coalesce() = %v", got)
	}
}
