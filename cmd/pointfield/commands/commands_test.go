package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cfgFile = ""
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLayoutsCommand(t *testing.T) {
	out, err := execute(t, "layouts")
	if err != nil {
		t.Fatalf("layouts: %v", err)
	}
	for _, want := range []string{"int1", "int4", "float4", "color4", "[0 0 0 1]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "pointfield v"+Version) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRunHostBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	yaml := "logging:\n  console: false\n  file: " + filepath.Join(dir, "run.log") + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := execute(t, "run", "--config", path, "--backend", "host", "--frames", "5", "--points", "128", "--workers", "2"); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "frames=5") {
		t.Fatalf("log does not report the frame count:\n%s", data)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	if _, err := execute(t, "run", "--backend", "vulkan", "--frames", "1"); err == nil || !strings.Contains(err.Error(), "backend") {
		t.Fatalf("got %v", err)
	}
	if _, err := execute(t, "run", "--backend", "host"); err == nil || !strings.Contains(err.Error(), "frames") {
		t.Fatalf("host run without a frame budget: got %v", err)
	}
}
