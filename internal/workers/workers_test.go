package workers

import (
	"runtime"
	"testing"
)

const testEnv = "IMAGE_VAULT_TEST_WORKERS"

func TestSize(t *testing.T) {
	t.Setenv(testEnv, "")
	cpus := runtime.GOMAXPROCS(0)

	tests := []struct {
		name  string
		load  Load
		limit int
		want  int
	}{
		{"cpu bound", CPUBound, 0, cpus},
		{"io bound", IOBound, 0, cpus * 2},
		{"mixed", Mixed, 0, int(float64(cpus) * 1.5)},
		{"capped", IOBound, 1, 1},
		{"limit above computed", CPUBound, cpus + 100, cpus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Size(tt.load, tt.limit, testEnv); got != tt.want {
				t.Errorf("Size(%s, %d) = %d, want %d", tt.load, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSize_EnvOverride(t *testing.T) {
	cpus := runtime.GOMAXPROCS(0)

	tests := []struct {
		name  string
		value string
		limit int
		want  int
	}{
		{"pinned", "7", 0, 7},
		{"pinned above limit", "20", 10, 10},
		{"pinned below limit", "3", 10, 3},
		{"not a number", "many", 0, cpus},
		{"zero", "0", 0, cpus},
		{"negative", "-4", 0, cpus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testEnv, tt.value)
			if got := Size(CPUBound, tt.limit, testEnv); got != tt.want {
				t.Errorf("Size() with %s=%q = %d, want %d", testEnv, tt.value, got, tt.want)
			}
		})
	}
}

func TestSize_NoEnvVar(t *testing.T) {
	if got := Size(CPUBound, 0, ""); got != runtime.GOMAXPROCS(0) {
		t.Errorf("Size() without env var = %d", got)
	}
}

func TestLoadString(t *testing.T) {
	for load, want := range map[Load]string{CPUBound: "cpu", IOBound: "io", Mixed: "mixed", Load(9): "load(9)"} {
		if got := load.String(); got != want {
			t.Errorf("Load(%d).String() = %q, want %q", int(load), got, want)
		}
	}
}
