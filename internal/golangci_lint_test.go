package internal

import (
	"os"
	"os/exec"
	"testing"
)

// TestLintClean runs golangci-lint across the module. Skipped when the
// binary is not on PATH.
func TestLintClean(t *testing.T) {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not installed")
	}

	cmd := exec.Command("golangci-lint", "run", "--allow-parallel-runners", "./...")
	cmd.Dir = moduleRoot(t)
	// Restricted runners may not have a writable default build cache.
	cmd.Env = append(os.Environ(), "GOCACHE="+t.TempDir())

	if out, err := cmd.CombinedOutput(); err != nil {
		t.Errorf("golangci-lint run: %v\n%s", err, out)
	}
}
