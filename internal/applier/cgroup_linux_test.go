//go:build linux

package applier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

func TestCgroupApplier_WritesControlFiles(t *testing.T) {
	root := t.TempDir()
	a := NewCgroupApplier(root, nil)
	a.ncpu = 4

	err := a.ApplyLimits(context.Background(), "vision", models.ResourceLimits{CPUPercent: 50, MemoryMB: 1024})
	require.NoError(t, err)

	cpuMax, err := os.ReadFile(filepath.Join(root, "vision", "cpu.max"))
	require.NoError(t, err)
	assert.Equal(t, "200000 100000", string(cpuMax))

	memMax, err := os.ReadFile(filepath.Join(root, "vision", "memory.max"))
	require.NoError(t, err)
	assert.Equal(t, "1073741824", string(memMax))
}

func TestCgroupApplier_RejectsPathTraversal(t *testing.T) {
	a := NewCgroupApplier(t.TempDir(), nil)
	err := a.ApplyLimits(context.Background(), "../etc", models.ResourceLimits{CPUPercent: 5, MemoryMB: 64})
	assert.True(t, errs.IsApply(err))
}

func TestReadPIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cgroup.procs")

	pids, err := readPIDs(path)
	require.NoError(t, err)
	assert.Empty(t, pids)

	require.NoError(t, os.WriteFile(path, []byte("12\n\n34\n"), 0644))
	pids, err = readPIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 34}, pids)

	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0644))
	_, err = readPIDs(path)
	assert.Error(t, err)
}
