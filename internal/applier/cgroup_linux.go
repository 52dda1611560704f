//go:build linux

package applier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

const (
	cpuPeriodMicros = 100000

	// ioprio_set(2) encoding: class in the top bits, level below.
	ioprioClassShift = 13
	ioprioClassBE    = 2
	ioprioWhoProcess = 1

	maxWriteRetries = 3
)

// CgroupApplier enforces limits through cgroup v2 files under root/<service>
// and per-process nice, io priority and affinity for the PIDs in the group.
type CgroupApplier struct {
	root   string
	ncpu   int
	logger *zap.Logger
}

// NewCgroupApplier creates an applier rooted at a cgroup v2 directory.
func NewCgroupApplier(root string, logger *zap.Logger) *CgroupApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CgroupApplier{root: root, ncpu: runtime.NumCPU(), logger: logger.Named("applier")}
}

// ApplyLimits writes cpu.max and memory.max then adjusts every process in
// the service's group. Processes that exit mid-way are ignored.
func (a *CgroupApplier) ApplyLimits(ctx context.Context, service string, limits models.ResourceLimits) error {
	if strings.ContainsAny(service, "/\\") || service == "" || service == "." || service == ".." {
		return errs.Apply("invalid service name %q", service)
	}
	dir := filepath.Join(a.root, service)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Apply("creating cgroup for %s: %v", service, err)
	}

	quota := int64(limits.CPUPercent / 100 * float64(cpuPeriodMicros) * float64(a.ncpu))
	if quota < 1000 {
		quota = 1000 // kernel minimum is 1ms per period
	}
	if err := a.writeFile(ctx, filepath.Join(dir, "cpu.max"), fmt.Sprintf("%d %d", quota, cpuPeriodMicros)); err != nil {
		return errs.Apply("setting cpu.max for %s: %v", service, err)
	}

	memBytes := int64(limits.MemoryMB * 1024 * 1024)
	if err := a.writeFile(ctx, filepath.Join(dir, "memory.max"), strconv.FormatInt(memBytes, 10)); err != nil {
		return errs.Apply("setting memory.max for %s: %v", service, err)
	}

	pids, err := readPIDs(filepath.Join(dir, "cgroup.procs"))
	if err != nil {
		return errs.Apply("reading cgroup.procs for %s: %v", service, err)
	}
	for _, pid := range pids {
		if err := applyProcess(pid, limits); err != nil && !errors.Is(err, unix.ESRCH) {
			return errs.Apply("adjusting pid %d of %s: %v", pid, service, err)
		}
	}

	a.logger.Debug("Applied limits",
		zap.String("service", service),
		zap.Int64("cpu_quota_us", quota),
		zap.Int64("memory_bytes", memBytes),
		zap.Int("pids", len(pids)))
	return nil
}

// writeFile writes a cgroup control file, retrying transient kernel errors.
func (a *CgroupApplier) writeFile(ctx context.Context, path, value string) error {
	op := func() error {
		err := os.WriteFile(path, []byte(value), 0644)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	expBackoff.MaxInterval = 100 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, maxWriteRetries), ctx)

	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		a.logger.Debug("Retrying cgroup write",
			zap.String("path", path),
			zap.Duration("delay", d),
			zap.Error(err))
	})
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// applyProcess sets nice, io priority and affinity for one pid.
func applyProcess(pid int, limits models.ResourceLimits) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, limits.NiceValue); err != nil {
		return fmt.Errorf("setpriority: %w", err)
	}

	prio := uintptr(ioprioClassBE<<ioprioClassShift | limits.IOPriority)
	if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), prio); errno != 0 {
		return fmt.Errorf("ioprio_set: %w", errno)
	}

	if len(limits.CPUAffinity) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range limits.CPUAffinity {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(pid, &set); err != nil {
			return fmt.Errorf("sched_setaffinity: %w", err)
		}
	}
	return nil
}

// readPIDs parses a cgroup.procs file. A missing file means an empty group.
func readPIDs(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q", line)
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}
