//go:build !linux

package applier

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

// CgroupApplier is unavailable outside Linux.
type CgroupApplier struct{}

// NewCgroupApplier returns an applier that always fails with ErrUnsupported.
func NewCgroupApplier(string, *zap.Logger) *CgroupApplier {
	return &CgroupApplier{}
}

// ApplyLimits returns errs.ErrUnsupported.
func (a *CgroupApplier) ApplyLimits(context.Context, string, models.ResourceLimits) error {
	return errs.ErrUnsupported
}
