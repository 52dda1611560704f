package config

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/models"
)

// FileProvider serves service profiles and thresholds loaded from the
// layered YAML configuration. Reload re-reads the layers and notifies
// subscribers; an invalid reload keeps the previous configuration.
type FileProvider struct {
	path     string
	embedded []byte
	logger   *zap.Logger

	mu          sync.RWMutex
	cfg         *Config
	subscribers []func(*Config)
}

// NewFileProvider loads and validates the configuration once.
func NewFileProvider(embedded []byte, path string, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := LoadLayered(embedded, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FileProvider{
		path:     path,
		embedded: embedded,
		logger:   logger.Named("config"),
		cfg:      cfg,
	}, nil
}

// NewStaticProvider wraps an already validated configuration.
func NewStaticProvider(cfg *Config) (*FileProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FileProvider{cfg: cfg, logger: zap.NewNop()}, nil
}

// Config returns the current configuration. Callers must not mutate it.
func (p *FileProvider) Config() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// GetServiceProfiles returns a deep copy of the configured profiles.
func (p *FileProvider) GetServiceProfiles() []models.ServiceResourceProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.ServiceResourceProfile, len(p.cfg.Services))
	for i, svc := range p.cfg.Services {
		cp := svc
		cp.BaseLimits = svc.BaseLimits.Clone()
		if svc.ModeOverrides != nil {
			cp.ModeOverrides = make(map[models.OperationMode]models.ResourceLimits, len(svc.ModeOverrides))
			for mode, limits := range svc.ModeOverrides {
				cp.ModeOverrides[mode] = limits.Clone()
			}
		}
		out[i] = cp
	}
	return out
}

// GetThresholds returns the current alert thresholds.
func (p *FileProvider) GetThresholds() models.Thresholds {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Thresholds
}

// Subscribe registers fn to be called after every successful reload.
func (p *FileProvider) Subscribe(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Reload re-reads the configuration layers. On error the current
// configuration is kept and subscribers are not notified.
func (p *FileProvider) Reload() error {
	cfg, err := LoadLayered(p.embedded, p.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		p.logger.Error("Reload rejected, keeping current configuration", zap.Error(err))
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	subs := make([]func(*Config), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	p.logger.Info("Configuration reloaded", zap.String("path", p.path))
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}
