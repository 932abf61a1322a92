package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tenantmodel "github.com/jfcalderon/rodarpay/internal/core/datamodel/tenant"
)

// Config is the immutable per-tenant value object threaded through webhook
// handling and scheduler runs. It is resolved once per request or job run;
// nothing caches it across runs, so secret rotations take effect on the next
// resolution.
type Config struct {
	TenantID            string
	Name                string
	EventsSecret        string
	EnforcementStrategy string
	AutoCutOff          bool
	CutOffHour          int
	MaxConfirmAttempts  int
	ConfirmInterval     time.Duration
	Exempt              bool
}

// Defaults supply the global fallbacks applied when a tenant leaves a knob
// unset: the platform-wide events secret and the enforcement retry bounds.
type Defaults struct {
	EventsSecret       string
	MaxConfirmAttempts int
	ConfirmInterval    time.Duration
}

type RepositoryAPI interface {
	GetByID(id string) (*tenantmodel.Tenant, error)
	GetAllWithAutoCutOff() ([]*tenantmodel.Tenant, error)
}

// ConfigResolver resolves tenant configuration by tenant id.
type ConfigResolver interface {
	Resolve(ctx context.Context, tenantID string) (*Config, error)
}

type Resolver struct {
	repository RepositoryAPI
	defaults   Defaults
	logger     *slog.Logger
}

func NewResolver(repository RepositoryAPI, defaults Defaults, logger *slog.Logger) *Resolver {
	return &Resolver{
		repository: repository,
		defaults:   defaults,
		logger:     logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Config, error) {
	t, err := r.repository.GetByID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	return r.configFor(t), nil
}

// ResolveAllWithAutoCutOff returns configs for every tenant with automatic
// cut-off enabled, for the daily enforcement run.
func (r *Resolver) ResolveAllWithAutoCutOff(ctx context.Context) ([]*Config, error) {
	tenants, err := r.repository.GetAllWithAutoCutOff()
	if err != nil {
		return nil, fmt.Errorf("list auto cut-off tenants: %w", err)
	}

	configs := make([]*Config, 0, len(tenants))
	for _, t := range tenants {
		configs = append(configs, r.configFor(t))
	}
	return configs, nil
}

func (r *Resolver) configFor(t *tenantmodel.Tenant) *Config {
	cfg := &Config{
		TenantID:            t.ID,
		Name:                t.Name,
		EventsSecret:        r.defaults.EventsSecret,
		EnforcementStrategy: t.EnforcementStrategy,
		AutoCutOff:          t.AutoCutOff,
		CutOffHour:          t.CutOffHour,
		MaxConfirmAttempts:  r.defaults.MaxConfirmAttempts,
		ConfirmInterval:     r.defaults.ConfirmInterval,
	}

	if t.EventsSecret != nil && *t.EventsSecret != "" {
		cfg.EventsSecret = *t.EventsSecret
	}
	if t.MaxConfirmAttempts > 0 {
		cfg.MaxConfirmAttempts = t.MaxConfirmAttempts
	}
	if t.ConfirmIntervalSecs > 0 {
		cfg.ConfirmInterval = time.Duration(t.ConfirmIntervalSecs) * time.Second
	}
	if cfg.EnforcementStrategy == "" {
		cfg.EnforcementStrategy = tenantmodel.StrategyDisabled
	}

	return cfg
}
