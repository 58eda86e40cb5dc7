package units

import (
	"context"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
)

// Unit is implemented by every subsystem the orchestrator manages.
// Implementations hold their own state; the lifecycle bookkeeping
// (running flag, start timestamp, failure boundary) lives in ManagedUnit.
type Unit interface {
	ID() domain.UnitID
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// HealthCheck returns nil when healthy. It is only called while running.
	HealthCheck(ctx context.Context) error
}

const (
	DefaultCallTimeout        = 30 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
)

// Options bound every call into a Unit
type Options struct {
	CallTimeout        time.Duration `yaml:"call_timeout,omitempty"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	return o
}
