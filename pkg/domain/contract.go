package domain

import (
	"context"
	"time"
)

// UnitID identifies a managed unit in the orchestrator registry
type UnitID string

// HealthStatus is the aggregate state of all managed units
type HealthStatus string

const (
	// HealthStatusInitializing is reported until the first StartAll completes
	HealthStatusInitializing HealthStatus = "initializing"

	// HealthStatusRunning means every unit is running
	HealthStatusRunning HealthStatus = "running"

	// HealthStatusPartial means some but not all units are running
	HealthStatusPartial HealthStatus = "partial"

	// HealthStatusStopped means no unit is running
	HealthStatusStopped HealthStatus = "stopped"
)

// StatusReport describes a single unit; it is derived on demand and never stored
type StatusReport struct {
	Name          UnitID     `json:"name"`
	Running       bool       `json:"running"`
	Healthy       bool       `json:"healthy"`
	StartedAt     *time.Time `json:"started_at"`
	UptimeSeconds float64    `json:"uptime_seconds"`
}

// AggregateHealth is the orchestrator's snapshot of all units
type AggregateHealth struct {
	Status          HealthStatus `json:"status"`
	ComponentsReady int          `json:"components_ready"`
	TotalComponents int          `json:"total_components"`
	StartupTime     time.Time    `json:"startup_time"`
}

// AggregateStatus is the full readiness payload
type AggregateStatus struct {
	Health        AggregateHealth         `json:"health"`
	Units         map[UnitID]StatusReport `json:"units"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
}

// StatusProvider is the read-only view of the orchestrator used by endpoints
type StatusProvider interface {
	AggregateStatus(ctx context.Context) AggregateStatus
}

// Contract is the operator surface exposed over the control API
type Contract interface {
	StatusProvider
	Status(ctx context.Context, id UnitID) (StatusReport, error)
	Restart(ctx context.Context, id UnitID) error
}
