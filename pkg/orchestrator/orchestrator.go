package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
	"github.com/core-tools/hsu-satellite/pkg/units"
)

type Options struct {
	// Directories are created by Initialize before any unit is built
	Directories []string
	Unit        units.Options
}

// UnitFactory builds a unit during Initialize
type UnitFactory func() (units.Unit, error)

type Registration struct {
	ID      domain.UnitID
	Factory UnitFactory
}

// Endpoint is a network listener started after the units and stopped
// before them. Endpoints only read orchestrator state.
type Endpoint interface {
	Name() string
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Orchestrator struct {
	options       Options
	registrations []Registration
	logger        logging.Logger
	now           func() time.Time

	lifecycle chan struct{} // one slot, serializes Initialize, StartAll, StopAll, Restart and Shutdown

	mutex            sync.RWMutex
	units            []*units.ManagedUnit // registration order, fixed after Initialize
	index            map[domain.UnitID]*units.ManagedUnit
	health           domain.AggregateHealth
	initialized      bool
	started          bool
	endpoints        []Endpoint
	startedEndpoints []Endpoint
}

func New(options Options, registrations []Registration, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		options:       options,
		registrations: registrations,
		logger:        logger,
		now:           time.Now,
		lifecycle:     make(chan struct{}, 1),
		index:         make(map[domain.UnitID]*units.ManagedUnit),
		health: domain.AggregateHealth{
			Status:          domain.HealthStatusInitializing,
			TotalComponents: len(registrations),
		},
	}
}

// AttachEndpoint registers a listener to be started by StartAll
func (o *Orchestrator) AttachEndpoint(endpoint Endpoint) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.endpoints = append(o.endpoints, endpoint)
}

// Initialize prepares directories and instantiates every unit. A failure
// here is fatal: the caller must not proceed to StartAll.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.lockLifecycle(ctx); err != nil {
		return err
	}
	defer o.unlockLifecycle()

	if o.isInitialized() {
		return errors.NewValidationError("orchestrator is already initialized", nil)
	}

	o.logger.Infof("Initializing orchestrator, units: %d, directories: %d", len(o.registrations), len(o.options.Directories))

	for _, dir := range o.options.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			o.logger.Errorf("Failed to prepare directory, path: %s, error: %v", dir, err)
			return errors.NewInstantiationError("failed to prepare directory", err).WithContext("directory", dir)
		}
		o.logger.Debugf("Directory ready, path: %s", dir)
	}

	managedUnits := make([]*units.ManagedUnit, 0, len(o.registrations))
	index := make(map[domain.UnitID]*units.ManagedUnit, len(o.registrations))

	for _, registration := range o.registrations {
		id := registration.ID

		if err := units.ValidateUnitID(id); err != nil {
			return errors.NewInstantiationError("invalid unit ID", err).WithContext("unit_id", string(id))
		}
		if _, exists := index[id]; exists {
			return errors.NewInstantiationError("duplicate unit ID", nil).WithContext("unit_id", string(id))
		}

		unit, err := o.instantiate(registration)
		if err != nil {
			o.logger.Errorf("Failed to instantiate unit, id: %s, error: %v", id, err)
			return errors.NewInstantiationError("failed to instantiate unit", err).WithContext("unit_id", string(id))
		}

		managed := units.NewManagedUnit(unit, o.options.Unit, logging.WithPrefix(o.logger, "unit: "+string(id)+" , "))
		managedUnits = append(managedUnits, managed)
		index[id] = managed

		o.logger.Infof("Unit instantiated, id: %s", id)
	}

	o.mutex.Lock()
	o.units = managedUnits
	o.index = index
	o.health = domain.AggregateHealth{
		Status:          domain.HealthStatusInitializing,
		ComponentsReady: 0,
		TotalComponents: len(managedUnits),
		StartupTime:     o.now(),
	}
	o.initialized = true
	o.mutex.Unlock()

	o.logger.Infof("Orchestrator initialized, units: %d", len(managedUnits))
	return nil
}

// StartAll starts every unit in registration order, then the endpoints.
// Unit failures never abort the loop and are returned as an ErrorCollection;
// an endpoint that cannot start is returned as a network error.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	if err := o.lockLifecycle(ctx); err != nil {
		return err
	}
	defer o.unlockLifecycle()

	if !o.isInitialized() {
		return errors.NewValidationError("orchestrator must be initialized before starting units", nil)
	}

	o.logger.Infof("Starting all units...")

	errorCollection := errors.NewErrorCollection()
	for _, unit := range o.getUnits() {
		if err := unit.Start(ctx); err != nil {
			o.logger.Errorf("Failed to start unit %s: %v", unit.ID(), err)
			errorCollection.Add(err)
			continue
		}
		o.logger.Infof("Started unit: %s", unit.ID())
	}

	o.mutex.Lock()
	o.started = true
	o.mutex.Unlock()

	health := o.recomputeHealth()
	o.logger.Infof("Units started, status: %s, ready: %d/%d", health.Status, health.ComponentsReady, health.TotalComponents)

	errorCollection.Add(o.startEndpoints(ctx))
	return errorCollection.ToError()
}

// StopAll stops the running units in reverse registration order
func (o *Orchestrator) StopAll(ctx context.Context) error {
	if err := o.lockLifecycle(ctx); err != nil {
		return err
	}
	defer o.unlockLifecycle()
	return o.stopAll(ctx)
}

// Restart stops and starts a single unit and refreshes the aggregate health
func (o *Orchestrator) Restart(ctx context.Context, id domain.UnitID) error {
	unit, exists := o.getUnit(id)
	if !exists {
		return errors.NewNotFoundError("unit not found", nil).WithContext("unit_id", string(id))
	}

	if err := o.lockLifecycle(ctx); err != nil {
		return err
	}
	defer o.unlockLifecycle()

	o.logger.Infof("Restarting unit, id: %s", id)

	err := unit.Restart(ctx)
	health := o.recomputeHealth()

	if err != nil {
		o.logger.Errorf("Failed to restart unit, id: %s, error: %v", id, err)
		return err
	}

	o.logger.Infof("Unit restarted, id: %s, status: %s, ready: %d/%d", id, health.Status, health.ComponentsReady, health.TotalComponents)
	return nil
}

// Status reports a single unit without mutating any state
func (o *Orchestrator) Status(ctx context.Context, id domain.UnitID) (domain.StatusReport, error) {
	unit, exists := o.getUnit(id)
	if !exists {
		return domain.StatusReport{}, errors.NewNotFoundError("unit not found", nil).WithContext("unit_id", string(id))
	}
	return unit.Status(ctx), nil
}

// Health returns a snapshot of the aggregate health
func (o *Orchestrator) Health() domain.AggregateHealth {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.health
}

func (o *Orchestrator) AggregateStatus(ctx context.Context) domain.AggregateStatus {
	health := o.Health()
	managedUnits := o.getUnits()

	reports := make(map[domain.UnitID]domain.StatusReport, len(managedUnits))
	for _, unit := range managedUnits {
		reports[unit.ID()] = unit.Status(ctx)
	}

	var uptime float64
	if !health.StartupTime.IsZero() {
		uptime = o.now().Sub(health.StartupTime).Seconds()
	}

	return domain.AggregateStatus{
		Health:        health,
		Units:         reports,
		UptimeSeconds: uptime,
	}
}

// UnitIDs lists the registered units in registration order
func (o *Orchestrator) UnitIDs() []domain.UnitID {
	managedUnits := o.getUnits()
	ids := make([]domain.UnitID, 0, len(managedUnits))
	for _, unit := range managedUnits {
		ids = append(ids, unit.ID())
	}
	return ids
}

// Shutdown stops the endpoints first, then every running unit
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.lockLifecycle(ctx); err != nil {
		return err
	}
	defer o.unlockLifecycle()

	o.logger.Infof("Shutting down orchestrator...")

	errorCollection := errors.NewErrorCollection()

	o.mutex.Lock()
	startedEndpoints := o.startedEndpoints
	o.startedEndpoints = nil
	o.mutex.Unlock()

	for i := len(startedEndpoints) - 1; i >= 0; i-- {
		endpoint := startedEndpoints[i]
		if err := endpoint.Shutdown(ctx); err != nil {
			o.logger.Errorf("Failed to shut down endpoint, name: %s, error: %v", endpoint.Name(), err)
			errorCollection.Add(errors.NewNetworkError("failed to shut down endpoint", err).WithContext("endpoint", endpoint.Name()))
			continue
		}
		o.logger.Infof("Endpoint stopped, name: %s", endpoint.Name())
	}

	if err := o.stopAll(ctx); err != nil {
		errorCollection.Add(err)
	}

	health := o.Health()
	o.logger.Infof("Orchestrator shut down, status: %s, ready: %d/%d", health.Status, health.ComponentsReady, health.TotalComponents)

	return errorCollection.ToError()
}

func (o *Orchestrator) stopAll(ctx context.Context) error {
	o.logger.Infof("Stopping all units...")

	managedUnits := o.getUnits()
	errorCollection := errors.NewErrorCollection()
	for i := len(managedUnits) - 1; i >= 0; i-- {
		unit := managedUnits[i]
		if !unit.IsRunning() {
			continue
		}
		if err := unit.Stop(ctx); err != nil {
			o.logger.Errorf("Failed to stop unit %s: %v", unit.ID(), err)
			errorCollection.Add(err)
			continue
		}
		o.logger.Infof("Stopped unit: %s", unit.ID())
	}

	o.recomputeHealth()

	if errorCollection.HasErrors() {
		o.logger.Errorf("Some units failed to stop: %v", errorCollection.Error())
	}
	return errorCollection.ToError()
}

func (o *Orchestrator) startEndpoints(ctx context.Context) error {
	o.mutex.RLock()
	endpoints := make([]Endpoint, len(o.endpoints))
	copy(endpoints, o.endpoints)
	o.mutex.RUnlock()

	for _, endpoint := range endpoints {
		if o.isEndpointStarted(endpoint) {
			continue
		}
		if err := endpoint.Start(ctx); err != nil {
			o.logger.Errorf("Failed to start endpoint, name: %s, error: %v", endpoint.Name(), err)
			return errors.NewNetworkError("failed to start endpoint", err).WithContext("endpoint", endpoint.Name())
		}

		o.mutex.Lock()
		o.startedEndpoints = append(o.startedEndpoints, endpoint)
		o.mutex.Unlock()

		o.logger.Infof("Endpoint started, name: %s", endpoint.Name())
	}
	return nil
}

// recomputeHealth derives the aggregate from the units' running flags
func (o *Orchestrator) recomputeHealth() domain.AggregateHealth {
	ready := 0
	for _, unit := range o.getUnits() {
		if unit.IsRunning() {
			ready++
		}
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.health.ComponentsReady = ready
	o.health.Status = aggregateStatusFor(ready, o.health.TotalComponents, o.started)
	return o.health
}

func aggregateStatusFor(ready, total int, started bool) domain.HealthStatus {
	switch {
	case !started && ready == 0:
		return domain.HealthStatusInitializing
	case ready == total:
		return domain.HealthStatusRunning
	case ready == 0:
		return domain.HealthStatusStopped
	default:
		return domain.HealthStatusPartial
	}
}

func (o *Orchestrator) instantiate(registration Registration) (unit units.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during instantiation: %v", r)
		}
	}()

	if registration.Factory == nil {
		return nil, fmt.Errorf("no factory registered")
	}

	unit, err = registration.Factory()
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("factory returned nil unit")
	}
	if unit.ID() != registration.ID {
		return nil, fmt.Errorf("factory returned unit %q", unit.ID())
	}
	return unit, nil
}

// lockLifecycle waits for the lifecycle slot unless ctx ends first
func (o *Orchestrator) lockLifecycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("lifecycle operation cancelled", err)
	}
	select {
	case o.lifecycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("lifecycle operation cancelled", ctx.Err())
	}
}

func (o *Orchestrator) unlockLifecycle() {
	<-o.lifecycle
}

func (o *Orchestrator) isInitialized() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.initialized
}

func (o *Orchestrator) isEndpointStarted(endpoint Endpoint) bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	for _, started := range o.startedEndpoints {
		if started == endpoint {
			return true
		}
	}
	return false
}

func (o *Orchestrator) getUnits() []*units.ManagedUnit {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.units
}

func (o *Orchestrator) getUnit(id domain.UnitID) (*units.ManagedUnit, bool) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	unit, exists := o.index[id]
	return unit, exists
}
