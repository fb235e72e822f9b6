package daemon

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/models"
	"github.com/tejiriaustin/slm/monitor"
)

type (
	// Registry owns the ordered set of active monitors.
	Registry struct {
		log          monitor.Logger
		pollInterval time.Duration

		// opMutex serialises Apply, Teardown and Reload.
		opMutex sync.Mutex

		mutex   sync.RWMutex
		entries []entry
	}

	entry struct {
		line    int
		monitor *monitor.Monitor
	}

	RegistryOption func(*Registry)
)

func WithPollInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		r.pollInterval = interval
	}
}

func NewRegistry(log monitor.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		log:          log,
		pollInterval: monitor.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply creates and starts one monitor per spec, in order. Specs that cannot
// be turned into a monitor are logged and skipped; their errors are returned
// combined. A monitor whose Start fails is kept so Teardown releases it.
func (r *Registry) Apply(specs []config.MonitorSpec) error {
	r.opMutex.Lock()
	defer r.opMutex.Unlock()

	return r.apply(specs)
}

func (r *Registry) apply(specs []config.MonitorSpec) error {
	var errs error

	for _, spec := range specs {
		m, err := monitor.New(spec.Args,
			monitor.WithLogger(r.log),
			monitor.WithPollInterval(r.pollInterval),
		)
		if err != nil {
			r.log.Errorf("cannot parse line %d: %s", spec.Line, spec.Raw)
			errs = multierr.Append(errs, errors.Wrapf(err, "line %d", spec.Line))
			continue
		}

		if err := m.Start(); err != nil {
			r.log.Errorf("cannot start %s monitor %s from line %d: %v", m.Kind(), m.Target(), spec.Line, err)
			errs = multierr.Append(errs, errors.Wrapf(err, "line %d", spec.Line))
		}

		r.mutex.Lock()
		r.entries = append(r.entries, entry{line: spec.Line, monitor: m})
		r.mutex.Unlock()
	}

	return errs
}

// Teardown stops every monitor, waits for all workers and only then releases
// them. The set is empty afterwards.
func (r *Registry) Teardown() error {
	r.opMutex.Lock()
	defer r.opMutex.Unlock()

	return r.teardown()
}

func (r *Registry) teardown() error {
	r.mutex.Lock()
	entries := r.entries
	r.entries = nil
	r.mutex.Unlock()

	for _, e := range entries {
		if err := e.monitor.Stop(); err != nil && !errors.Is(err, monitor.ErrInvalidState) {
			r.log.Errorf("cannot stop %s monitor %s: %v", e.monitor.Kind(), e.monitor.Target(), err)
		}
	}

	for _, e := range entries {
		e.monitor.Join()
	}

	var errs error
	for _, e := range entries {
		var err error
		if e.monitor.State() == monitor.Initialized {
			err = e.monitor.Discard()
		} else {
			err = e.monitor.Destroy()
		}
		if err != nil {
			r.log.Errorf("cannot release %s monitor %s: %v", e.monitor.Kind(), e.monitor.Target(), err)
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// Reload replaces the active set with monitors built from specs.
func (r *Registry) Reload(specs []config.MonitorSpec) error {
	r.opMutex.Lock()
	defer r.opMutex.Unlock()

	return multierr.Append(r.teardown(), r.apply(specs))
}

// Len returns the number of monitors in the active set.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Snapshot describes the active set in order.
func (r *Registry) Snapshot() []models.MonitorStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	statuses := make([]models.MonitorStatus, 0, len(r.entries))
	for i, e := range r.entries {
		statuses = append(statuses, models.MonitorStatus{
			Position: i,
			Kind:     e.monitor.Kind().String(),
			Target:   e.monitor.Target(),
			State:    e.monitor.State().String(),
			Line:     e.line,
		})
	}
	return statuses
}
