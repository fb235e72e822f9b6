// Package monitor implements the monitor framework: a uniform lifecycle over
// three kinds of host event sources (file changes, bus signals and device
// hotplug), each driven by one dedicated worker goroutine.
//
// A Monitor moves through NotInitialized, Initialized, Running, Dying and Dead,
// strictly forward. Only the worker marks a monitor Dead, and a monitor can be
// destroyed only once it is Dead:
//
//	m, err := monitor.New([]string{"--file", "-w", "/etc/hosts"}, monitor.WithLogger(log))
//	if err != nil { ... }
//	m.Start()
//	...
//	m.Stop()
//	m.Join()
//	m.Destroy()
package monitor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultPollInterval bounds every wait a worker performs before it checks
// whether it has been asked to stop.
const DefaultPollInterval = 500 * time.Millisecond

const (
	selectorFile      = "--file"
	selectorDisks     = "--disks"
	selectorNetwork   = "--network"
	selectorPower     = "--power"
	selectorBluetooth = "--bluetooth"
	selectorDevice    = "--device"
)

// Logger is the sink monitors report events and failures to. It must be safe
// for concurrent use by many workers.
type Logger interface {
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Errorf(template string, args ...interface{})
}

type (
	// Monitor wraps exactly one event source together with its lifecycle
	// state and worker.
	Monitor struct {
		kind   Kind
		target string

		// exactly one of these is set, selected by kind
		file   *fileSource
		bus    *busSource
		device *deviceSource

		log          Logger
		pollInterval time.Duration
		spawn        func(func()) error

		// mutex guards state, done and freed.
		mutex sync.Mutex
		state State
		done  chan struct{}
		freed bool
	}

	Option func(*options)

	options struct {
		log          Logger
		pollInterval time.Duration
		dialBus      func() (busConn, error)
		dialUEvents  func() (ueventConn, error)
	}
)

// WithLogger sets the sink events are reported to. Without it events are
// dropped.
func WithLogger(log Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithPollInterval sets the bounded wait used by the worker between checks
// of the monitor state.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// New creates a monitor from one specification: a selector followed by the
// selector's arguments, e.g. {"--file", "-wd", "/etc/passwd"} or
// {"--network"}. The returned monitor is Initialized. Nothing is left open
// when New fails.
func New(args []string, opts ...Option) (*Monitor, error) {
	o := options{
		log:          nopLogger{},
		pollInterval: DefaultPollInterval,
		dialBus:      dialSystemBus,
		dialUEvents:  dialUdev,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(args) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "empty monitor specification")
	}

	m := &Monitor{
		log:          o.log,
		pollInterval: o.pollInterval,
		spawn:        spawnGoroutine,
		state:        NotInitialized,
	}

	var err error
	switch args[0] {
	case selectorFile:
		m.kind = KindFile
		m.file, err = newFileSource(args[1:])
	case selectorDisks, selectorNetwork:
		m.kind = KindBus
		m.bus, err = newBusSource(args[0], args[1:], o.dialBus)
	case selectorPower, selectorBluetooth, selectorDevice:
		m.kind = KindDevice
		m.device, err = newDeviceSource(args[0], args[1:], o.dialUEvents, o.log)
	default:
		return nil, errors.Wrapf(ErrInvalidMonitorKind, "unknown monitor selector %q", args[0])
	}
	if err != nil {
		return nil, err
	}

	m.target = m.source().target()

	m.mutex.Lock()
	m.state = Initialized
	m.mutex.Unlock()

	return m, nil
}

// source is the single dispatch point over the monitor's variants.
func (m *Monitor) source() source {
	switch m.kind {
	case KindFile:
		return m.file
	case KindBus:
		return m.bus
	case KindDevice:
		return m.device
	default:
		return nil
	}
}

// Start spawns the worker. The monitor must be Initialized.
func (m *Monitor) Start() error {
	if m == nil {
		return ErrNotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.freed {
		return ErrNotInitialized
	}
	if m.state != Initialized {
		return errors.Wrapf(ErrInvalidState, "cannot start %s monitor %s in %s state", m.kind, m.target, m.state)
	}

	src := m.source()
	done := make(chan struct{})
	if err := m.spawn(func() { m.run(src, done) }); err != nil {
		return errors.Wrapf(ErrFailure, "spawn %s monitor %s: %v", m.kind, m.target, err)
	}

	m.done = done
	m.state = Running
	return nil
}

// Stop asks a Running monitor to die. It returns once the request is
// recorded; Join waits for the worker to actually exit.
func (m *Monitor) Stop() error {
	if m == nil {
		return ErrNotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.freed {
		return ErrNotInitialized
	}
	if m.state != Running {
		return errors.Wrapf(ErrInvalidState, "cannot stop %s monitor %s in %s state", m.kind, m.target, m.state)
	}

	m.state = Dying
	m.source().unblock()
	return nil
}

// Join blocks until the worker has exited. It returns immediately for a
// monitor that was never started.
func (m *Monitor) Join() {
	if m == nil {
		return
	}

	m.mutex.Lock()
	done := m.done
	m.mutex.Unlock()

	if done != nil {
		<-done
	}
}

// Destroy releases the event source of a Dead monitor. Calling it in any
// other state releases nothing.
func (m *Monitor) Destroy() error {
	if m == nil {
		return ErrNotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.freed {
		return ErrNotInitialized
	}
	if m.state != Dead {
		return errors.Wrapf(ErrInvalidState, "cannot destroy %s monitor %s in %s state", m.kind, m.target, m.state)
	}

	return m.release()
}

// Discard releases the event source of a monitor that was never started.
func (m *Monitor) Discard() error {
	if m == nil {
		return ErrNotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.freed {
		return ErrNotInitialized
	}
	if m.state != Initialized {
		return errors.Wrapf(ErrInvalidState, "cannot discard %s monitor %s in %s state", m.kind, m.target, m.state)
	}

	return m.release()
}

// release must be called with the mutex held.
func (m *Monitor) release() error {
	m.freed = true
	if err := m.source().disarm(); err != nil {
		return errors.Wrapf(ErrFailure, "release %s monitor %s: %v", m.kind, m.target, err)
	}
	m.log.Infof("%s monitor %s was destroyed", m.kind, m.target)
	return nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	if m == nil {
		return NotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *Monitor) Kind() Kind {
	if m == nil {
		return KindInvalid
	}
	return m.kind
}

// Target names what the monitor watches: a path, a bus topic or a device
// class.
func (m *Monitor) Target() string {
	if m == nil {
		return ""
	}
	return m.target
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
