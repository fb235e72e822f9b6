package monitor

import (
	"time"
)

// source is the contract every event source variant implements for the
// worker.
type source interface {
	// target names what is being watched.
	target() string

	// arm registers interest with the native mechanism.
	arm() error

	// waitNext blocks for at most timeout. ok is false when nothing arrived.
	waitNext(timeout time.Duration) (raw interface{}, ok bool, err error)

	// decode never fails; input it cannot make sense of yields no events.
	decode(raw interface{}) []Event

	// unblock wakes a pending waitNext. It is called at most once.
	unblock()

	// disarm releases registrations and descriptors. It is idempotent.
	disarm() error
}

func spawnGoroutine(fn func()) error {
	go fn()
	return nil
}

// run is the worker loop. It is the only place a monitor becomes Dead.
func (m *Monitor) run(src source, done chan struct{}) {
	defer close(done)

	if err := src.arm(); err != nil {
		m.log.Errorf("%s monitor %s: %v", m.kind, m.target, err)
		m.markDead(src)
		return
	}

	m.log.Infof("%s monitor %s started", m.kind, m.target)

	for {
		if m.dying() {
			m.markDead(src)
			return
		}

		raw, ok, err := src.waitNext(m.pollInterval)
		if err != nil {
			m.log.Errorf("%s monitor %s: %v", m.kind, m.target, err)
			m.markDead(src)
			return
		}
		if !ok {
			continue
		}

		for _, ev := range src.decode(raw) {
			m.log.Infow(ev.Description,
				"monitor", m.kind.String(),
				"target", m.target,
				"source", ev.Source,
				"change", string(ev.Change),
			)
			if ev.Terminal {
				m.markDead(src)
				return
			}
		}
	}
}

func (m *Monitor) dying() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state == Dying
}

func (m *Monitor) markDead(src source) {
	if err := src.disarm(); err != nil {
		m.log.Errorf("%s monitor %s: release: %v", m.kind, m.target, err)
	}

	m.mutex.Lock()
	m.state = Dead
	m.mutex.Unlock()

	m.log.Infof("%s monitor %s stopped", m.kind, m.target)
}
