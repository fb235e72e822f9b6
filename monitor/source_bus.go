package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	udisksService   = "org.freedesktop.UDisks2"
	udisksPath      = dbus.ObjectPath("/org/freedesktop/UDisks2")
	udisksDrives    = "/org/freedesktop/UDisks2/drives/"
	udisksDrive     = "org.freedesktop.UDisks2.Drive"
	objectManager   = "org.freedesktop.DBus.ObjectManager"
	interfacesAdded = "InterfacesAdded"
	interfacesGone  = "InterfacesRemoved"

	networkManagerPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	networkManagerIface = "org.freedesktop.NetworkManager"
	stateChanged        = "StateChanged"

	unknownValue = "unknown"
)

// NetworkManager NMState values with a message attached.
var networkStates = map[uint32]string{
	10: "networking disabled",
	20: "networking enabled, no active connection",
	50: "local connection enabled",
	70: "global connection enabled",
}

// busConn is the part of *dbus.Conn the bus source uses.
type busConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// dialSystemBus opens a private connection to the system bus.
func dialSystemBus() (busConn, error) {
	return dbus.ConnectSystemBus()
}

type busSource struct {
	topic string
	rules [][]dbus.MatchOption
	dial  func() (busConn, error)

	conn    busConn
	signals chan *dbus.Signal

	wake       chan struct{}
	wakeOnce   sync.Once
	disarmOnce sync.Once
}

var _ source = (*busSource)(nil)

func newBusSource(selector string, args []string, dial func() (busConn, error)) (*busSource, error) {
	if len(args) != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s takes no arguments", selector)
	}

	s := &busSource{
		dial:    dial,
		signals: make(chan *dbus.Signal, 16),
		wake:    make(chan struct{}),
	}

	switch selector {
	case selectorDisks:
		s.topic = "disks"
		for _, member := range []string{interfacesAdded, interfacesGone} {
			s.rules = append(s.rules, []dbus.MatchOption{
				dbus.WithMatchObjectPath(udisksPath),
				dbus.WithMatchInterface(objectManager),
				dbus.WithMatchMember(member),
			})
		}
	case selectorNetwork:
		s.topic = "network"
		s.rules = append(s.rules, []dbus.MatchOption{
			dbus.WithMatchObjectPath(networkManagerPath),
			dbus.WithMatchInterface(networkManagerIface),
			dbus.WithMatchMember(stateChanged),
		})
	default:
		return nil, errors.Wrapf(ErrInvalidMonitorKind, "unknown bus selector %q", selector)
	}

	return s, nil
}

func (s *busSource) target() string { return s.topic }

// arm connects and subscribes. A partially registered subscription is left
// for disarm to undo.
func (s *busSource) arm() error {
	conn, err := s.dial()
	if err != nil {
		return errors.Wrapf(ErrFailure, "connect to system bus: %v", err)
	}
	s.conn = conn

	for _, rule := range s.rules {
		if err := conn.AddMatchSignal(rule...); err != nil {
			return errors.Wrapf(ErrFailure, "add match rule for %s: %v", s.topic, err)
		}
	}
	conn.Signal(s.signals)
	return nil
}

func (s *busSource) waitNext(timeout time.Duration) (interface{}, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sig, open := <-s.signals:
		if !open {
			return nil, false, errors.New("system bus connection closed")
		}
		return sig, true, nil
	case <-s.wake:
		return nil, false, nil
	case <-timer.C:
		return nil, false, nil
	}
}

func (s *busSource) decode(raw interface{}) []Event {
	sig, ok := raw.(*dbus.Signal)
	if !ok || sig == nil {
		return nil
	}

	var ev *Event
	switch s.topic {
	case "disks":
		ev = s.decodeDisk(sig)
	case "network":
		ev = s.decodeNetwork(sig)
	}
	if ev == nil {
		return nil
	}
	return []Event{*ev}
}

func (s *busSource) decodeDisk(sig *dbus.Signal) *Event {
	if sig.Path != udisksPath || len(sig.Body) < 1 {
		return nil
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok || !strings.HasPrefix(string(path), udisksDrives) {
		return nil
	}

	switch sig.Name {
	case objectManager + "." + interfacesAdded:
		var props map[string]dbus.Variant
		if len(sig.Body) > 1 {
			if ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant); ok {
				props = ifaces[udisksDrive]
			}
		}
		model := s.driveProperty(path, props, "Model")
		bus := s.driveProperty(path, props, "ConnectionBus")
		return &Event{
			Source:      string(path),
			Change:      ChangeAttached,
			Description: fmt.Sprintf("disk '%s' has been connected via %s", model, bus),
		}
	case objectManager + "." + interfacesGone:
		return &Event{
			Source:      string(path),
			Change:      ChangeDetached,
			Description: fmt.Sprintf("disk '%s' removed", path),
		}
	}
	return nil
}

// driveProperty prefers the value carried by the signal and falls back to
// asking UDisks2 directly.
func (s *busSource) driveProperty(path dbus.ObjectPath, props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if str, ok := v.Value().(string); ok && str != "" {
			return str
		}
	}

	if s.conn == nil {
		return unknownValue
	}
	v, err := s.conn.Object(udisksService, path).GetProperty(udisksDrive + "." + name)
	if err != nil {
		return unknownValue
	}
	if str, ok := v.Value().(string); ok && str != "" {
		return str
	}
	return unknownValue
}

func (s *busSource) decodeNetwork(sig *dbus.Signal) *Event {
	if sig.Path != networkManagerPath || sig.Name != networkManagerIface+"."+stateChanged || len(sig.Body) < 1 {
		return nil
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return nil
	}
	msg, ok := networkStates[code]
	if !ok {
		return nil
	}
	return &Event{
		Source:      string(networkManagerPath),
		Change:      ChangeStateChanged,
		Description: msg,
	}
}

func (s *busSource) unblock() {
	s.wakeOnce.Do(func() { close(s.wake) })
}

// disarm unsubscribes before it closes the connection.
func (s *busSource) disarm() error {
	var err error
	s.disarmOnce.Do(func() {
		if s.conn == nil {
			return
		}
		for _, rule := range s.rules {
			err = multierr.Append(err, s.conn.RemoveMatchSignal(rule...))
		}
		s.conn.RemoveSignal(s.signals)
		err = multierr.Append(err, s.conn.Close())
		s.conn = nil
	})
	return err
}
