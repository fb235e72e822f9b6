package monitor

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	subsystemPower     = "power_supply"
	subsystemBluetooth = "bluetooth"

	powerStatusKey   = "POWER_SUPPLY_STATUS"
	powerDischarging = "Discharging"
)

// ueventConn is a connected udev netlink socket.
type ueventConn interface {
	fd() int
	read() ([]byte, error)
	close() error
}

type udevConn struct {
	conn *netlink.UEventConn
}

func (c udevConn) fd() int               { return c.conn.Fd }
func (c udevConn) read() ([]byte, error) { return c.conn.ReadMsg() }
func (c udevConn) close() error          { return c.conn.Close() }

// dialUdev subscribes to events re-broadcast by udevd once it has processed
// them, so device properties are complete.
func dialUdev() (ueventConn, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	return udevConn{conn: conn}, nil
}

type deviceSource struct {
	selector  string
	subsystem string
	matcher   netlink.Matcher
	dial      func() (ueventConn, error)
	log       Logger

	conn       ueventConn
	disarmOnce sync.Once
}

var _ source = (*deviceSource)(nil)

func newDeviceSource(selector string, args []string, dial func() (ueventConn, error), log Logger) (*deviceSource, error) {
	s := &deviceSource{
		selector: selector,
		dial:     dial,
		log:      log,
	}

	switch selector {
	case selectorPower, selectorBluetooth:
		if len(args) != 0 {
			return nil, errors.Wrapf(ErrInvalidArgument, "%s takes no arguments", selector)
		}
		s.subsystem = subsystemPower
		if selector == selectorBluetooth {
			s.subsystem = subsystemBluetooth
		}
	case selectorDevice:
		if len(args) != 1 || args[0] == "" {
			return nil, errors.Wrapf(ErrInvalidArgument, "%s requires exactly one device class", selector)
		}
		s.subsystem = args[0]
	default:
		return nil, errors.Wrapf(ErrInvalidMonitorKind, "unknown device selector %q", selector)
	}

	matcher := &netlink.RuleDefinitions{
		Rules: []netlink.RuleDefinition{
			{Env: map[string]string{"SUBSYSTEM": "^" + regexp.QuoteMeta(s.subsystem) + "$"}},
		},
	}
	if err := matcher.Compile(); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "device class %q: %v", s.subsystem, err)
	}
	s.matcher = matcher

	return s, nil
}

func (s *deviceSource) target() string { return s.subsystem }

func (s *deviceSource) arm() error {
	conn, err := s.dial()
	if err != nil {
		return errors.Wrapf(ErrFailure, "connect to udev netlink: %v", err)
	}
	s.conn = conn
	return nil
}

func (s *deviceSource) waitNext(timeout time.Duration) (interface{}, bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.conn.fd()), Events: unix.POLLIN}}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "poll udev socket")
	}
	if n == 0 {
		return nil, false, nil
	}
	// POLLERR alone is a pending socket error such as an overrun; the read
	// below reports and clears it.
	if fds[0].Revents&(unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
		return nil, false, errors.New("udev socket hung up")
	}

	msg, err := s.conn.read()
	switch {
	case err == nil:
	case errors.Is(err, unix.ENOBUFS):
		// The kernel dropped messages; the socket itself is still usable.
		s.log.Errorf("device monitor %s: udev receive buffer overrun, events lost", s.subsystem)
		return nil, false, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return nil, false, nil
	default:
		return nil, false, errors.Wrap(err, "read udev socket")
	}
	return msg, true, nil
}

// decode drops messages that do not parse or belong to another subsystem.
func (s *deviceSource) decode(raw interface{}) []Event {
	msg, ok := raw.([]byte)
	if !ok || len(msg) == 0 {
		return nil
	}
	uevent, err := netlink.ParseUEvent(msg)
	if err != nil || uevent == nil {
		return nil
	}
	if !s.matcher.Evaluate(*uevent) {
		return nil
	}

	switch s.selector {
	case selectorPower:
		return s.decodePower(uevent)
	case selectorBluetooth:
		return s.decodeBluetooth(uevent)
	default:
		return s.decodeDevice(uevent)
	}
}

func (s *deviceSource) decodePower(uevent *netlink.UEvent) []Event {
	status := uevent.Env[powerStatusKey]
	if status == "" {
		return nil
	}

	ev := Event{Source: uevent.KObj, Change: ChangePowerOn, Description: "power supply on"}
	if status == powerDischarging {
		ev.Change = ChangePowerOff
		ev.Description = "power supply off"
	}
	return []Event{ev}
}

func (s *deviceSource) decodeBluetooth(uevent *netlink.UEvent) []Event {
	switch uevent.Action {
	case netlink.ADD:
		return []Event{{Source: uevent.KObj, Change: ChangePowerOn, Description: "bluetooth on"}}
	case netlink.REMOVE:
		return []Event{{Source: uevent.KObj, Change: ChangePowerOff, Description: "bluetooth off"}}
	}
	return nil
}

func (s *deviceSource) decodeDevice(uevent *netlink.UEvent) []Event {
	var change Change
	switch uevent.Action {
	case netlink.ADD:
		change = ChangeAdded
	case netlink.REMOVE:
		change = ChangeRemoved
	default:
		return nil
	}
	return []Event{{
		Source:      uevent.KObj,
		Change:      change,
		Description: fmt.Sprintf("%s device %s %s", s.subsystem, uevent.KObj, change),
	}}
}

func (s *deviceSource) unblock() {}

func (s *deviceSource) disarm() error {
	var err error
	s.disarmOnce.Do(func() {
		if s.conn == nil {
			return
		}
		err = s.conn.close()
		s.conn = nil
	})
	return err
}
