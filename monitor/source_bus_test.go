package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBusConn struct {
	mu       sync.Mutex
	matches  int
	removed  int
	channels []chan<- *dbus.Signal
	closed   bool
	props    map[string]dbus.Variant

	// calls records teardown calls in order.
	calls []string
}

func newFakeBusConn() *fakeBusConn {
	return &fakeBusConn{props: map[string]dbus.Variant{}}
}

func (c *fakeBusConn) dial() (busConn, error) { return c, nil }

func (c *fakeBusConn) AddMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches++
	return nil
}

func (c *fakeBusConn) RemoveMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed++
	c.calls = append(c.calls, "RemoveMatchSignal")
	return nil
}

func (c *fakeBusConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, ch)
}

func (c *fakeBusConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "RemoveSignal")
	for i := range c.channels {
		if c.channels[i] == ch {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			break
		}
	}
}

func (c *fakeBusConn) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return fakeObject{conn: c, path: path}
}

func (c *fakeBusConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.calls = append(c.calls, "Close")
	return nil
}

func (c *fakeBusConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeBusConn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels) > 0
}

func (c *fakeBusConn) emit(sig *dbus.Signal) {
	c.mu.Lock()
	channels := append([]chan<- *dbus.Signal(nil), c.channels...)
	c.mu.Unlock()
	for _, ch := range channels {
		ch <- sig
	}
}

// fakeObject answers property reads from the connection's props map.
type fakeObject struct {
	dbus.BusObject
	conn *fakeBusConn
	path dbus.ObjectPath
}

func (o fakeObject) GetProperty(p string) (dbus.Variant, error) {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	v, ok := o.conn.props[string(o.path)+" "+p]
	if !ok {
		return dbus.Variant{}, errors.New("no such property")
	}
	return v, nil
}

func networkSignal(state uint32) *dbus.Signal {
	return &dbus.Signal{
		Path: networkManagerPath,
		Name: networkManagerIface + "." + stateChanged,
		Body: []interface{}{state},
	}
}

func TestBusSource_DecodeNetwork(t *testing.T) {
	s, err := newBusSource(selectorNetwork, nil, newFakeBusConn().dial)
	require.NoError(t, err)

	tests := []struct {
		name string
		sig  *dbus.Signal
		want []string
	}{
		{name: "disabled", sig: networkSignal(10), want: []string{"networking disabled"}},
		{name: "no connection", sig: networkSignal(20), want: []string{"networking enabled, no active connection"}},
		{name: "local", sig: networkSignal(50), want: []string{"local connection enabled"}},
		{name: "global", sig: networkSignal(70), want: []string{"global connection enabled"}},
		{name: "connecting", sig: networkSignal(40)},
		{name: "unknown", sig: networkSignal(0)},
		{name: "wrong body type", sig: &dbus.Signal{Path: networkManagerPath, Name: networkManagerIface + "." + stateChanged, Body: []interface{}{"70"}}},
		{name: "empty body", sig: &dbus.Signal{Path: networkManagerPath, Name: networkManagerIface + "." + stateChanged}},
		{name: "other member", sig: &dbus.Signal{Path: networkManagerPath, Name: networkManagerIface + ".DeviceAdded", Body: []interface{}{uint32(70)}}},
		{name: "name acquired", sig: &dbus.Signal{Path: "/org/freedesktop/DBus", Name: "org.freedesktop.DBus.NameAcquired", Body: []interface{}{":1.42"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, ev := range s.decode(tt.sig) {
				got = append(got, ev.String())
				assert.False(t, ev.Terminal)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBusSource_DecodeDisks(t *testing.T) {
	const drive = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Samsung_SSD_1")

	conn := newFakeBusConn()
	conn.props[string(drive)+" "+udisksDrive+".Model"] = dbus.MakeVariant("Fallback Model")
	conn.props[string(drive)+" "+udisksDrive+".ConnectionBus"] = dbus.MakeVariant("")

	s, err := newBusSource(selectorDisks, nil, conn.dial)
	require.NoError(t, err)
	require.NoError(t, s.arm())
	defer s.disarm()

	added := func(path dbus.ObjectPath, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Path: udisksPath,
			Name: objectManager + "." + interfacesAdded,
			Body: []interface{}{path, map[string]map[string]dbus.Variant{udisksDrive: props}},
		}
	}

	tests := []struct {
		name string
		sig  *dbus.Signal
		want []string
	}{
		{
			name: "added with properties",
			sig: added(drive, map[string]dbus.Variant{
				"Model":         dbus.MakeVariant("Samsung SSD"),
				"ConnectionBus": dbus.MakeVariant("usb"),
			}),
			want: []string{"disk 'Samsung SSD' has been connected via usb"},
		},
		{
			name: "added falls back to properties",
			sig:  added(drive, nil),
			want: []string{"disk 'Fallback Model' has been connected via unknown"},
		},
		{
			name: "added without lookup result",
			sig:  added("/org/freedesktop/UDisks2/drives/Other", nil),
			want: []string{"disk 'unknown' has been connected via unknown"},
		},
		{
			name: "removed",
			sig: &dbus.Signal{
				Path: udisksPath,
				Name: objectManager + "." + interfacesGone,
				Body: []interface{}{drive, []string{udisksDrive}},
			},
			want: []string{"disk '/org/freedesktop/UDisks2/drives/Samsung_SSD_1' removed"},
		},
		{
			name: "block device ignored",
			sig:  added("/org/freedesktop/UDisks2/block_devices/sda", nil),
		},
		{
			name: "malformed body",
			sig:  &dbus.Signal{Path: udisksPath, Name: objectManager + "." + interfacesAdded, Body: []interface{}{"not a path"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, ev := range s.decode(tt.sig) {
				got = append(got, ev.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBusSource_ArmAndDisarm(t *testing.T) {
	conn := newFakeBusConn()

	s, err := newBusSource(selectorDisks, nil, conn.dial)
	require.NoError(t, err)
	require.NoError(t, s.arm())
	assert.Equal(t, 2, conn.matches)
	assert.True(t, conn.subscribed())

	require.NoError(t, s.disarm())
	assert.Equal(t, 2, conn.removed)
	assert.False(t, conn.subscribed())
	assert.True(t, conn.isClosed())
	assert.Equal(t, []string{"RemoveMatchSignal", "RemoveMatchSignal", "RemoveSignal", "Close"}, conn.calls)

	assert.NoError(t, s.disarm())
	assert.Len(t, conn.calls, 4)
}

func TestBusSource_DialFailure(t *testing.T) {
	s, err := newBusSource(selectorNetwork, nil, func() (busConn, error) {
		return nil, errors.New("no system bus")
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.arm(), ErrFailure)
	assert.NoError(t, s.disarm())
}

func TestBusSource_WaitNext(t *testing.T) {
	conn := newFakeBusConn()
	s, err := newBusSource(selectorNetwork, nil, conn.dial)
	require.NoError(t, err)
	require.NoError(t, s.arm())
	defer s.disarm()

	_, ok, err := s.waitNext(10 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)

	conn.emit(networkSignal(70))
	raw, ok, err := s.waitNext(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, networkSignal(70), raw)

	s.unblock()
	s.unblock()
	start := time.Now()
	_, ok, err = s.waitNext(time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBusMonitor_UnknownStateLogsNothing(t *testing.T) {
	conn := newFakeBusConn()
	log := &recordingLogger{}

	m, err := New([]string{"--network"}, WithLogger(log), WithPollInterval(testPollInterval), withBusDialer(conn.dial))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	log.waitInfo(t, "bus monitor network started")

	conn.emit(networkSignal(30))
	conn.emit(networkSignal(999))
	// A known state afterwards proves the unknown ones were consumed.
	conn.emit(networkSignal(70))
	log.waitInfo(t, "global connection enabled")

	require.NoError(t, m.Stop())
	m.Join()
	require.NoError(t, m.Destroy())

	assert.Equal(t, []string{
		"bus monitor network started",
		"global connection enabled",
		"bus monitor network stopped",
		"bus monitor network was destroyed",
	}, log.Infos())
	assert.Empty(t, log.Errors())
}
