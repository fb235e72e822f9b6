package monitor

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	path := tempFile(t)

	tests := []struct {
		name    string
		args    []string
		wantErr error
		kind    Kind
		target  string
	}{
		{name: "empty", args: nil, wantErr: ErrInvalidArgument},
		{name: "unknown selector", args: []string{"--bogus"}, wantErr: ErrInvalidMonitorKind},
		{name: "file without path", args: []string{"--file", "-w"}, wantErr: ErrInvalidArgument},
		{name: "file without mode", args: []string{"--file", path}, wantErr: ErrInvalidArgument},
		{name: "file", args: []string{"--file", "-wd", path}, kind: KindFile, target: path},
		{name: "network with arguments", args: []string{"--network", "eth0"}, wantErr: ErrInvalidArgument},
		{name: "network", args: []string{"--network"}, kind: KindBus, target: "network"},
		{name: "disks", args: []string{"--disks"}, kind: KindBus, target: "disks"},
		{name: "device without class", args: []string{"--device"}, wantErr: ErrInvalidArgument},
		{name: "device", args: []string{"--device", "usb"}, kind: KindDevice, target: "usb"},
		{name: "power", args: []string{"--power"}, kind: KindDevice, target: "power_supply"},
		{name: "bluetooth", args: []string{"--bluetooth"}, kind: KindDevice, target: "bluetooth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, m)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, Initialized, m.State())
			assert.Equal(t, tt.kind, m.Kind())
			assert.Equal(t, tt.target, m.Target())
			assert.NoError(t, m.Discard())
		})
	}
}

func TestMonitor_FileRoundTrip(t *testing.T) {
	path := tempFile(t)
	log := &recordingLogger{}

	m, err := New([]string{"--file", "-w", path}, WithLogger(log), WithPollInterval(testPollInterval))
	require.NoError(t, err)
	fd := m.file.fd
	require.True(t, fdOpen(fd))

	require.NoError(t, m.Start())
	assert.Equal(t, Running, m.State())
	log.waitInfo(t, "file monitor "+path+" started")

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o600))
	log.waitInfo(t, "file "+path+" was modified")
	assert.Equal(t, map[string]interface{}{
		"monitor": "file",
		"target":  path,
		"source":  path,
		"change":  "modified",
	}, log.fieldsOf("file "+path+" was modified"))

	require.NoError(t, m.Stop())
	m.Join()
	assert.Equal(t, Dead, m.State())
	assert.False(t, fdOpen(fd), "inotify descriptor still open after the worker exited")

	require.NoError(t, m.Destroy())
	assert.True(t, log.hasInfo("file monitor "+path+" was destroyed"))
	assert.ErrorIs(t, m.Destroy(), ErrNotInitialized)
	assert.Empty(t, log.Errors())
}

func TestMonitor_TerminalEventEndsMonitor(t *testing.T) {
	path := tempFile(t)
	log := &recordingLogger{}

	m, err := New([]string{"--file", "-d", path}, WithLogger(log), WithPollInterval(testPollInterval))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	log.waitInfo(t, "file monitor "+path+" started")

	require.NoError(t, os.Remove(path))
	log.waitInfo(t, "file "+path+" was deleted")
	waitState(t, m, Dead)

	assert.ErrorIs(t, m.Stop(), ErrInvalidState)
	m.Join()
	assert.NoError(t, m.Destroy())
}

func TestMonitor_ArmFailureEndsMonitor(t *testing.T) {
	log := &recordingLogger{}

	m, err := New([]string{"--file", "-w", "/nonexistent/slm/watched"}, WithLogger(log), WithPollInterval(testPollInterval))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	m.Join()
	assert.Equal(t, Dead, m.State())
	assert.Len(t, log.Errors(), 1)
	assert.False(t, log.hasInfo("file monitor /nonexistent/slm/watched started"))
	assert.NoError(t, m.Destroy())
}

func TestMonitor_StopOutsideRunning(t *testing.T) {
	m, err := New([]string{"--file", "-w", tempFile(t)})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Stop(), ErrInvalidState)
	assert.Equal(t, Initialized, m.State())

	require.NoError(t, m.Discard())
	assert.ErrorIs(t, m.Stop(), ErrNotInitialized)
}

func TestMonitor_DestroyOutsideDead(t *testing.T) {
	m, err := New([]string{"--file", "-w", tempFile(t)}, WithPollInterval(testPollInterval))
	require.NoError(t, err)
	fd := m.file.fd

	assert.ErrorIs(t, m.Destroy(), ErrInvalidState)
	assert.True(t, fdOpen(fd))

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Destroy(), ErrInvalidState)
	assert.ErrorIs(t, m.Discard(), ErrInvalidState)
	assert.Equal(t, Running, m.State())

	require.NoError(t, m.Stop())
	m.Join()
	assert.NoError(t, m.Destroy())
}

func TestMonitor_StartTwice(t *testing.T) {
	m, err := New([]string{"--file", "-w", tempFile(t)}, WithPollInterval(testPollInterval))
	require.NoError(t, err)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrInvalidState)
	assert.Equal(t, Running, m.State())

	require.NoError(t, m.Stop())
	m.Join()
	require.NoError(t, m.Destroy())
}

func TestMonitor_DoubleStop(t *testing.T) {
	conn := newFakeBusConn()
	log := &recordingLogger{}

	m, err := New([]string{"--network"}, WithLogger(log), withBusDialer(conn.dial))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	log.waitInfo(t, "bus monitor network started")

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), ErrInvalidState)

	// The default poll interval is long; the worker must be woken by Stop.
	m.Join()
	assert.Equal(t, Dead, m.State())
	assert.True(t, conn.isClosed())
	require.NoError(t, m.Destroy())
}

func TestMonitor_SpawnFailure(t *testing.T) {
	m, err := New([]string{"--file", "-w", tempFile(t)})
	require.NoError(t, err)
	m.spawn = func(func()) error { return errors.New("no more threads") }

	err = m.Start()
	assert.ErrorIs(t, err, ErrFailure)
	assert.Equal(t, Initialized, m.State())

	// Join must not block on a monitor without a worker.
	m.Join()
	assert.NoError(t, m.Discard())
}

func TestMonitor_Nil(t *testing.T) {
	var m *Monitor

	assert.ErrorIs(t, m.Start(), ErrNotInitialized)
	assert.ErrorIs(t, m.Stop(), ErrNotInitialized)
	assert.ErrorIs(t, m.Destroy(), ErrNotInitialized)
	assert.ErrorIs(t, m.Discard(), ErrNotInitialized)
	assert.Equal(t, NotInitialized, m.State())
	assert.Equal(t, KindInvalid, m.Kind())
	m.Join()
}
