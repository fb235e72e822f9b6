package monitor

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingLogger keeps every formatted line so tests can assert on what a
// monitor reported.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string

	// fields holds the key/value pairs of structured lines, keyed by message.
	fields map[string]map[string]interface{}
}

func (l *recordingLogger) Infof(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)

	kv := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		kv[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	if l.fields == nil {
		l.fields = make(map[string]map[string]interface{})
	}
	l.fields[msg] = kv
}

func (l *recordingLogger) fieldsOf(msg string) map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fields[msg]
}

func (l *recordingLogger) Errorf(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Infos() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.infos...)
}

func (l *recordingLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func (l *recordingLogger) hasInfo(line string) bool {
	for _, info := range l.Infos() {
		if info == line {
			return true
		}
	}
	return false
}

func (l *recordingLogger) waitInfo(t *testing.T, line string) {
	t.Helper()
	require.Eventually(t, func() bool { return l.hasInfo(line) }, 5*time.Second, 10*time.Millisecond,
		"never logged %q, got %q", line, l.Infos())
}

func waitState(t *testing.T, m *Monitor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 5*time.Second, 10*time.Millisecond,
		"monitor never reached %s, still %s", want, m.State())
}

func tempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "watched-*")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

// fdOpen reports whether fd refers to an open descriptor of this process.
func fdOpen(fd int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/self/fd/%d", fd))
	return err == nil
}

const testPollInterval = 20 * time.Millisecond

func withBusDialer(dial func() (busConn, error)) Option {
	return func(o *options) { o.dialBus = dial }
}

func withUEventDialer(dial func() (ueventConn, error)) Option {
	return func(o *options) { o.dialUEvents = dial }
}
