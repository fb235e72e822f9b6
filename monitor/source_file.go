package monitor

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

const (
	modeOpen   = 'o'
	modeWrite  = 'w'
	modeClose  = 'c'
	modeMove   = 'm'
	modeDelete = 'd'
)

// fileEventBuffer holds up to 20 events for names up to NAME_MAX.
const fileEventBuffer = 20 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

type fileSource struct {
	path string
	mode string
	fd   int

	disarmOnce sync.Once
}

var _ source = (*fileSource)(nil)

// newFileSource parses "[-o] [-w] [-c] [-m] [-d] path". Flags come before the
// path and may be combined, as in "-wcd".
func newFileSource(args []string) (*fileSource, error) {
	flags := pflag.NewFlagSet(selectorFile, pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)

	opened := flags.BoolP("open", string(modeOpen), false, "file opened")
	written := flags.BoolP("write", string(modeWrite), false, "file changed")
	closed := flags.BoolP("close", string(modeClose), false, "file closed")
	moved := flags.BoolP("move", string(modeMove), false, "file moved")
	deleted := flags.BoolP("delete", string(modeDelete), false, "file deleted")

	if err := flags.Parse(args); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "file monitor: %v", err)
	}
	if flags.NArg() != 1 || flags.Arg(0) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "file monitor: exactly one path is required")
	}

	var mode strings.Builder
	for _, m := range []struct {
		set  bool
		flag byte
	}{
		{*opened, modeOpen},
		{*written, modeWrite},
		{*closed, modeClose},
		{*moved, modeMove},
		{*deleted, modeDelete},
	} {
		if m.set {
			mode.WriteByte(m.flag)
		}
	}
	if mode.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "file monitor: at least one of -o -w -c -m -d is required")
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(ErrFailure, "inotify_init: %v", err)
	}

	return &fileSource{
		path: flags.Arg(0),
		mode: mode.String(),
		fd:   fd,
	}, nil
}

func (s *fileSource) has(mode byte) bool {
	return strings.IndexByte(s.mode, mode) >= 0
}

func (s *fileSource) mask() uint32 {
	var mask uint32
	if s.has(modeOpen) {
		mask |= unix.IN_OPEN
	}
	if s.has(modeWrite) {
		mask |= unix.IN_MODIFY | unix.IN_CLOSE_WRITE
	}
	if s.has(modeClose) {
		mask |= unix.IN_CLOSE_WRITE | unix.IN_CLOSE_NOWRITE
	}
	if s.has(modeMove) {
		mask |= unix.IN_MOVE_SELF
	}
	if s.has(modeDelete) {
		mask |= unix.IN_DELETE_SELF
	}
	return mask
}

func (s *fileSource) target() string { return s.path }

func (s *fileSource) arm() error {
	if _, err := unix.InotifyAddWatch(s.fd, s.path, s.mask()); err != nil {
		return errors.Wrapf(ErrFailure, "inotify add watch for %s: %v", s.path, err)
	}
	return nil
}

func (s *fileSource) waitNext(timeout time.Duration) (interface{}, bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "poll inotify descriptor")
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		return nil, false, nil
	}

	buf := make([]byte, fileEventBuffer)
	n, err = unix.Read(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EINTR {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read inotify descriptor")
	}

	return buf[:n], true, nil
}

// decode walks a buffer of struct inotify_event records. A truncated trailing
// record is ignored.
func (s *fileSource) decode(raw interface{}) []Event {
	buf, _ := raw.([]byte)

	var events []Event
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		mask := binary.NativeEndian.Uint32(buf[offset+4:])
		nameLen := binary.NativeEndian.Uint32(buf[offset+12:])

		events = append(events, s.decodeMask(mask)...)
		offset += unix.SizeofInotifyEvent + int(nameLen)
	}
	return events
}

func (s *fileSource) decodeMask(mask uint32) []Event {
	var events []Event
	report := func(change Change, verb string, terminal bool) {
		events = append(events, Event{
			Source:      s.path,
			Change:      change,
			Description: fmt.Sprintf("file %s was %s", s.path, verb),
			Terminal:    terminal,
		})
	}

	if mask&unix.IN_OPEN != 0 && s.has(modeOpen) {
		report(ChangeOpened, "opened", false)
	}
	if mask&unix.IN_MODIFY != 0 && s.has(modeWrite) {
		report(ChangeModified, "modified", false)
	}
	if mask&unix.IN_CLOSE_WRITE != 0 && s.has(modeWrite) {
		report(ChangeWriteClosed, "changed", false)
	}
	if mask&unix.IN_CLOSE != 0 && s.has(modeClose) {
		report(ChangeClosed, "closed", false)
	}
	if mask&unix.IN_MOVE_SELF != 0 && s.has(modeMove) {
		report(ChangeMoved, "moved", true)
	}
	if mask&unix.IN_DELETE_SELF != 0 && s.has(modeDelete) {
		report(ChangeDeleted, "deleted", true)
	}
	if mask&unix.IN_IGNORED != 0 {
		events = append(events, Event{
			Source:      s.path,
			Change:      ChangeWatchRemoved,
			Description: fmt.Sprintf("watch on file %s was removed", s.path),
			Terminal:    true,
		})
	}
	return events
}

func (s *fileSource) unblock() {}

// disarm closes the inotify descriptor, which drops its watch as well.
func (s *fileSource) disarm() error {
	var err error
	s.disarmOnce.Do(func() {
		err = unix.Close(s.fd)
		s.fd = -1
	})
	return err
}
