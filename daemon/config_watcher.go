package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tejiriaustin/slm/monitor"
)

const defaultDebounce = 250 * time.Millisecond

// ConfigWatcher requests a reload whenever the monitors file changes. Editors
// often replace a file instead of writing it, so the parent directory is
// watched rather than the file itself.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	log      monitor.Logger
	cmdChan  chan<- Command
	debounce time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewConfigWatcher(path string, cmdChan chan<- Command, log monitor.Logger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		log:      log,
		cmdChan:  cmdChan,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

func (cw *ConfigWatcher) Start() error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("error watching %s: %w", dir, err)
	}

	cw.log.Infof("watching %s for changes", cw.path)

	cw.wg.Add(1)
	go cw.watch()
	return nil
}

func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
		cw.wg.Wait()
	})
	return err
}

func (cw *ConfigWatcher) watch() {
	defer cw.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(cw.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if !Enqueue(cw.cmdChan, CommandReload) {
				cw.log.Errorf("reload queue full, dropping change of %s", cw.path)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Errorf("config watcher error: %v", err)

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != cw.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
