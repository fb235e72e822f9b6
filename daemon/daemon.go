package daemon

import (
	"context"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/monitor"
)

type (
	Daemon struct {
		monitorsFile string
		log          monitor.Logger
		registry     *Registry
		cmdChan      <-chan Command
		loadSpecs    func(path string) ([]config.MonitorSpec, error)
	}

	// Command is a request for the control loop. Anything may enqueue one;
	// only StartDaemon acts on it.
	Command string
)

const (
	CommandReload   Command = "reload"
	CommandShutdown Command = "shutdown"
)

// Enqueue offers cmd to the control loop without blocking. It reports false
// when the queue is full.
func Enqueue(cmdChan chan<- Command, cmd Command) bool {
	select {
	case cmdChan <- cmd:
		return true
	default:
		return false
	}
}

func New(cfg *config.Config, log monitor.Logger, registry *Registry, cmdChan <-chan Command) (*Daemon, error) {
	return &Daemon{
		monitorsFile: cfg.MonitorsFile,
		log:          log,
		registry:     registry,
		cmdChan:      cmdChan,
		loadSpecs:    config.LoadMonitorSpecs,
	}, nil
}

// StartDaemon applies the monitors file and serves commands one at a time
// until a shutdown is requested, the command channel is closed or ctx is
// done. Every monitor is torn down before it returns.
func (daemon *Daemon) StartDaemon(ctx context.Context) error {
	daemon.log.Infof("starting monitors from %s", daemon.monitorsFile)
	daemon.registry.Apply(daemon.specs())

	for {
		select {
		case <-ctx.Done():
			daemon.log.Infof("context done, shutting down")
			return daemon.shutdown()

		case cmd, ok := <-daemon.cmdChan:
			if !ok {
				return daemon.shutdown()
			}

			switch cmd {
			case CommandReload:
				daemon.log.Infof("reloading monitors from %s", daemon.monitorsFile)
				daemon.registry.Reload(daemon.specs())
				daemon.log.Infof("%d monitors active", daemon.registry.Len())
			case CommandShutdown:
				daemon.log.Infof("shutdown requested")
				return daemon.shutdown()
			default:
				daemon.log.Errorf("unknown command %q", cmd)
			}
		}
	}
}

// specs reads the monitors file. An unreadable file yields an empty set so
// the daemon keeps running until the file is fixed and reloaded.
func (daemon *Daemon) specs() []config.MonitorSpec {
	specs, err := daemon.loadSpecs(daemon.monitorsFile)
	if err != nil {
		daemon.log.Errorf("cannot load monitors: %v", err)
		return nil
	}
	return specs
}

func (daemon *Daemon) shutdown() error {
	err := daemon.registry.Teardown()
	daemon.log.Infof("all monitors stopped")
	return err
}
