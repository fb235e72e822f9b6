package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/osquery/osquery-go"
	"github.com/osquery/osquery-go/plugin/table"

	"github.com/tejiriaustin/slm/logger"
)

const (
	TableName     = "slm_monitors"
	ExtensionName = "slm"
)

type (
	OsQueryExtension struct {
		socketPath string
		timeout    time.Duration
		provider   StatusProvider
		logger     *logger.Logger
		newServer  func(name, socketPath string, timeout time.Duration) (ExtensionServer, error)
	}

	Options func(*OsQueryExtension) error
)

func WithLogger(log *logger.Logger) Options {
	return func(e *OsQueryExtension) error {
		if log == nil {
			return errors.New("nil logger")
		}
		e.logger = log
		return nil
	}
}

func WithTimeout(timeout time.Duration) Options {
	return func(e *OsQueryExtension) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid timeout %s", timeout)
		}
		e.timeout = timeout
		return nil
	}
}

func New(socketPath string, provider StatusProvider, opts ...Options) (*OsQueryExtension, error) {
	if socketPath == "" {
		return nil, errors.New("osquery socket path not set")
	}

	e := &OsQueryExtension{
		socketPath: socketPath,
		timeout:    3 * time.Second,
		provider:   provider,
		newServer:  newExtensionManagerServer,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func newExtensionManagerServer(name, socketPath string, timeout time.Duration) (ExtensionServer, error) {
	return osquery.NewExtensionManagerServer(name, socketPath, osquery.ServerTimeout(timeout))
}

// Columns describes the slm_monitors table.
func Columns() []table.ColumnDefinition {
	return []table.ColumnDefinition{
		table.IntegerColumn("position"),
		table.TextColumn("kind"),
		table.TextColumn("target"),
		table.TextColumn("state"),
		table.IntegerColumn("line"),
	}
}

// Generate returns one row per active monitor.
func (e *OsQueryExtension) Generate(ctx context.Context, queryContext table.QueryContext) ([]map[string]string, error) {
	statuses := e.provider.Snapshot()

	rows := make([]map[string]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, map[string]string{
			"position": strconv.Itoa(status.Position),
			"kind":     status.Kind,
			"target":   status.Target,
			"state":    status.State,
			"line":     strconv.Itoa(status.Line),
		})
	}
	return rows, nil
}

// Start registers the table with osqueryd and serves it until ctx is done.
func (e *OsQueryExtension) Start(ctx context.Context) error {
	server, err := e.newServer(ExtensionName, e.socketPath, e.timeout)
	if err != nil {
		return fmt.Errorf("failed to create extension server: %w", err)
	}

	server.RegisterPlugin(table.NewPlugin(TableName, Columns(), e.Generate))

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	if e.logger != nil {
		e.logger.Infow("osquery extension registered", "table", TableName, "socket", e.socketPath)
	}

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("extension server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down extension server: %w", err)
	}
	return nil
}
