// Package monitoring exposes the daemon's monitor set to osquery as the
// slm_monitors table.
package monitoring

import (
	"context"

	"github.com/osquery/osquery-go"

	"github.com/tejiriaustin/slm/models"
)

type (
	// StatusProvider reports the active monitors in order.
	StatusProvider interface {
		Snapshot() []models.MonitorStatus
	}

	// ExtensionServer is the part of *osquery.ExtensionManagerServer the
	// extension drives.
	ExtensionServer interface {
		RegisterPlugin(plugins ...osquery.OsqueryPlugin)
		Run() error
		Shutdown(ctx context.Context) error
	}
)
