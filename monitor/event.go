package monitor

// Change is the kind of change an Event reports.
type Change string

const (
	ChangeOpened       Change = "opened"
	ChangeModified     Change = "modified"
	ChangeWriteClosed  Change = "write-closed"
	ChangeClosed       Change = "closed"
	ChangeMoved        Change = "moved"
	ChangeDeleted      Change = "deleted"
	ChangeWatchRemoved Change = "watch-removed"
	ChangeAttached     Change = "attached"
	ChangeDetached     Change = "detached"
	ChangeStateChanged Change = "state-changed"
	ChangePowerOn      Change = "power-on"
	ChangePowerOff     Change = "power-off"
	ChangeAdded        Change = "added"
	ChangeRemoved      Change = "removed"
)

// Event is a decoded notification from an event source.
type Event struct {
	Source      string
	Change      Change
	Description string

	// Terminal events end the monitor that observed them.
	Terminal bool
}

func (ev Event) String() string {
	return ev.Description
}
