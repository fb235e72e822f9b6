package models

// MonitorStatus is one row of the daemon's active monitor set.
type MonitorStatus struct {
	Position int    `json:"position"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	State    string `json:"state"`
	Line     int    `json:"line"`
}
