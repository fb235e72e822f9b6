package monitor

// State is the lifecycle state of a Monitor. States only ever move forward:
// NotInitialized -> Initialized -> Running -> Dying -> Dead. A running monitor
// may also go straight to Dead when its worker gives up.
type State int

const (
	NotInitialized State = iota
	Initialized
	Running
	Dying
	Dead
)

func (s State) String() string {
	switch s {
	case NotInitialized:
		return "not-initialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Dying:
		return "dying"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Kind identifies which event source variant a Monitor wraps.
type Kind int

const (
	KindInvalid Kind = iota
	KindFile
	KindBus
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindBus:
		return "bus"
	case KindDevice:
		return "device"
	default:
		return "invalid"
	}
}
