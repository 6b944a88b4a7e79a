package task

// GroupStatus is the operational state of a Group.
type GroupStatus int

const (
	GroupRunning GroupStatus = iota
	GroupPaused
	GroupReset
)

func (s GroupStatus) String() string {
	switch s {
	case GroupRunning:
		return "Running"
	case GroupPaused:
		return "Paused"
	case GroupReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// DefaultGroup is the name of the group that always exists and can never be
// removed.
const DefaultGroup = "default"

// Group is a named scheduling bucket with its own parallelism and run state.
type Group struct {
	Name          string      `json:"name"`
	ParallelSlots int         `json:"parallel_slots"`
	Status        GroupStatus `json:"status"`
}

// NewGroup creates a group in the Running status with the given slot count.
func NewGroup(name string, parallelSlots int) *Group {
	if parallelSlots < 1 {
		parallelSlots = 1
	}
	return &Group{Name: name, ParallelSlots: parallelSlots, Status: GroupRunning}
}

// Clone returns a copy safe to hand outside the state lock.
func (g *Group) Clone() *Group {
	clone := *g
	return &clone
}
