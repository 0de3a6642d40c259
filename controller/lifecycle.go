package controller

// LifecycleState tracks the Controller's position in its mount/unmount
// state machine: unmounted -> initialized -> active <-> destroyed.
// Reset is a self-loop on Active after clearing all state.
type LifecycleState int

const (
	Unmounted LifecycleState = iota
	Initialized
	Active
	Destroyed
)

func (s LifecycleState) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Active:
		return "active"
	case Destroyed:
		return "destroyed"
	default:
		return "unmounted"
	}
}
