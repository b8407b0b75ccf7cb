package lifecycle

// State is the lifecycle state of one target.
type State int

const (
	// NotConfigured: setup has never succeeded.
	NotConfigured State = iota
	// Configured: setup succeeded, nothing is running.
	Configured
	// Running: the tunnel process or service is up.
	Running
	// Stopped: the tunnel was running and is gone. Behaves as Configured.
	Stopped
)

func (s State) String() string {
	switch s {
	case NotConfigured:
		return "not configured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// CanStart reports whether start is allowed from s.
func (s State) CanStart() bool {
	return s == Configured || s == Stopped
}
