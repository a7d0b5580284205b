package bridge

// State is the connection lifecycle state. A single control loop owns
// transitions; readers get point-in-time copies via Status().
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSessionActive
	StateReconnecting
)

// String returns the internal state label.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionActive:
		return "session_active"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Endpoint roles.
const (
	RolePrimary  = "primary"
	RoleFallback = "fallback"
)

// HealthStatus is the externally visible bridge health, served at
// /api/status and published to the brokers.
type HealthStatus struct {
	Status    string `json:"status"` // connected | online | connecting | disconnected
	Endpoint  string `json:"endpoint,omitempty"`
	Role      string `json:"role,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// healthLabel collapses the internal state into the four consumer-facing
// health values: "connected" means a session on the primary endpoint,
// "online" a session on the fallback.
func healthLabel(s State, role string) string {
	switch s {
	case StateSessionActive:
		if role == RoleFallback {
			return "online"
		}
		return "connected"
	case StateConnecting, StateConnected, StateReconnecting:
		return "connecting"
	}
	return "disconnected"
}
