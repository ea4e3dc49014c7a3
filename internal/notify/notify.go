// Package notify reports the state of the process to the service manager.
//
// On linux this is done through the datagram socket systemd passes in the
// "NOTIFY_SOCKET" environment variable. When that variable is not set, or on
// other operating systems, every call is a no-op.
package notify

// State is a single sd_notify assignment.
type State string

const (
	StateReady    State = "READY=1"
	StateStopping State = "STOPPING=1"
)

// Readiness tells the service manager that startup has finished and the API
// is accepting connections.
func Readiness() error {
	return send(string(StateReady))
}

// Stopping tells the service manager that the process is shutting down.
func Stopping() error {
	return send(string(StateStopping))
}

// Status sends a free form status line that is shown by "systemctl status".
func Status(msg string) error {
	return send("STATUS=" + msg)
}
