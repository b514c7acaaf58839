package supervisor

import (
	"fmt"
	"net"
)

// PortOccupied reports whether something is already listening on the
// given TCP port. It works by attempting to bind the port: a
// successful bind means the port was free (the listener is released
// immediately), a failed bind means someone else holds it.
//
// This is a heuristic with an inherent race — the port can change
// hands between the probe and whatever the caller does next. Good
// enough for a local dev orchestrator; not a correctness guarantee.
func PortOccupied(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return true
	}
	l.Close()
	return false
}
