package supervisor

import "context"

// Reaper terminates whatever process currently owns a TCP port. The
// platform-appropriate implementation is selected at startup via
// NewReaper.
//
// FreePort is best-effort on every axis: finding no owner is success,
// failing to kill an owner is reported but non-fatal to callers, and
// even a successful kill does not guarantee the port is immediately
// reusable (the OS releases it asynchronously).
type Reaper interface {
	FreePort(ctx context.Context, port int) error
}

// NewReaper returns the reaper for the current platform.
func NewReaper() Reaper {
	return platformReaper{}
}
