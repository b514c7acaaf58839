//go:build unix

package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// platformReaper frees ports on unix-like systems by asking lsof for
// the owning PIDs and sending SIGKILL.
type platformReaper struct{}

func (platformReaper) FreePort(ctx context.Context, port int) error {
	// -t prints bare PIDs, one per line. A non-zero exit with no
	// output means nothing owns the port, which is already what we
	// want.
	out, err := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		return nil
	}

	var failed []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			failed = append(failed, fmt.Sprintf("pid %d: %v", pid, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("free port %d: %s", port, strings.Join(failed, "; "))
	}
	return nil
}
